package pagesend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransliterate(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("Gruesse? Grusse aus Koln", Transliterate("Gruesse? Grüsse aus Köln"))
	assert.Equal("Strasse", Transliterate("Straße"))
	assert.Equal("AErosund \"Oslo\" - EUR 5", Transliterate("Ærosund „Oslo“ – € 5"))
	assert.Equal("tab and newline", Transliterate("tab\tand\nnewline"))
	assert.Equal("?", Transliterate("中"))
}

func TestDecodeText(t *testing.T) {
	assert.Equal(t, "Müller", DecodeText([]byte("Müller")))
	// Latin-1 input is not valid UTF-8
	assert.Equal(t, "Müller", DecodeText([]byte{'M', 0xfc, 'l', 'l', 'e', 'r'}))
}

func TestPagerText(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("Call me at 555", PagerText([]byte("  Call me\r\n  at   555\n"), 128))
	assert.Equal("Hello", PagerText([]byte("Hello world"), 5))
	assert.Equal("Grusse", PagerText([]byte("Grüsse"), 0))
}
