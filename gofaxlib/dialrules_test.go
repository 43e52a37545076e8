package gofaxlib

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDialRules = `! HylaFAX style dial rules
Area=421
Country=49
CanonicalNumber := [
"^0${Area}" = "+${Country}${Area}"  # local numbers
"^00" = "+"
]
DialString := [
"[-. ()]" = ""
"^\+${Country}${Area}" = ""
"^\+${Country}" = "0"
"^\+" = "00"
"^555(.*)" = "9,\1"
]
`

func TestDialRules(t *testing.T) {
	assert := assert.New(t)

	d, err := ParseDialRules(strings.NewReader(testDialRules))
	require.NoError(t, err)

	assert.Equal("421", d.Var("Area"))
	assert.Equal("4942112345", d.CanonicalNumber("0421 12345"))
	assert.Equal("4940123456", d.CanonicalNumber("0049-40-123456"))

	assert.Equal("12345", d.DialString("+49 421 12345"))
	assert.Equal("040123456", d.DialString("+49 (40) 123456"))
	assert.Equal("0012125551234", d.DialString("+1 212 555-1234"))
	assert.Equal("9,1234", d.DialString("5551234"))
}

func TestDialRulesErrors(t *testing.T) {
	_, err := ParseDialRules(strings.NewReader("DialString := [\n\"^1\" = \"\"\n"))
	assert.Error(t, err)

	_, err = ParseDialRules(strings.NewReader("DialString := [\n\"(\" = \"\"\n]\n"))
	assert.Error(t, err)
}

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, "4942112345", Canonicalize("+49 (421) 123-45"))

	var d *DialRules
	assert.Equal(t, "123", d.CanonicalNumber("1-2-3"))
	assert.Equal(t, "1-2-3", d.DialString("1-2-3"))
}

func TestConvertReplacement(t *testing.T) {
	assert.Equal(t, "x${0}y", convertReplacement("x&y"))
	assert.Equal(t, "${1}-${2}", convertReplacement(`\1-\2`))
	assert.Equal(t, "&$$", convertReplacement(`\&$`))
}
