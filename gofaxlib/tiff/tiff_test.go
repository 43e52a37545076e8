package tiff

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, pages ...*Page) string {
	fn := filepath.Join(t.TempDir(), "fax.tif")
	f, err := os.Create(fn)
	require.NoError(t, err)
	defer f.Close()

	w, err := NewWriter(f)
	require.NoError(t, err)
	for _, p := range pages {
		require.NoError(t, w.WritePage(p))
	}
	assert.Equal(t, len(pages), w.Pages())
	return fn
}

func TestWriteRead(t *testing.T) {
	assert := assert.New(t)

	fn := writeTestFile(t,
		&Page{
			Width: 1728, Length: 1143,
			T4Options:     Group3Opt2DEncoding,
			YResolution:   196,
			Data:          []byte{1, 2, 3},
			FaxSubAddress: "4711",
			FaxCallID:     "0123456789\nACME",
			FaxRecvParams: 0x1234,
		},
		&Page{
			Width: 2432, Length: 2000,
			Compression: CompressionCCITTFAX4,
			Data:        bytes.Repeat([]byte{0xaa}, 17),
			FaxDCS:      "1,5,0,2,0,0,0,0",
		},
	)

	f, err := Open(fn)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, 2, f.NumDirectories())

	d, err := f.Directory(0)
	require.NoError(t, err)
	assert.EqualValues(1728, d.Width)
	assert.EqualValues(1143, d.Length)
	assert.EqualValues(CompressionCCITTFAX3, d.Compression)
	assert.True(d.Is2D())
	assert.InDelta(196.0, d.VerticalRes(), 0.01)
	assert.Equal("4711", d.FaxSubAddress)
	assert.Equal("0123456789\nACME", d.FaxCallID)
	assert.EqualValues(0x1234, d.FaxRecvParams)
	assert.EqualValues([2]uint16{0, 0}, d.PageNumber)

	data, err := f.ReadImage(0)
	require.NoError(t, err)
	assert.Equal([]byte{1, 2, 3}, data)

	d, err = f.Directory(1)
	require.NoError(t, err)
	assert.EqualValues(2432, d.Width)
	assert.True(d.Is2D())
	assert.InDelta(98.0, d.VerticalRes(), 0.01)
	assert.Equal("1,5,0,2,0,0,0,0", d.FaxDCS)
	assert.EqualValues(1, d.PageNumber[0])

	data, err = f.ReadImage(1)
	require.NoError(t, err)
	assert.Len(data, 17)

	_, err = f.Directory(2)
	assert.Error(err)
}

func TestLengthMM(t *testing.T) {
	d := &Directory{Length: 1143, YResolution: 98, ResolutionUnit: ResUnitInch}
	assert.InDelta(t, 296.2, d.LengthMM(), 0.1)

	d = &Directory{Length: 1143, YResolution: 38.58, ResolutionUnit: ResUnitCentimeter}
	assert.InDelta(t, 296.2, d.LengthMM(), 0.2)
}

func TestNotTIFF(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("%PDF-1.4 garbage")))
	assert.Equal(t, ErrFormat, err)

	_, err = NewReader(bytes.NewReader([]byte{'I', 'I', 42, 0, 0, 0, 0, 0}))
	assert.Error(t, err)
}
