// This file is part of the GOfax.IP project - https://github.com/gonicus/gofaxip
// Copyright (C) 2014 GONICUS GmbH, Germany - http://www.gonicus.de
//
// This program is free software; you can redistribute it and/or
// modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2
// of the License.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program; if not, write to the Free Software
// Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package tiff reads and writes the bilevel multi-page TIFF files used
// for fax documents. Only what a fax server needs is supported: walking
// all image directories, the imaging tags relevant for T.30 negotiation
// and HylaFAX's private tags carrying received-call metadata.
package tiff

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

// Tag numbers
const (
	TagNewSubfileType  = 254
	TagImageWidth      = 256
	TagImageLength     = 257
	TagBitsPerSample   = 258
	TagCompression     = 259
	TagPhotometric     = 262
	TagFillOrder       = 266
	TagImageDesc       = 270
	TagStripOffsets    = 273
	TagOrientation     = 274
	TagSamplesPerPixel = 277
	TagRowsPerStrip    = 278
	TagStripByteCounts = 279
	TagXResolution     = 282
	TagYResolution     = 283
	TagT4Options       = 292
	TagT6Options       = 293
	TagResolutionUnit  = 296
	TagPageNumber      = 297
	TagSoftware        = 305
	TagDateTime        = 306

	// HylaFAX private tags
	TagFaxRecvParams = 34908
	TagFaxSubAddress = 34909
	TagFaxRecvTime   = 34910
	TagFaxDCS        = 34911
	TagFaxCallID     = 34912
)

// Compression schemes
const (
	CompressionNone      = 1
	CompressionCCITTRLE  = 2
	CompressionCCITTFAX3 = 3
	CompressionCCITTFAX4 = 4
)

// Group 3 options
const (
	Group3Opt2DEncoding   = 0x1
	Group3OptUncompressed = 0x2
	Group3OptFillBits     = 0x4
)

// Resolution units
const (
	ResUnitNone       = 1
	ResUnitInch       = 2
	ResUnitCentimeter = 3
)

// Field types
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
)

var typeSizes = map[uint16]uint32{
	typeByte:     1,
	typeASCII:    1,
	typeShort:    2,
	typeLong:     4,
	typeRational: 8,
}

// ErrFormat is returned for files that are not valid TIFF
var ErrFormat = errors.New("not a TIFF file")

// Directory is one image (page) of a TIFF file
type Directory struct {
	Width            uint32
	Length           uint32
	BitsPerSample    uint16
	Compression      uint16
	Photometric      uint16
	FillOrder        uint16
	XResolution      float64
	YResolution      float64
	ResolutionUnit   uint16
	T4Options        uint32
	T6Options        uint32
	PageNumber       [2]uint16
	RowsPerStrip     uint32
	StripOffsets     []uint32
	StripByteCounts  []uint32
	ImageDescription string
	Software         string
	DateTime         string

	FaxRecvParams uint32
	FaxSubAddress string
	FaxRecvTime   uint32
	FaxDCS        string
	FaxCallID     string
}

// VerticalRes returns the vertical resolution in lines per inch. Files
// without resolution are assumed to be at normal fax resolution.
func (d *Directory) VerticalRes() float64 {
	yres := d.YResolution
	if yres == 0 {
		return 98
	}
	if d.ResolutionUnit == ResUnitCentimeter {
		yres *= 2.54
	}
	return yres
}

// LengthMM returns the page length in millimeters
func (d *Directory) LengthMM() float64 {
	return float64(d.Length) / d.VerticalRes() * 25.4
}

// Is2D reports whether the page is 2D (MR or MMR) encoded
func (d *Directory) Is2D() bool {
	return d.Compression == CompressionCCITTFAX4 ||
		(d.Compression == CompressionCCITTFAX3 && d.T4Options&Group3Opt2DEncoding != 0)
}

// File is an open TIFF file
type File struct {
	r     io.ReaderAt
	c     io.Closer
	order binary.ByteOrder
	dirs  []*Directory
}

// Open opens and parses the named TIFF file
func Open(name string) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	t, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, name)
	}
	t.c = f
	return t, nil
}

// NewReader parses all directories from r
func NewReader(r io.ReaderAt) (*File, error) {
	t := &File{r: r}

	hdr := make([]byte, 8)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, ErrFormat
	}
	switch string(hdr[0:2]) {
	case "II":
		t.order = binary.LittleEndian
	case "MM":
		t.order = binary.BigEndian
	default:
		return nil, ErrFormat
	}
	if t.order.Uint16(hdr[2:4]) != 42 {
		return nil, ErrFormat
	}

	seen := make(map[uint32]bool)
	off := t.order.Uint32(hdr[4:8])
	for off != 0 {
		if seen[off] {
			return nil, errors.New("tiff: directory loop")
		}
		seen[off] = true
		d, next, err := t.readDirectory(off)
		if err != nil {
			return nil, err
		}
		t.dirs = append(t.dirs, d)
		off = next
	}
	if len(t.dirs) == 0 {
		return nil, errors.New("tiff: no image directories")
	}
	return t, nil
}

// Close closes the underlying file if it was opened by Open
func (t *File) Close() error {
	if t.c != nil {
		return t.c.Close()
	}
	return nil
}

// NumDirectories returns the number of pages
func (t *File) NumDirectories() int {
	return len(t.dirs)
}

// Directory returns the n-th page directory
func (t *File) Directory(n int) (*Directory, error) {
	if n < 0 || n >= len(t.dirs) {
		return nil, errors.Errorf("tiff: no directory %d", n)
	}
	return t.dirs[n], nil
}

// ReadImage returns the raw encoded image data of the n-th page
func (t *File) ReadImage(n int) ([]byte, error) {
	d, err := t.Directory(n)
	if err != nil {
		return nil, err
	}
	if len(d.StripOffsets) != len(d.StripByteCounts) {
		return nil, errors.New("tiff: strip offsets and byte counts differ")
	}
	var data []byte
	for i, off := range d.StripOffsets {
		buf := make([]byte, d.StripByteCounts[i])
		if _, err := t.r.ReadAt(buf, int64(off)); err != nil {
			return nil, errors.Wrapf(err, "tiff: reading strip %d", i)
		}
		data = append(data, buf...)
	}
	return data, nil
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func (t *File) readDirectory(off uint32) (*Directory, uint32, error) {
	buf := make([]byte, 2)
	if _, err := t.r.ReadAt(buf, int64(off)); err != nil {
		return nil, 0, errors.Wrap(err, "tiff: reading directory")
	}
	n := uint32(t.order.Uint16(buf))
	raw := make([]byte, n*12+4)
	if _, err := t.r.ReadAt(raw, int64(off)+2); err != nil {
		return nil, 0, errors.Wrap(err, "tiff: reading directory")
	}

	d := &Directory{
		BitsPerSample:  1,
		Compression:    CompressionNone,
		FillOrder:      1,
		ResolutionUnit: ResUnitInch,
		RowsPerStrip:   math.MaxUint32,
	}
	for i := uint32(0); i < n; i++ {
		e := raw[i*12 : i*12+12]
		ent := entry{
			tag:   t.order.Uint16(e[0:2]),
			typ:   t.order.Uint16(e[2:4]),
			count: t.order.Uint32(e[4:8]),
		}
		size, ok := typeSizes[ent.typ]
		if !ok {
			continue
		}
		total := size * ent.count
		if total <= 4 {
			ent.data = e[8 : 8+total]
		} else {
			ent.data = make([]byte, total)
			if _, err := t.r.ReadAt(ent.data, int64(t.order.Uint32(e[8:12]))); err != nil {
				return nil, 0, errors.Wrapf(err, "tiff: reading tag %d", ent.tag)
			}
		}
		t.apply(d, ent)
	}
	return d, t.order.Uint32(raw[n*12:]), nil
}

func (t *File) ints(e entry) []uint32 {
	v := make([]uint32, 0, e.count)
	for i := uint32(0); i < e.count; i++ {
		switch e.typ {
		case typeByte:
			v = append(v, uint32(e.data[i]))
		case typeShort:
			v = append(v, uint32(t.order.Uint16(e.data[i*2:])))
		case typeLong:
			v = append(v, t.order.Uint32(e.data[i*4:]))
		}
	}
	return v
}

func (t *File) rational(e entry) float64 {
	if e.typ != typeRational || e.count == 0 {
		if v := t.ints(e); len(v) > 0 {
			return float64(v[0])
		}
		return 0
	}
	num := t.order.Uint32(e.data[0:4])
	den := t.order.Uint32(e.data[4:8])
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func ascii(e entry) string {
	b := e.data
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}

func (t *File) first(e entry) uint32 {
	if v := t.ints(e); len(v) > 0 {
		return v[0]
	}
	return 0
}

func (t *File) apply(d *Directory, e entry) {
	switch e.tag {
	case TagImageWidth:
		d.Width = t.first(e)
	case TagImageLength:
		d.Length = t.first(e)
	case TagBitsPerSample:
		d.BitsPerSample = uint16(t.first(e))
	case TagCompression:
		d.Compression = uint16(t.first(e))
	case TagPhotometric:
		d.Photometric = uint16(t.first(e))
	case TagFillOrder:
		d.FillOrder = uint16(t.first(e))
	case TagImageDesc:
		d.ImageDescription = ascii(e)
	case TagStripOffsets:
		d.StripOffsets = t.ints(e)
	case TagRowsPerStrip:
		d.RowsPerStrip = t.first(e)
	case TagStripByteCounts:
		d.StripByteCounts = t.ints(e)
	case TagXResolution:
		d.XResolution = t.rational(e)
	case TagYResolution:
		d.YResolution = t.rational(e)
	case TagT4Options:
		d.T4Options = t.first(e)
	case TagT6Options:
		d.T6Options = t.first(e)
	case TagResolutionUnit:
		d.ResolutionUnit = uint16(t.first(e))
	case TagPageNumber:
		if v := t.ints(e); len(v) == 2 {
			d.PageNumber = [2]uint16{uint16(v[0]), uint16(v[1])}
		}
	case TagSoftware:
		d.Software = ascii(e)
	case TagDateTime:
		d.DateTime = ascii(e)
	case TagFaxRecvParams:
		d.FaxRecvParams = t.first(e)
	case TagFaxSubAddress:
		d.FaxSubAddress = ascii(e)
	case TagFaxRecvTime:
		d.FaxRecvTime = t.first(e)
	case TagFaxDCS:
		d.FaxDCS = ascii(e)
	case TagFaxCallID:
		d.FaxCallID = ascii(e)
	}
}
