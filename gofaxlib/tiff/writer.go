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

package tiff

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Page is one encoded fax page to be written
type Page struct {
	Width       uint32
	Length      uint32
	Compression uint16
	T4Options   uint32
	T6Options   uint32
	FillOrder   uint16
	XResolution float64 // pixels per inch
	YResolution float64 // lines per inch
	Data        []byte

	ImageDescription string
	Software         string
	DateTime         time.Time

	FaxRecvParams uint32
	FaxSubAddress string
	FaxRecvTime   uint32
	FaxDCS        string
	FaxCallID     string
}

// Writer appends pages to a TIFF file. Each page is linked into the
// directory chain as soon as it is written so a partially received
// document stays readable.
type Writer struct {
	w       io.WriteSeeker
	order   binary.ByteOrder
	nextPtr int64
	pages   int
}

// NewWriter writes the TIFF header to w
func NewWriter(w io.WriteSeeker) (*Writer, error) {
	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	hdr := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	if _, err := w.Write(hdr); err != nil {
		return nil, errors.Wrap(err, "tiff: writing header")
	}
	return &Writer{w: w, order: binary.LittleEndian, nextPtr: 4}, nil
}

// Pages returns the number of pages written so far
func (w *Writer) Pages() int {
	return w.pages
}

type field struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func (w *Writer) short(tag uint16, v ...uint16) field {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		w.order.PutUint16(b[i*2:], x)
	}
	return field{tag, typeShort, uint32(len(v)), b}
}

func (w *Writer) long(tag uint16, v ...uint32) field {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		w.order.PutUint32(b[i*4:], x)
	}
	return field{tag, typeLong, uint32(len(v)), b}
}

func (w *Writer) rational(tag uint16, v float64) field {
	b := make([]byte, 8)
	w.order.PutUint32(b[0:], uint32(v*100+0.5))
	w.order.PutUint32(b[4:], 100)
	return field{tag, typeRational, 1, b}
}

func asciiField(tag uint16, s string) field {
	b := append([]byte(s), 0)
	return field{tag, typeASCII, uint32(len(b)), b}
}

// WritePage appends a page and links it into the directory chain
func (w *Writer) WritePage(p *Page) error {
	end, err := w.w.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if end%2 != 0 {
		if _, err := w.w.Write([]byte{0}); err != nil {
			return err
		}
		end++
	}
	stripOff := end
	if _, err := w.w.Write(p.Data); err != nil {
		return errors.Wrap(err, "tiff: writing image data")
	}
	ifdOff := stripOff + int64(len(p.Data))
	pad := ifdOff % 2
	ifdOff += pad

	compression := p.Compression
	if compression == 0 {
		compression = CompressionCCITTFAX3
	}
	fillOrder := p.FillOrder
	if fillOrder == 0 {
		fillOrder = 1
	}
	xres, yres := p.XResolution, p.YResolution
	if xres == 0 {
		xres = 204
	}
	if yres == 0 {
		yres = 98
	}

	fields := []field{
		w.long(TagNewSubfileType, 2), // page of a multi-page document
		w.long(TagImageWidth, p.Width),
		w.long(TagImageLength, p.Length),
		w.short(TagBitsPerSample, 1),
		w.short(TagCompression, compression),
		w.short(TagPhotometric, 0),
		w.short(TagFillOrder, fillOrder),
		w.long(TagStripOffsets, uint32(stripOff)),
		w.short(TagSamplesPerPixel, 1),
		w.long(TagRowsPerStrip, p.Length),
		w.long(TagStripByteCounts, uint32(len(p.Data))),
		w.rational(TagXResolution, xres),
		w.rational(TagYResolution, yres),
		w.short(TagResolutionUnit, ResUnitInch),
		w.short(TagPageNumber, uint16(w.pages), 0),
	}
	switch compression {
	case CompressionCCITTFAX3:
		fields = append(fields, w.long(TagT4Options, p.T4Options))
	case CompressionCCITTFAX4:
		fields = append(fields, w.long(TagT6Options, p.T6Options))
	}
	if p.ImageDescription != "" {
		fields = append(fields, asciiField(TagImageDesc, p.ImageDescription))
	}
	if p.Software != "" {
		fields = append(fields, asciiField(TagSoftware, p.Software))
	}
	if !p.DateTime.IsZero() {
		fields = append(fields, asciiField(TagDateTime, p.DateTime.Format("2006:01:02 15:04:05")))
	}
	if p.FaxRecvParams != 0 {
		fields = append(fields, w.long(TagFaxRecvParams, p.FaxRecvParams))
	}
	if p.FaxSubAddress != "" {
		fields = append(fields, asciiField(TagFaxSubAddress, p.FaxSubAddress))
	}
	if p.FaxRecvTime != 0 {
		fields = append(fields, w.long(TagFaxRecvTime, p.FaxRecvTime))
	}
	if p.FaxDCS != "" {
		fields = append(fields, asciiField(TagFaxDCS, p.FaxDCS))
	}
	if p.FaxCallID != "" {
		fields = append(fields, asciiField(TagFaxCallID, p.FaxCallID))
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].tag < fields[j].tag })

	ifdSize := int64(2 + 12*len(fields) + 4)
	var ifd, extra bytes.Buffer
	if pad != 0 {
		ifd.WriteByte(0)
	}
	b2 := make([]byte, 2)
	b4 := make([]byte, 4)
	w.order.PutUint16(b2, uint16(len(fields)))
	ifd.Write(b2)
	extraOff := ifdOff + ifdSize
	for _, f := range fields {
		w.order.PutUint16(b2, f.tag)
		ifd.Write(b2)
		w.order.PutUint16(b2, f.typ)
		ifd.Write(b2)
		w.order.PutUint32(b4, f.count)
		ifd.Write(b4)
		if len(f.data) <= 4 {
			v := make([]byte, 4)
			copy(v, f.data)
			ifd.Write(v)
			continue
		}
		w.order.PutUint32(b4, uint32(extraOff+int64(extra.Len())))
		ifd.Write(b4)
		extra.Write(f.data)
		if extra.Len()%2 != 0 {
			extra.WriteByte(0)
		}
	}
	ifd.Write([]byte{0, 0, 0, 0})
	ifd.Write(extra.Bytes())
	if _, err := w.w.Write(ifd.Bytes()); err != nil {
		return errors.Wrap(err, "tiff: writing directory")
	}

	// Link the new directory from the previous one
	if _, err := w.w.Seek(w.nextPtr, io.SeekStart); err != nil {
		return err
	}
	w.order.PutUint32(b4, uint32(ifdOff))
	if _, err := w.w.Write(b4); err != nil {
		return errors.Wrap(err, "tiff: linking directory")
	}
	w.nextPtr = ifdOff + ifdSize - 4
	w.pages++
	_, err = w.w.Seek(0, io.SeekEnd)
	return err
}
