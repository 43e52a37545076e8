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

// Package class2 holds T.30 session parameters in the encoding used by
// Class 2 modems and by HylaFAX's queue and log files.
package class2

import (
	"fmt"
	"strings"
)

// Vertical resolution
const (
	VR_NORMAL = 0 // 98 lpi
	VR_FINE   = 1 // 196 lpi
)

// Signalling rate
const (
	BR_2400  = 0
	BR_4800  = 1
	BR_7200  = 2
	BR_9600  = 3
	BR_12000 = 4
	BR_14400 = 5
	BR_16800 = 6
	BR_19200 = 7
	BR_21600 = 8
	BR_24000 = 9
	BR_26400 = 10
	BR_28800 = 11
	BR_31200 = 12
	BR_33600 = 13
	BR_ALL   = 0x3fff
)

// Page width
const (
	WD_1728 = 0 // A4
	WD_2048 = 1 // B4
	WD_2432 = 2 // A3
)

// Page length
const (
	LN_A4        = 0
	LN_B4        = 1
	LN_UNLIMITED = 2
)

// Data format
const (
	DF_1DMH   = 0
	DF_2DMR   = 1
	DF_2DMRUN = 2 // uncompressed, unused
	DF_2DMMR  = 3
)

// Error correction
const (
	EC_DISABLE  = 0
	EC_ENABLE64 = 1
	EC_ENABLE   = 2
)

// Binary file transfer
const (
	BF_DISABLE = 0
	BF_ENABLE  = 1
)

// Minimum scanline time
const (
	ST_0MS   = 0
	ST_5MS   = 1
	ST_10MS2 = 2 // 10ms, halved at fine resolution
	ST_10MS  = 3
	ST_20MS2 = 4
	ST_20MS  = 5
	ST_40MS2 = 6
	ST_40MS  = 7
)

var (
	brRates     = []uint{2400, 4800, 7200, 9600, 12000, 14400, 16800, 19200, 21600, 24000, 26400, 28800, 31200, 33600}
	wdPixels    = []uint{1728, 2048, 2432}
	lnMM        = []uint{297, 364, 0}
	stNames     = []string{"0ms", "5ms", "10ms/5ms", "10ms", "20ms/10ms", "20ms", "40ms/20ms", "40ms"}
	stMillis    = []uint{0, 5, 10, 10, 20, 20, 40, 40}
	dfNames     = []string{"1-D MH", "2-D MR", "2-D Uncompressed Mode", "2-D MMR"}
	dfTagNames  = []string{"1-D MH", "2-D MR", "2-D MR", "2-D MMR"}
	vrLPI       = []uint{98, 196}
	unlimitedMM = ^uint(0)
)

// Params is a set of T.30 session parameters
type Params struct {
	VR uint // vertical resolution
	BR uint // signalling rate
	WD uint // page width
	LN uint // page length
	DF uint // data format
	EC uint // error correction
	BF uint // binary file transfer
	ST uint // scanline time
}

// Default returns the parameters every T.30 device must support
func Default() Params {
	return Params{
		VR: VR_NORMAL,
		BR: BR_9600,
		WD: WD_1728,
		LN: LN_A4,
		DF: DF_1DMH,
		EC: EC_DISABLE,
		BF: BF_DISABLE,
		ST: ST_0MS,
	}
}

// Encode packs the parameters into the word written to the accounting
// log and the queue files.
func (p Params) Encode() uint {
	var ec uint
	if p.EC != EC_DISABLE {
		ec = 1
	}
	return (p.VR & 1) |
		(p.BR&15)<<1 |
		(p.WD&7)<<9 |
		(p.LN&3)<<12 |
		(p.DF&3)<<14 |
		ec<<16 |
		(p.BF&1)<<17 |
		(p.ST&7)<<18
}

// Decode unpacks a parameter word produced by Encode
func Decode(v uint) Params {
	p := Params{
		VR: v & 1,
		BR: (v >> 1) & 15,
		WD: (v >> 9) & 7,
		LN: (v >> 12) & 3,
		DF: (v >> 14) & 3,
		BF: (v >> 17) & 1,
		ST: (v >> 18) & 7,
	}
	if (v>>16)&1 != 0 {
		p.EC = EC_ENABLE
	}
	return p
}

// BitRate returns the signalling rate in bits per second
func (p Params) BitRate() uint {
	return BitRate(p.BR)
}

// BitRate returns the bits per second for a signalling rate code
func BitRate(br uint) uint {
	if br < uint(len(brRates)) {
		return brRates[br]
	}
	return brRates[len(brRates)-1]
}

// RateFromBitRate returns the highest signalling rate code not above bps
func RateFromBitRate(bps uint) uint {
	br := uint(BR_2400)
	for i, r := range brRates {
		if r <= bps {
			br = uint(i)
		}
	}
	return br
}

// PageWidth returns the page width in pixels
func (p Params) PageWidth() uint {
	if p.WD < uint(len(wdPixels)) {
		return wdPixels[p.WD]
	}
	return wdPixels[WD_1728]
}

// SetPageWidthInPixels selects the width code for a pixel count
func (p *Params) SetPageWidthInPixels(w uint) {
	switch {
	case w <= 1728:
		p.WD = WD_1728
	case w <= 2048:
		p.WD = WD_2048
	default:
		p.WD = WD_2432
	}
}

// PageLength returns the page length in mm, or the largest uint for
// unlimited length.
func (p Params) PageLength() uint {
	if p.LN < LN_UNLIMITED {
		return lnMM[p.LN]
	}
	return unlimitedMM
}

// SetPageLengthInMM selects the length code for a length in mm
func (p *Params) SetPageLengthInMM(mm uint) {
	switch {
	case mm <= 297:
		p.LN = LN_A4
	case mm <= 364:
		p.LN = LN_B4
	default:
		p.LN = LN_UNLIMITED
	}
}

// VerticalRes returns the vertical resolution in lines per inch
func (p Params) VerticalRes() uint {
	if p.VR < uint(len(vrLPI)) {
		return vrLPI[p.VR]
	}
	return vrLPI[VR_NORMAL]
}

// SetVerticalRes selects the resolution code for a lines per inch value
func (p *Params) SetVerticalRes(lpi float64) {
	if lpi >= 150 {
		p.VR = VR_FINE
	} else {
		p.VR = VR_NORMAL
	}
}

// ScanlineTime returns the minimum scanline time in ms for the
// current vertical resolution.
func (p Params) ScanlineTime() uint {
	if p.ST >= uint(len(stMillis)) {
		return 0
	}
	ms := stMillis[p.ST]
	if p.VR == VR_FINE && (p.ST == ST_10MS2 || p.ST == ST_20MS2 || p.ST == ST_40MS2) {
		ms /= 2
	}
	return ms
}

// ScanlineTimeName returns the HylaFAX name of a scanline time code
func ScanlineTimeName(st uint) string {
	if st < uint(len(stNames)) {
		return stNames[st]
	}
	return stNames[ST_0MS]
}

// ParseScanlineTime parses a scanline time name like "10ms/5ms"
func ParseScanlineTime(s string) (uint, bool) {
	s = strings.TrimSpace(s)
	for i, n := range stNames {
		if strings.EqualFold(n, s) {
			return uint(i), true
		}
	}
	return 0, false
}

// DataFormatName returns the descriptive name of the data format
func (p Params) DataFormatName() string {
	if p.DF < uint(len(dfNames)) {
		return dfNames[p.DF]
	}
	return "unknown"
}

// DataFormatTag returns the short data format name stored in queue files
func (p Params) DataFormatTag() string {
	if p.DF < uint(len(dfTagNames)) {
		return dfTagNames[p.DF]
	}
	return dfTagNames[DF_1DMH]
}

// UsesECM reports whether error correction is used
func (p Params) UsesECM() bool {
	return p.EC != EC_DISABLE
}

func (p Params) String() string {
	res := "normal"
	if p.VR == VR_FINE {
		res = "fine"
	}
	s := fmt.Sprintf("%d bit/s, %s resolution, %d pixels wide, %s, %s, %s scanline time",
		p.BitRate(), res, p.PageWidth(), lengthName(p.LN), p.DataFormatName(), ScanlineTimeName(p.ST))
	if p.UsesECM() {
		s += ", ECM"
	}
	return s
}

func lengthName(ln uint) string {
	switch ln {
	case LN_A4:
		return "A4 length"
	case LN_B4:
		return "B4 length"
	}
	return "unlimited length"
}
