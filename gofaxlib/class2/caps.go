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

package class2

import "fmt"

// Caps describes what a modem can do. Each field is a bit mask over the
// codes of the corresponding Params field.
type Caps struct {
	VR uint
	BR uint
	WD uint
	LN uint
	DF uint
	EC uint
	BF uint
	ST uint
}

func bit(v uint) uint { return 1 << v }

// AllCaps returns the capabilities of a Group 3 modem without
// restrictions, used when a driver does not report any.
func AllCaps() Caps {
	return Caps{
		VR: bit(VR_NORMAL) | bit(VR_FINE),
		BR: bit(BR_2400) | bit(BR_4800) | bit(BR_7200) | bit(BR_9600) | bit(BR_12000) | bit(BR_14400),
		WD: bit(WD_1728) | bit(WD_2048) | bit(WD_2432),
		LN: bit(LN_A4) | bit(LN_B4) | bit(LN_UNLIMITED),
		DF: bit(DF_1DMH) | bit(DF_2DMR) | bit(DF_2DMMR),
		EC: bit(EC_DISABLE) | bit(EC_ENABLE),
		BF: bit(BF_DISABLE),
		ST: bit(ST_0MS) | bit(ST_5MS) | bit(ST_10MS2) | bit(ST_10MS) | bit(ST_20MS2) | bit(ST_20MS) | bit(ST_40MS2) | bit(ST_40MS),
	}
}

func highest(mask uint, def uint) uint {
	for i := 31; i >= 0; i-- {
		if mask&bit(uint(i)) != 0 {
			return uint(i)
		}
	}
	return def
}

func lowest(mask uint, def uint) uint {
	for i := uint(0); i < 32; i++ {
		if mask&bit(i) != 0 {
			return i
		}
	}
	return def
}

// SupportsVR reports whether the vertical resolution code is supported
func (c Caps) SupportsVR(vr uint) bool { return c.VR&bit(vr) != 0 }

// SupportsWD reports whether the page width code is supported
func (c Caps) SupportsWD(wd uint) bool { return c.WD&bit(wd) != 0 }

// SupportsLN reports whether the page length code is supported
func (c Caps) SupportsLN(ln uint) bool { return c.LN&bit(ln) != 0 }

// Supports2D reports 2D MR encoding support
func (c Caps) Supports2D() bool { return c.DF&bit(DF_2DMR) != 0 }

// SupportsMMR reports 2D MMR encoding support
func (c Caps) SupportsMMR() bool { return c.DF&bit(DF_2DMMR) != 0 }

// SupportsECM reports error correction support
func (c Caps) SupportsECM() bool { return c.EC&^bit(EC_DISABLE) != 0 }

// MaxBR returns the highest supported signalling rate code
func (c Caps) MaxBR() uint { return highest(c.BR, BR_2400) }

// MaxWD returns the widest supported page width code
func (c Caps) MaxWD() uint { return highest(c.WD, WD_1728) }

// MaxLN returns the longest supported page length code
func (c Caps) MaxLN() uint { return highest(c.LN, LN_A4) }

// BestDF returns the most efficient supported data format
func (c Caps) BestDF() uint { return highest(c.DF&^bit(DF_2DMRUN), DF_1DMH) }

// MinST returns the shortest supported scanline time code
func (c Caps) MinST() uint { return lowest(c.ST, ST_0MS) }

// Encode packs the masks for the modem-ready status message
func (c Caps) Encode() string {
	return fmt.Sprintf("%02x%04x%02x%02x%02x%02x%02x%02x",
		c.VR&0xff, c.BR&0xffff, c.WD&0xff, c.LN&0xff, c.DF&0xff, c.EC&0xff, c.BF&0xff, c.ST&0xff)
}
