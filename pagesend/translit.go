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

package pagesend

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters that do not decompose into a base letter and marks
var specials = map[rune]string{
	'ß': "ss", 'Æ': "AE", 'æ': "ae", 'Ø': "O", 'ø': "o", 'Œ': "OE", 'œ': "oe",
	'Ł': "L", 'ł': "l", 'Đ': "D", 'đ': "d", 'Þ': "Th", 'þ': "th",
	'€': "EUR", '£': "GBP", '¥': "JPY",
	'«': "\"", '»': "\"", '„': "\"", '“': "\"", '”': "\"",
	'‘': "'", '’': "'", '‚': "'",
	'–': "-", '—': "-", '…': "...", '\u00a0': " ",
}

// DecodeText converts a message file to a string. Text that is not
// valid UTF-8 is read as ISO 8859-1.
func DecodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "?")
	}
	return string(s)
}

// Transliterate maps s to printable 7-bit ASCII. Accents are dropped,
// line breaks become spaces and anything else unknown becomes '?'.
func Transliterate(s string) string {
	var b strings.Builder
	for _, r := range s {
		if rep, ok := specials[r]; ok {
			b.WriteString(rep)
		} else {
			b.WriteRune(r)
		}
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, b.String())
	if err != nil {
		folded = b.String()
	}

	b.Reset()
	for _, r := range folded {
		switch {
		case r == '\r' || r == '\n' || r == '\t':
			b.WriteByte(' ')
		case r >= 0x20 && r < 0x7f:
			b.WriteRune(r)
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

// PagerText prepares message file contents for a pager: transliterated,
// with runs of white space collapsed and cut to limit characters.
func PagerText(data []byte, limit int) string {
	s := strings.Join(strings.Fields(Transliterate(DecodeText(data))), " ")
	if limit > 0 && len(s) > limit {
		s = s[:limit]
	}
	return s
}
