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

package modem

import (
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// EOF is returned by the character and bit readers on timeout or error.
// It can never be a data value.
const EOF = -1

// Special characters of the modem data stream
const (
	NUL = 0x00
	STX = 0x02
	ETX = 0x03
	EOT = 0x04
	ACK = 0x06
	LF  = 0x0a
	CR  = 0x0d
	DLE = 0x10
	XON = 0x11
	NAK = 0x15
	CAN = 0x18
	ESC = 0x1b
	RS  = 0x1e
)

// Port is a byte stream to the modem with deadline support. A tty opened
// with OpenTTY is a Port, as is one end of a net.Pipe.
type Port interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// LineController is implemented by ports attached to real serial lines
type LineController interface {
	Configure(LineSettings) error
	DropDTR() error
	FlushIO() error
}

// Parity setting of the serial line
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

// FlowControl setting of the serial line
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowXonXoff
	FlowRtsCts
)

// LineSettings configures a serial line
type LineSettings struct {
	Speed       int
	Parity      Parity
	FlowControl FlowControl
}

// ParseParity parses "none", "even" or "odd"
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ParityNone, nil
	case "even":
		return ParityEven, nil
	case "odd":
		return ParityOdd, nil
	}
	return ParityNone, errors.Errorf("unknown parity %q", s)
}

// ParseFlowControl parses "none", "xonxoff" or "rtscts"
func ParseFlowControl(s string) (FlowControl, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return FlowNone, nil
	case "xonxoff", "software":
		return FlowXonXoff, nil
	case "rtscts", "hardware":
		return FlowRtsCts, nil
	}
	return FlowNone, errors.Errorf("unknown flow control %q", s)
}
