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
	"time"

	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
)

// Transport owns an open modem port and implements the timed byte, bit
// and line reads the drivers are built on.
type Transport struct {
	port Port
	buf  rcvBuf

	// bit reader state
	curByte int
	bitMask byte
}

// NewTransport wraps an open port
func NewTransport(p Port) *Transport {
	return &Transport{port: p}
}

// Port returns the underlying port
func (t *Transport) Port() Port {
	return t.port
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// GetChar returns the next byte, waiting at most timeout for it to
// arrive. A timeout of zero waits forever. EOF is returned on timeout or
// error.
func (t *Transport) GetChar(timeout time.Duration) int {
	if t.buf.available() == 0 {
		if err := t.port.SetReadDeadline(deadline(timeout)); err != nil {
			return EOF
		}
		if err := t.buf.fill(t.port); err != nil {
			logger.Trace(logger.TraceTimeout).Debugf("Modem read: %v", err)
			return EOF
		}
		logger.Trace(logger.TraceModemIO).Debugf("<-- [%d:%q]", t.buf.cnt, t.buf.data[:t.buf.cnt])
	}
	return int(t.buf.next())
}

// GetBit returns the next bit of the stream, most significant bit of each
// byte first. DLE DLE yields a DLE data byte. DLE ETX ends the block:
// BlockEnded becomes true and EOF is returned.
func (t *Transport) GetBit(timeout time.Duration) int {
	if t.buf.sawBlockEnd {
		return EOF
	}
	if t.bitMask == 0 {
		c := t.GetChar(timeout)
		if c == EOF {
			return EOF
		}
		if c == DLE {
			c = t.GetChar(timeout)
			switch c {
			case EOF:
				return EOF
			case ETX:
				t.buf.sawBlockEnd = true
				return EOF
			}
		}
		t.curByte = c
		t.bitMask = 0x80
	}
	bit := 0
	if byte(t.curByte)&t.bitMask != 0 {
		bit = 1
	}
	t.bitMask >>= 1
	return bit
}

// BlockEnded reports whether the bit reader consumed a DLE ETX
func (t *Transport) BlockEnded() bool {
	return t.buf.sawBlockEnd
}

// ResetBlock prepares the bit reader for a new block
func (t *Transport) ResetBlock() {
	t.buf.sawBlockEnd = false
	t.bitMask = 0
}

// GetLine reads a CR/LF terminated line, skipping empty lines. The whole
// line must arrive within timeout.
func (t *Transport) GetLine(timeout time.Duration) (string, bool) {
	end := deadline(timeout)
	var line []byte
	for {
		remain := time.Duration(0)
		if !end.IsZero() {
			remain = time.Until(end)
			if remain <= 0 {
				return "", false
			}
		}
		c := t.GetChar(remain)
		switch c {
		case EOF:
			return "", false
		case CR:
		case LF:
			if len(line) > 0 {
				logger.Trace(logger.TraceModemCom).Debugf("<-- %s", line)
				return string(line), true
			}
		default:
			line = append(line, byte(c))
		}
	}
}

// Put writes data to the modem. It reports success only if every byte
// was accepted within timeout.
func (t *Transport) Put(data []byte, timeout time.Duration) bool {
	if err := t.port.SetWriteDeadline(deadline(timeout)); err != nil {
		return false
	}
	logger.Trace(logger.TraceModemIO).Debugf("--> [%d:%q]", len(data), data)
	n, err := t.port.Write(data)
	if err != nil {
		logger.Trace(logger.TraceTimeout).Debugf("Modem write: %v", err)
	}
	return err == nil && n == len(data)
}

// PutString writes s to the modem
func (t *Transport) PutString(s string, timeout time.Duration) bool {
	return t.Put([]byte(s), timeout)
}

// Flush discards buffered and pending input
func (t *Transport) Flush() {
	t.buf.discard()
	t.bitMask = 0
	if lc, ok := t.port.(LineController); ok {
		if err := lc.FlushIO(); err == nil {
			return
		}
	}
	// drain whatever is already queued
	for t.GetChar(10*time.Millisecond) != EOF {
	}
	t.buf.discard()
}

// Discard drops DTR, which resets most modems, and closes the port.
func (t *Transport) Discard() {
	if lc, ok := t.port.(LineController); ok {
		if err := lc.DropDTR(); err != nil {
			logger.Trace(logger.TraceModemOps).Debugf("Drop DTR: %v", err)
		}
	}
	t.port.Close()
	t.buf.discard()
}
