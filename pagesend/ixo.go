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
	"bytes"
	"strings"
	"time"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
)

// Line is the connected call a paging protocol talks over.
// *modem.Transport implements it.
type Line interface {
	GetChar(timeout time.Duration) int
	Put(data []byte, timeout time.Duration) bool
}

const (
	// Characters of pin and message in one transaction block
	ixoMaxBlockText = 250
	ixoLogin        = "\x1bPG1"
	ixoLogout       = "\x04\r"
	putTimeout      = 5 * time.Second
)

// IXOConfig holds the IXO/TAP protocol parameters
type IXOConfig struct {
	Password string
	// Interval of CR prompts while waiting for ID=
	IDPrompt         time.Duration
	IDTimeout        time.Duration
	MaxLoginAttempts int
	XmitRetries      int
	XmitTimeout      time.Duration
	AckTimeout       time.Duration
}

// IXOConfigFor returns the configured protocol parameters
func IXOConfigFor(cfg *gofaxlib.Config, password string) IXOConfig {
	return IXOConfig{
		Password:         password,
		IDPrompt:         gofaxlib.Seconds(cfg.Page.IXOIDPrompt),
		IDTimeout:        gofaxlib.Seconds(cfg.Page.IXOXmitTimeout),
		MaxLoginAttempts: cfg.Page.IXOMaxLoginAttempts,
		XmitRetries:      cfg.Page.IXOXmitRetries,
		XmitTimeout:      gofaxlib.Seconds(cfg.Page.IXOXmitTimeout),
		AckTimeout:       gofaxlib.Seconds(cfg.Page.IXOAckTimeout),
	}
}

type ixoReply int

const (
	ixoTimeout ixoReply = iota
	ixoACK
	ixoNAK
	ixoRS
	ixoDisconnect // ESC EOT
	ixoGoAhead    // ESC [p
	ixoID         // ID=
	ixoOther
)

// IXO speaks the IXO/TAP protocol to a paging central
type IXO struct {
	line Line
	cfg  IXOConfig
	logf func(format string, v ...interface{})
}

// NewIXO returns a protocol handler on line
func NewIXO(line Line, cfg IXOConfig, logf func(format string, v ...interface{})) *IXO {
	if cfg.MaxLoginAttempts < 1 {
		cfg.MaxLoginAttempts = 1
	}
	if cfg.XmitRetries < 1 {
		cfg.XmitRetries = 1
	}
	return &IXO{line: line, cfg: cfg, logf: logf}
}

func classify(reply []byte) ixoReply {
	switch {
	case bytes.Contains(reply, []byte{modem.ESC, modem.EOT}):
		return ixoDisconnect
	case bytes.Contains(reply, []byte{modem.ESC, '[', 'p'}):
		return ixoGoAhead
	case bytes.IndexByte(reply, modem.ACK) >= 0:
		return ixoACK
	case bytes.IndexByte(reply, modem.NAK) >= 0:
		return ixoNAK
	case bytes.IndexByte(reply, modem.RS) >= 0:
		return ixoRS
	case bytes.Contains(reply, []byte("ID=")):
		return ixoID
	}
	return ixoOther
}

// printable strips control characters from a reply for logging
func printable(b []byte) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r >= 0x7f {
			return -1
		}
		return r
	}, string(b))
}

// readReply reads one CR terminated reply. The ID= prompt is not
// terminated.
func (p *IXO) readReply(timeout time.Duration) (ixoReply, string) {
	end := time.Now().Add(timeout)
	var buf []byte
	for {
		remain := time.Until(end)
		if remain <= 0 {
			return ixoTimeout, printable(buf)
		}
		c := p.line.GetChar(remain)
		switch c {
		case modem.EOF:
			return ixoTimeout, printable(buf)
		case modem.CR, modem.LF:
			if len(buf) > 0 {
				return classify(buf), printable(buf)
			}
		default:
			buf = append(buf, byte(c))
			if bytes.HasSuffix(buf, []byte("ID=")) {
				return ixoID, printable(buf)
			}
		}
	}
}

// waitFor reads replies until one of want arrives, a forced disconnect
// or the timeout
func (p *IXO) waitFor(timeout time.Duration, want ...ixoReply) (ixoReply, string) {
	end := time.Now().Add(timeout)
	for {
		r, text := p.readReply(time.Until(end))
		if r == ixoTimeout || r == ixoDisconnect {
			return r, text
		}
		for _, w := range want {
			if r == w {
				return r, text
			}
		}
		if text != "" {
			p.logf("IXO: paging central says %q", text)
		}
	}
}

func (p *IXO) put(s string) bool {
	return p.line.Put([]byte(s), putTimeout)
}

func (p *IXO) waitID() bool {
	end := time.Now().Add(p.cfg.IDTimeout)
	for time.Now().Before(end) {
		if !p.put("\r") {
			return false
		}
		promptEnd := time.Now().Add(p.cfg.IDPrompt)
		for {
			r, _ := p.readReply(time.Until(promptEnd))
			if r == ixoID {
				return true
			}
			if r == ixoTimeout {
				break
			}
		}
	}
	return false
}

// Login waits for the ID= prompt, logs in and waits for the message
// go-ahead
func (p *IXO) Login() (modem.SendStatus, string) {
	if !p.waitID() {
		return modem.SendRetry, "No initial ID response from paging central"
	}
	p.logf("IXO: got ID=, logging in")

	loggedIn := false
	for attempt := 1; attempt <= p.cfg.MaxLoginAttempts && !loggedIn; attempt++ {
		if !p.put(ixoLogin + p.cfg.Password + "\r") {
			return modem.SendRetry, "Unable to send login to paging central"
		}
		r, text := p.waitFor(p.cfg.AckTimeout, ixoACK, ixoNAK, ixoRS)
		switch r {
		case ixoACK:
			loggedIn = true
		case ixoDisconnect:
			return modem.SendRetry, "Paging central responded with forced disconnect"
		case ixoRS:
			return modem.SendFailed, "Login rejected by paging central: " + text
		default:
			p.logf("IXO: login attempt %d failed", attempt)
		}
	}
	if !loggedIn {
		return modem.SendRetry, "Login failed multiple times"
	}

	r, _ := p.waitFor(p.cfg.AckTimeout, ixoGoAhead)
	switch r {
	case ixoGoAhead:
		p.logf("IXO: login successful")
		return modem.SendOK, ""
	case ixoDisconnect:
		return modem.SendRetry, "Paging central responded with forced disconnect"
	}
	return modem.SendRetry, "Timeout waiting for message go-ahead from paging central"
}

// IXOBlock formats a transaction block: STX pin CR msg CR ETX
// checksum CR. The message is cut to fit the block.
func IXOBlock(pin, msg string) []byte {
	if limit := ixoMaxBlockText - len(pin); len(msg) > limit {
		if limit < 0 {
			limit = 0
		}
		msg = msg[:limit]
	}
	b := []byte{modem.STX}
	b = append(b, pin...)
	b = append(b, modem.CR)
	b = append(b, msg...)
	b = append(b, modem.CR, modem.ETX)
	b = append(b, ixoChecksum(b)...)
	return append(b, modem.CR)
}

// ixoChecksum is the low 12 bits of the character sum, as three
// characters offset from '0'
func ixoChecksum(b []byte) []byte {
	sum := 0
	for _, c := range b {
		sum += int(c & 0x7f)
	}
	return []byte{'0' + byte(sum>>8&0xf), '0' + byte(sum>>4&0xf), '0' + byte(sum&0xf)}
}

// Send transmits one message, retransmitting on NAK
func (p *IXO) Send(pin, msg string) (modem.SendStatus, string) {
	block := IXOBlock(pin, msg)
	for attempt := 1; attempt <= p.cfg.XmitRetries; attempt++ {
		if !p.line.Put(block, putTimeout) {
			return modem.SendRetry, "Unable to send message block to paging central"
		}
		r, text := p.waitFor(p.cfg.XmitTimeout, ixoACK, ixoNAK, ixoRS)
		switch r {
		case ixoACK:
			return modem.SendOK, ""
		case ixoNAK:
			p.logf("IXO: message block NAKed, attempt %d", attempt)
		case ixoRS:
			if text == "" {
				return modem.SendFailed, "Message rejected by paging central"
			}
			return modem.SendFailed, "Message rejected by paging central: " + text
		case ixoDisconnect:
			return modem.SendRetry, "Paging central responded with forced disconnect"
		default:
			return modem.SendRetry, "Protocol failure: timeout waiting for transaction ACK/NAK from paging central"
		}
	}
	return modem.SendRetry, "Message block not acknowledged by paging central after multiple tries"
}

// Logout ends the session. Centrals confirm with ESC EOT.
func (p *IXO) Logout() {
	if !p.put(ixoLogout) {
		return
	}
	if r, _ := p.waitFor(p.cfg.AckTimeout, ixoRS); r == ixoTimeout {
		p.logf("IXO: no logout acknowledgement from paging central")
	}
}
