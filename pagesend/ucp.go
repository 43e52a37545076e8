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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
)

const (
	// Call input operation, alphanumeric message
	ucpOpCallInput = "01"
	ucpMsgAlpha    = "3"
	// Error code asking for retransmission
	ucpChecksumError = "01"
)

// UCPConfig holds the UCP protocol parameters
type UCPConfig struct {
	Originator  string
	XmitRetries int
	AckTimeout  time.Duration
}

// UCPConfigFor returns the protocol parameters for a call. The
// originator set for the destination wins over the configured one.
func UCPConfigFor(cfg *gofaxlib.Config, source string) UCPConfig {
	if source == "" {
		source = cfg.Page.UCPOriginator
	}
	return UCPConfig{
		Originator:  source,
		XmitRetries: cfg.Page.IXOXmitRetries,
		AckTimeout:  gofaxlib.Seconds(cfg.Page.IXOAckTimeout),
	}
}

// UCP sends messages with the Universal Computer Protocol (EMI)
type UCP struct {
	line Line
	cfg  UCPConfig
	logf func(format string, v ...interface{})
	trn  int
}

// NewUCP returns a protocol handler on line
func NewUCP(line Line, cfg UCPConfig, logf func(format string, v ...interface{})) *UCP {
	if cfg.XmitRetries < 1 {
		cfg.XmitRetries = 1
	}
	return &UCP{line: line, cfg: cfg, logf: logf}
}

func ucpChecksum(s string) string {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum += s[i]
	}
	return fmt.Sprintf("%02X", sum)
}

// UCPMessage formats a call input operation:
// STX TRN/LEN/O/01/AdC/OAdC/AC/MT/AMsg/CKS ETX
func UCPMessage(trn int, pin, originator, msg string) []byte {
	data := strings.Join([]string{ucpOpCallInput, pin, originator, "", ucpMsgAlpha, fmt.Sprintf("%X", msg)}, "/")
	// LEN covers TRN through CKS
	length := 2 + 1 + 5 + 1 + 2 + len(data) + 1 + 2
	body := fmt.Sprintf("%02d/%05d/O/%s/", trn%100, length, data)
	b := append([]byte{modem.STX}, body...)
	b = append(b, ucpChecksum(body)...)
	return append(b, modem.ETX)
}

// UCPResponse is the answer of the central to an operation
type UCPResponse struct {
	TRN  int
	Ack  bool
	Code string
	Text string
}

// ParseUCPResponse parses a frame without STX and ETX
func ParseUCPResponse(frame []byte) (*UCPResponse, error) {
	s := string(frame)
	i := strings.LastIndexByte(s, '/')
	if i < 0 {
		return nil, errors.Errorf("malformed UCP response %q", s)
	}
	if cks := s[i+1:]; !strings.EqualFold(cks, ucpChecksum(s[:i+1])) {
		return nil, errors.Errorf("UCP response checksum mismatch %q", s)
	}
	f := strings.Split(s[:i], "/")
	// TRN/LEN/R/OT/A/SM or TRN/LEN/R/OT/N/EC/SM
	if len(f) < 5 || f[2] != "R" {
		return nil, errors.Errorf("malformed UCP response %q", s)
	}
	trn, err := strconv.Atoi(f[0])
	if err != nil {
		return nil, errors.Wrapf(err, "UCP response %q", s)
	}
	r := &UCPResponse{TRN: trn}
	switch f[4] {
	case "A":
		r.Ack = true
		if len(f) > 5 {
			r.Text = f[5]
		}
	case "N":
		if len(f) > 5 {
			r.Code = f[5]
		}
		if len(f) > 6 {
			r.Text = f[6]
		}
	default:
		return nil, errors.Errorf("UCP response %q is neither ACK nor NAK", s)
	}
	return r, nil
}

// readFrame returns the next STX..ETX frame
func (p *UCP) readFrame(timeout time.Duration) ([]byte, bool) {
	end := time.Now().Add(timeout)
	var buf []byte
	inFrame := false
	for {
		remain := time.Until(end)
		if remain <= 0 {
			return nil, false
		}
		c := p.line.GetChar(remain)
		switch {
		case c == modem.EOF:
			return nil, false
		case c == modem.STX:
			inFrame = true
			buf = buf[:0]
		case c == modem.ETX && inFrame:
			return buf, true
		case inFrame:
			buf = append(buf, byte(c))
		}
	}
}

// Login is a no-op, UCP sends right after connecting
func (p *UCP) Login() (modem.SendStatus, string) {
	return modem.SendOK, ""
}

// Logout is a no-op
func (p *UCP) Logout() {}

// Send transmits one message, retransmitting on checksum errors
func (p *UCP) Send(pin, msg string) (modem.SendStatus, string) {
	for attempt := 1; attempt <= p.cfg.XmitRetries; attempt++ {
		p.trn = (p.trn + 1) % 100
		frame := UCPMessage(p.trn, pin, p.cfg.Originator, msg)
		if !p.line.Put(frame, putTimeout) {
			return modem.SendRetry, "Unable to send message to paging central"
		}
		raw, ok := p.readFrame(p.cfg.AckTimeout)
		if !ok {
			return modem.SendRetry, "Protocol failure: timeout waiting for response from paging central"
		}
		r, err := ParseUCPResponse(raw)
		if err != nil {
			p.logf("UCP: %v", err)
			continue
		}
		if r.Ack {
			return modem.SendOK, ""
		}
		if r.Code == ucpChecksumError {
			p.logf("UCP: checksum error reported, attempt %d", attempt)
			continue
		}
		emsg := "Message rejected by paging central: error " + r.Code
		if r.Text != "" {
			emsg += " (" + r.Text + ")"
		}
		return modem.SendFailed, emsg
	}
	return modem.SendRetry, "Message not acknowledged by paging central after multiple tries"
}
