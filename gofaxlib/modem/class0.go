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
	"fmt"
	"strings"
	"time"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
)

// Result is a modem response code
type Result int

const (
	ResultTimeout Result = iota
	ResultOK
	ResultConnect
	ResultNoCarrier
	ResultBusy
	ResultNoDialtone
	ResultNoAnswer
	ResultError
	ResultRing
	ResultFax
	ResultVoice
	ResultOther
)

var resultPrefixes = []struct {
	prefix string
	result Result
}{
	{"OK", ResultOK},
	{"CONNECT", ResultConnect},
	{"NO CARRIER", ResultNoCarrier},
	{"BUSY", ResultBusy},
	{"NO DIALTONE", ResultNoDialtone},
	{"NO DIAL TONE", ResultNoDialtone},
	{"NO ANSWER", ResultNoAnswer},
	{"ERROR", ResultError},
	{"RING", ResultRing},
	{"+FCO", ResultFax},
	{"FAX", ResultFax},
	{"VCON", ResultVoice},
	{"VOICE", ResultVoice},
}

// ParseResult classifies a response line
func ParseResult(line string) Result {
	line = strings.TrimSpace(line)
	for _, r := range resultPrefixes {
		if strings.HasPrefix(line, r.prefix) {
			return r.result
		}
	}
	return ResultOther
}

// final reports whether r ends a command
func (r Result) final() bool {
	return r != ResultOther && r != ResultRing && r != ResultTimeout
}

const (
	defaultCmdTimeout = 3 * time.Second
	pokeTimeout       = 5 * time.Second
	ringTimeout       = 6 * time.Second
)

// Class0 drives a modem with plain data AT commands. It is enough for
// paging and for keeping an idle modem checked.
type Class0 struct {
	t   *Transport
	cfg *gofaxlib.Config

	// Informational lines seen during the last command
	Info []string
	// Escape guard time around +++
	Guard time.Duration
}

// NewClass0 returns a data driver on the transport
func NewClass0(t *Transport, cfg *gofaxlib.Config) *Class0 {
	return &Class0{t: t, cfg: cfg, Guard: time.Second}
}

// Transport returns the line the driver talks to
func (m *Class0) Transport() *Transport {
	return m.t
}

// AtCmd sends a command and waits up to timeout for a final result
func (m *Class0) AtCmd(cmd string, timeout time.Duration) Result {
	logger.Trace(logger.TraceModemCom).Debugf("--> %s", cmd)
	if !m.t.PutString(cmd+"\r", timeout) {
		return ResultTimeout
	}
	return m.waitResult(cmd, timeout)
}

func (m *Class0) waitResult(cmd string, timeout time.Duration) Result {
	m.Info = m.Info[:0]
	end := time.Now().Add(timeout)
	for {
		remain := time.Until(end)
		if remain <= 0 {
			return ResultTimeout
		}
		line, ok := m.t.GetLine(remain)
		if !ok {
			return ResultTimeout
		}
		if cmd != "" && line == cmd {
			continue // echo
		}
		r := ParseResult(line)
		if r.final() {
			return r
		}
		m.Info = append(m.Info, line)
	}
}

// Reset sends the configured reset commands
func (m *Class0) Reset() bool {
	m.t.Flush()
	for _, cmd := range strings.Split(m.cfg.Modem.ResetCmds, ";") {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if r := m.AtCmd(cmd, defaultCmdTimeout); r != ResultOK {
			logger.Trace(logger.TraceModemOps).Warnf("Modem reset command %q failed", cmd)
			return false
		}
	}
	return true
}

// Poke checks the modem answers to AT
func (m *Class0) Poke() bool {
	return m.AtCmd("AT", pokeTimeout) == ResultOK
}

// Dial calls number and waits for a data connection
func (m *Class0) Dial(number string) (CallStatus, string) {
	cmd := fmt.Sprintf(m.cfg.Modem.DialCmd, number)
	timeout := gofaxlib.Seconds(m.cfg.Modem.DialTimeout)
	r := m.AtCmd(cmd, timeout)
	var cs CallStatus
	switch r {
	case ResultConnect:
		return OK, ""
	case ResultBusy:
		cs = BUSY
	case ResultNoCarrier:
		cs = NOCARRIER
	case ResultNoDialtone:
		cs = NODIALTONE
	case ResultNoAnswer, ResultTimeout:
		cs = NOANSWER
	case ResultError:
		cs = ERROR
	case ResultFax:
		cs = NOFCON
	default:
		cs = FAILURE
	}
	return cs, cs.String()
}

// WaitForRings waits for n rings, picking up caller id sent between them
func (m *Class0) WaitForRings(n int) (CallerID, bool) {
	var cid CallerID
	rings := 0
	for rings < n {
		line, ok := m.t.GetLine(ringTimeout)
		if !ok {
			return cid, false
		}
		switch {
		case ParseResult(line) == ResultRing:
			rings++
			logger.Trace(logger.TraceModemOps).Infof("RING %d/%d", rings, n)
		case strings.HasPrefix(line, "NMBR"):
			cid.Number = cidValue(line)
		case strings.HasPrefix(line, "NAME"):
			cid.Name = cidValue(line)
		}
	}
	return cid, true
}

func cidValue(line string) string {
	if i := strings.IndexByte(line, '='); i >= 0 {
		return strings.TrimSpace(line[i+1:])
	}
	return ""
}

// Answer picks up the line and reports what kind of call it is
func (m *Class0) Answer(AnswerType) (CallType, string) {
	r := m.AtCmd(m.cfg.Modem.AnswerCmd, gofaxlib.Seconds(m.cfg.Modem.AnswerTimeout))
	switch r {
	case ResultConnect:
		return CallData, ""
	case ResultFax:
		return CallFax, ""
	case ResultVoice:
		return CallVoice, ""
	case ResultTimeout:
		return CallError, "Answer timeout"
	}
	return CallError, "Call aborted"
}

// Hangup ends the call
func (m *Class0) Hangup() {
	time.Sleep(m.Guard)
	m.t.PutString("+++", defaultCmdTimeout)
	time.Sleep(m.Guard)
	m.t.Flush()
	m.AtCmd(m.cfg.Modem.HangupCmd, defaultCmdTimeout)
}
