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

package gofaxlib

import (
	"fmt"

	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
)

const (
	// Modem status codes understood by faxq
	ModemReady   = 'R'
	ModemBusy    = 'B'
	ModemDown    = 'D'
	ModemWedged  = 'W'
	ModemInUse   = 'U'
	ModemNotBusy = 'N'

	// Receive status codes
	RecvBegun    = 'B'
	RecvPage     = 'P'
	RecvDocument = 'D'
	RecvDone     = 'E'

	// Job status codes
	JobPageSent     = 'P'
	JobDocumentSent = 'D'
	JobPollRecvd    = 'R'
	JobPollDone     = 'p'
)

type message struct {
	msg string
	err chan error
}

// Faxq sends notification messages to the scheduler's FIFO. Messages
// are written by a single goroutine so they never interleave.
type Faxq struct {
	filename string
	msgchan  chan message
}

// NewFaxq creates a FIFO client for the given FIFO file
func NewFaxq(filename string) *Faxq {
	f := &Faxq{
		filename: filename,
		msgchan:  make(chan message),
	}
	go f.messageLoop()
	return f
}

func (f *Faxq) messageLoop() {
	for m := range f.msgchan {
		m.err <- SendFIFO(f.filename, m.msg)
	}
}

// Send writes a raw message to the FIFO
func (f *Faxq) Send(msg string) error {
	if f == nil || f.filename == "" {
		return nil
	}
	logger.Trace(logger.TraceQueue).Debugf("Sending message to %s: %s", f.filename, msg)
	m := message{
		msg: msg,
		err: make(chan error, 1),
	}
	f.msgchan <- m
	return <-m.err
}

// ModemStatus sends a "+modem:" status message
func (f *Faxq) ModemStatus(modem string, msg string) error {
	return f.Send(fmt.Sprintf("+%s:%s", modem, msg))
}

// ModemStatusReady tells the scheduler that the modem is ready,
// together with its capabilities
func (f *Faxq) ModemStatusReady(modem string, capabilities string) error {
	return f.ModemStatus(modem, string(ModemReady)+capabilities)
}

// ModemStatusWedged tells the scheduler to stop using the modem
func (f *Faxq) ModemStatusWedged(modem string) error {
	return f.ModemStatus(modem, string(ModemWedged))
}

// ReceiveStatus sends a "@modem:" receive progress message
func (f *Faxq) ReceiveStatus(modem string, code byte, msg string) error {
	return f.Send(fmt.Sprintf("@%s:%c%s", modem, code, msg))
}

// JobStatus sends a "*jobid:" job progress message
func (f *Faxq) JobStatus(jobid string, code byte, msg string) error {
	return f.Send(fmt.Sprintf("*%s:%c%s", jobid, code, msg))
}
