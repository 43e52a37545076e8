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
	"time"

	"github.com/google/uuid"

	"github.com/gonicus/gofaxmodem/gofaxlib/class2"
)

// PageResult describes one transferred page
type PageResult struct {
	Ts       time.Time
	Page     uint
	Params   class2.Params
	Width    uint
	Length   uint
	Size     uint
	Duration time.Duration
}

func (p PageResult) String() string {
	return fmt.Sprintf("Page %d: %dx%d pixels, %s, %d bytes, %s",
		p.Page, p.Width, p.Length, p.Params.DataFormatName(), p.Size, p.Duration.Round(time.Second))
}

// FaxResult collects the outcome of a fax session as it progresses
type FaxResult struct {
	uuid       uuid.UUID
	sessionlog SessionLogger

	StartTs   time.Time
	ConnectTs time.Time
	EndTs     time.Time

	RemoteID   string
	Params     class2.Params
	Negotiated bool

	TransferredPages uint
	ResultText       string
	Success          bool

	PageResults []PageResult
}

// NewFaxResult starts the result of a session
func NewFaxResult(sessionlog SessionLogger) *FaxResult {
	f := &FaxResult{
		sessionlog: sessionlog,
		StartTs:    time.Now(),
	}
	if sessionlog != nil {
		f.uuid = sessionlog.UUID()
	}
	return f
}

// UUID returns the session id
func (f *FaxResult) UUID() uuid.UUID {
	return f.uuid
}

// Connected marks the begin of the connection
func (f *FaxResult) Connected() {
	if f.ConnectTs.IsZero() {
		f.ConnectTs = time.Now()
	}
}

// Negotiate records the remote identity and the session parameters
func (f *FaxResult) Negotiate(remoteID string, params class2.Params) {
	f.RemoteID = remoteID
	f.Params = params
	f.Negotiated = true
	f.logf("Remote ID: \"%v\", %v", remoteID, params)
}

// AddPage records a transferred page
func (f *FaxResult) AddPage(pr PageResult) {
	f.TransferredPages++
	pr.Page = f.TransferredPages
	if pr.Ts.IsZero() {
		pr.Ts = time.Now()
	}
	f.PageResults = append(f.PageResults, pr)
	f.logf("%v", pr)
}

// Finish ends the session with the given status text
func (f *FaxResult) Finish(success bool, text string) {
	f.EndTs = time.Now()
	f.Success = success
	f.ResultText = text
	if success {
		f.logf("Success: %d pages", f.TransferredPages)
	} else {
		f.logf("Failed: %s", text)
	}
}

// ConnectTime is the time spent connected to the remote
func (f *FaxResult) ConnectTime() time.Duration {
	if f.ConnectTs.IsZero() || f.EndTs.Before(f.ConnectTs) {
		return 0
	}
	return f.EndTs.Sub(f.ConnectTs)
}

func (f *FaxResult) logf(format string, v ...interface{}) {
	if f.sessionlog != nil {
		f.sessionlog.Logf(format, v...)
	}
}
