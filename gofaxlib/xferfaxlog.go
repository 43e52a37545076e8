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
	"path/filepath"
	"time"
)

const (
	// 19 fields
	xLogFormat = "%s\t%s\t%s\t%s\t%v\t\"%s\"\t%s\t\"%s\"\t\"%s\"\t%d\t%d\t%s\t%s\t\"%s\"\t\"%s\"\t\"%s\"\t\"%s\"\t\"%s\"\t\"%s\""
	tsLayout   = "01/02/06 15:04"
)

// Verb is the kind of an accounting record
type Verb string

const (
	VerbSend Verb = "SEND"
	VerbRecv Verb = "RECV"
	VerbPoll Verb = "POLL"
	VerbPage Verb = "PAGE"
)

// XFRecord holds all data for a HylaFAX xferfaxlog record
type XFRecord struct {
	Verb     Verb
	Ts       time.Time
	Commid   string
	Modem    string
	Jobid    string
	Jobtag   string
	Filename string
	Sender   string
	Destnum  string
	RemoteID string
	Params   uint
	Pages    uint
	Jobtime  time.Duration
	Conntime time.Duration
	Reason   string
	Cidname  string
	Cidnum   string
	CallID   string
	Owner    string
	Dcs      string
}

// SetResult populates xferfaxlog record fields from a FaxResult
func (r *XFRecord) SetResult(result *FaxResult) {
	if result != nil {
		r.Ts = result.StartTs
		r.RemoteID = result.RemoteID
		r.Params = result.Params.Encode()
		r.Pages = result.TransferredPages
		r.Jobtime = result.EndTs.Sub(result.StartTs)
		r.Conntime = result.ConnectTime()
		r.Reason = result.ResultText
		if result.Negotiated {
			r.Dcs = result.Params.String()
		}
	}
}

// Format renders the record as one xferfaxlog line
func (r *XFRecord) Format() string {
	switch r.Verb {
	case VerbRecv, VerbPoll:
		return fmt.Sprintf(xLogFormat, r.Ts.Format(tsLayout), r.Verb, r.Commid, r.Modem,
			filepath.Base(r.Filename), "", "fax", r.Destnum, r.RemoteID, r.Params, r.Pages,
			formatDuration(r.Jobtime), formatDuration(r.Conntime), r.Reason,
			r.Cidname, r.Cidnum, r.CallID, "", r.Dcs)
	case VerbPage:
		return fmt.Sprintf(xLogFormat, r.Ts.Format(tsLayout), r.Verb, r.Commid, r.Modem,
			r.Jobid, r.Jobtag, r.Sender, r.Destnum, "", 0, r.Pages,
			formatDuration(r.Jobtime), formatDuration(r.Conntime), r.Reason, "", "", "", r.Owner, "")
	}
	return fmt.Sprintf(xLogFormat, r.Ts.Format(tsLayout), VerbSend, r.Commid, r.Modem,
		r.Jobid, r.Jobtag, r.Sender, r.Destnum, r.RemoteID, r.Params, r.Pages,
		formatDuration(r.Jobtime), formatDuration(r.Conntime), r.Reason, "", "", "", r.Owner, r.Dcs)
}

// Save appends the record to the given xferfaxlog file. An empty
// filename disables accounting.
func (r *XFRecord) Save(filename string) error {
	if filename == "" {
		return nil
	}
	return AppendTo(filename, r.Format())
}

func formatDuration(d time.Duration) string {
	s := uint(d.Seconds())

	hours := s / (60 * 60)
	minutes := (s / 60) - (60 * hours)
	seconds := s % 60

	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

