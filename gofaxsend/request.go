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

package gofaxsend

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// FaxRequest is a job as read from its queue file. It is mutated during
// the call and written back afterwards.
type FaxRequest struct {
	Jobid    string
	Jobtag   string
	Owner    string
	Mailaddr string
	Sender   string

	// Number is the dialstring, External the number for display
	Number   string
	External string
	Subaddr  string
	Passwd   string

	Items []*FaxItem

	// NTries counts attempts to send the current page
	NTries int
	// NDials counts consecutive failed dials
	NDials   int
	TotDials int
	MaxDials int
	// TotTries counts answered calls
	TotTries int
	MaxTries int

	NPages   int
	TotPages int

	TTS       time.Time
	RetryTime time.Duration
	// Delay until the next attempt when Status is SendRetry
	Requeue time.Duration

	DesiredBR    int
	DesiredST    int
	DesiredEC    int
	DesiredDF    int
	PageHandling string

	Status SendStatus
	Notice string

	CommID     string
	CSI        string
	SignalRate string
	DataFormat string
}

func getInt(qf Qfiler, tag string, def int) int {
	if v, err := qf.GetInt(tag); err == nil {
		return v
	}
	return def
}

// LoadRequest reads a job from its queue file
func LoadRequest(qf Qfiler) (*FaxRequest, error) {
	req := &FaxRequest{
		Jobid:        qf.GetString("jobid"),
		Jobtag:       qf.GetString("jobtag"),
		Owner:        qf.GetString("owner"),
		Mailaddr:     qf.GetString("mailaddr"),
		Sender:       qf.GetString("sender"),
		Number:       qf.GetString("number"),
		External:     qf.GetString("external"),
		Subaddr:      qf.GetString("subaddr"),
		Passwd:       qf.GetString("passwd"),
		NTries:       getInt(qf, "ntries", 0),
		NDials:       getInt(qf, "ndials", 0),
		TotDials:     getInt(qf, "totdials", 0),
		MaxDials:     getInt(qf, "maxdials", 0),
		TotTries:     getInt(qf, "tottries", 0),
		MaxTries:     getInt(qf, "maxtries", 0),
		NPages:       getInt(qf, "npages", 0),
		TotPages:     getInt(qf, "totpages", 0),
		RetryTime:    time.Duration(getInt(qf, "retrytime", 0)) * time.Second,
		DesiredBR:    getInt(qf, "desiredbr", -1),
		DesiredST:    getInt(qf, "desiredst", -1),
		DesiredEC:    getInt(qf, "desiredec", -1),
		DesiredDF:    getInt(qf, "desireddf", -1),
		PageHandling: qf.GetString("pagehandling"),
		Notice:       qf.GetString("status"),
		CommID:       qf.GetString("commid"),
		Status:       SendRetry,
	}
	if req.Jobid == "" {
		return nil, errors.New("Error parsing jobid")
	}
	if req.Number == "" {
		return nil, errors.Errorf("Job %s: no destination number", req.Jobid)
	}
	if req.External == "" {
		req.External = req.Number
	}
	if tts := getInt(qf, "tts", 0); tts > 0 {
		req.TTS = time.Unix(int64(tts), 0)
	}
	var err error
	if req.Items, err = loadItems(qf); err != nil {
		return nil, errors.Wrapf(err, "Job %s", req.Jobid)
	}
	return req, nil
}

// Save writes the mutable parts of the job back to qf
func (r *FaxRequest) Save(qf Qfiler) error {
	qf.Set("ntries", strconv.Itoa(r.NTries))
	qf.Set("ndials", strconv.Itoa(r.NDials))
	qf.Set("totdials", strconv.Itoa(r.TotDials))
	qf.Set("tottries", strconv.Itoa(r.TotTries))
	qf.Set("maxdials", strconv.Itoa(r.MaxDials))
	qf.Set("maxtries", strconv.Itoa(r.MaxTries))
	qf.Set("npages", strconv.Itoa(r.NPages))
	qf.Set("totpages", strconv.Itoa(r.TotPages))
	if !r.TTS.IsZero() {
		qf.Set("tts", strconv.FormatInt(r.TTS.Unix(), 10))
	}
	qf.Set("status", r.Notice)
	qf.Set("returned", strconv.Itoa(int(r.Status)))
	if r.CommID != "" {
		qf.Set("commid", r.CommID)
	}
	if r.CSI != "" {
		qf.Set("csi", r.CSI)
	}
	if r.SignalRate != "" {
		qf.Set("signalrate", r.SignalRate)
	}
	if r.DataFormat != "" {
		qf.Set("dataformat", r.DataFormat)
	}
	saveItems(qf, r.Items)
	return qf.Write()
}

// Pending returns the items of operation op not yet done
func (r *FaxRequest) Pending(op string) []*FaxItem {
	var items []*FaxItem
	for _, i := range r.Items {
		if i.Op == op && !i.Done {
			items = append(items, i)
		}
	}
	return items
}

// HasPending reports whether items of operation op remain
func (r *FaxRequest) HasPending(op string) bool {
	return len(r.Pending(op)) > 0
}

// Fail records the outcome of an attempt
func (r *FaxRequest) Fail(status SendStatus, notice string) {
	r.Status = status
	r.Notice = notice
}
