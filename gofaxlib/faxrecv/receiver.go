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

// Package faxrecv receives facsimile documents from an answered call
// into sequentially numbered TIFF files in the receive queue.
package faxrecv

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/class2"
	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
	"github.com/gonicus/gofaxmodem/gofaxlib/tiff"
)

const (
	recvFileFormat = "fax%09d.tif"
	software       = "gofaxmodem"

	msgMaxPages  = "Maximum receive page count exceeded, job terminated"
	msgInterrupt = "Procedure interrupt received, job terminated"
	msgBadTSI    = "Permission denied (unacceptable client TSI)"
	msgAborted   = "Receive aborted due to operator intervention"
)

// RecvInfo describes one received document
type RecvInfo struct {
	Filename   string
	CommID     string
	Sender     string // TSI
	SubAddress string
	CallID     modem.CallerID
	Params     class2.Params
	Pages      uint
	Time       time.Duration
	Reason     string
}

// Encode formats the info for receive status messages
func (ri *RecvInfo) Encode() string {
	return fmt.Sprintf("%s,%x,%d,%d,%s,%s,%s,%s,%s",
		filepath.Base(ri.Filename), ri.Params.Encode(), ri.Pages, int(ri.Time.Seconds()),
		ri.CommID, ri.Sender, ri.CallID.Number, ri.CallID.Name, ri.Reason)
}

// RecvFile is a receive queue file being written
type RecvFile struct {
	*os.File
	Writer *tiff.Writer
	Info   *RecvInfo
}

// Options tie a receiver to its surroundings
type Options struct {
	DeviceID string
	// Jobid is set when polling on behalf of a job
	Jobid string
	Faxq  *gofaxlib.Faxq
	// QualifyTSI rejects senders, nil accepts everybody
	QualifyTSI *Qualifier
	Session    gofaxlib.SessionLogger
	// OnPage is called for each received page
	OnPage func(info *RecvInfo)
}

// Receiver runs the receive side of a fax session
type Receiver struct {
	cfg  *gofaxlib.Config
	fax  modem.FaxModem
	opts Options
	seqf *gofaxlib.SeqFile

	recvPages int
	fileStart time.Time
	pageStart time.Time
	callID    modem.CallerID
	verb      gofaxlib.Verb
	docs      []*RecvInfo
	aborted   *atomic.Bool
}

// NewReceiver returns a receiver for the answered call on fax
func NewReceiver(cfg *gofaxlib.Config, fax modem.FaxModem, opts Options) *Receiver {
	return &Receiver{
		cfg:     cfg,
		fax:     fax,
		opts:    opts,
		seqf:    gofaxlib.NewSeqFile(cfg.SpoolPath(cfg.Recv.RecvDir)),
		aborted: atomic.NewBool(false),
	}
}

// Abort asks the receiver to stop after the current page
func (r *Receiver) Abort() {
	r.aborted.Store(true)
}

func (r *Receiver) logf(format string, v ...interface{}) {
	if r.opts.Session != nil {
		r.opts.Session.Logf(format, v...)
		return
	}
	logger.Trace(logger.TraceProtocol).Info(fmt.Sprintf(format, v...))
}

func (r *Receiver) commID() string {
	if r.opts.Session != nil {
		return r.opts.Session.CommID()
	}
	return ""
}

// AllocRecvFile creates the next unused file in the receive queue. The
// file is returned locked.
func (r *Receiver) AllocRecvFile() (*os.File, string, error) {
	if err := os.MkdirAll(filepath.Dir(r.seqf.Path), 0755); err != nil {
		return nil, "", errors.Wrap(err, "cannot create receive queue")
	}
	f, name, err := r.seqf.Alloc(recvFileFormat, 0600)
	if err != nil {
		return nil, "", errors.Wrap(err, "cannot allocate receive file")
	}
	return f, name, nil
}

func (r *Receiver) setupForRecv() (*RecvFile, error) {
	f, name, err := r.AllocRecvFile()
	if err != nil {
		return nil, err
	}
	w, err := tiff.NewWriter(f)
	if err != nil {
		f.Close()
		os.Remove(name)
		return nil, errors.Wrapf(err, "%s: cannot write TIFF", name)
	}
	info := &RecvInfo{
		Filename: name,
		CommID:   r.commID(),
		CallID:   r.callID,
	}
	r.docs = append(r.docs, info)
	return &RecvFile{File: f, Writer: w, Info: info}, nil
}

// RecvFax receives all documents of an answered call. The first file
// is created before the modem starts receiving so no data is lost.
// The returned documents include failed ones with their reason set.
func (r *Receiver) RecvFax(callID modem.CallerID) []*RecvInfo {
	return r.receive("RECV FAX", gofaxlib.VerbRecv, callID, r.fax.RecvBegin)
}

// RecvPoll polls the remote for documents stored under the selective
// polling address sep and receives them like a fax.
func (r *Receiver) RecvPoll(cig, sep, pwd string) []*RecvInfo {
	return r.receive("POLL", gofaxlib.VerbPoll, modem.CallerID{}, func() (bool, string) {
		return r.fax.PollBegin(cig, sep, pwd)
	})
}

func (r *Receiver) receive(what string, verb gofaxlib.Verb, callID modem.CallerID, begin func() (bool, string)) []*RecvInfo {
	r.logf("%s: begin", what)
	r.callID = callID
	r.verb = verb
	r.docs = nil
	r.recvPages = 0

	rf, err := r.setupForRecv()
	if err != nil {
		r.logf("%s: %v", what, err)
		return nil
	}
	r.fileStart = time.Now()
	r.pageStart = r.fileStart

	if ok, emsg := begin(); ok {
		rf.Info.Sender = r.fax.RemoteID()
		r.notify(gofaxlib.RecvBegun, rf.Info)
		if ok, emsg = r.RecvDocuments(rf); !ok {
			r.logf("%s: %s", what, emsg)
			r.fax.RecvAbort()
		}
		if !r.fax.RecvEnd() {
			r.logf("%s: problem terminating receive", what)
		}
	} else {
		r.logf("%s: %s", what, emsg)
		rf.Info.Reason = emsg
		rf.Close()
	}

	mode := gofaxlib.FileMode(r.cfg.Recv.RecvFileMode, 0600)
	for _, ri := range r.docs {
		if ri.Pages == 0 {
			os.Remove(ri.Filename)
		} else if err := os.Chmod(ri.Filename, mode); err != nil {
			r.logf("%s: %s: cannot set mode: %v", what, ri.Filename, err)
		}
		r.notify(gofaxlib.RecvDone, ri)
		r.account(ri)
	}
	r.logf("%s: end", what)
	return r.docs
}

// RecvDocuments receives documents into rf and further files until the
// remote signals the end of the session.
func (r *Receiver) RecvDocuments(rf *RecvFile) (bool, string) {
	for {
		info := rf.Info
		info.Sender = r.fax.RemoteID()
		info.SubAddress = r.fax.RecvSubAddress()
		if !r.opts.QualifyTSI.Accept(info.Sender) {
			r.logf("REJECT: TSI \"%s\"", info.Sender)
			info.Reason = msgBadTSI
			rf.Close()
			return false, msgBadTSI
		}
		r.logf("ACCEPT: TSI \"%s\"", info.Sender)

		ppm, ok, emsg := r.RecvFaxPhaseD(rf)
		rf.Close()
		info.Time = time.Since(r.fileStart)
		info.Reason = emsg
		r.notify(gofaxlib.RecvDocument, info)
		if !ok || ppm == modem.PPM_EOP {
			return ok, emsg
		}

		var err error
		if rf, err = r.setupForRecv(); err != nil {
			return false, err.Error()
		}
		r.fileStart = time.Now()
		r.pageStart = r.fileStart
	}
}

// RecvFaxPhaseD receives the pages of one document. Each page is
// linked into the file as soon as it arrives.
func (r *Receiver) RecvFaxPhaseD(rf *RecvFile) (modem.PPM, bool, string) {
	info := rf.Info
	for {
		if r.aborted.Load() {
			return modem.PPM_EOP, false, msgAborted
		}
		r.recvPages++
		if limit := r.cfg.Recv.MaxRecvPages; limit > 0 && r.recvPages > limit {
			return modem.PPM_EOP, false, msgMaxPages
		}
		page, ppm, ok, emsg := r.fax.RecvPage()
		if !ok {
			return ppm, false, emsg
		}
		params := r.fax.RecvParams()
		now := time.Now()
		if page != nil {
			page.ImageDescription = info.Sender
			page.Software = software
			page.DateTime = now
			page.FaxRecvParams = uint32(params.Encode())
			page.FaxSubAddress = info.SubAddress
			page.FaxRecvTime = uint32(now.Sub(r.pageStart).Seconds())
			page.FaxDCS = params.String()
			page.FaxCallID = info.CallID.Number
			if err := rf.Writer.WritePage(page); err != nil {
				return ppm, false, errors.Wrapf(err, "%s: write", info.Filename).Error()
			}
		}
		info.Pages++
		info.Params = params
		info.Time = now.Sub(r.pageStart)
		r.logf("RECV: page %d, %s, %s", info.Pages, params, ppm)
		r.notify(gofaxlib.RecvPage, info)
		if r.opts.OnPage != nil {
			r.opts.OnPage(info)
		}
		if ppm.Interrupt() {
			return ppm, false, msgInterrupt
		}
		r.pageStart = now
		if ppm != modem.PPM_MPS {
			return ppm, true, ""
		}
	}
}

func (r *Receiver) notify(code byte, info *RecvInfo) {
	if r.verb != gofaxlib.VerbRecv {
		return
	}
	if err := r.opts.Faxq.ReceiveStatus(r.opts.DeviceID, code, info.Encode()); err != nil {
		logger.Logger.Warnf("Cannot notify scheduler: %v", err)
	}
}

func (r *Receiver) account(ri *RecvInfo) {
	rec := &gofaxlib.XFRecord{
		Verb:     r.verb,
		Ts:       time.Now().Add(-ri.Time),
		Commid:   ri.CommID,
		Modem:    r.opts.DeviceID,
		Jobid:    r.opts.Jobid,
		Filename: ri.Filename,
		Destnum:  r.cfg.Send.FaxNumber,
		RemoteID: ri.Sender,
		Params:   ri.Params.Encode(),
		Pages:    ri.Pages,
		Jobtime:  ri.Time,
		Conntime: ri.Time,
		Reason:   ri.Reason,
		Cidname:  ri.CallID.Name,
		Cidnum:   ri.CallID.Number,
		CallID:   ri.CallID.Number,
	}
	if err := rec.Save(r.cfg.SpoolPath(r.cfg.Hylafax.Xferfaxlog)); err != nil {
		logger.Logger.Warnf("Cannot write accounting record: %v", err)
	}
}
