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
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/destctl"
	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
	"github.com/gonicus/gofaxmodem/gofaxlib/machinfo"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
)

// Sender holds everything shared by the jobs a send process runs:
// configuration, destination controls, dial rules and the remote
// capability store.
type Sender struct {
	Config      *gofaxlib.Config
	DeviceID    string
	Faxq        *gofaxlib.Faxq
	DestControl *destctl.DestControl
	DialRules   *gofaxlib.DialRules
	Info        *machinfo.Store
	// Modem customizes the modem servers created per job
	Modem modem.ServerOptions
	Now   func() time.Time

	mu      sync.Mutex
	current interface{ Abort() }
}

// NewSender sets up a sender for the modem deviceID
func NewSender(cfg *gofaxlib.Config, deviceID string) (*Sender, error) {
	s := &Sender{
		Config:   cfg,
		DeviceID: deviceID,
		DestControl: destctl.New(cfg.SpoolPath(cfg.Send.DestControls), destctl.Defaults{
			MaxDials: cfg.Send.MaxDials,
			MaxTries: cfg.Send.MaxTries,
		}),
		Info: machinfo.NewStore(cfg.SpoolPath(cfg.Send.InfoDir), gofaxlib.Seconds(cfg.Send.InfoCacheTTL)),
		Now:  time.Now,
	}
	if cfg.Hylafax.FaxqFifo != "" {
		s.Faxq = gofaxlib.NewFaxq(cfg.SpoolPath(cfg.Hylafax.FaxqFifo))
	}
	if cfg.Send.DialRules != "" {
		rules, err := gofaxlib.LoadDialRules(cfg.SpoolPath(cfg.Send.DialRules))
		if err != nil {
			s.Info.Close()
			return nil, errors.Wrap(err, "dial rules")
		}
		s.DialRules = rules
	}
	return s, nil
}

// Close flushes cached remote capabilities
func (s *Sender) Close() {
	s.Info.Close()
}

// Abort stops the running job
func (s *Sender) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Abort()
	}
}

// SetCurrent registers the session to stop on Abort
func (s *Sender) SetCurrent(c interface{ Abort() }) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
}

// Job is a request that passed the destination policy
type Job struct {
	Req *FaxRequest
	// Config is the server configuration with the job's overrides
	Config *gofaxlib.Config
	// Number is dialed, Canon is the key of destination records
	Number string
	Canon  string
	Dest   *destctl.Info
	Start  time.Time
}

// Prepare applies destination controls and DynamicConfig to req. It
// returns nil if the job was decided without calling, req then holds
// the outcome.
func (s *Sender) Prepare(req *FaxRequest) *Job {
	now := s.Now()
	cfg := *s.Config
	job := &Job{
		Req:    req,
		Config: &cfg,
		Number: req.Number,
		Canon:  s.DialRules.CanonicalNumber(req.Number),
		Start:  now,
	}
	job.Dest = s.DestControl.Lookup(job.Canon)
	dci := job.Dest

	if notice := dci.RejectNotice(); notice != "" {
		req.Fail(SendFailed, notice)
		return nil
	}
	if limit := dci.MaxSendPages(); limit > 0 && req.TotPages > limit {
		req.Fail(SendFailed, fmt.Sprintf("REJECT: Too many pages in submission; max %d", limit))
		return nil
	}
	if req.MaxDials == 0 || (dci.MaxDials() > 0 && dci.MaxDials() < req.MaxDials) {
		req.MaxDials = dci.MaxDials()
	}
	if req.MaxTries == 0 || (dci.MaxTries() > 0 && dci.MaxTries() < req.MaxTries) {
		req.MaxTries = dci.MaxTries()
	}
	if next := dci.TimeOfDay().NextTimeToSend(now); next.After(now) {
		req.Fail(SendRetry, "Delayed by time-of-day restrictions")
		req.TTS = next
		req.Requeue = next.Sub(now)
		return nil
	}
	for _, arg := range dci.Args() {
		if err := cfg.Set(arg.Tag, arg.Value); err != nil {
			logger.Logger.Warnf("Job %s: destination control %s: %v", req.Jobid, dci.Pattern(), err)
		}
	}

	if dcCmd := cfg.Send.DynamicConfig; dcCmd != "" {
		dcCmd = cfg.SpoolPath(dcCmd)
		logger.Logger.Infof("Job %s: calling DynamicConfig script %s", req.Jobid, dcCmd)
		dc, err := gofaxlib.DynamicConfig(dcCmd, s.DeviceID, req.Owner, req.Number, req.Jobid)
		if err != nil {
			// Retry, as this is an internal error executing the DynamicConfig script which could recover later
			req.Fail(SendRetry, fmt.Sprintln("Error calling DynamicConfig:", err))
			return nil
		}
		if gofaxlib.DynamicConfigBool(dc.GetString("RejectCall")) {
			req.Fail(SendFailed, "Transmission rejected by DynamicConfig")
			return nil
		}
		if tsi := dc.GetString("LocalIdentifier"); tsi != "" {
			cfg.Send.LocalIdentifier = tsi
		}
		if prefix := dc.GetString("CallPrefix"); prefix != "" {
			cfg.Send.CallPrefix = prefix
		}
		if faxnumber := dc.GetString("FAXNumber"); faxnumber != "" {
			cfg.Send.FaxNumber = faxnumber
		}
	}
	job.Number = cfg.Send.CallPrefix + req.Number
	return job
}

// NewServer returns the modem server for a job
func (s *Sender) NewServer(job *Job) *modem.Server {
	opts := s.Modem
	if opts.Faxq == nil {
		opts.Faxq = s.Faxq
	}
	return modem.NewServer(job.Config, opts)
}

// Finish writes the outcome of req to its queue file and, if rec is
// not nil, an accounting record.
func (s *Sender) Finish(qf Qfiler, req *FaxRequest, rec *gofaxlib.XFRecord) {
	if req.Status == SendRetry && req.Requeue > 0 {
		req.TTS = s.Now().Add(req.Requeue)
	}
	if err := req.Save(qf); err != nil {
		logger.Logger.Warnf("Job %s: error updating qfile: %v", req.Jobid, err)
	}
	if rec == nil {
		return
	}
	rec.Modem = s.DeviceID
	rec.Jobid = req.Jobid
	rec.Jobtag = req.Jobtag
	rec.Sender = req.Mailaddr
	rec.Destnum = req.Number
	rec.Owner = req.Owner
	rec.Commid = req.CommID
	rec.Reason = req.Notice
	if err := rec.Save(s.Config.SpoolPath(s.Config.Hylafax.Xferfaxlog)); err != nil {
		logger.Logger.Warnf("Job %s: cannot write accounting record: %v", req.Jobid, err)
	}
}

// SendQfile locks and sends the job in queue file qfilename
func (s *Sender) SendQfile(qfilename string) (SendStatus, error) {
	qf, err := OpenQfile(qfilename)
	if err != nil {
		return SendFailed, errors.Wrapf(err, "Cannot open qfile %v", qfilename)
	}
	defer qf.Close()
	return s.SendJob(qf)
}

// SendJob sends the fax job read from qf and writes the outcome back
func (s *Sender) SendJob(qf Qfiler) (SendStatus, error) {
	req, err := LoadRequest(qf)
	if err != nil {
		return SendFailed, err
	}
	for _, item := range req.Pending(OpPage) {
		err := NewFaxError(fmt.Sprintf("Job %s: pager request %s in fax job", req.Jobid, item.Item), false)
		return errorStatus(err), err
	}
	job := s.Prepare(req)
	if job == nil {
		logger.Logger.Infof("Job %s: %s: %s", req.Jobid, req.Status, req.Notice)
		s.Finish(qf, req, nil)
		return req.Status, nil
	}

	info := s.Info.Get(job.Canon)
	defer s.Info.Release(info)

	fs := NewFaxServer(job.Config, s.NewServer(job), Options{
		Faxq:      s.Faxq,
		DialRules: s.DialRules,
		Update: func(r *FaxRequest) {
			if err := r.Save(qf); err != nil {
				logger.Logger.Warnf("Job %s: error updating qfile: %v", r.Jobid, err)
			}
		},
	})
	s.SetCurrent(fs)
	defer s.SetCurrent(nil)
	fs.SendFax(req, info, job.Number)

	var rec *gofaxlib.XFRecord
	if hasOp(req, OpFax) {
		rec = &gofaxlib.XFRecord{Verb: gofaxlib.VerbSend}
		rec.SetResult(fs.Result())
	}
	s.Finish(qf, req, rec)
	return req.Status, nil
}

func hasOp(req *FaxRequest, op string) bool {
	for _, i := range req.Items {
		if i.Op == op {
			return true
		}
	}
	return false
}
