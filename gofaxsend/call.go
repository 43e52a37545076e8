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
	"time"

	"go.uber.org/atomic"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
	"github.com/gonicus/gofaxmodem/gofaxlib/machinfo"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
)

// Options tie a sender to its surroundings
type Options struct {
	Faxq      *gofaxlib.Faxq
	DialRules *gofaxlib.DialRules
	Policy    *RetryPolicy
	// Update is called whenever the job made progress worth saving
	Update func(req *FaxRequest)
	// NewSession starts the session log of a job
	NewSession func(jobid string) (gofaxlib.SessionLogger, error)
}

// Call is the part of a send job common to fax and pager jobs: it
// leases the modem, dials and applies the call outcome table. The
// protocol spoken once connected is up to the embedding engine.
type Call struct {
	Srv    *modem.Server
	Opts   Options
	Policy RetryPolicy

	abort   *atomic.Bool
	session gofaxlib.SessionLogger
	result  *gofaxlib.FaxResult
}

// NewCall returns the call machinery for the modem of srv
func NewCall(cfg *gofaxlib.Config, srv *modem.Server, opts Options) *Call {
	c := &Call{
		Srv:   srv,
		Opts:  opts,
		abort: atomic.NewBool(false),
	}
	if opts.Policy != nil {
		c.Policy = *opts.Policy
	} else {
		c.Policy = RetryPolicyFor(cfg)
	}
	if c.Opts.NewSession == nil {
		c.Opts.NewSession = func(jobid string) (gofaxlib.SessionLogger, error) {
			return gofaxlib.NewSessionLogger(cfg.Hylafax.Spooldir, jobid)
		}
	}
	return c
}

// Abort asks a running job to stop at the next safe point. The job
// fails instead of being retried.
func (c *Call) Abort() {
	c.abort.Store(true)
}

// Aborted reports a pending abort request
func (c *Call) Aborted() bool {
	return c.abort.Load()
}

// Session returns the session log of the last job
func (c *Call) Session() gofaxlib.SessionLogger {
	return c.session
}

// Result returns the outcome of the last session
func (c *Call) Result() *gofaxlib.FaxResult {
	return c.result
}

// Logf writes to the session log, or the process log outside a session
func (c *Call) Logf(format string, v ...interface{}) {
	if c.session != nil {
		c.session.Logf(format, v...)
		return
	}
	logger.Trace(logger.TraceProtocol).Info(fmt.Sprintf(format, v...))
}

// Update saves the progress of req
func (c *Call) Update(req *FaxRequest) {
	if c.Opts.Update != nil {
		c.Opts.Update(req)
	}
}

// JobStatus reports job progress to the scheduler
func (c *Call) JobStatus(req *FaxRequest, code byte, msg string) {
	if err := c.Opts.Faxq.JobStatus(req.Jobid, code, msg); err != nil {
		logger.Logger.Warnf("Cannot notify scheduler: %v", err)
	}
}

// Run starts the session log of req, then calls send with the modem
// locked, set up and in SENDING state. Afterwards the modem is closed
// and left to settle, and the failure history in info is updated.
// what names the job kind in the log.
func (c *Call) Run(what string, req *FaxRequest, info *machinfo.Info, send func()) {
	req.Requeue = 0

	var err error
	if c.session, err = c.Opts.NewSession(req.Jobid); err != nil {
		logger.Logger.Warnf("Job %s: cannot start session: %v", req.Jobid, err)
		req.Fail(SendRetry, fmt.Sprintf("Cannot start session: %v", err))
		return
	}
	req.CommID = c.session.CommID()
	c.result = gofaxlib.NewFaxResult(c.session)
	c.Logf("SEND %s: JOB %s DEST %s COMMID %s DEVICE %s", what, req.Jobid, req.External, req.CommID, c.Srv.DeviceID())

	if !c.Srv.LockModem() {
		req.Fail(SendRetry, "Can not lock modem device")
		req.Requeue = 2 * c.Srv.PollLockWait
	} else {
		if !c.Srv.SetupModem() {
			req.Fail(SendRetry, "Can not setup modem")
			req.Requeue = 4 * c.Srv.PollModemWait
		} else {
			c.Srv.ChangeState(modem.SENDING, 0)
			send()
		}
		c.Srv.DiscardModem(true)
		c.Srv.ChangeState(modem.MODEMWAIT, modem.SessionSettleTime)
		c.Srv.UnlockModem()
	}

	if req.Status == SendDone {
		info.SetSendFailures(0)
	} else {
		info.SetSendFailures(info.SendFailures() + 1)
		info.SetLastSendFailure(req.Notice)
	}
	c.result.Finish(req.Status == SendDone, req.Notice)
	c.Logf("SEND %s: JOB %s %s: %s", what, req.Jobid, req.Status, req.Notice)
}

// Attempt describes the current call of req to the outcome table
func (c *Call) Attempt(req *FaxRequest, info *machinfo.Info, status modem.CallStatus, emsg string) CallAttempt {
	return CallAttempt{
		Status:       status,
		Message:      emsg,
		Aborted:      c.abort.Load(),
		CalledBefore: info.CalledBefore(),
		RetryTime:    req.RetryTime,
		NDials:       req.NDials,
		TotDials:     req.TotDials,
		MaxDials:     req.MaxDials,
		TotTries:     req.TotTries,
		MaxTries:     req.MaxTries,
	}
}

// Decide applies d to req
func (c *Call) Decide(req *FaxRequest, d Decision) {
	req.Fail(d.Status, d.Notice)
	req.Requeue = d.Requeue
}

// ProtocolError ends the attempt with a phase failure. Retries come
// back after the protocol requeue delay.
func (c *Call) ProtocolError(req *FaxRequest, info *machinfo.Info, status SendStatus, emsg string) {
	d := Decision{Status: status, Notice: emsg}
	if status == SendRetry {
		d.Requeue = c.Policy.RequeueProto
	}
	c.Decide(req, CheckLimits(d, c.Attempt(req, info, modem.OK, emsg)))
}

// Dial calls number through the dial rules. It returns false with the
// outcome decided in req when the job was aborted or the call did not
// connect.
func (c *Call) Dial(m modem.Modem, req *FaxRequest, info *machinfo.Info, number string) bool {
	if c.abort.Load() {
		c.Decide(req, DecideCallOutcome(c.Attempt(req, info, modem.OK, ""), c.Policy))
		return false
	}

	dialstring := c.Opts.DialRules.DialString(number)
	c.Logf("DIAL %s", dialstring)
	req.Notice = "Dialing"
	req.TotDials++
	c.Update(req)

	status, emsg := m.Dial(dialstring)
	if status != modem.OK {
		req.NDials++
		info.SetDialFailures(info.DialFailures() + 1)
		if emsg == "" {
			emsg = status.String()
		}
		info.SetLastDialFailure(emsg)
		c.Logf("DIAL: %s", emsg)
		d := DecideCallOutcome(c.Attempt(req, info, status, emsg), c.Policy)
		if d.CalledBefore {
			info.SetCalledBefore(true)
		}
		c.Decide(req, d)
		m.Hangup()
		return false
	}

	c.result.Connected()
	req.NDials = 0
	req.TotTries++
	info.SetDialFailures(0)
	c.Update(req)
	return true
}

// Hangup ends a connected call
func (c *Call) Hangup(what string, m modem.Modem) {
	m.Hangup()
	c.Logf("SEND %s: connected for %s", what, time.Since(c.result.ConnectTs).Round(time.Second))
}
