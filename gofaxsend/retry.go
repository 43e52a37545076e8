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
	"time"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
)

const (
	msgAborted     = "Job aborted by user"
	msgTooManyDial = "too many attempts to dial"
	msgTooManySend = "too many attempts to send"
)

// RetryPolicy holds the server settings consulted after a call attempt
type RetryPolicy struct {
	NoCarrierRetries int
	// RequeueTTS is indexed by call status
	RequeueTTS   []time.Duration
	RequeueProto time.Duration
}

// RetryPolicyFor returns the retry policy configured in cfg
func RetryPolicyFor(cfg *gofaxlib.Config) RetryPolicy {
	return RetryPolicy{
		NoCarrierRetries: cfg.Send.NoCarrierRetries,
		RequeueTTS:       cfg.RequeueDelays(),
		RequeueProto:     gofaxlib.Seconds(cfg.Send.RequeueProto),
	}
}

// Requeue returns the default delay after a call ended with status
func (p RetryPolicy) Requeue(status modem.CallStatus) time.Duration {
	if int(status) >= 0 && int(status) < len(p.RequeueTTS) {
		return p.RequeueTTS[status]
	}
	return 0
}

// CallAttempt is everything the outcome of a dial depends on
type CallAttempt struct {
	Status  modem.CallStatus
	Message string
	Aborted bool

	// CalledBefore is set when the number answered before
	CalledBefore bool
	// RetryTime is an explicit delay requested by the job
	RetryTime time.Duration

	NDials   int
	TotDials int
	MaxDials int
	TotTries int
	MaxTries int
}

// Decision is the outcome of a call attempt
type Decision struct {
	Status  SendStatus
	Notice  string
	Requeue time.Duration
	// CalledBefore asks to remember that something answered the number
	CalledBefore bool
}

// DecideCallOutcome applies the retry table to a finished dial. A
// connected call yields SendOK and the session continues.
func DecideCallOutcome(a CallAttempt, p RetryPolicy) Decision {
	if a.Aborted {
		return Decision{Status: SendFailed, Notice: msgAborted}
	}
	notice := a.Message
	if notice == "" {
		notice = a.Status.String()
	}
	retry := func() time.Duration {
		if a.RetryTime > 0 {
			return a.RetryTime
		}
		return p.Requeue(a.Status)
	}

	var d Decision
	switch a.Status {
	case modem.OK:
		return Decision{Status: SendOK}
	case modem.NOCARRIER:
		if !a.CalledBefore && a.NDials > p.NoCarrierRetries {
			return Decision{Status: SendFailed, Notice: notice}
		}
		d = Decision{Status: SendRetry, Notice: notice, Requeue: retry()}
	case modem.NODIALTONE, modem.ERROR, modem.FAILURE:
		d = Decision{Status: SendRetry, Notice: notice, Requeue: retry()}
	case modem.NOFCON, modem.DATACONN:
		// Something answered, which counts as having called before
		d.CalledBefore = true
		fallthrough
	case modem.BUSY, modem.NOANSWER:
		d.Status = SendRetry
		d.Notice = notice
		d.Requeue = retry()
	default:
		d = Decision{Status: SendRetry, Notice: notice, Requeue: retry()}
	}
	return CheckLimits(d, a)
}

// CheckLimits fails a retry once the job ran out of dials or tries
func CheckLimits(d Decision, a CallAttempt) Decision {
	if d.Status != SendRetry {
		return d
	}
	switch {
	case a.MaxDials > 0 && a.TotDials >= a.MaxDials:
		d.Status = SendFailed
		d.Notice = appendNotice(d.Notice, msgTooManyDial)
	case a.MaxTries > 0 && a.TotTries >= a.MaxTries:
		d.Status = SendFailed
		d.Notice = appendNotice(d.Notice, msgTooManySend)
	}
	return d
}

func appendNotice(notice string, msg string) string {
	if notice == "" {
		return msg
	}
	return notice + "; " + msg
}
