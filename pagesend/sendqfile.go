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

	"github.com/pkg/errors"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
	"github.com/gonicus/gofaxmodem/gofaxsend"
)

// SendQfile locks and sends the pager job in queue file qfilename
func SendQfile(s *gofaxsend.Sender, qfilename string) (gofaxsend.SendStatus, error) {
	qf, err := gofaxsend.OpenQfile(qfilename)
	if err != nil {
		return gofaxsend.SendFailed, errors.Wrapf(err, "Cannot open qfile %v", qfilename)
	}
	defer qf.Close()
	return SendJob(s, qf)
}

// SendJob sends the pager job read from qf and writes the outcome back.
// The number of the job is the one of the paging central.
func SendJob(s *gofaxsend.Sender, qf gofaxsend.Qfiler) (gofaxsend.SendStatus, error) {
	req, err := gofaxsend.LoadRequest(qf)
	if err != nil {
		return gofaxsend.SendFailed, err
	}
	for _, op := range []string{gofaxsend.OpFax, gofaxsend.OpPoll} {
		if items := req.Pending(op); len(items) > 0 {
			return gofaxsend.SendFailed, gofaxsend.NewFaxError(fmt.Sprintf("Job %s: %s request %s in pager job", req.Jobid, op, items[0].Item), false)
		}
	}
	if !req.HasPending(gofaxsend.OpPage) {
		req.Fail(gofaxsend.SendDone, "")
		s.Finish(qf, req, nil)
		return req.Status, nil
	}

	job := s.Prepare(req)
	if job == nil {
		logger.Logger.Infof("Job %s: %s: %s", req.Jobid, req.Status, req.Notice)
		s.Finish(qf, req, nil)
		return req.Status, nil
	}

	info := s.Info.Get(job.Canon)
	defer s.Info.Release(info)

	ps := NewPageServer(job.Config, s.NewServer(job), Options{
		Faxq:      s.Faxq,
		DialRules: s.DialRules,
		Update: func(r *gofaxsend.FaxRequest) {
			if err := r.Save(qf); err != nil {
				logger.Logger.Warnf("Job %s: error updating qfile: %v", r.Jobid, err)
			}
		},
	})
	s.SetCurrent(ps)
	defer s.SetCurrent(nil)
	ps.SendPage(req, info, job.Number)

	rec := &gofaxlib.XFRecord{Verb: gofaxlib.VerbPage}
	rec.SetResult(ps.Result())
	s.Finish(qf, req, rec)
	return req.Status, nil
}
