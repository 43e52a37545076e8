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
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
)

const (
	logDir        = "log"
	commIDFormat  = "%08d"
	logFileFormat = "c%s"
)

// SessionLogger is a logger that logs messages both to
// the processes log facility and a HylaFax session log file
type SessionLogger interface {
	CommSeq() uint64
	CommID() string
	Logfile() string
	UUID() uuid.UUID

	Log(v ...interface{})
	Logf(format string, v ...interface{})
	Tracef(cat logger.Category, format string, v ...interface{})
}

type hylasessionlog struct {
	jobid   string
	commseq uint64
	commid  string
	uuid    uuid.UUID

	logfile string
	entry   *logrus.Entry
}

// NewSessionLogger assigns a CommID and opens a session log file
func NewSessionLogger(spooldir string, jobid string) (SessionLogger, error) {
	// Fetch commid and log file name
	commseq, err := GetSeqFor(filepath.Join(spooldir, logDir))
	if err != nil {
		return nil, err
	}
	commid := fmt.Sprintf(commIDFormat, commseq)
	logfile := filepath.Join(spooldir, logDir, fmt.Sprintf(logFileFormat, commid))

	l := &hylasessionlog{
		jobid:   jobid,
		commseq: commseq,
		commid:  commid,
		uuid:    uuid.New(),
		logfile: logfile,
	}
	fields := logrus.Fields{"commid": commid, "session": l.uuid.String()}
	if jobid != "" {
		fields["jobid"] = jobid
	}
	l.entry = logger.Logger.WithFields(fields)

	return l, nil
}

func (h *hylasessionlog) Log(v ...interface{}) {
	h.entry.Info(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
	if err := AppendLog(h.logfile, v...); err != nil {
		logger.Logger.Print(err)
	}
}

func (h *hylasessionlog) Logf(format string, v ...interface{}) {
	h.Log(fmt.Sprintf(format, v...))
}

// Tracef logs to the session log only if the category is traced
func (h *hylasessionlog) Tracef(cat logger.Category, format string, v ...interface{}) {
	if !logger.Enabled(cat) {
		return
	}
	msg := fmt.Sprintf(format, v...)
	h.entry.WithField("trace", cat.String()).Debug(msg)
	if err := AppendLog(h.logfile, msg); err != nil {
		logger.Logger.Print(err)
	}
}

func (h *hylasessionlog) CommSeq() uint64 {
	return h.commseq
}

func (h *hylasessionlog) CommID() string {
	return h.commid
}

func (h *hylasessionlog) Logfile() string {
	return h.logfile
}

func (h *hylasessionlog) UUID() uuid.UUID {
	return h.uuid
}
