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

package logger

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
	"go.uber.org/atomic"
)

const (
	LOG_PRIORITY = syslog.LOG_DAEMON | syslog.LOG_INFO
	LOG_TAG      = "gofaxmodem"
)

// Category is one class of session tracing, the equivalent of
// HylaFAX's SessionTracing bits.
type Category uint32

const (
	TraceServer Category = 1 << iota
	TraceProtocol
	TraceModemOps
	TraceModemCom
	TraceModemIO
	TraceStateChange
	TraceTimeout
	TraceModemCap
	TraceQueue
	TraceDialRules
	TraceDestControl
	TraceMachineInfo

	// TraceDefault matches HylaFAX's default SessionTracing of 0xffb
	TraceDefault = TraceServer | TraceProtocol | TraceModemOps | TraceStateChange |
		TraceTimeout | TraceModemCap | TraceQueue | TraceDialRules | TraceDestControl | TraceMachineInfo
)

var categoryNames = map[Category]string{
	TraceServer:      "server",
	TraceProtocol:    "protocol",
	TraceModemOps:    "modem-ops",
	TraceModemCom:    "modem-com",
	TraceModemIO:     "modem-io",
	TraceStateChange: "state",
	TraceTimeout:     "timeout",
	TraceModemCap:    "modem-cap",
	TraceQueue:       "queue",
	TraceDialRules:   "dialrules",
	TraceDestControl: "destctl",
	TraceMachineInfo: "info",
}

func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return fmt.Sprintf("trace-%#x", uint32(c))
}

var (
	Logger *logrus.Logger

	traceMask = atomic.NewUint32(uint32(TraceDefault))
	discard   *logrus.Entry
)

func init() {
	Logger = logrus.New()
	Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: false, FullTimestamp: true})

	d := logrus.New()
	d.SetOutput(io.Discard)
	d.SetLevel(logrus.PanicLevel)
	discard = logrus.NewEntry(d)

	if os.Getenv("CI") != "" {
		// Running in CI
		Logger.SetOutput(os.Stderr)
		return
	}

	if err := EnableSyslog(); err != nil {
		Logger.Warn("syslog unavailable, logging to stderr: ", err)
	}
}

// EnableSyslog adds a syslog hook to the process logger. Console output
// is kept so that foreground runs still show messages.
func EnableSyslog() error {
	hook, err := lsyslog.NewSyslogHook("", "", LOG_PRIORITY, LOG_TAG)
	if err != nil {
		return err
	}
	Logger.AddHook(hook)
	return nil
}

// DisableSyslog removes the syslog hook
func DisableSyslog() {
	Logger.ReplaceHooks(make(logrus.LevelHooks))
}

// SetTraceMask selects the trace categories that are emitted.
func SetTraceMask(mask Category) {
	traceMask.Store(uint32(mask))
}

// ParseTraceMask parses a SessionTracing value (decimal, 0x hex or 0 octal).
func ParseTraceMask(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TraceDefault, nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return Category(v), nil
}

// Enabled reports whether any of the given categories are traced.
func Enabled(cat Category) bool {
	return Category(traceMask.Load())&cat != 0
}

// Trace returns an entry for the given category. Messages logged on it
// are dropped unless the category is enabled.
func Trace(cat Category) *logrus.Entry {
	if !Enabled(cat) {
		return discard
	}
	return Logger.WithField("trace", cat.String())
}
