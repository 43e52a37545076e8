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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/gcfg.v1"

	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
)

// Config holds all settings of one modem server process
type Config struct {
	Hylafax struct {
		Spooldir   string
		Xferfaxlog string
		FaxqFifo   string
	}
	Modem struct {
		Device            string
		DeviceID          string
		ModemClass        string
		Speed             int
		Parity            string
		FlowControl       string
		LockDir           string
		LockTimeout       int
		LockDataFormat    string
		PollModemWait     int
		PollLockWait      int
		MaxSetupAttempts  int
		ChangePriority    bool
		ResetCmds         string
		DialCmd           string
		AnswerCmd         string
		HangupCmd         string
		DialTimeout       int
		AnswerTimeout     int
		RingsBeforeAnswer int
	}
	Send struct {
		MaxDials         int
		MaxTries         int
		NoCarrierRetries int
		RequeueTTS       string
		RequeueProto     int
		DialRules        string
		DestControls     string
		InfoDir          string
		InfoCacheTTL     int
		DynamicConfig    string
		LocalIdentifier  string
		CallPrefix       string
		FaxNumber        string
	}
	Recv struct {
		RecvDir       string
		RecvFileMode  string
		MaxRecvPages  int
		QualifyTSI    string
		QualifyCID    string
		DynamicConfig string
		FaxRcvdCmd    string
		GettyCmd      string
		VGettyCmd     string
		MetricsListen string
	}
	Page struct {
		IXOIDPrompt         int
		IXOMaxLoginAttempts int
		IXOXmitRetries      int
		IXOXmitTimeout      int
		IXOAckTimeout       int
		UCPOriginator       string
		DefaultMaxMsgLength int
	}
	Trace struct {
		SessionTracing string
		Syslog         bool
	}
}

// DefaultConfig returns a configuration populated with the
// HylaFAX defaults for all settings.
func DefaultConfig() *Config {
	c := new(Config)
	c.Hylafax.Spooldir = "/var/spool/hylafax"
	c.Hylafax.FaxqFifo = "FIFO"
	c.Modem.Speed = 19200
	c.Modem.Parity = "none"
	c.Modem.FlowControl = "rtscts"
	c.Modem.LockDir = "/var/lock"
	c.Modem.LockTimeout = 0
	c.Modem.LockDataFormat = "ascii"
	c.Modem.PollModemWait = 30
	c.Modem.PollLockWait = 30
	c.Modem.MaxSetupAttempts = 2
	c.Modem.ChangePriority = true
	c.Modem.ResetCmds = "ATZ"
	c.Modem.DialCmd = "ATDT%s"
	c.Modem.AnswerCmd = "ATA"
	c.Modem.HangupCmd = "ATH0"
	c.Modem.DialTimeout = 180
	c.Modem.AnswerTimeout = 60
	c.Modem.RingsBeforeAnswer = 1
	c.Send.MaxDials = 12
	c.Send.MaxTries = 3
	c.Send.NoCarrierRetries = 1
	c.Send.RequeueTTS = "0 180 300 300 120 300 300 300 300"
	c.Send.RequeueProto = 60
	c.Send.DialRules = "etc/dialrules"
	c.Send.DestControls = "etc/destctrls"
	c.Send.InfoDir = "info"
	c.Send.InfoCacheTTL = 300
	c.Recv.RecvDir = "recvq"
	c.Recv.RecvFileMode = "0600"
	c.Recv.MaxRecvPages = 25
	c.Recv.FaxRcvdCmd = "bin/faxrcvd"
	c.Page.IXOIDPrompt = 2
	c.Page.IXOMaxLoginAttempts = 3
	c.Page.IXOXmitRetries = 3
	c.Page.IXOXmitTimeout = 60
	c.Page.IXOAckTimeout = 30
	c.Page.DefaultMaxMsgLength = 128
	c.Trace.SessionTracing = "0xffb"
	c.Trace.Syslog = true
	return c
}

// LoadConfig loads the configuration from given file path on top of
// the defaults and applies the logging settings.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig()
	if err := gcfg.ReadFileInto(c, filename); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	if err := c.apply(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) apply() error {
	mask, err := logger.ParseTraceMask(c.Trace.SessionTracing)
	if err != nil {
		return errors.Wrapf(err, "config: bad SessionTracing %q", c.Trace.SessionTracing)
	}
	logger.SetTraceMask(mask)
	if !c.Trace.Syslog {
		logger.DisableSyslog()
	}
	return nil
}

// Set applies a single "section.key:value" parameter, as pushed by the
// scheduler through the modem FIFO.
func (c *Config) Set(tag string, value string) error {
	parts := strings.SplitN(tag, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return errors.Errorf("config: malformed parameter name %q", tag)
	}
	frag := fmt.Sprintf("[%s]\n%s = %s\n", parts[0], parts[1], strconv.Quote(value))
	if err := gcfg.ReadStringInto(c, frag); err != nil {
		return errors.Wrapf(err, "config: cannot set %s", tag)
	}
	logger.Trace(logger.TraceServer).Infof("Config: %s = %q", tag, value)
	return c.apply()
}

// Seconds converts an integer setting to a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// FileMode parses an octal file mode setting, falling back to def.
func FileMode(s string, def os.FileMode) os.FileMode {
	if v, err := strconv.ParseUint(s, 8, 32); err == nil {
		return os.FileMode(v)
	}
	return def
}

// RequeueDelays parses the RequeueTTS setting, a list of seconds
// indexed by call status.
func (c *Config) RequeueDelays() []time.Duration {
	var d []time.Duration
	for _, f := range strings.Fields(c.Send.RequeueTTS) {
		n, err := strconv.Atoi(f)
		if err != nil {
			logger.Logger.Warnf("Config: ignoring bad RequeueTTS value %q", f)
			n = 0
		}
		d = append(d, Seconds(n))
	}
	return d
}

// SpoolPath resolves a path setting relative to the spool directory
func (c *Config) SpoolPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Hylafax.Spooldir, p)
}
