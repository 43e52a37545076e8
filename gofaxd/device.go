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

package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
)

const (
	fifoPrefix = "FIFO."
	statusDir  = "status"
)

var statusText = map[modem.ServerState]string{
	modem.BASE:      "Down",
	modem.RUNNING:   "Running and idle",
	modem.MODEMWAIT: "Waiting for modem to come ready",
	modem.LOCKWAIT:  "Waiting for modem to come free",
	modem.GETTYWAIT: "Waiting for login session to terminate",
	modem.SENDING:   "Sending facsimile",
	modem.ANSWERING: "Answering the phone",
	modem.RECEIVING: "Receiving facsimile",
	modem.LISTENING: "Listening to rings from modem",
}

// Device is the spool side of a modem: the FIFO the scheduler and
// the send programs write to and the status file read by clients.
type Device struct {
	Name       string
	fifoname   string
	statusfile string
	fifostream gofaxlib.FifoStream
}

// NewDevice creates the FIFO for the modem and starts reading it
func NewDevice(cfg *gofaxlib.Config, name string) (*Device, error) {
	d := &Device{
		Name:       name,
		fifoname:   cfg.SpoolPath(fifoPrefix + name),
		statusfile: cfg.SpoolPath(filepath.Join(statusDir, name)),
	}

	// Create device FIFO
	stat, err := os.Stat(d.fifoname)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err = unix.Mkfifo(d.fifoname, 0600); err != nil {
			return nil, errors.Wrapf(err, "cannot create %s", d.fifoname)
		}
	} else if stat.Mode()&os.ModeNamedPipe == 0 {
		return nil, errors.Errorf("%s exists and is not a FIFO", d.fifoname)
	}

	if err = os.MkdirAll(filepath.Dir(d.statusfile), 0755); err != nil {
		return nil, err
	}

	d.fifostream = gofaxlib.NewFifoStream(d.fifoname)
	return d, nil
}

// Messages returns the messages written to the modem FIFO
func (d *Device) Messages() <-chan string {
	return d.fifostream.Messages()
}

// Errors returns the error reading the FIFO, after which no more
// messages arrive
func (d *Device) Errors() <-chan error {
	return d.fifostream.Errors()
}

// WriteStatusFile writes given string to HylaFax's modem status file
func (d *Device) WriteStatusFile(msg string) {
	sfh, err := os.OpenFile(d.statusfile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		logger.Logger.Print(err)
		return
	}

	if err = unix.Flock(int(sfh.Fd()), unix.LOCK_EX); err != nil {
		sfh.Close()
		logger.Logger.Print(err)
		return
	}

	// Truncate after acquiring lock!
	sfh.Truncate(0)

	if _, err := sfh.WriteString(msg); err != nil {
		sfh.Close()
		logger.Logger.Print(err)
		return
	}

	if err = sfh.Close(); err != nil {
		logger.Logger.Print(err)
	}
}

// SetState writes the status line describing st
func (d *Device) SetState(st modem.ServerState) {
	msg, ok := statusText[st]
	if !ok {
		msg = st.String()
	}
	d.WriteStatusFile(msg)
}
