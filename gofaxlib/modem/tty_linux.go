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

package modem

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	300:    unix.B300,
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

// TTY is a serial device opened for modem use
type TTY struct {
	*os.File
}

// OpenTTY opens a serial device without making it the controlling
// terminal. The descriptor is non-blocking so reads and writes honour
// deadlines.
func OpenTTY(path string) (*TTY, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: cannot open modem", path)
	}
	return &TTY{File: f}, nil
}

func (t *TTY) control(fn func(fd int) error) error {
	rc, err := t.SyscallConn()
	if err != nil {
		return err
	}
	var ferr error
	if err = rc.Control(func(fd uintptr) { ferr = fn(int(fd)) }); err != nil {
		return err
	}
	return ferr
}

// Configure puts the line into raw mode with the given speed, parity and
// flow control.
func (t *TTY) Configure(ls LineSettings) error {
	speed, ok := baudRates[ls.Speed]
	if !ok {
		return errors.Errorf("%s: unsupported speed %d", t.Name(), ls.Speed)
	}
	return t.control(func(fd int) error {
		tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
		if err != nil {
			return errors.Wrapf(err, "%s: tcgetattr", t.Name())
		}
		tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
			unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY | unix.INPCK
		tio.Iflag |= unix.IGNPAR
		tio.Oflag &^= unix.OPOST
		tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
		tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CRTSCTS | unix.CBAUD
		tio.Cflag |= unix.CREAD | unix.CLOCAL | unix.HUPCL | speed

		switch ls.Parity {
		case ParityNone:
			tio.Cflag |= unix.CS8
		case ParityEven:
			tio.Cflag |= unix.CS7 | unix.PARENB
		case ParityOdd:
			tio.Cflag |= unix.CS7 | unix.PARENB | unix.PARODD
		}
		switch ls.FlowControl {
		case FlowXonXoff:
			tio.Iflag |= unix.IXON | unix.IXOFF
		case FlowRtsCts:
			tio.Cflag |= unix.CRTSCTS
		}
		tio.Ispeed = speed
		tio.Ospeed = speed
		tio.Cc[unix.VMIN] = 1
		tio.Cc[unix.VTIME] = 0

		if err = unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
			return errors.Wrapf(err, "%s: tcsetattr", t.Name())
		}
		return nil
	})
}

// DropDTR lowers DTR. Lines which do not support modem control are hung
// up by setting the speed to zero instead.
func (t *TTY) DropDTR() error {
	return t.control(func(fd int) error {
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCMBIC, unix.TIOCM_DTR); err == nil {
			return nil
		}
		tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
		if err != nil {
			return err
		}
		tio.Cflag &^= unix.CBAUD
		tio.Cflag |= unix.B0
		tio.Ispeed = unix.B0
		tio.Ospeed = unix.B0
		return unix.IoctlSetTermios(fd, unix.TCSETS, tio)
	})
}

// FlushIO discards data queued in both directions
func (t *TTY) FlushIO() error {
	return t.control(func(fd int) error {
		return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)
	})
}

// Fd returns the descriptor for readiness polling
func (t *TTY) Fd() int {
	fd := -1
	t.control(func(f int) error {
		fd = f
		return nil
	})
	return fd
}
