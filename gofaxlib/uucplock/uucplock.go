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

// Package uucplock implements UUCP style device lock files shared with
// other programs driving the same serial line (getty, cu, pppd and the
// sibling fax processes).
package uucplock

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
)

// Options controls lock file encoding and stale lock handling
type Options struct {
	// Binary writes the PID as a native 4 byte integer instead of ASCII
	Binary bool
	// Timeout is the minimum age of a lock file before it is considered
	// for removal. A lock is only reclaimed if its owner is also gone.
	// Zero disables reclaiming.
	Timeout time.Duration
	// Mode of the lock file, 0444 if zero
	Mode os.FileMode
}

// Lock is a lock on one device
type Lock struct {
	file   string
	opts   Options
	locked bool
}

// New returns a lock for the device, which may be given with or without
// its /dev prefix.
func New(dir string, device string, opts Options) *Lock {
	if opts.Mode == 0 {
		opts.Mode = 0444
	}
	return &Lock{
		file: filepath.Join(dir, "LCK.."+filepath.Base(device)),
		opts: opts,
	}
}

// File returns the path of the lock file
func (l *Lock) File() string {
	return l.file
}

// IsLocked reports whether this process holds the lock
func (l *Lock) IsLocked() bool {
	return l.locked
}

func (l *Lock) encode(pid int) []byte {
	if l.opts.Binary {
		b := make([]byte, 4)
		binary.NativeEndian.PutUint32(b, uint32(pid))
		return b
	}
	return []byte(fmt.Sprintf("%10d\n", pid))
}

func (l *Lock) decode(data []byte) (int, error) {
	if l.opts.Binary {
		if len(data) != 4 {
			return 0, errors.Errorf("%s: bad binary lock data", l.file)
		}
		return int(int32(binary.NativeEndian.Uint32(data))), nil
	}
	pid, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil {
		return 0, errors.Wrapf(err, "%s: bad lock data", l.file)
	}
	return pid, nil
}

// writeTemp writes pid into a new temporary file next to the lock file
func (l *Lock) writeTemp(pid int) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(l.file), "TM.")
	if err != nil {
		return "", errors.Wrap(err, "cannot create temporary lock file")
	}
	name := f.Name()
	_, err = f.Write(l.encode(pid))
	if err == nil {
		err = f.Chmod(l.opts.Mode)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
		return "", errors.Wrapf(err, "%s: write", name)
	}
	return name, nil
}

func (l *Lock) create() (bool, error) {
	tmp, err := l.writeTemp(os.Getpid())
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp)
	if err = os.Link(tmp, l.file); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "%s: link", l.file)
	}
	return true, nil
}

// Lock tries to acquire the lock without blocking. A stale lock is
// purged and the acquisition retried once.
func (l *Lock) Lock() bool {
	if l.locked {
		return true
	}
	ok, err := l.create()
	if err == nil && !ok && l.purgeStale() {
		ok, err = l.create()
	}
	if err != nil {
		logger.Logger.Warnf("UUCP lock: %v", err)
		return false
	}
	l.locked = ok
	if ok {
		logger.Trace(logger.TraceModemOps).Debugf("UUCP lock %s acquired", l.file)
	}
	return ok
}

// Unlock removes the lock file if this process holds the lock
func (l *Lock) Unlock() {
	if !l.locked {
		return
	}
	if err := os.Remove(l.file); err != nil && !os.IsNotExist(err) {
		logger.Logger.Warnf("UUCP lock: cannot remove %s: %v", l.file, err)
	}
	l.locked = false
}

// SetOwner hands the lock to another process, e.g. a getty started to
// service a data call. A pid of 0 takes the lock back.
func (l *Lock) SetOwner(pid int) bool {
	if !l.locked {
		return false
	}
	if pid == 0 {
		pid = os.Getpid()
	}
	tmp, err := l.writeTemp(pid)
	if err != nil {
		logger.Logger.Warnf("UUCP lock: %v", err)
		return false
	}
	if err = os.Rename(tmp, l.file); err != nil {
		os.Remove(tmp)
		logger.Logger.Warnf("UUCP lock: cannot update owner of %s: %v", l.file, err)
		return false
	}
	return true
}

func (l *Lock) readOwner() (int, error) {
	data, err := os.ReadFile(l.file)
	if err != nil {
		return 0, err
	}
	return l.decode(data)
}

// OwnerExists reports whether the process named in the lock file is alive
func (l *Lock) OwnerExists() bool {
	pid, err := l.readOwner()
	if err != nil {
		return false
	}
	return alive(pid)
}

// Check reports whether the device is available, purging a stale lock
// held by somebody else.
func (l *Lock) Check() bool {
	if l.locked {
		return true
	}
	if _, err := os.Stat(l.file); os.IsNotExist(err) {
		return true
	}
	return l.purgeStale()
}

// purgeStale removes the lock file if it is older than the timeout and
// its owner is gone.
func (l *Lock) purgeStale() bool {
	if l.opts.Timeout <= 0 {
		return false
	}
	st, err := os.Stat(l.file)
	if err != nil {
		return os.IsNotExist(err)
	}
	if time.Since(st.ModTime()) < l.opts.Timeout {
		return false
	}
	pid, err := l.readOwner()
	if err != nil {
		// Unreadable contents of an old lock: nobody can claim it
		logger.Logger.Warnf("UUCP lock: %v", err)
		pid = 0
	}
	if alive(pid) {
		return false
	}
	logger.Logger.Infof("Purge stale UUCP lock %s (pid %d)", l.file, pid)
	if err = os.Remove(l.file); err != nil && !os.IsNotExist(err) {
		logger.Logger.Warnf("UUCP lock: cannot remove %s: %v", l.file, err)
		return false
	}
	return true
}

// alive checks pid with the null signal
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
