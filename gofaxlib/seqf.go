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
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	seqFileName = "seqf"

	// MaxSeqNum is the largest sequence number before wrapping back to 1
	MaxSeqNum = 999999999

	// Number of candidate names tried before giving up
	maxSeqAttempts = 1000
)

// SeqFile is a HylaFAX style sequence number file. All read-modify-write
// cycles happen under an exclusive flock so that sibling processes never
// hand out the same number.
type SeqFile struct {
	Path string
	Max  uint64
}

// NewSeqFile returns the sequence file of the given spool directory
func NewSeqFile(dir string) *SeqFile {
	return &SeqFile{
		Path: filepath.Join(dir, seqFileName),
		Max:  MaxSeqNum,
	}
}

// GetSeqFor increments and returns the sequence number for given spool area
func GetSeqFor(dir string) (uint64, error) {
	return NewSeqFile(dir).Next()
}

func (s *SeqFile) next(seq uint64) uint64 {
	max := s.Max
	if max == 0 {
		max = MaxSeqNum
	}
	seq++
	if seq > max {
		seq = 1
	}
	return seq
}

func (s *SeqFile) open() (*os.File, uint64, error) {
	f, err := os.OpenFile(s.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, 0, err
	}
	if err = unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, 0, errors.Wrapf(err, "%s: flock", s.Path)
	}
	var seq uint64
	if _, err = fmt.Fscan(f, &seq); err != nil && err != io.EOF {
		f.Close()
		return nil, 0, errors.Wrapf(err, "%s: bad sequence number", s.Path)
	}
	return f, seq, nil
}

func (s *SeqFile) store(f *os.File, seq uint64) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "%d\n", seq)
	return err
}

// Next increments the sequence number and returns the new value
func (s *SeqFile) Next() (uint64, error) {
	f, seq, err := s.open()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	seq = s.next(seq)
	if err = s.store(f, seq); err != nil {
		return 0, errors.Wrapf(err, "%s: update", s.Path)
	}
	return seq, nil
}

// Alloc creates a new file named after the next unused sequence number.
// The format gets the sequence number as its only argument and is
// relative to the directory of the sequence file. The returned file is
// locked exclusively.
func (s *SeqFile) Alloc(format string, mode os.FileMode) (*os.File, string, error) {
	f, seq, err := s.open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	dir := filepath.Dir(s.Path)
	for i := 0; i < maxSeqAttempts; i++ {
		seq = s.next(seq)
		name := filepath.Join(dir, fmt.Sprintf(format, seq))
		nf, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, mode)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, "", errors.Wrapf(err, "cannot create %s", name)
		}
		if err = unix.Flock(int(nf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			nf.Close()
			os.Remove(name)
			return nil, "", errors.Wrapf(err, "%s: flock", name)
		}
		if err = s.store(f, seq); err != nil {
			nf.Close()
			os.Remove(name)
			return nil, "", errors.Wrapf(err, "%s: update", s.Path)
		}
		return nf, name, nil
	}
	return nil, "", errors.Errorf("failed to find unused filename after %d attempts", maxSeqAttempts)
}
