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
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// NewQfileMode is the default access mode for created queue files
	NewQfileMode = 0660
)

// ErrTagNotFound is returned when looking up a missing queue file tag
var ErrTagNotFound = errors.New("tag not found")

// Qfiler is the read-modify-write access to a job's queue file
type Qfiler interface {
	Write() error
	GetAll(tag string) []string
	GetString(tag string) string
	GetInt(tag string) (int, error)
	Set(tag string, value string)
	SetAll(tag string, values []string)
	Add(tag string, value string)
}

type param struct {
	Tag   string
	Value string
}

// Qfile is a HylaFAX queue file
type Qfile struct {
	filename string
	qfh      *os.File
	params   []param
}

// OpenQfile opens and parses a HylaFAX queue file. The file stays
// locked until it is closed.
func OpenQfile(filename string) (*Qfile, error) {
	qfh, err := os.OpenFile(filename, os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}

	q := &Qfile{
		filename: filename,
		qfh:      qfh,
	}

	// Lock queue file using flock (like Hylafax)
	if err = unix.Flock(int(qfh.Fd()), unix.LOCK_EX); err != nil {
		qfh.Close()
		return nil, errors.Wrapf(err, "%s: lock", filename)
	}

	line := 1
	scanner := bufio.NewScanner(qfh)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 2)
		if len(parts) != 2 {
			qfh.Close()
			return nil, fmt.Errorf("%s: Error parsing line %d", filename, line)
		}
		q.params = append(q.params, param{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])})
		line++
	}
	if err = scanner.Err(); err != nil {
		qfh.Close()
		return nil, err
	}

	return q, nil
}

// Filename returns the path of the queue file
func (q *Qfile) Filename() string {
	return q.filename
}

// Close closes an open queue file
func (q *Qfile) Close() error {
	return q.qfh.Close()
}

// Write re-writes an opened queue file
func (q *Qfile) Write() error {
	var err error

	if _, err = q.qfh.Seek(0, 0); err != nil {
		return err
	}

	var bytes int64
	for _, param := range q.params {
		n, err := fmt.Fprintf(q.qfh, "%s:%s\n", param.Tag, param.Value)
		if err != nil {
			return err
		}
		bytes += int64(n)
	}

	if err = q.qfh.Truncate(bytes); err != nil {
		return err
	}

	return q.qfh.Sync()
}

// GetAll returns a slice containting all values for
// given tag.
func (q *Qfile) GetAll(tag string) []string {
	var result []string
	for _, param := range q.params {
		if param.Tag == tag {
			result = append(result, param.Value)
		}
	}
	return result
}

// GetString returns the value of the first parameter with given tag as string.
func (q *Qfile) GetString(tag string) string {
	for _, param := range q.params {
		if param.Tag == tag {
			return param.Value
		}
	}
	return ""
}

// GetInt looks up the value of the first parameter with given tag
// and returns the parsed value as int.
func (q *Qfile) GetInt(tag string) (int, error) {
	if str := q.GetString(tag); str != "" {
		return strconv.Atoi(str)
	}
	return 0, ErrTagNotFound
}

// Set replaces the value of the first found param
// with given value.
// If the param does not exist, it is appended.
func (q *Qfile) Set(tag string, value string) {
	for i, param := range q.params {
		if param.Tag == tag {
			q.params[i].Value = value
			return
		}
	}
	q.Add(tag, value)
}

// SetAll replaces all params with given tag. The new values take the
// place of the first old one.
func (q *Qfile) SetAll(tag string, values []string) {
	pos := -1
	kept := q.params[:0]
	for _, param := range q.params {
		if param.Tag == tag {
			if pos < 0 {
				pos = len(kept)
			}
			continue
		}
		kept = append(kept, param)
	}
	if pos < 0 {
		pos = len(kept)
	}
	var repl []param
	for _, v := range values {
		repl = append(repl, param{tag, v})
	}
	q.params = append(kept[:pos:pos], append(repl, kept[pos:]...)...)
}

// Add adds a param with given tag and value. If the
// tag already exists, a second one is added.
func (q *Qfile) Add(tag string, value string) {
	q.params = append(q.params, param{tag, value})
}
