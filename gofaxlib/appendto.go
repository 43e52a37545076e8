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
	"time"

	"golang.org/x/sys/unix"
)

const (
	appendLogLayout = "Jan 02 15:04:05.000"
)

// AppendTo appends a line to the given file while holding an exclusive
// advisory lock, so concurrent writers never interleave records.
func AppendTo(filename string, line string) (err error) {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	if err = unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return
	}

	_, err = f.WriteString(line + "\n")
	return
}

// AppendLog appends a timestamped log message to a session log file
func AppendLog(filename string, v ...interface{}) error {
	msg := fmt.Sprintln(v...)
	return AppendTo(filename, time.Now().Format(appendLogLayout)+": "+msg[:len(msg)-1])
}
