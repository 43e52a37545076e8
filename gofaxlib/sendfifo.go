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
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrNoFifoReader is returned when nobody has the FIFO open for reading
var ErrNoFifoReader = errors.New("no process is reading the FIFO")

// SendFIFO sends a FIFO message to given FIFO file name. The open never
// blocks: if the reading process is gone ErrNoFifoReader is returned.
func SendFIFO(filename string, msg string) error {
	fifo, err := os.OpenFile(filename, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return errors.Wrap(ErrNoFifoReader, filename)
		}
		return err
	}
	defer fifo.Close()

	_, err = fifo.WriteString(msg + "\x00")
	if err != nil {
		return errors.Wrapf(err, "%s: write", filename)
	}
	return nil
}
