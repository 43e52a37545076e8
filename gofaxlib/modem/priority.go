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
	"golang.org/x/sys/unix"

	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
)

// Nice increment applied while a call is in progress
const activePriorityBoost = 10

// priority raises and restores the scheduling priority of the process
type priority struct {
	base    int
	known   bool
	boosted bool
}

func (p *priority) set(active bool) {
	if active == p.boosted {
		return
	}
	if !p.known {
		// getpriority returns 20-nice on Linux
		v, err := unix.Getpriority(unix.PRIO_PROCESS, 0)
		if err != nil {
			logger.Trace(logger.TraceServer).Debugf("getpriority: %v", err)
			return
		}
		p.base = 20 - v
		p.known = true
	}
	nice := p.base
	if active {
		nice -= activePriorityBoost
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, nice); err != nil {
		// Only root may raise priority
		logger.Trace(logger.TraceServer).Debugf("setpriority %d: %v", nice, err)
		return
	}
	p.boosted = active
}
