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

// ServerState is the state of a modem server process
type ServerState int32

const (
	BASE      ServerState = iota // initial state
	RUNNING                      // idle, modem ready
	MODEMWAIT                    // waiting for the modem to settle or recover
	LOCKWAIT                     // waiting for the device lock
	GETTYWAIT                    // an external getty owns the line
	SENDING                      // sending a fax or page
	ANSWERING                    // answering an incoming call
	RECEIVING                    // receiving a fax
	LISTENING                    // counting rings
)

var stateNames = [...]string{
	"BASE", "RUNNING", "MODEMWAIT", "LOCKWAIT", "GETTYWAIT",
	"SENDING", "ANSWERING", "RECEIVING", "LISTENING",
}

func (s ServerState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Active reports whether the state is part of a call. Active states run
// at raised scheduling priority and have no timer armed.
func (s ServerState) Active() bool {
	switch s {
	case SENDING, ANSWERING, RECEIVING, LISTENING:
		return true
	}
	return false
}

// StatusChar returns the letter used for the state in the scheduler's
// modem status messages.
func (s ServerState) StatusChar() byte {
	switch s {
	case RUNNING:
		return 'R'
	case SENDING, ANSWERING, RECEIVING, LISTENING:
		return 'B'
	case GETTYWAIT:
		return 'U'
	}
	return 'D'
}
