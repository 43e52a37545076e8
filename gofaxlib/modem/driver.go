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
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/class2"
	"github.com/gonicus/gofaxmodem/gofaxlib/tiff"
)

// CallStatus is the outcome of placing a call. The values index the
// RequeueTTS delay table.
type CallStatus int

const (
	OK         CallStatus = iota // phase A complete
	BUSY                         // busy signal
	NOCARRIER                    // no carrier
	NOANSWER                     // no answer or ring back
	NODIALTONE                   // no local dial tone
	ERROR                        // bad dial command
	FAILURE                      // other problem
	NOFCON                       // carrier but no fax handshake
	DATACONN                     // data carrier, wanted fax
)

var callStatusNames = [...]string{
	"Call successful",
	"Busy signal detected",
	"No carrier detected",
	"No answer from remote",
	"No local dialtone",
	"Invalid dialing command",
	"Unknown problem",
	"Carrier established, but Phase A failure",
	"Data connection established (wanted fax)",
}

func (s CallStatus) String() string {
	if s >= 0 && int(s) < len(callStatusNames) {
		return callStatusNames[s]
	}
	return "Unknown problem"
}

// CallType is what answered an incoming call
type CallType int

const (
	CallError CallType = iota
	CallData
	CallFax
	CallVoice
	CallUnknown
	CallDone // handled entirely by the driver
)

var callTypeNames = [...]string{"error", "data", "fax", "voice", "unknown", "done"}

func (c CallType) String() string {
	if c >= 0 && int(c) < len(callTypeNames) {
		return callTypeNames[c]
	}
	return "unknown"
}

// AnswerType selects how to answer a call
type AnswerType int

const (
	AnswerAny AnswerType = iota
	AnswerFax
	AnswerData
	AnswerVoice
)

// SendStatus is the outcome of a send operation. The values are the
// exit codes expected by the scheduler.
type SendStatus int

const (
	SendRetry    SendStatus = iota // try again later
	SendFailed                     // give up
	SendDone                       // all done
	SendReformat                   // document must be reformatted
	SendOK                         // phase completed, continue
)

var sendStatusNames = [...]string{"retry", "failed", "done", "reformat", "ok"}

func (s SendStatus) String() string {
	if s >= 0 && int(s) < len(sendStatusNames) {
		return sendStatusNames[s]
	}
	return "unknown"
}

// PPM is the post page message following a received page
type PPM int

const (
	PPM_MPS     PPM = 0 // another page follows
	PPM_EOM     PPM = 1 // another document follows
	PPM_EOP     PPM = 2 // no more pages
	PPM_PRI_MPS PPM = 4 // procedure interrupt, MPS
	PPM_PRI_EOM PPM = 5 // procedure interrupt, EOM
	PPM_PRI_EOP PPM = 6 // procedure interrupt, EOP
)

var ppmNames = map[PPM]string{
	PPM_MPS:     "MPS (more pages, same document)",
	PPM_EOM:     "EOM (more documents)",
	PPM_EOP:     "EOP (no more pages or documents)",
	PPM_PRI_MPS: "PRI-MPS (more pages after interrupt)",
	PPM_PRI_EOM: "PRI-EOM (more documents after interrupt)",
	PPM_PRI_EOP: "PRI-EOP (no more pages after interrupt)",
}

func (p PPM) String() string {
	if n, ok := ppmNames[p]; ok {
		return n
	}
	return "unknown PPM"
}

// Interrupt reports whether the remote requested operator intervention
func (p PPM) Interrupt() bool {
	return p == PPM_PRI_MPS || p == PPM_PRI_EOM || p == PPM_PRI_EOP
}

// CallerID carries the caller information reported between rings
type CallerID struct {
	Number string
	Name   string
}

// Modem is the common part of all modem drivers
type Modem interface {
	// Reset puts the modem into a known state
	Reset() bool
	// Dial places a call; the string describes a failure
	Dial(number string) (CallStatus, string)
	// WaitForRings waits for n rings, collecting caller id
	WaitForRings(n int) (CallerID, bool)
	// Answer picks up an incoming call
	Answer(AnswerType) (CallType, string)
	// Hangup ends the current call
	Hangup()
	// Poke checks the modem still responds
	Poke() bool
	// Transport returns the line the driver talks to
	Transport() *Transport
}

// SendHooks is called back by fax drivers while sending pages
type SendHooks interface {
	// SetupPage checks page against the negotiated params, possibly
	// adjusting them
	SetupPage(doc *tiff.File, page int, params *class2.Params) (SendStatus, string)
	// PageSent is called after the remote confirmed a page
	PageSent(page int)
	// Aborted reports a pending abort request
	Aborted() bool
}

// FaxModem is a fax capable modem driver
type FaxModem interface {
	Modem

	// FaxCaps returns the fax capabilities of the modem
	FaxCaps() class2.Caps
	// FaxService configures the modem for fax
	FaxService() bool

	SendBegin() bool
	// GetPrologue receives the remote DIS, returned as the highest
	// params the remote supports, and whether it has a document to poll
	GetPrologue() (dis class2.Params, hasDoc bool, status SendStatus, emsg string)
	// RemoteID returns the CSI or TSI of the remote
	RemoteID() string
	// RemoteNSF returns a description of the remote's NSF frame
	RemoteNSF() string
	SendSetupPhaseB(password, subaddr string) bool
	// SendPhaseB sends pages of doc beginning with first
	SendPhaseB(doc *tiff.File, first int, params class2.Params, pph string, hooks SendHooks) (SendStatus, string)
	SendEnd()

	RequestToPoll() bool
	PollBegin(cig, sep, pwd string) (bool, string)

	RecvBegin() (bool, string)
	// RecvPage receives one page and the post page message following it
	RecvPage() (*tiff.Page, PPM, bool, string)
	// RecvParams returns the params of the last received page
	RecvParams() class2.Params
	RecvSubAddress() string
	RecvEnd() bool
	RecvAbort()
}

// FaxDriverFactory creates a fax driver for a modem class
type FaxDriverFactory func(t *Transport, cfg *gofaxlib.Config) (FaxModem, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]FaxDriverFactory)
)

// RegisterFaxDriver makes a fax driver available under a modem class name
// such as "Class1" or "Class2.0".
func RegisterFaxDriver(class string, f FaxDriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[class] = f
}

// FaxDrivers lists the registered modem classes
func FaxDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	var names []string
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewFaxModem creates the fax driver configured for the modem
func NewFaxModem(t *Transport, cfg *gofaxlib.Config) (FaxModem, error) {
	driversMu.RLock()
	f, ok := drivers[cfg.Modem.ModemClass]
	driversMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("no fax driver for modem class %q", cfg.Modem.ModemClass)
	}
	return f(t, cfg)
}
