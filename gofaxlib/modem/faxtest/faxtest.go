// Package faxtest provides a scriptable fax driver for exercising the
// session engines without a modem.
package faxtest

import (
	"github.com/gonicus/gofaxmodem/gofaxlib/class2"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
	"github.com/gonicus/gofaxmodem/gofaxlib/tiff"
)

// Page is a scripted received page
type Page struct {
	Page *tiff.Page
	PPM  modem.PPM
	Fail string
}

// Fax implements modem.FaxModem from canned answers. New returns a
// driver that answers every call as fax.
type Fax struct {
	Caps class2.Caps

	// Incoming calls
	CallerID modem.CallerID
	NoRings  bool
	CallType modem.CallType
	Answers  int

	// Dial results are consumed in order, the last one repeats
	DialResults []modem.CallStatus
	Dials       []string

	DIS           class2.Params
	HasDoc        bool
	PrologueError string
	CSI           string
	NSF           string

	// SendFunc replaces the default page loop of SendPhaseB
	SendFunc   func(doc *tiff.File, first int, params class2.Params, hooks modem.SendHooks) (modem.SendStatus, string)
	SentPages  int
	SendParams []class2.Params

	PollError string
	Polled    int

	RecvBeginError string
	RecvPages      []Page
	RecvParamsSet  class2.Params
	SubAddress     string
	RecvAborted    bool

	// RecvHook runs before each scripted page is returned
	RecvHook func(n int)
	received int

	Hangups int
}

// New returns a fax driver with full capabilities
func New() *Fax {
	return &Fax{
		Caps:     class2.AllCaps(),
		DIS:      class2.Params{VR: class2.VR_FINE, BR: class2.BR_14400, WD: class2.WD_1728, LN: class2.LN_UNLIMITED, DF: class2.DF_2DMR, ST: class2.ST_0MS},
		CSI:      "+1 555 0100",
		CallType: modem.CallFax,
	}
}

func (f *Fax) Reset() bool { return true }

func (f *Fax) Dial(number string) (modem.CallStatus, string) {
	f.Dials = append(f.Dials, number)
	status := modem.OK
	if n := len(f.DialResults); n > 0 {
		i := len(f.Dials) - 1
		if i >= n {
			i = n - 1
		}
		status = f.DialResults[i]
	}
	if status == modem.OK {
		return status, ""
	}
	return status, status.String()
}

func (f *Fax) WaitForRings(n int) (modem.CallerID, bool) { return f.CallerID, !f.NoRings }

func (f *Fax) Answer(modem.AnswerType) (modem.CallType, string) {
	f.Answers++
	if f.CallType == modem.CallError {
		return f.CallType, "Answer timeout"
	}
	return f.CallType, ""
}

func (f *Fax) Hangup() { f.Hangups++ }

func (f *Fax) Poke() bool { return true }

func (f *Fax) Transport() *modem.Transport { return nil }

func (f *Fax) FaxCaps() class2.Caps { return f.Caps }

func (f *Fax) FaxService() bool { return true }

func (f *Fax) SendBegin() bool { return true }

func (f *Fax) GetPrologue() (class2.Params, bool, modem.SendStatus, string) {
	if f.PrologueError != "" {
		return class2.Params{}, false, modem.SendRetry, f.PrologueError
	}
	return f.DIS, f.HasDoc, modem.SendOK, ""
}

func (f *Fax) RemoteID() string { return f.CSI }

func (f *Fax) RemoteNSF() string { return f.NSF }

func (f *Fax) SendSetupPhaseB(password, subaddr string) bool { return true }

// SendPhaseB runs the page hooks for every page from first on
func (f *Fax) SendPhaseB(doc *tiff.File, first int, params class2.Params, pph string, hooks modem.SendHooks) (modem.SendStatus, string) {
	if f.SendFunc != nil {
		return f.SendFunc(doc, first, params, hooks)
	}
	for p := first; p < doc.NumDirectories(); p++ {
		if hooks.Aborted() {
			return modem.SendFailed, "Job aborted by user"
		}
		if status, emsg := hooks.SetupPage(doc, p, &params); status != modem.SendOK {
			return status, emsg
		}
		f.SendParams = append(f.SendParams, params)
		f.SentPages++
		hooks.PageSent(p)
	}
	return modem.SendOK, ""
}

func (f *Fax) SendEnd() {}

func (f *Fax) RequestToPoll() bool { return true }

func (f *Fax) PollBegin(cig, sep, pwd string) (bool, string) {
	if f.PollError != "" {
		return false, f.PollError
	}
	f.Polled++
	return true, ""
}

func (f *Fax) RecvBegin() (bool, string) {
	if f.RecvBeginError != "" {
		return false, f.RecvBeginError
	}
	return true, ""
}

// RecvPage returns the next scripted page
func (f *Fax) RecvPage() (*tiff.Page, modem.PPM, bool, string) {
	if len(f.RecvPages) == 0 {
		return nil, modem.PPM_EOP, false, "No more pages"
	}
	p := f.RecvPages[0]
	f.RecvPages = f.RecvPages[1:]
	f.received++
	if f.RecvHook != nil {
		f.RecvHook(f.received)
	}
	if p.Fail != "" {
		return nil, p.PPM, false, p.Fail
	}
	return p.Page, p.PPM, true, ""
}

func (f *Fax) RecvParams() class2.Params { return f.RecvParamsSet }

func (f *Fax) RecvSubAddress() string { return f.SubAddress }

func (f *Fax) RecvEnd() bool { return true }

func (f *Fax) RecvAbort() { f.RecvAborted = true }

// BlankPage returns a small page for scripted receives
func BlankPage(ppm modem.PPM) Page {
	return Page{
		Page: &tiff.Page{
			Width:       1728,
			Length:      16,
			Compression: tiff.CompressionCCITTFAX3,
			YResolution: 98,
			Data:        make([]byte, 64),
		},
		PPM: ppm,
	}
}

var _ modem.FaxModem = (*Fax)(nil)
