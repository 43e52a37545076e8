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

package main

import (
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/atomic"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/faxrecv"
	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
	"github.com/gonicus/gofaxmodem/gofaxlib/reactor"
)

// GettyOptions ties a Getty to its surroundings
type GettyOptions struct {
	Reactor *reactor.Dispatcher
	Faxq    *gofaxlib.Faxq
	Device  *Device
	Metrics *Metrics
	// Modem overrides how the line is opened and driven
	Modem modem.ServerOptions
	// Command creates external commands, exec.Command if nil
	Command func(name string, arg ...string) *exec.Cmd
	// OnQuit is called when the scheduler asks the server to exit
	OnQuit func()
}

// Getty serves one modem: it keeps the modem ready while idle, answers
// incoming calls, receives faxes and hands data and voice calls to an
// external program. All methods except HandleMessage run on the
// reactor goroutine.
type Getty struct {
	cfg  *gofaxlib.Config
	srv  *modem.Server
	d    *reactor.Dispatcher
	opts GettyOptions

	qualifyTSI *faxrecv.Qualifier
	qualifyCID *faxrecv.Qualifier

	receiver    atomic.Pointer[faxrecv.Receiver]
	cancelWatch func()
}

type fdPort interface {
	Fd() int
}

// NewGetty creates the server for the configured modem
func NewGetty(cfg *gofaxlib.Config, opts GettyOptions) *Getty {
	if opts.Command == nil {
		opts.Command = exec.Command
	}
	g := &Getty{
		cfg:  cfg,
		d:    opts.Reactor,
		opts: opts,
	}
	sopts := opts.Modem
	sopts.Reactor = opts.Reactor
	sopts.Faxq = opts.Faxq
	sopts.OnStateChange = g.stateChanged
	sopts.OnWedged = g.wedged
	sopts.OnPoke = g.poking
	g.srv = modem.NewServer(cfg, sopts)
	g.loadQualifiers()
	return g
}

func (g *Getty) loadQualifiers() {
	g.qualifyTSI, g.qualifyCID = nil, nil
	if f := g.cfg.Recv.QualifyTSI; f != "" {
		g.qualifyTSI = faxrecv.NewQualifier(g.cfg.SpoolPath(f))
	}
	if f := g.cfg.Recv.QualifyCID; f != "" {
		g.qualifyCID = faxrecv.NewQualifier(g.cfg.SpoolPath(f))
	}
}

// Server returns the modem server
func (g *Getty) Server() *modem.Server {
	return g.srv
}

// Start brings up the modem
func (g *Getty) Start() {
	logger.Logger.Infof("Starting modem server on %s", g.cfg.Modem.Device)
	g.srv.Start()
}

// Close releases the modem and reports it down. The reactor must no
// longer be running.
func (g *Getty) Close() {
	g.unwatchLine()
	g.srv.Stop()
	if err := g.opts.Faxq.ModemStatus(g.srv.DeviceID(), string(gofaxlib.ModemDown)); err != nil {
		logger.Logger.Warnf("Cannot notify scheduler: %v", err)
	}
	g.setStatus(modem.BASE)
}

func (g *Getty) setStatus(st modem.ServerState) {
	if g.opts.Device != nil {
		g.opts.Device.SetState(st)
	}
	if g.opts.Metrics != nil {
		g.opts.Metrics.SetState(st)
	}
}

func (g *Getty) stateChanged(from, to modem.ServerState) {
	g.setStatus(to)
	if to == modem.RUNNING {
		g.watchLine()
	} else if from == modem.RUNNING {
		g.unwatchLine()
	}
}

func (g *Getty) wedged() {
	if g.opts.Metrics != nil {
		g.opts.Metrics.Wedged.Set(1)
	}
}

// watchLine arranges for Ring to be called when the idle modem talks
func (g *Getty) watchLine() {
	g.unwatchLine()
	m := g.srv.Modem()
	if m == nil || m.Transport() == nil || g.d == nil {
		return
	}
	p, ok := m.Transport().Port().(fdPort)
	if !ok || p.Fd() < 0 {
		return
	}
	g.cancelWatch = g.d.WatchReadable(p.Fd(), g.Ring)
}

func (g *Getty) unwatchLine() {
	if g.cancelWatch != nil {
		g.cancelWatch()
		g.cancelWatch = nil
	}
}

// poking keeps the reply to an idle poke from being taken for a call
func (g *Getty) poking(done bool) {
	if !done {
		g.unwatchLine()
	} else if g.srv.State() == modem.RUNNING {
		g.watchLine()
	}
}

// Ring handles input from the idle modem: it waits for the configured
// number of rings, screens the caller and answers the call.
func (g *Getty) Ring() {
	if g.srv.State() != modem.RUNNING || g.srv.Modem() == nil {
		return
	}
	if !g.srv.LockModem() {
		logger.Trace(logger.TraceServer).Infof("%s in use by another process", g.cfg.Modem.Device)
		g.srv.DiscardModem(false)
		g.srv.ChangeState(modem.LOCKWAIT, g.srv.PollLockWait)
		return
	}
	g.srv.ChangeState(modem.LISTENING, 0)

	rings := g.cfg.Modem.RingsBeforeAnswer
	if rings <= 0 {
		g.srv.Modem().WaitForRings(1)
		logger.Logger.Info("Not answering, RingsBeforeAnswer is 0")
		g.srv.UnlockModem()
		g.srv.ChangeState(modem.RUNNING, g.srv.PollLockWait)
		return
	}
	cid, ok := g.srv.Modem().WaitForRings(rings)
	if !ok {
		g.srv.UnlockModem()
		g.srv.ChangeState(modem.RUNNING, g.srv.PollLockWait)
		return
	}
	logger.Logger.Infof("Incoming call from %q <%s>", cid.Name, cid.Number)

	callCfg, reason := g.screen(cid)
	if reason != "" {
		logger.Logger.Infof("REJECT: caller %q <%s>: %s", cid.Name, cid.Number, reason)
		if g.opts.Metrics != nil {
			g.opts.Metrics.Rejected.Inc()
		}
		g.srv.Modem().Hangup()
		g.endSession()
		return
	}
	g.answer(callCfg, cid)
}

// screen decides whether to take a call from cid. It returns the
// configuration for the call or the reason to reject it.
func (g *Getty) screen(cid modem.CallerID) (*gofaxlib.Config, string) {
	cfg := *g.cfg
	if !g.qualifyCID.Accept(cid.Number) {
		return nil, "caller id not acceptable"
	}
	dcCmd := cfg.Recv.DynamicConfig
	if dcCmd == "" {
		return &cfg, ""
	}
	dc, err := gofaxlib.DynamicConfig(cfg.SpoolPath(dcCmd), g.srv.DeviceID(), cid.Number, cid.Name)
	if err != nil {
		// An unusable script does not cost the call
		logger.Logger.Warnf("Error calling DynamicConfig: %v", err)
		return &cfg, ""
	}
	if dc.GetBool("RejectCall") {
		return nil, "rejected by DynamicConfig"
	}
	if n, ok := dc.GetInt("MaxRecvPages"); ok {
		cfg.Recv.MaxRecvPages = n
	}
	if mode := dc.GetString("RecvFileMode"); mode != "" {
		cfg.Recv.RecvFileMode = mode
	}
	if id := dc.GetString("LocalIdentifier"); id != "" {
		cfg.Send.LocalIdentifier = id
	}
	return &cfg, ""
}

func (g *Getty) answer(cfg *gofaxlib.Config, cid modem.CallerID) {
	g.srv.ChangeState(modem.ANSWERING, 0)
	ct, emsg := g.srv.Modem().Answer(modem.AnswerAny)
	logger.Logger.Infof("ANSWER: %s call", ct)
	if g.opts.Metrics != nil {
		g.opts.Metrics.Calls.WithLabelValues(ct.String()).Inc()
	}

	switch ct {
	case modem.CallFax:
		g.recvFax(cfg, cid)
	case modem.CallData:
		if g.runHandler("getty", cfg.Recv.GettyCmd) {
			return
		}
	case modem.CallVoice:
		if g.runHandler("vgetty", cfg.Recv.VGettyCmd) {
			return
		}
	case modem.CallDone:
	default:
		logger.Logger.Infof("ANSWER: %s", emsg)
	}
	g.srv.Modem().Hangup()
	g.endSession()
}

// endSession releases the line and lets the modem settle before it is
// set up again
func (g *Getty) endSession() {
	g.srv.UnlockModem()
	g.srv.ChangeState(modem.MODEMWAIT, modem.SessionSettleTime)
}

func (g *Getty) recvFax(cfg *gofaxlib.Config, cid modem.CallerID) {
	fax, ok := g.srv.Modem().(modem.FaxModem)
	if !ok {
		logger.Logger.Warn("RECV FAX: modem driver has no fax support")
		return
	}
	g.srv.ChangeState(modem.RECEIVING, 0)

	opts := faxrecv.Options{
		DeviceID:   g.srv.DeviceID(),
		Faxq:       g.opts.Faxq,
		QualifyTSI: g.qualifyTSI,
		OnPage: func(*faxrecv.RecvInfo) {
			if g.opts.Metrics != nil {
				g.opts.Metrics.Pages.Inc()
			}
		},
	}
	if session, err := gofaxlib.NewSessionLogger(cfg.Hylafax.Spooldir, ""); err == nil {
		opts.Session = session
	} else {
		logger.Logger.Warnf("Cannot start session log: %v", err)
	}

	r := faxrecv.NewReceiver(cfg, fax, opts)
	g.receiver.Store(r)
	docs := r.RecvFax(cid)
	g.receiver.Store(nil)

	for _, ri := range docs {
		if g.opts.Metrics != nil {
			result := "ok"
			if ri.Reason != "" {
				result = "failed"
			}
			g.opts.Metrics.Documents.WithLabelValues(result).Inc()
		}
		if ri.Pages > 0 {
			g.faxRcvd(cfg, ri)
		}
	}
}

// faxRcvd runs the notification command for a received document
func (g *Getty) faxRcvd(cfg *gofaxlib.Config, ri *faxrecv.RecvInfo) {
	rcvdcmd := cfg.Recv.FaxRcvdCmd
	if rcvdcmd == "" {
		return
	}
	cmd := g.opts.Command(cfg.SpoolPath(rcvdcmd), ri.Filename, g.srv.DeviceID(), ri.CommID,
		ri.Reason, ri.CallID.Number, ri.CallID.Name, ri.SubAddress)
	logger.Logger.Infof("Calling %v %v", cmd.Path, cmd.Args)
	go func() {
		if output, err := cmd.CombinedOutput(); err != nil {
			logger.Logger.Warnf("%s returned error: %v: %s", rcvdcmd, err, output)
		}
	}()
}

// expandArgs substitutes %l (tty name) and %s (speed) in a getty
// command line
func (g *Getty) expandArgs(cmdline string) []string {
	args := strings.Fields(cmdline)
	repl := strings.NewReplacer(
		"%l", strings.TrimPrefix(g.cfg.Modem.Device, "/dev/"),
		"%s", strconv.Itoa(g.cfg.Modem.Speed),
		"%%", "%",
	)
	for i, a := range args {
		args[i] = repl.Replace(a)
	}
	return args
}

// runHandler hands the line to an external program. The device lock
// is passed to the child, the modem is set up again when it exits.
func (g *Getty) runHandler(what, cmdline string) bool {
	args := g.expandArgs(cmdline)
	if len(args) == 0 {
		logger.Logger.Infof("ANSWER: no %s command configured", what)
		return false
	}
	cmd := g.opts.Command(args[0], args[1:]...)
	if t := g.srv.Modem().Transport(); t != nil {
		if tty, ok := t.Port().(*modem.TTY); ok {
			cmd.Stdin, cmd.Stdout, cmd.Stderr = tty.File, tty.File, tty.File
		}
	}
	if err := cmd.Start(); err != nil {
		logger.Logger.Warnf("Cannot start %s: %v", what, err)
		return false
	}
	logger.Logger.Infof("Started %s %v, pid %d", what, args, cmd.Process.Pid)
	if !g.srv.Lock().SetOwner(cmd.Process.Pid) {
		logger.Logger.Warnf("Cannot pass device lock to %s", what)
	}
	g.srv.ChangeState(modem.GETTYWAIT, 0)

	go func() {
		err := cmd.Wait()
		g.d.Post(func() { g.handlerDone(what, err) })
	}()
	return true
}

func (g *Getty) handlerDone(what string, err error) {
	if err != nil {
		logger.Logger.Infof("%s exited: %v", what, err)
	} else {
		logger.Logger.Infof("%s exited", what)
	}
	g.srv.Lock().SetOwner(0)
	g.srv.DiscardModem(true)
	g.endSession()
}

// Abort stops a fax being received
func (g *Getty) Abort() {
	if r := g.receiver.Load(); r != nil {
		logger.Logger.Info("Aborting receive")
		r.Abort()
	}
}

// HandleMessage processes a message from the modem FIFO. It may be
// called from any goroutine.
func (g *Getty) HandleMessage(msg string) {
	if msg == "" {
		return
	}
	logger.Trace(logger.TraceServer).Infof("FIFO message: %s", msg)
	if msg[0] == 'A' {
		g.Abort()
		return
	}
	g.d.Post(func() { g.message(msg) })
}

func (g *Getty) message(msg string) {
	switch msg[0] {
	case 'C': // Configure
		tag, value, ok := strings.Cut(msg[1:], ":")
		if !ok {
			logger.Logger.Warnf("Malformed config message: %s", msg)
			return
		}
		if err := g.cfg.Set(strings.TrimSpace(tag), strings.TrimSpace(value)); err != nil {
			logger.Logger.Warn(err)
			return
		}
		g.loadQualifiers()
	case 'H': // Hello
		g.srv.Announce()
	case 'L': // Lock for sending
		g.release()
	case 'Q': // Quit
		if g.opts.OnQuit != nil {
			g.opts.OnQuit()
		}
	case 'S': // Set state
		if len(msg) < 2 {
			return
		}
		switch msg[1] {
		case 'R':
			g.ready()
		case 'B':
			g.release()
		case 'D':
			g.down()
		}
	default:
		logger.Logger.Println("Unhandled message:", msg)
	}
}

// release gives the idle modem up for a send program
func (g *Getty) release() {
	if g.srv.State() != modem.RUNNING {
		return
	}
	g.srv.DiscardModem(false)
	g.srv.ChangeState(modem.LOCKWAIT, g.srv.PollLockWait)
}

// ready sets up the modem again once a send program is done with it
func (g *Getty) ready() {
	switch g.srv.State() {
	case modem.LOCKWAIT, modem.MODEMWAIT, modem.BASE:
		g.srv.Start()
	}
}

// down closes the modem until the next SR
func (g *Getty) down() {
	if g.srv.State().Active() || g.srv.State() == modem.GETTYWAIT {
		return
	}
	g.unwatchLine()
	g.srv.DiscardModem(true)
	g.srv.ChangeState(modem.BASE, 0)
	if err := g.opts.Faxq.ModemStatus(g.srv.DeviceID(), string(gofaxlib.ModemDown)); err != nil {
		logger.Logger.Warnf("Cannot notify scheduler: %v", err)
	}
}

// Reload replaces the configuration with cfg. Device settings only take
// effect after a restart.
func (g *Getty) Reload(cfg *gofaxlib.Config) {
	if cfg.Modem.Device != g.cfg.Modem.Device {
		logger.Logger.Warnf("Modem device changed to %s, restart required", cfg.Modem.Device)
		cfg.Modem.Device = g.cfg.Modem.Device
		cfg.Modem.DeviceID = g.cfg.Modem.DeviceID
	}
	*g.cfg = *cfg
	g.loadQualifiers()
	logger.Logger.Info("Configuration reloaded")
}
