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
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/atomic"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
	"github.com/gonicus/gofaxmodem/gofaxlib/reactor"
	"github.com/gonicus/gofaxmodem/gofaxlib/uucplock"
)

// Settle time after a session before the modem is used again
const SessionSettleTime = 5 * time.Second

// DriverFactory creates the driver for a freshly opened line
type DriverFactory func(t *Transport) (Modem, error)

// ServerOptions customizes a Server
type ServerOptions struct {
	// Reactor runs the state timers. Programs doing a single job leave
	// it nil and drive the server directly.
	Reactor *reactor.Dispatcher
	// Faxq receives modem status messages
	Faxq *gofaxlib.Faxq
	// Lock overrides the UUCP lock derived from the configuration
	Lock *uucplock.Lock
	// Open overrides opening and configuring the tty
	Open func() (Port, error)
	// Driver overrides the modem driver, Class 0 by default
	Driver DriverFactory

	OnStateChange func(from, to ServerState)
	OnWedged      func()
	// OnPoke is called before the idle modem is poked and, if it
	// answered, again afterwards with done set
	OnPoke func(done bool)
}

// Server manages one modem device: its lock, its driver and the state
// machine moving between idle, waiting and active states.
type Server struct {
	cfg   *gofaxlib.Config
	devID string
	opts  ServerOptions
	lock  *uucplock.Lock

	PollModemWait time.Duration
	PollLockWait  time.Duration

	state  atomic.Int32
	wedged atomic.Bool

	timer         reactor.TimerID
	timerSet      bool
	setupAttempts int
	prio          priority
	modem         Modem
}

// DeviceID returns the identifier of a modem device as used in FIFO
// names and status messages: the path below /dev with slashes replaced.
func DeviceID(cfg *gofaxlib.Config) string {
	if cfg.Modem.DeviceID != "" {
		return cfg.Modem.DeviceID
	}
	dev := strings.TrimPrefix(cfg.Modem.Device, "/dev/")
	return strings.ReplaceAll(dev, "/", "_")
}

// LockFor returns the UUCP lock configured for the modem
func LockFor(cfg *gofaxlib.Config) *uucplock.Lock {
	return uucplock.New(cfg.Modem.LockDir, filepath.Base(cfg.Modem.Device), uucplock.Options{
		Binary:  strings.EqualFold(cfg.Modem.LockDataFormat, "binary"),
		Timeout: gofaxlib.Seconds(cfg.Modem.LockTimeout),
	})
}

// LineSettingsFor returns the serial line settings configured for the modem
func LineSettingsFor(cfg *gofaxlib.Config) LineSettings {
	ls := LineSettings{Speed: cfg.Modem.Speed}
	var err error
	if ls.Parity, err = ParseParity(cfg.Modem.Parity); err != nil {
		logger.Logger.Warn(err)
	}
	if ls.FlowControl, err = ParseFlowControl(cfg.Modem.FlowControl); err != nil {
		logger.Logger.Warn(err)
	}
	return ls
}

// NewServer creates the server for the configured modem in state BASE
func NewServer(cfg *gofaxlib.Config, opts ServerOptions) *Server {
	s := &Server{
		cfg:           cfg,
		devID:         DeviceID(cfg),
		opts:          opts,
		lock:          opts.Lock,
		PollModemWait: gofaxlib.Seconds(cfg.Modem.PollModemWait),
		PollLockWait:  gofaxlib.Seconds(cfg.Modem.PollLockWait),
	}
	if s.lock == nil {
		s.lock = LockFor(cfg)
	}
	if s.opts.Open == nil {
		s.opts.Open = s.openTTY
	}
	if s.opts.Driver == nil {
		s.opts.Driver = func(t *Transport) (Modem, error) {
			return NewClass0(t, cfg), nil
		}
	}
	return s
}

func (s *Server) openTTY() (Port, error) {
	tty, err := OpenTTY(s.cfg.Modem.Device)
	if err != nil {
		return nil, err
	}
	if err = tty.Configure(LineSettingsFor(s.cfg)); err != nil {
		tty.Close()
		return nil, err
	}
	return tty, nil
}

// DeviceID returns the modem's identifier
func (s *Server) DeviceID() string {
	return s.devID
}

// Config returns the server configuration
func (s *Server) Config() *gofaxlib.Config {
	return s.cfg
}

// State returns the current state. It may be called from any goroutine.
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// Wedged reports whether the server gave up on the modem
func (s *Server) Wedged() bool {
	return s.wedged.Load()
}

// SetupAttempts returns the number of failed setups since the modem
// was last ready
func (s *Server) SetupAttempts() int {
	return s.setupAttempts
}

// Modem returns the current driver, nil if the modem is not open
func (s *Server) Modem() Modem {
	return s.modem
}

// Lock returns the device lock
func (s *Server) Lock() *uucplock.Lock {
	return s.lock
}

// Start makes the first attempt to set up the modem
func (s *Server) Start() {
	s.trySetup()
}

// ChangeState moves the server to state st and arms the state timer if
// timeout is not zero. Entering an active state cancels any timer.
func (s *Server) ChangeState(st ServerState, timeout time.Duration) {
	old := s.State()
	if st != old {
		if timeout > 0 {
			logger.Trace(logger.TraceStateChange).Infof("STATE CHANGE: %s -> %s (timeout %s)", old, st, timeout)
		} else {
			logger.Trace(logger.TraceStateChange).Infof("STATE CHANGE: %s -> %s", old, st)
		}
		s.state.Store(int32(st))
		if s.cfg.Modem.ChangePriority {
			s.prio.set(st.Active())
		}
		s.notifyState(st)
		if s.opts.OnStateChange != nil {
			s.opts.OnStateChange(old, st)
		}
	}
	s.stopTimer()

	if st == MODEMWAIT {
		s.setupAttempts++
		if limit := s.cfg.Modem.MaxSetupAttempts; limit > 0 && s.setupAttempts > limit {
			s.wedge()
			return
		}
	}
	if timeout > 0 && s.opts.Reactor != nil && !s.Wedged() {
		s.timer = s.opts.Reactor.StartTimer(timeout, s.timerExpired)
		s.timerSet = true
	}
}

func (s *Server) notifyState(st ServerState) {
	var err error
	switch st {
	case RUNNING:
		s.setupAttempts = 0
		caps := ""
		if fm, ok := s.modem.(FaxModem); ok {
			caps = fm.FaxCaps().Encode()
		}
		err = s.opts.Faxq.ModemStatusReady(s.devID, caps)
	case LOCKWAIT:
		err = s.opts.Faxq.ModemStatus(s.devID, string(gofaxlib.ModemBusy))
	case GETTYWAIT:
		err = s.opts.Faxq.ModemStatus(s.devID, string(gofaxlib.ModemInUse))
	}
	if err != nil {
		logger.Logger.Warnf("Cannot notify scheduler: %v", err)
	}
}

// Announce repeats the status message of the current state, e.g. after
// the scheduler restarted.
func (s *Server) Announce() {
	s.notifyState(s.State())
}

func (s *Server) wedge() {
	logger.Logger.Errorf("Unable to setup modem on %s; giving up after %d attempts",
		s.cfg.Modem.Device, s.cfg.Modem.MaxSetupAttempts)
	s.wedged.Store(true)
	if err := s.opts.Faxq.ModemStatusWedged(s.devID); err != nil {
		logger.Logger.Warnf("Cannot notify scheduler: %v", err)
	}
	if s.opts.OnWedged != nil {
		s.opts.OnWedged()
	}
}

func (s *Server) stopTimer() {
	if s.timerSet {
		s.opts.Reactor.StopTimer(s.timer)
		s.timerSet = false
	}
}

func (s *Server) timerExpired() {
	s.timerSet = false
	switch s.State() {
	case MODEMWAIT, LOCKWAIT:
		s.trySetup()
	case RUNNING:
		s.checkIdleModem()
	}
}

// trySetup locks the device and sets up the modem, retrying later on
// failure.
func (s *Server) trySetup() {
	if !s.LockModem() {
		s.ChangeState(LOCKWAIT, s.PollLockWait)
		return
	}
	ok := s.SetupModem()
	s.UnlockModem()
	if ok {
		s.ChangeState(RUNNING, s.PollLockWait)
	} else {
		s.ChangeState(MODEMWAIT, s.PollModemWait)
	}
}

// checkIdleModem verifies an idle modem is still ours and responding
func (s *Server) checkIdleModem() {
	if !s.LockModem() {
		logger.Trace(logger.TraceServer).Infof("%s in use by another process", s.cfg.Modem.Device)
		s.DiscardModem(false)
		s.ChangeState(LOCKWAIT, s.PollLockWait)
		return
	}
	s.poking(false)
	ok := s.modem != nil && s.modem.Poke()
	s.UnlockModem()
	if !ok {
		logger.Trace(logger.TraceServer).Warnf("Modem on %s not responding", s.cfg.Modem.Device)
		s.DiscardModem(true)
		s.ChangeState(MODEMWAIT, s.PollModemWait)
		return
	}
	s.poking(true)
	s.ChangeState(RUNNING, s.PollLockWait)
}

func (s *Server) poking(done bool) {
	if s.opts.OnPoke != nil {
		s.opts.OnPoke(done)
	}
}

// LockModem acquires the device lock
func (s *Server) LockModem() bool {
	return s.lock.Lock()
}

// UnlockModem releases the device lock
func (s *Server) UnlockModem() {
	s.lock.Unlock()
}

// CanLockModem reports whether the device lock is available
func (s *Server) CanLockModem() bool {
	return s.lock.Check()
}

// SetupModem opens the device if needed and resets the modem. The
// caller must hold the device lock.
func (s *Server) SetupModem() bool {
	if s.modem == nil {
		p, err := s.opts.Open()
		if err != nil {
			logger.Logger.Warnf("Unable to open modem: %v", err)
			return false
		}
		t := NewTransport(p)
		m, err := s.opts.Driver(t)
		if err != nil {
			logger.Logger.Warnf("Unable to setup modem driver: %v", err)
			t.Discard()
			return false
		}
		s.modem = m
	}
	if !s.modem.Reset() {
		logger.Logger.Warnf("Unable to reset modem on %s", s.cfg.Modem.Device)
		s.DiscardModem(true)
		return false
	}
	return true
}

// DiscardModem closes the device. Dropping DTR resets a confused modem.
func (s *Server) DiscardModem(dropDTR bool) {
	if s.modem == nil {
		return
	}
	if t := s.modem.Transport(); t != nil {
		if dropDTR {
			t.Discard()
		} else {
			t.Port().Close()
		}
	}
	s.modem = nil
}

// ConfigureLine changes the parity of the open line, used for pagers
// that need 7 bit even parity.
func (s *Server) ConfigureLine(p Parity) error {
	if s.modem == nil {
		return nil
	}
	t := s.modem.Transport()
	if t == nil {
		return nil
	}
	lc, ok := t.Port().(LineController)
	if !ok {
		return nil
	}
	ls := LineSettingsFor(s.cfg)
	ls.Parity = p
	return lc.Configure(ls)
}

// Stop discards the modem and releases the lock
func (s *Server) Stop() {
	s.stopTimer()
	s.DiscardModem(true)
	s.UnlockModem()
}
