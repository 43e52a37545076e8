package main

import (
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem/faxtest"
	"github.com/gonicus/gofaxmodem/gofaxlib/reactor"
)

func testConfig(t *testing.T) *gofaxlib.Config {
	cfg := gofaxlib.DefaultConfig()
	cfg.Hylafax.Spooldir = t.TempDir()
	cfg.Hylafax.Xferfaxlog = "etc/xferfaxlog"
	cfg.Hylafax.FaxqFifo = ""
	cfg.Modem.Device = "/dev/ttyS9"
	cfg.Modem.LockDir = t.TempDir()
	cfg.Modem.ChangePriority = false
	cfg.Recv.FaxRcvdCmd = ""
	for _, dir := range []string{"etc", "log", "recvq"} {
		require.NoError(t, os.MkdirAll(cfg.SpoolPath(dir), 0755))
	}
	return cfg
}

func writeScript(t *testing.T, name, body string) string {
	filename := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filename, []byte("#!/bin/sh\n"+body), 0755))
	return filename
}

type harness struct {
	t       *testing.T
	cfg     *gofaxlib.Config
	fax     *faxtest.Fax
	d       *reactor.Dispatcher
	metrics *Metrics
	g       *Getty

	mu       sync.Mutex
	commands [][]string
	quits    int
}

func newHarness(t *testing.T, setup func(cfg *gofaxlib.Config)) *harness {
	cfg := testConfig(t)
	if setup != nil {
		setup(cfg)
	}
	h := &harness{t: t, cfg: cfg, fax: faxtest.New(), d: reactor.New()}
	dev, err := NewDevice(cfg, "ttyS9")
	require.NoError(t, err)
	h.metrics = NewMetrics("ttyS9")
	h.g = NewGetty(cfg, GettyOptions{
		Reactor: h.d,
		Device:  dev,
		Metrics: h.metrics,
		Modem: modem.ServerOptions{
			Open: func() (modem.Port, error) {
				a, b := net.Pipe()
				t.Cleanup(func() {
					a.Close()
					b.Close()
				})
				return a, nil
			},
			Driver: func(*modem.Transport) (modem.Modem, error) { return h.fax, nil },
		},
		Command: func(name string, arg ...string) *exec.Cmd {
			h.mu.Lock()
			h.commands = append(h.commands, append([]string{name}, arg...))
			h.mu.Unlock()
			return exec.Command(name, arg...)
		},
		OnQuit: func() { h.quits++ },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// do runs fn on the reactor and waits for it
func (h *harness) do(fn func()) {
	done := make(chan struct{})
	h.d.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.t.Fatal("reactor did not run callback")
	}
}

func (h *harness) start() {
	h.do(h.g.Start)
	require.Equal(h.t, modem.RUNNING, h.g.Server().State())
}

func (h *harness) status() string {
	data, err := os.ReadFile(h.cfg.SpoolPath("status/ttyS9"))
	require.NoError(h.t, err)
	return string(data)
}

func (h *harness) xferfaxlog() string {
	data, _ := os.ReadFile(h.cfg.SpoolPath(h.cfg.Hylafax.Xferfaxlog))
	return string(data)
}

func TestGettyStartsRunning(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, nil)
	h.start()

	assert.Equal("Running and idle", h.status())
	assert.False(h.g.Server().Lock().IsLocked())
	assert.Equal(1.0, testutil.ToFloat64(h.metrics.State.WithLabelValues("RUNNING")))
	assert.Equal(0.0, testutil.ToFloat64(h.metrics.State.WithLabelValues("BASE")))
}

func TestGettyReceivesFax(t *testing.T) {
	assert := assert.New(t)
	out := filepath.Join(t.TempDir(), "rcvd")
	h := newHarness(t, func(cfg *gofaxlib.Config) {
		cfg.Recv.FaxRcvdCmd = writeScript(t, "faxrcvd", "echo \"$@\" > "+out+"\n")
	})
	h.fax.CallerID = modem.CallerID{Number: "5550100", Name: "ACME"}
	h.fax.RecvPages = []faxtest.Page{faxtest.BlankPage(modem.PPM_MPS), faxtest.BlankPage(modem.PPM_EOP)}
	h.start()

	var answers, hangups int
	h.do(func() {
		h.g.Ring()
		answers, hangups = h.fax.Answers, h.fax.Hangups
	})

	assert.Equal(1, answers)
	assert.Equal(1, hangups)
	assert.Equal(modem.MODEMWAIT, h.g.Server().State())
	assert.False(h.g.Server().Lock().IsLocked())
	assert.Equal("Waiting for modem to come ready", h.status())

	assert.Equal(1.0, testutil.ToFloat64(h.metrics.Calls.WithLabelValues("fax")))
	assert.Equal(2.0, testutil.ToFloat64(h.metrics.Pages))
	assert.Equal(1.0, testutil.ToFloat64(h.metrics.Documents.WithLabelValues("ok")))

	_, err := os.Stat(h.cfg.SpoolPath("recvq/fax000000001.tif"))
	assert.NoError(err)
	assert.Contains(h.xferfaxlog(), "\tRECV\t")

	assert.Eventually(func() bool {
		data, err := os.ReadFile(out)
		return err == nil && strings.Contains(string(data), "5550100 ACME")
	}, 5*time.Second, 20*time.Millisecond)
	data, _ := os.ReadFile(out)
	args := strings.Fields(string(data))
	require.GreaterOrEqual(t, len(args), 3)
	assert.Equal(h.cfg.SpoolPath("recvq/fax000000001.tif"), args[0])
	assert.Equal("ttyS9", args[1])
}

func TestGettyNoRings(t *testing.T) {
	h := newHarness(t, nil)
	h.fax.NoRings = true
	h.start()

	var answers int
	h.do(func() {
		h.g.Ring()
		answers = h.fax.Answers
	})
	assert.Zero(t, answers)
	assert.Equal(t, modem.RUNNING, h.g.Server().State())
	assert.False(t, h.g.Server().Lock().IsLocked())
}

// pipePort is a modem line with a descriptor the line watch can poll
type pipePort struct {
	r, w *os.File
	fd   int
}

func newPipePort(t *testing.T) (*pipePort, *os.File) {
	inR, inW, err := os.Pipe()
	require.NoError(t, err)
	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		inR.Close()
		inW.Close()
		outR.Close()
		outW.Close()
	})
	p := &pipePort{r: inR, w: outW}
	raw, err := inR.SyscallConn()
	require.NoError(t, err)
	require.NoError(t, raw.Control(func(fd uintptr) { p.fd = int(fd) }))
	return p, inW
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipePort) SetReadDeadline(t time.Time) error { return p.r.SetReadDeadline(t) }
func (p *pipePort) SetWriteDeadline(t time.Time) error { return p.w.SetWriteDeadline(t) }
func (p *pipePort) Fd() int { return p.fd }

func (p *pipePort) Close() error {
	p.r.Close()
	return p.w.Close()
}

// pokedModem answers the idle poke on the line like a real modem
type pokedModem struct {
	*faxtest.Fax
	tr    *modem.Transport
	reply *os.File
	pokes int
}

func (m *pokedModem) Transport() *modem.Transport { return m.tr }

func (m *pokedModem) Poke() bool {
	m.pokes++
	if _, err := m.reply.Write([]byte("\r\nOK\r\n")); err != nil {
		return false
	}
	// leave the line readable long enough for a watcher to notice
	time.Sleep(50 * time.Millisecond)
	line, ok := m.tr.GetLine(time.Second)
	return ok && line == "OK"
}

func TestGettyIdlePokeIsNoCall(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig(t)
	cfg.Modem.PollLockWait = 1
	port, reply := newPipePort(t)
	opened := false
	fax := faxtest.New()
	var m *pokedModem

	d := reactor.New()
	g := NewGetty(cfg, GettyOptions{
		Reactor: d,
		Modem: modem.ServerOptions{
			Open: func() (modem.Port, error) {
				if opened {
					return nil, os.ErrExist
				}
				opened = true
				return port, nil
			},
			Driver: func(tr *modem.Transport) (modem.Modem, error) {
				m = &pokedModem{Fax: fax, tr: tr, reply: reply}
				return m, nil
			},
		},
	})

	d.Post(func() {
		g.Start()
		d.StartTimer(1500*time.Millisecond, d.Stop)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx))

	require.NotNil(t, m)
	assert.Equal(1, m.pokes)
	assert.Zero(fax.Answers)
	assert.Equal(modem.RUNNING, g.Server().State())
	assert.NotNil(g.cancelWatch, "line is watched again after the poke")
	g.Close()
}

func TestGettyRejectsCallerID(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, func(cfg *gofaxlib.Config) {
		require.NoError(t, os.WriteFile(cfg.SpoolPath("etc/cid"), []byte("!^900\n.*\n"), 0644))
		cfg.Recv.QualifyCID = "etc/cid"
	})
	h.fax.CallerID = modem.CallerID{Number: "9001234"}
	h.start()

	var answers, hangups int
	h.do(func() {
		h.g.Ring()
		answers, hangups = h.fax.Answers, h.fax.Hangups
	})
	assert.Zero(answers)
	assert.Equal(1, hangups)
	assert.Equal(1.0, testutil.ToFloat64(h.metrics.Rejected))
	assert.Equal(modem.MODEMWAIT, h.g.Server().State())
}

func TestGettyDynamicConfig(t *testing.T) {
	script := writeScript(t, "dynconf", `case "$2" in
666*) echo "RejectCall: yes" ;;
*) echo "MaxRecvPages: 1" ;;
esac
`)
	setup := func(cfg *gofaxlib.Config) {
		cfg.Recv.DynamicConfig = script
	}

	h := newHarness(t, setup)
	h.fax.CallerID = modem.CallerID{Number: "666"}
	h.start()
	var answers int
	h.do(func() {
		h.g.Ring()
		answers = h.fax.Answers
	})
	assert.Zero(t, answers)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Rejected))

	// Accepted callers get the per-call settings
	h = newHarness(t, setup)
	h.fax.CallerID = modem.CallerID{Number: "5550100"}
	h.fax.RecvPages = []faxtest.Page{faxtest.BlankPage(modem.PPM_MPS), faxtest.BlankPage(modem.PPM_EOP)}
	h.start()
	h.do(h.g.Ring)
	assert.Contains(t, h.xferfaxlog(), "Maximum receive page count exceeded")
	assert.Equal(t, 25, h.cfg.Recv.MaxRecvPages, "server configuration is unchanged")
}

func TestGettyDataCallRunsGetty(t *testing.T) {
	assert := assert.New(t)
	marker := filepath.Join(t.TempDir(), "owner")
	script := writeScript(t, "getty", `for i in 1 2 3 4 5 6 7 8 9 10; do
  read pid < "$1"
  if [ "$pid" -eq "$$" ]; then touch "$2"; exit 0; fi
  sleep 0.1
done
exit 1
`)
	h := newHarness(t, nil)
	h.cfg.Recv.GettyCmd = script + " " + h.g.Server().Lock().File() + " " + marker + " %l"
	h.fax.CallType = modem.CallData
	h.start()

	h.do(h.g.Ring)
	assert.Eventually(func() bool {
		return h.g.Server().State() == modem.MODEMWAIT
	}, 5*time.Second, 20*time.Millisecond)

	_, err := os.Stat(marker)
	assert.NoError(err, "getty owned the device lock")

	var hangups int
	h.do(func() { hangups = h.fax.Hangups })
	assert.Zero(hangups)
	assert.False(h.g.Server().Lock().IsLocked())
	assert.Equal(1.0, testutil.ToFloat64(h.metrics.Calls.WithLabelValues("data")))

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.commands, 1)
	assert.Equal("ttyS9", h.commands[0][len(h.commands[0])-1])
}

func TestGettyDataCallWithoutGetty(t *testing.T) {
	h := newHarness(t, nil)
	h.fax.CallType = modem.CallData
	h.start()

	var hangups int
	h.do(func() {
		h.g.Ring()
		hangups = h.fax.Hangups
	})
	assert.Equal(t, 1, hangups)
	assert.Equal(t, modem.MODEMWAIT, h.g.Server().State())
}

func TestGettyAbortReceive(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, nil)
	h.fax.RecvPages = []faxtest.Page{
		faxtest.BlankPage(modem.PPM_MPS),
		faxtest.BlankPage(modem.PPM_MPS),
		faxtest.BlankPage(modem.PPM_EOP),
	}
	h.fax.RecvHook = func(n int) {
		if n == 2 {
			h.g.HandleMessage("A")
		}
	}
	h.start()

	var aborted bool
	h.do(func() {
		h.g.Ring()
		aborted = h.fax.RecvAborted
	})
	assert.True(aborted)
	assert.Contains(h.xferfaxlog(), "Receive aborted due to operator intervention")
	assert.Equal(2.0, testutil.ToFloat64(h.metrics.Pages))
	assert.Equal(1.0, testutil.ToFloat64(h.metrics.Documents.WithLabelValues("failed")))
}

func TestGettyMessages(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, nil)
	h.start()
	srv := h.g.Server()
	flush := func() { h.do(func() {}) }

	h.g.HandleMessage("CRecv.MaxRecvPages:3")
	flush()
	assert.Equal(3, h.cfg.Recv.MaxRecvPages)

	h.g.HandleMessage("Cbogus")
	flush()
	assert.Equal(3, h.cfg.Recv.MaxRecvPages)

	h.g.HandleMessage("SB")
	flush()
	assert.Equal(modem.LOCKWAIT, srv.State())
	assert.Nil(srv.Modem())

	h.g.HandleMessage("SR")
	flush()
	assert.Equal(modem.RUNNING, srv.State())

	h.g.HandleMessage("L")
	flush()
	assert.Equal(modem.LOCKWAIT, srv.State())

	h.g.HandleMessage("SR")
	h.g.HandleMessage("SD")
	flush()
	assert.Equal(modem.BASE, srv.State())
	assert.Equal("Down", h.status())

	h.g.HandleMessage("SR")
	h.g.HandleMessage("H")
	flush()
	assert.Equal(modem.RUNNING, srv.State())

	h.g.HandleMessage("Q")
	flush()
	assert.Equal(1, h.quits)

	// Nothing to abort
	h.g.HandleMessage("A")
}

func TestGettyReload(t *testing.T) {
	h := newHarness(t, nil)
	cfg := testConfig(t)
	cfg.Modem.Device = "/dev/ttyS1"
	cfg.Recv.MaxRecvPages = 7
	h.do(func() { h.g.Reload(cfg) })

	assert.Equal(t, 7, h.cfg.Recv.MaxRecvPages)
	assert.Equal(t, "/dev/ttyS9", h.cfg.Modem.Device)
}

func TestExpandArgs(t *testing.T) {
	h := newHarness(t, nil)
	h.cfg.Modem.Speed = 38400
	assert.Equal(t, []string{"/sbin/agetty", "ttyS9", "38400", "100%"}, h.g.expandArgs("/sbin/agetty %l %s 100%%"))
	assert.Empty(t, h.g.expandArgs(""))
}
