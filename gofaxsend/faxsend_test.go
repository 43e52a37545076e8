package gofaxsend

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/class2"
	"github.com/gonicus/gofaxmodem/gofaxlib/machinfo"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem/faxtest"
	"github.com/gonicus/gofaxmodem/gofaxlib/tiff"
)

func testConfig(t *testing.T) *gofaxlib.Config {
	cfg := gofaxlib.DefaultConfig()
	cfg.Hylafax.Spooldir = t.TempDir()
	cfg.Hylafax.FaxqFifo = ""
	cfg.Hylafax.Xferfaxlog = "etc/xferfaxlog"
	cfg.Modem.Device = "/dev/ttyS0"
	cfg.Modem.LockDir = t.TempDir()
	cfg.Modem.ChangePriority = false
	cfg.Modem.MaxSetupAttempts = 0
	for _, dir := range []string{"log", "etc", "docq", "info", "recvq"} {
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.Hylafax.Spooldir, dir), 0755))
	}
	return cfg
}

func testModem(t *testing.T, fax *faxtest.Fax) modem.ServerOptions {
	return modem.ServerOptions{
		Open: func() (modem.Port, error) {
			a, b := net.Pipe()
			t.Cleanup(func() {
				a.Close()
				b.Close()
			})
			return a, nil
		},
		Driver: func(*modem.Transport) (modem.Modem, error) { return fax, nil },
	}
}

func newTestFaxServer(t *testing.T, cfg *gofaxlib.Config, fax *faxtest.Fax) *FaxServer {
	srv := modem.NewServer(cfg, testModem(t, fax))
	return NewFaxServer(cfg, srv, Options{Policy: &testPolicy})
}

// writeDoc writes a document of blank pages into the spool
func writeDoc(t *testing.T, cfg *gofaxlib.Config, name string, width uint32, pages int) string {
	f, err := os.Create(filepath.Join(cfg.Hylafax.Spooldir, "docq", name))
	require.NoError(t, err)
	defer f.Close()
	w, err := tiff.NewWriter(f)
	require.NoError(t, err)
	for i := 0; i < pages; i++ {
		require.NoError(t, w.WritePage(&tiff.Page{
			Width:       width,
			Length:      1100,
			Compression: tiff.CompressionCCITTFAX3,
			YResolution: 98,
			Data:        make([]byte, 128),
		}))
	}
	return "docq/" + name
}

func faxRequest(items ...*FaxItem) *FaxRequest {
	return &FaxRequest{
		Jobid:     "42",
		Number:    "5551234",
		External:  "555 1234",
		Items:     items,
		MaxDials:  12,
		MaxTries:  3,
		DesiredBR: -1,
		DesiredST: -1,
		DesiredEC: 1,
		DesiredDF: -1,
	}
}

func TestSendFaxDone(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig(t)
	fax := faxtest.New()
	fs := newTestFaxServer(t, cfg, fax)

	item := &FaxItem{Op: OpFax, Item: writeDoc(t, cfg, "doc1.tif", 1728, 2)}
	req := faxRequest(item)
	var updates int
	fs.Opts.Update = func(*FaxRequest) { updates++ }
	info := machinfo.New("5551234")

	fs.SendFax(req, info, req.Number)

	assert.Equal(SendDone, req.Status)
	assert.Empty(req.Notice)
	assert.Equal(2, req.NPages)
	assert.Equal(1, req.TotDials)
	assert.Equal(1, req.TotTries)
	assert.Equal(0, req.NDials)
	assert.True(item.Done)
	assert.Equal(2, item.Dirnum)
	assert.NotEmpty(req.CommID)
	assert.Equal("+1 555 0100", req.CSI)
	assert.Equal("14400", req.SignalRate)
	assert.Positive(updates)

	assert.Equal([]string{"5551234"}, fax.Dials)
	assert.Equal(2, fax.SentPages)
	assert.Equal(1, fax.Hangups)
	assert.Equal(uint(class2.DF_1DMH), fax.SendParams[0].DF)

	assert.True(info.CalledBefore())
	assert.Equal("+1 555 0100", info.RemoteCSI())
	assert.True(info.SupportsHighRes())
	assert.Equal(0, info.SendFailures())

	res := fs.Result()
	require.NotNil(t, res)
	assert.True(res.Success)
	assert.Equal(uint(2), res.TransferredPages)
	assert.Equal(uint(1728), res.PageResults[0].Width)

	assert.Equal(modem.MODEMWAIT, fs.Srv.State())
	assert.False(fs.Srv.Lock().IsLocked())
}

func TestSendFaxDialRules(t *testing.T) {
	cfg := testConfig(t)
	fax := faxtest.New()
	fs := newTestFaxServer(t, cfg, fax)
	rules, err := gofaxlib.ParseDialRules(strings.NewReader("DialString := [\n\"^555\" = \"0555\"\n]\n"))
	require.NoError(t, err)
	fs.Opts.DialRules = rules

	req := faxRequest(&FaxItem{Op: OpFax, Item: writeDoc(t, cfg, "doc.tif", 1728, 1)})
	fs.SendFax(req, machinfo.New(""), req.Number)
	assert.Equal(t, []string{"05551234"}, fax.Dials)
}

func TestSendFaxBusyTooManyDials(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.DialResults = []modem.CallStatus{modem.BUSY}
	fs := newTestFaxServer(t, cfg, fax)

	req := faxRequest(&FaxItem{Op: OpFax, Item: writeDoc(t, cfg, "doc.tif", 1728, 1)})
	req.MaxDials = 2
	info := machinfo.New("5551234")

	fs.SendFax(req, info, req.Number)
	assert.Equal(SendRetry, req.Status)
	assert.Equal("Busy signal detected", req.Notice)
	assert.Equal(180*time.Second, req.Requeue)
	assert.Equal(1, req.NDials)

	fs.SendFax(req, info, req.Number)
	assert.Equal(SendFailed, req.Status)
	assert.Equal("Busy signal detected; too many attempts to dial", req.Notice)
	assert.Equal(2, req.TotDials)
	assert.Equal(0, req.TotTries)
	assert.Equal(2, info.DialFailures())
	assert.Equal(2, info.SendFailures())
	assert.Equal("Busy signal detected", info.LastDialFailure())
	assert.False(info.CalledBefore())
	assert.Zero(fax.SentPages)
}

func TestSendFaxNoCarrier(t *testing.T) {
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.DialResults = []modem.CallStatus{modem.NOCARRIER}
	fs := newTestFaxServer(t, cfg, fax)
	req := faxRequest(&FaxItem{Op: OpFax, Item: writeDoc(t, cfg, "doc.tif", 1728, 1)})
	info := machinfo.New("5551234")

	fs.SendFax(req, info, req.Number)
	assert.Equal(t, SendRetry, req.Status)
	fs.SendFax(req, info, req.Number)
	assert.Equal(t, SendFailed, req.Status)
	assert.Equal(t, "No carrier detected", req.Notice)
}

func TestSendFaxNoFaxConnectionMarksCalledBefore(t *testing.T) {
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.DialResults = []modem.CallStatus{modem.NOFCON}
	fs := newTestFaxServer(t, cfg, fax)
	req := faxRequest(&FaxItem{Op: OpFax, Item: writeDoc(t, cfg, "doc.tif", 1728, 1)})
	info := machinfo.New("5551234")

	fs.SendFax(req, info, req.Number)
	assert.Equal(t, SendRetry, req.Status)
	assert.True(t, info.CalledBefore())
}

func TestSendFaxReformatPageWidth(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.DIS.WD = class2.WD_2432
	fs := newTestFaxServer(t, cfg, fax)

	req := faxRequest(&FaxItem{Op: OpFax, Item: writeDoc(t, cfg, "wide.tif", 2432, 1)})
	info := machinfo.New("5551234")
	info.SetMaxPageWidthInPixels(1728)
	info.SetLocked(machinfo.MaxPageWidthInPixels, true)

	fs.SendFax(req, info, req.Number)
	assert.Equal(SendReformat, req.Status)
	assert.Equal("Client does not support document page width, max remote page width 1728 pixels, image width 2432 pixels", req.Notice)
	assert.Zero(fax.SentPages)
	assert.Equal(uint(1728), info.MaxPageWidthInPixels())
}

func TestSendSetupParams(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig(t)
	fs := newTestFaxServer(t, cfg, faxtest.New())
	fs.clientCaps = class2.Params{VR: class2.VR_NORMAL, WD: class2.WD_2048, LN: class2.LN_UNLIMITED, DF: class2.DF_2DMR}
	fs.params = fs.clientCaps

	doc, err := tiff.Open(filepath.Join(cfg.Hylafax.Spooldir, writeDoc(t, cfg, "b4.tif", 2048, 1)))
	require.NoError(t, err)
	defer doc.Close()

	// the cache still holds the narrower default width until told otherwise
	info := machinfo.New("")
	status, _ := fs.SendSetupParams(doc, 0, &fs.params, info)
	assert.Equal(SendReformat, status)

	info.SetMaxPageWidthInPixels(2048)
	params := fs.params
	status, emsg := fs.SendSetupParams(doc, 0, &params, info)
	assert.Equal(SendOK, status, emsg)
	assert.Equal(uint(class2.WD_2048), params.WD)
	assert.Equal(uint(class2.DF_1DMH), params.DF)
	assert.Equal(uint(class2.LN_A4), params.LN)

	_, err = doc.Directory(1)
	assert.Error(err)
	status, _ = fs.SendSetupParams(doc, 1, &params, nil)
	assert.Equal(SendFailed, status)
}

func TestSendFaxSamePageGivesUp(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.SendFunc = func(*tiff.File, int, class2.Params, modem.SendHooks) (modem.SendStatus, string) {
		return modem.SendRetry, "No response to MPS repeated 3 tries"
	}
	fs := newTestFaxServer(t, cfg, fax)
	req := faxRequest(&FaxItem{Op: OpFax, Item: writeDoc(t, cfg, "doc.tif", 1728, 1)})
	req.MaxTries = 0
	info := machinfo.New("5551234")

	for i := 1; i <= 2; i++ {
		fs.SendFax(req, info, req.Number)
		assert.Equal(SendRetry, req.Status)
		assert.Equal(time.Minute, req.Requeue)
		assert.Equal(i, req.NTries)
	}
	fs.SendFax(req, info, req.Number)
	assert.Equal(SendFailed, req.Status)
	assert.Equal("No response to MPS repeated 3 tries; Giving up after 3 attempts to send same page", req.Notice)
}

func TestSendFaxTooManyTries(t *testing.T) {
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.PrologueError = "No answer (T.30 T1 timeout)"
	fs := newTestFaxServer(t, cfg, fax)
	req := faxRequest(&FaxItem{Op: OpFax, Item: writeDoc(t, cfg, "doc.tif", 1728, 1)})
	req.MaxTries = 1

	fs.SendFax(req, machinfo.New(""), req.Number)
	assert.Equal(t, SendFailed, req.Status)
	assert.Equal(t, "No answer (T.30 T1 timeout); too many attempts to send", req.Notice)
}

func TestSendFaxPrologueRetry(t *testing.T) {
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.PrologueError = "No answer (T.30 T1 timeout)"
	fs := newTestFaxServer(t, cfg, fax)
	req := faxRequest(&FaxItem{Op: OpFax, Item: writeDoc(t, cfg, "doc.tif", 1728, 1)})
	info := machinfo.New("")

	fs.SendFax(req, info, req.Number)
	assert.Equal(t, SendRetry, req.Status)
	assert.Equal(t, time.Minute, req.Requeue)
	assert.False(t, info.CalledBefore())
}

func TestSendFaxAbort(t *testing.T) {
	cfg := testConfig(t)
	fax := faxtest.New()
	fs := newTestFaxServer(t, cfg, fax)
	req := faxRequest(&FaxItem{Op: OpFax, Item: writeDoc(t, cfg, "doc.tif", 1728, 3)})

	fs.Abort()
	fs.SendFax(req, machinfo.New(""), req.Number)
	assert.Equal(t, SendFailed, req.Status)
	assert.Equal(t, "Job aborted by user", req.Notice)
	assert.Empty(t, fax.Dials)
}

func TestSendFaxAbortDuringTransfer(t *testing.T) {
	cfg := testConfig(t)
	fax := faxtest.New()
	fs := newTestFaxServer(t, cfg, fax)
	req := faxRequest(&FaxItem{Op: OpFax, Item: writeDoc(t, cfg, "doc.tif", 1728, 3)})
	fs.Opts.Update = func(r *FaxRequest) {
		if r.NPages == 1 {
			fs.Abort()
		}
	}

	fs.SendFax(req, machinfo.New(""), req.Number)
	assert.Equal(t, SendFailed, req.Status)
	assert.Contains(t, req.Notice, "Job aborted by user")
	assert.Equal(t, 1, fax.SentPages)
	assert.Equal(t, 1, fax.Hangups)
}

func TestSendFaxMissingDocument(t *testing.T) {
	cfg := testConfig(t)
	fs := newTestFaxServer(t, cfg, faxtest.New())
	req := faxRequest(&FaxItem{Op: OpFax, Item: "docq/missing.tif"})

	fs.SendFax(req, machinfo.New(""), req.Number)
	assert.Equal(t, SendFailed, req.Status)
	assert.Equal(t, "Can not open document file docq/missing.tif", req.Notice)
}

func TestSendPoll(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.HasDoc = true
	fax.RecvPages = []faxtest.Page{faxtest.BlankPage(modem.PPM_EOP)}
	fs := newTestFaxServer(t, cfg, fax)

	poll := &FaxItem{Op: OpPoll, Addr: "1234"}
	req := faxRequest(poll)
	fs.SendFax(req, machinfo.New(""), req.Number)

	assert.Equal(SendDone, req.Status)
	assert.True(poll.Done)
	assert.Equal(1, fax.Polled)
	files, err := filepath.Glob(filepath.Join(cfg.Hylafax.Spooldir, "recvq", "fax*.tif"))
	require.NoError(t, err)
	assert.Len(files, 1)
}

func TestSendPollNothingToPoll(t *testing.T) {
	cfg := testConfig(t)
	fax := faxtest.New()
	fs := newTestFaxServer(t, cfg, fax)
	req := faxRequest(&FaxItem{Op: OpPoll})

	fs.SendFax(req, machinfo.New(""), req.Number)
	assert.Equal(t, SendFailed, req.Status)
	assert.Equal(t, "Unable to poll: remote has no document to send", req.Notice)
	assert.Zero(t, fax.Polled)
}

func TestSendFaxLockBusy(t *testing.T) {
	cfg := testConfig(t)
	fax := faxtest.New()
	fs := newTestFaxServer(t, cfg, fax)
	other := modem.LockFor(cfg)
	require.True(t, other.Lock())
	defer other.Unlock()

	req := faxRequest(&FaxItem{Op: OpFax, Item: writeDoc(t, cfg, "doc.tif", 1728, 1)})
	fs.SendFax(req, machinfo.New(""), req.Number)
	assert.Equal(t, SendRetry, req.Status)
	assert.Equal(t, "Can not lock modem device", req.Notice)
	assert.Empty(t, fax.Dials)
}
