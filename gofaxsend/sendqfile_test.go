package gofaxsend

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem/faxtest"
)

func newTestSender(t *testing.T, fax *faxtest.Fax, destctrls string) *Sender {
	cfg := testConfig(t)
	if destctrls != "" {
		require.NoError(t, os.WriteFile(cfg.SpoolPath(cfg.Send.DestControls), []byte(destctrls), 0644))
	}
	s, err := NewSender(cfg, "ttyS0")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	s.Modem = testModem(t, fax)
	return s
}

func xferfaxlog(t *testing.T, s *Sender) string {
	data, err := os.ReadFile(s.Config.SpoolPath(s.Config.Hylafax.Xferfaxlog))
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func TestSendQfile(t *testing.T) {
	assert := assert.New(t)
	fax := faxtest.New()
	s := newTestSender(t, fax, "")
	doc := writeDoc(t, s.Config, "doc7.tif", 1728, 2)
	qfilename := writeQfile(t, "jobid:7\nnumber:5551234\nowner:alice\nmailaddr:alice@example.com\nfax:0::"+doc+"\n")

	status, err := s.SendQfile(qfilename)
	require.NoError(t, err)
	assert.Equal(SendDone, status)

	qf, err := OpenQfile(qfilename)
	require.NoError(t, err)
	defer qf.Close()
	assert.Equal("2", qf.GetString("returned"))
	assert.Equal("2", qf.GetString("npages"))
	assert.Equal("12", qf.GetString("maxdials"))
	assert.Equal([]string{"2::" + doc}, qf.GetAll("!fax"))
	assert.Empty(qf.GetAll("fax"))
	assert.NotEmpty(qf.GetString("commid"))

	log := xferfaxlog(t, s)
	assert.Contains(log, "\tSEND\t")
	assert.Contains(log, "\t7\t")
	assert.Contains(log, "alice@example.com")

	info := s.Info.Get("5551234")
	assert.True(info.CalledBefore())
}

func TestSendQfileRejectNotice(t *testing.T) {
	fax := faxtest.New()
	s := newTestSender(t, fax, "^555 RejectNotice \"No faxes to 555 numbers\"\n")
	qfilename := writeQfile(t, "jobid:8\nnumber:5551234\nfax:0::docq/none.tif\n")

	status, err := s.SendQfile(qfilename)
	require.NoError(t, err)
	assert.Equal(t, SendFailed, status)
	assert.Empty(t, fax.Dials)

	qf, err := OpenQfile(qfilename)
	require.NoError(t, err)
	defer qf.Close()
	assert.Equal(t, "No faxes to 555 numbers", qf.GetString("status"))
	assert.Equal(t, "1", qf.GetString("returned"))
	assert.Empty(t, xferfaxlog(t, s))
}

func TestSendQfileTimeOfDay(t *testing.T) {
	assert := assert.New(t)
	fax := faxtest.New()
	s := newTestSender(t, fax, "^555 TimeOfDay Wk0800-1700\n")
	// Monday evening
	now := time.Date(2026, 10, 19, 20, 0, 0, 0, time.Local)
	s.Now = func() time.Time { return now }
	qfilename := writeQfile(t, "jobid:9\nnumber:5551234\nfax:0::docq/none.tif\n")

	status, err := s.SendQfile(qfilename)
	require.NoError(t, err)
	assert.Equal(SendRetry, status)
	assert.Empty(fax.Dials)

	qf, err := OpenQfile(qfilename)
	require.NoError(t, err)
	defer qf.Close()
	tts, err := qf.GetInt("tts")
	require.NoError(t, err)
	assert.Equal(time.Date(2026, 10, 20, 8, 0, 0, 0, time.Local).Unix(), int64(tts))
	assert.Equal("Delayed by time-of-day restrictions", qf.GetString("status"))
}

func TestSendQfileDestControlLimits(t *testing.T) {
	fax := faxtest.New()
	fax.DialResults = []modem.CallStatus{modem.BUSY}
	s := newTestSender(t, fax, "^555 MaxDials 1\n")
	doc := writeDoc(t, s.Config, "doc.tif", 1728, 1)
	qfilename := writeQfile(t, "jobid:10\nnumber:5551234\nmaxdials:12\nfax:0::"+doc+"\n")

	status, err := s.SendQfile(qfilename)
	require.NoError(t, err)
	assert.Equal(t, SendFailed, status)

	qf, err := OpenQfile(qfilename)
	require.NoError(t, err)
	defer qf.Close()
	assert.Equal(t, "1", qf.GetString("maxdials"))
	assert.Equal(t, "Busy signal detected; too many attempts to dial", qf.GetString("status"))
	assert.True(t, strings.Contains(xferfaxlog(t, s), "too many attempts to dial"))
}

func TestSendQfileDestControlArgs(t *testing.T) {
	fax := faxtest.New()
	s := newTestSender(t, fax, "^555 send.LocalIdentifier \"+1 555 9999\"\n")
	req := &FaxRequest{Jobid: "11", Number: "5551234"}

	job := s.Prepare(req)
	require.NotNil(t, job)
	assert.Equal(t, "+1 555 9999", job.Config.Send.LocalIdentifier)
	assert.Empty(t, s.Config.Send.LocalIdentifier)
	assert.Equal(t, "5551234", job.Canon)
}

func TestSendQfileMaxSendPages(t *testing.T) {
	s := newTestSender(t, faxtest.New(), "^555 MaxSendPages 2\n")
	req := &FaxRequest{Jobid: "12", Number: "5551234", TotPages: 3}
	assert.Nil(t, s.Prepare(req))
	assert.Equal(t, SendFailed, req.Status)
	assert.Equal(t, "REJECT: Too many pages in submission; max 2", req.Notice)
}

func TestSendQfileMissing(t *testing.T) {
	s := newTestSender(t, faxtest.New(), "")
	status, err := s.SendQfile(filepath.Join(t.TempDir(), "q99"))
	assert.Error(t, err)
	assert.Equal(t, SendFailed, status)
}

func TestSendJobRejectsPagerRequests(t *testing.T) {
	s := newTestSender(t, faxtest.New(), "")
	qf := NewQmemory(map[string][]string{"jobid": {"13"}, "number": {"5551234"}, "page": {"0::12345"}})
	status, err := s.SendJob(qf)
	assert.Error(t, err)
	assert.Equal(t, SendFailed, status)
}
