package faxrecv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/class2"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem/faxtest"
	"github.com/gonicus/gofaxmodem/gofaxlib/tiff"
)

func testConfig(t *testing.T) *gofaxlib.Config {
	cfg := gofaxlib.DefaultConfig()
	cfg.Hylafax.Spooldir = t.TempDir()
	cfg.Hylafax.Xferfaxlog = "etc/xferfaxlog"
	cfg.Recv.RecvFileMode = "0640"
	cfg.Recv.MaxRecvPages = 25
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Hylafax.Spooldir, "etc"), 0755))
	return cfg
}

func pages(t *testing.T, name string) int {
	f, err := tiff.Open(name)
	require.NoError(t, err)
	defer f.Close()
	return f.NumDirectories()
}

func TestRecvFax(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.CSI = "REMOTE FAX"
	fax.RecvParamsSet = class2.Default()
	fax.RecvPages = []faxtest.Page{
		faxtest.BlankPage(modem.PPM_MPS),
		faxtest.BlankPage(modem.PPM_EOM),
		faxtest.BlankPage(modem.PPM_EOP),
	}

	var seen int
	r := NewReceiver(cfg, fax, Options{DeviceID: "ttyS0", OnPage: func(*RecvInfo) { seen++ }})
	docs := r.RecvFax(modem.CallerID{Number: "5550100", Name: "ACME"})

	require.Len(t, docs, 2)
	assert.Equal(3, seen)
	assert.Equal(uint(2), docs[0].Pages)
	assert.Equal(uint(1), docs[1].Pages)
	assert.Empty(docs[0].Reason)
	assert.Equal("REMOTE FAX", docs[0].Sender)
	assert.NotEqual(docs[0].Filename, docs[1].Filename)
	assert.True(strings.HasSuffix(docs[0].Filename, "fax000000001.tif"))

	assert.Equal(2, pages(t, docs[0].Filename))
	fi, err := os.Stat(docs[0].Filename)
	require.NoError(t, err)
	assert.Equal(os.FileMode(0640), fi.Mode().Perm())

	f, err := tiff.Open(docs[1].Filename)
	require.NoError(t, err)
	d, err := f.Directory(0)
	require.NoError(t, err)
	assert.Equal("5550100", d.FaxCallID)
	assert.Equal("REMOTE FAX", d.ImageDescription)
	f.Close()

	log, err := os.ReadFile(cfg.SpoolPath(cfg.Hylafax.Xferfaxlog))
	require.NoError(t, err)
	assert.Equal(2, strings.Count(string(log), "\tRECV\t"))
}

func TestRecvMaxPages(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig(t)
	cfg.Recv.MaxRecvPages = 2
	fax := faxtest.New()
	for i := 0; i < 4; i++ {
		fax.RecvPages = append(fax.RecvPages, faxtest.BlankPage(modem.PPM_MPS))
	}

	docs := NewReceiver(cfg, fax, Options{}).RecvFax(modem.CallerID{})
	require.Len(t, docs, 1)
	assert.Equal("Maximum receive page count exceeded, job terminated", docs[0].Reason)
	assert.Equal(uint(2), docs[0].Pages)
	assert.True(fax.RecvAborted)
	// The pages received so far are kept
	assert.Equal(2, pages(t, docs[0].Filename))
}

func TestRecvInterrupt(t *testing.T) {
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.RecvPages = []faxtest.Page{faxtest.BlankPage(modem.PPM_PRI_MPS), faxtest.BlankPage(modem.PPM_EOP)}

	docs := NewReceiver(cfg, fax, Options{}).RecvFax(modem.CallerID{})
	require.Len(t, docs, 1)
	assert.Equal(t, "Procedure interrupt received, job terminated", docs[0].Reason)
	assert.Equal(t, uint(1), docs[0].Pages)
}

func TestRecvRejectTSI(t *testing.T) {
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.CSI = "+49 900 JUNK"
	fax.RecvPages = []faxtest.Page{faxtest.BlankPage(modem.PPM_EOP)}

	q := ParseQualifier(strings.NewReader("!^\\+49 900\n^\\+49\n"))
	docs := NewReceiver(cfg, fax, Options{QualifyTSI: q}).RecvFax(modem.CallerID{})
	require.Len(t, docs, 1)
	assert.Equal(t, "Permission denied (unacceptable client TSI)", docs[0].Reason)
	assert.Equal(t, uint(0), docs[0].Pages)
	_, err := os.Stat(docs[0].Filename)
	assert.True(t, os.IsNotExist(err), "empty file is removed")
}

func TestRecvBeginFails(t *testing.T) {
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.RecvBeginError = "Failure to receive silence"

	docs := NewReceiver(cfg, fax, Options{}).RecvFax(modem.CallerID{})
	require.Len(t, docs, 1)
	assert.Equal(t, "Failure to receive silence", docs[0].Reason)
	_, err := os.Stat(docs[0].Filename)
	assert.True(t, os.IsNotExist(err))
}

func TestRecvAbort(t *testing.T) {
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.RecvPages = []faxtest.Page{faxtest.BlankPage(modem.PPM_MPS), faxtest.BlankPage(modem.PPM_EOP)}

	var r *Receiver
	r = NewReceiver(cfg, fax, Options{OnPage: func(*RecvInfo) { r.Abort() }})
	docs := r.RecvFax(modem.CallerID{})
	require.Len(t, docs, 1)
	assert.Equal(t, uint(1), docs[0].Pages)
	assert.Equal(t, "Receive aborted due to operator intervention", docs[0].Reason)
}

func TestAllocRecvFileSkipsExisting(t *testing.T) {
	cfg := testConfig(t)
	dir := cfg.SpoolPath(cfg.Recv.RecvDir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fax000000001.tif"), nil, 0600))

	r := NewReceiver(cfg, faxtest.New(), Options{})
	f, name, err := r.AllocRecvFile()
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, filepath.Join(dir, "fax000000002.tif"), name)
}

func TestQualifier(t *testing.T) {
	assert := assert.New(t)
	q := ParseQualifier(strings.NewReader("# tsi\n!^\\+49 900\n^\\+49\n[bad\n"))
	assert.True(q.Accept("+49 421 12345"))
	assert.False(q.Accept("+49 900 666"))
	assert.False(q.Accept("+1 555"))

	var none *Qualifier
	assert.True(none.Accept("anything"))

	filename := filepath.Join(t.TempDir(), "tsi")
	require.NoError(t, os.WriteFile(filename, []byte(".*\n"), 0644))
	assert.True(NewQualifier(filename).Accept("x"))
}

func TestQualifierRecreated(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "tsi")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.WriteFile(filename, []byte("^\\+49\n"), 0644))
	require.NoError(t, os.Chtimes(filename, past, past))

	q := NewQualifier(filename)
	assert.True(t, q.Accept("+49 421 12345"))

	require.NoError(t, os.Remove(filename))
	assert.False(t, q.Accept("+49 421 12345"))

	// restored with an older modification time, as cp -p would do
	older := past.Add(-time.Hour)
	require.NoError(t, os.WriteFile(filename, []byte("^\\+49\n"), 0644))
	require.NoError(t, os.Chtimes(filename, older, older))
	assert.True(t, q.Accept("+49 421 12345"))
}

func TestRecvPoll(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig(t)
	fax := faxtest.New()
	fax.RecvPages = []faxtest.Page{faxtest.BlankPage(modem.PPM_EOP)}

	docs := NewReceiver(cfg, fax, Options{Jobid: "12"}).RecvPoll("", "1234", "secret")
	require.Len(t, docs, 1)
	assert.Equal(1, fax.Polled)
	assert.Equal(uint(1), docs[0].Pages)

	log, err := os.ReadFile(cfg.SpoolPath(cfg.Hylafax.Xferfaxlog))
	require.NoError(t, err)
	assert.Contains(string(log), "\tPOLL\t")

	fax = faxtest.New()
	fax.PollError = "Remote has no document to poll"
	docs = NewReceiver(cfg, fax, Options{}).RecvPoll("", "", "")
	require.Len(t, docs, 1)
	assert.Equal("Remote has no document to poll", docs[0].Reason)
}
