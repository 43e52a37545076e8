package gofaxlib

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonicus/gofaxmodem/gofaxlib/class2"
)

func TestXFRecordFormat(t *testing.T) {
	assert := assert.New(t)
	ts := time.Date(2026, 10, 19, 14, 5, 0, 0, time.UTC)
	params := class2.Params{VR: class2.VR_FINE, BR: class2.BR_14400}

	r := &XFRecord{
		Verb: VerbSend, Ts: ts, Commid: "00000042", Modem: "ttyS0", Jobid: "7",
		Jobtag: "tag", Sender: "alice", Destnum: "5551234", RemoteID: "+1 555 1234",
		Params: params.Encode(), Pages: 2, Jobtime: 95 * time.Second, Conntime: 61 * time.Second,
	}
	fields := strings.Split(r.Format(), "\t")
	require.Len(t, fields, 19)
	assert.Equal("10/19/26 14:05", fields[0])
	assert.Equal("SEND", fields[1])
	assert.Equal("7", fields[4])
	assert.Equal(`"5551234"`, fields[7])
	assert.Equal("2", fields[10])
	assert.Equal("00:01:35", fields[11])
	assert.Equal("00:01:01", fields[12])

	r.Verb = VerbRecv
	r.Filename = "/var/spool/hylafax/recvq/fax000000001.tif"
	r.Cidnum = "5550000"
	fields = strings.Split(r.Format(), "\t")
	assert.Equal("RECV", fields[1])
	assert.Equal("fax000000001.tif", fields[4])
	assert.Equal("fax", fields[6])
	assert.Equal(`"5550000"`, fields[15])

	r.Verb = VerbPage
	fields = strings.Split(r.Format(), "\t")
	assert.Equal("PAGE", fields[1])
	assert.Equal("0", fields[9])
}

func TestXFRecordSave(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "xferfaxlog")
	r := &XFRecord{Verb: VerbPoll, Ts: time.Now()}
	require.NoError(t, r.Save(filename))
	require.NoError(t, r.Save(filename))
	require.NoError(t, r.Save(""))

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\tPOLL\t"))
}

func TestFaxResult(t *testing.T) {
	assert := assert.New(t)
	res := NewFaxResult(nil)
	assert.Zero(res.ConnectTime())

	res.Connected()
	res.Negotiate("REMOTE", class2.Default())
	res.AddPage(PageResult{Width: 1728, Length: 1100})
	res.AddPage(PageResult{Width: 1728, Length: 1143})
	res.Finish(true, "")

	assert.Equal(uint(2), res.TransferredPages)
	assert.Equal(uint(2), res.PageResults[1].Page)

	var r XFRecord
	r.SetResult(res)
	assert.Equal("REMOTE", r.RemoteID)
	assert.Equal(uint(2), r.Pages)
	assert.Equal(class2.Default().Encode(), r.Params)
	assert.NotEmpty(r.Dcs)
}
