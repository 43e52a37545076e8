package gofaxlib

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[hylafax]
spooldir = /tmp/spool

[modem]
device = /dev/ttyS1
deviceid = ttyS1
speed = 38400
maxsetupattempts = 4

[send]
maxdials = 5
requeuetts = 0 60 120

[recv]
maxrecvpages = 10
`

func TestLoadConfig(t *testing.T) {
	assert := assert.New(t)
	fn := filepath.Join(t.TempDir(), "gofax.conf")
	require.NoError(t, os.WriteFile(fn, []byte(testConfig), 0644))

	c, err := LoadConfig(fn)
	require.NoError(t, err)

	assert.Equal("/tmp/spool", c.Hylafax.Spooldir)
	assert.Equal("/dev/ttyS1", c.Modem.Device)
	assert.Equal(38400, c.Modem.Speed)
	assert.Equal(4, c.Modem.MaxSetupAttempts)
	assert.Equal(5, c.Send.MaxDials)
	assert.Equal(10, c.Recv.MaxRecvPages)

	// Defaults survive
	assert.Equal(3, c.Send.MaxTries)
	assert.Equal("/var/lock", c.Modem.LockDir)

	assert.Equal([]time.Duration{0, time.Minute, 2 * time.Minute}, c.RequeueDelays())
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.conf"))
	assert.Error(t, err)
}

func TestConfigSet(t *testing.T) {
	assert := assert.New(t)
	c := DefaultConfig()

	assert.NoError(c.Set("send.maxdials", "7"))
	assert.Equal(7, c.Send.MaxDials)

	assert.NoError(c.Set("recv.qualifytsi", "etc/tsi"))
	assert.Equal("etc/tsi", c.Recv.QualifyTSI)

	assert.Error(c.Set("maxdials", "7"))
	assert.Error(c.Set("send.nosuchkey", "1"))
}

func TestFileMode(t *testing.T) {
	assert.Equal(t, os.FileMode(0640), FileMode("0640", 0600))
	assert.Equal(t, os.FileMode(0600), FileMode("xyz", 0600))
}
