package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonicus/gofaxmodem/gofaxlib"
)

func TestConfigWatcherReloads(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "gofaxmodem.conf")
	require.NoError(t, os.WriteFile(filename, []byte("[recv]\nmaxrecvpages = 5\n"), 0644))

	loaded := make(chan *gofaxlib.Config, 4)
	cw, err := NewConfigWatcher(filename, func(cfg *gofaxlib.Config) { loaded <- cfg })
	require.NoError(t, err)
	cw.delay = 10 * time.Millisecond
	go cw.Run()
	defer cw.Close()

	// Other files in the directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(filename), "other"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filename, []byte("[recv]\nmaxrecvpages = 9\n"), 0644))

	select {
	case cfg := <-loaded:
		assert.Equal(t, 9, cfg.Recv.MaxRecvPages)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
}

func TestConfigWatcherKeepsBrokenConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "gofaxmodem.conf")
	require.NoError(t, os.WriteFile(filename, []byte("[recv]\n"), 0644))

	loaded := make(chan *gofaxlib.Config, 1)
	cw, err := NewConfigWatcher(filename, func(cfg *gofaxlib.Config) { loaded <- cfg })
	require.NoError(t, err)
	cw.delay = 10 * time.Millisecond
	go cw.Run()
	defer cw.Close()

	require.NoError(t, os.WriteFile(filename, []byte("[nosuchsection]\nfoo = 1\n"), 0644))
	select {
	case <-loaded:
		t.Fatal("broken configuration was loaded")
	case <-time.After(300 * time.Millisecond):
	}
}
