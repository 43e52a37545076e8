package modem

import (
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestTTYConfigure(t *testing.T) {
	ptmx, tts, err := pty.Open()
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	defer ptmx.Close()
	ttyName := tts.Name()
	tts.Close()

	tty, err := OpenTTY(ttyName)
	require.NoError(t, err)
	defer tty.Close()

	require.NoError(t, tty.Configure(LineSettings{Speed: 19200, Parity: ParityNone, FlowControl: FlowRtsCts}))

	tio, err := unix.IoctlGetTermios(tty.Fd(), unix.TCGETS)
	require.NoError(t, err)
	assert.Zero(t, tio.Lflag&unix.ICANON)
	assert.Zero(t, tio.Lflag&unix.ECHO)
	assert.Equal(t, uint32(unix.CS8), tio.Cflag&unix.CSIZE)

	assert.Error(t, tty.Configure(LineSettings{Speed: 12345}))

	// Raw line: bytes pass through untouched and reads time out
	tr := NewTransport(tty)
	_, err = ptmx.Write([]byte("OK\r\n"))
	require.NoError(t, err)
	line, ok := tr.GetLine(time.Second)
	assert.True(t, ok)
	assert.Equal(t, "OK", line)
	assert.Equal(t, EOF, tr.GetChar(50*time.Millisecond))

	assert.NoError(t, tty.FlushIO())
}
