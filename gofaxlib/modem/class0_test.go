package modem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gonicus/gofaxmodem/gofaxlib"
)

func testConfig() *gofaxlib.Config {
	cfg := gofaxlib.DefaultConfig()
	cfg.Modem.ResetCmds = "ATZ;ATE0V1"
	cfg.Modem.DialTimeout = 2
	cfg.Modem.AnswerTimeout = 2
	cfg.Modem.ChangePriority = false
	return cfg
}

func TestParseResult(t *testing.T) {
	assert.Equal(t, ResultConnect, ParseResult("CONNECT 2400/ARQ"))
	assert.Equal(t, ResultNoDialtone, ParseResult("NO DIAL TONE"))
	assert.Equal(t, ResultFax, ParseResult("+FCO"))
	assert.Equal(t, ResultOther, ParseResult("NMBR = 123"))
}

func TestClass0Reset(t *testing.T) {
	tr, far := pipeTransport(t)
	cmds := fakeModem(far, nil)

	m := NewClass0(tr, testConfig())
	assert.True(t, m.Reset())
	assert.Equal(t, "ATZ", <-cmds)
	assert.Equal(t, "ATE0V1", <-cmds)
	assert.True(t, m.Poke())
}

func TestClass0ResetFails(t *testing.T) {
	tr, far := pipeTransport(t)
	fakeModem(far, map[string]string{"ATZ": "ERROR"})

	m := NewClass0(tr, testConfig())
	assert.False(t, m.Reset())
}

func TestClass0Dial(t *testing.T) {
	for _, tc := range []struct {
		resp   string
		status CallStatus
	}{
		{"CONNECT 1200", OK},
		{"BUSY", BUSY},
		{"NO CARRIER", NOCARRIER},
		{"NO DIALTONE", NODIALTONE},
		{"NO ANSWER", NOANSWER},
		{"ERROR", ERROR},
		{"+FCO", NOFCON},
	} {
		t.Run(tc.resp, func(t *testing.T) {
			tr, far := pipeTransport(t)
			fakeModem(far, map[string]string{"ATDT5551234": tc.resp})
			m := NewClass0(tr, testConfig())
			status, msg := m.Dial("5551234")
			assert.Equal(t, tc.status, status)
			if status != OK {
				assert.Equal(t, status.String(), msg)
			}
		})
	}
}

func TestClass0DialTimeout(t *testing.T) {
	tr, far := pipeTransport(t)
	fakeModem(far, map[string]string{"ATDT1": ""})
	cfg := testConfig()
	cfg.Modem.DialTimeout = 1
	m := NewClass0(tr, cfg)
	status, _ := m.Dial("1")
	assert.Equal(t, NOANSWER, status)
}

func TestClass0RingsAndAnswer(t *testing.T) {
	assert := assert.New(t)
	tr, far := pipeTransport(t)
	m := NewClass0(tr, testConfig())

	go far.Write([]byte("\r\nRING\r\n\r\nDATE = 0101\r\nNMBR = 5551234\r\nNAME = ACME\r\n\r\nRING\r\n"))
	cid, ok := m.WaitForRings(2)
	assert.True(ok)
	assert.Equal("5551234", cid.Number)
	assert.Equal("ACME", cid.Name)

	fakeModem(far, map[string]string{"ATA": "+FCO"})
	ct, _ := m.Answer(AnswerAny)
	assert.Equal(CallFax, ct)
}

func TestClass0Hangup(t *testing.T) {
	tr, far := pipeTransport(t)
	cmds := fakeModem(far, nil)
	m := NewClass0(tr, testConfig())
	m.Guard = time.Millisecond
	m.Hangup()
	assert.Equal(t, "ATH0", <-cmds)
}
