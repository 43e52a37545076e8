package pagesend

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
)

// central plays a paging central on the far end of a pipe. Replies are
// consumed in order, the last one repeats.
type central struct {
	conn net.Conn

	// IXO
	silent       bool
	loginReplies []string
	blockReplies []string
	// UCP, the error code of a NAK or "" for ACK
	ucpReplies []string

	mu       sync.Mutex
	logins   []string
	blocks   [][]byte
	messages []string
	logouts  int
}

func pipeLine(t *testing.T) (*modem.Transport, net.Conn) {
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return modem.NewTransport(a), b
}

func next(replies []string, n int) string {
	if len(replies) == 0 {
		return ""
	}
	if n >= len(replies) {
		n = len(replies) - 1
	}
	return replies[n]
}

func (c *central) write(s string) {
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	c.conn.Write([]byte(s))
}

func (c *central) serveIXO() {
	r := bufio.NewReader(c.conn)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		switch b {
		case modem.CR:
			if !c.silent {
				c.write("ID=")
			}
		case modem.ESC:
			line, err := r.ReadString(modem.CR)
			if err != nil {
				return
			}
			c.mu.Lock()
			c.logins = append(c.logins, strings.TrimSuffix(line, "\r"))
			reply := next(c.loginReplies, len(c.logins)-1)
			c.mu.Unlock()
			if reply == "" {
				reply = "110 1.8\r\x06\r\x1b[p\r"
			}
			c.write(reply)
		case modem.STX:
			block, err := r.ReadBytes(modem.ETX)
			if err != nil {
				return
			}
			tail := make([]byte, 4)
			for i := range tail {
				if tail[i], err = r.ReadByte(); err != nil {
					return
				}
			}
			c.mu.Lock()
			c.blocks = append(c.blocks, append(append([]byte{modem.STX}, block...), tail...))
			reply := next(c.blockReplies, len(c.blocks)-1)
			c.mu.Unlock()
			if reply == "" {
				reply = "\x06\r"
			}
			c.write(reply)
		case modem.EOT:
			r.ReadByte()
			c.mu.Lock()
			c.logouts++
			c.mu.Unlock()
			c.write("\x1b\x04\r")
		}
	}
}

func ucpResponse(trn string, ack bool, code string) string {
	var body string
	if ack {
		body = "/R/01/A//"
	} else {
		body = "/R/01/N/" + code + "//"
	}
	length := len(trn) + 1 + 5 + len(body) + 2
	body = trn + "/" + strconv.FormatInt(int64(100000+length), 10)[1:] + body
	return "\x02" + body + ucpChecksum(body) + "\x03"
}

func (c *central) serveUCP() {
	r := bufio.NewReader(c.conn)
	for {
		if _, err := r.ReadBytes(modem.STX); err != nil {
			return
		}
		frame, err := r.ReadBytes(modem.ETX)
		if err != nil {
			return
		}
		msg := string(frame[:len(frame)-1])
		c.mu.Lock()
		c.messages = append(c.messages, msg)
		code := next(c.ucpReplies, len(c.messages)-1)
		c.mu.Unlock()
		c.write(ucpResponse(msg[:2], code == "", code))
	}
}

func (c *central) get() (logins []string, blocks [][]byte, messages []string, logouts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logins, c.blocks, c.messages, c.logouts
}
