package modem

import "io"

const rcvBufSize = 1024

// rcvBuf buffers bytes read from the modem.
//
// Invariant: 0 <= pos <= cnt <= len(data). Bytes data[pos:cnt] have been
// read from the port but not yet consumed. sawBlockEnd is set once a
// DLE ETX sequence was consumed by the bit reader and stays set until
// reset.
type rcvBuf struct {
	data        [rcvBufSize]byte
	pos         int
	cnt         int
	sawBlockEnd bool
}

func (b *rcvBuf) available() int {
	return b.cnt - b.pos
}

// next returns the next buffered byte. The caller checks available.
func (b *rcvBuf) next() byte {
	c := b.data[b.pos]
	b.pos++
	return c
}

// fill reads at most one chunk from r into the empty buffer
func (b *rcvBuf) fill(r io.Reader) error {
	b.pos, b.cnt = 0, 0
	n, err := r.Read(b.data[:])
	if n > 0 {
		b.cnt = n
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}

// discard drops all buffered bytes
func (b *rcvBuf) discard() {
	b.pos, b.cnt = 0, 0
}
