package reactor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimersFireInOrder(t *testing.T) {
	d := New()
	var order []int

	d.Post(func() {
		d.StartTimer(30*time.Millisecond, func() { order = append(order, 3) })
		d.StartTimer(10*time.Millisecond, func() { order = append(order, 1) })
		id := d.StartTimer(20*time.Millisecond, func() { order = append(order, 2) })
		d.StopTimer(id)
		d.StartTimer(40*time.Millisecond, d.Stop)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, []int{1, 3}, order)
	assert.Equal(t, 0, d.Pending())
}

func TestTimerRearmedFromCallback(t *testing.T) {
	d := New()
	n := 0
	var tick func()
	tick = func() {
		n++
		if n == 3 {
			d.Stop()
			return
		}
		d.StartTimer(time.Millisecond, tick)
	}
	d.Post(func() { d.StartTimer(time.Millisecond, tick) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, 3, n)
}

func TestRunContextCancel(t *testing.T) {
	d := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, d.Run(ctx))
}

func TestWatchReadable(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	d := New()
	var got []byte
	cancelWatch := d.WatchReadable(int(r.Fd()), func() {
		buf := make([]byte, 16)
		n, _ := r.Read(buf)
		got = append(got, buf[:n]...)
		if len(got) >= 4 {
			d.Stop()
		}
	})
	defer cancelWatch()

	go func() {
		w.Write([]byte("RI"))
		time.Sleep(10 * time.Millisecond)
		w.Write([]byte("NG"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, "RING", string(got))
}
