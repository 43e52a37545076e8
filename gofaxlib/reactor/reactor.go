// This file is part of the GOfax.IP project - https://github.com/gonicus/gofaxip
// Copyright (C) 2014 GONICUS GmbH, Germany - http://www.gonicus.de
//
// This program is free software; you can redistribute it and/or
// modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2
// of the License.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program; if not, write to the Free Software
// Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package reactor implements the single threaded event dispatcher a modem
// server runs on. Timers, posted events and descriptor readiness are
// delivered as callbacks on the goroutine calling Run, one at a time.
package reactor

import (
	"container/heap"
	"context"
	"time"

	"golang.org/x/sys/unix"
)

// TimerID identifies a pending timer
type TimerID uint64

type titem struct {
	id  TimerID
	due time.Time
	fn  func()
	idx int
}

type theap []*titem

func (h theap) Len() int { return len(h) }
func (h theap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].id < h[j].id
	}
	return h[i].due.Before(h[j].due)
}
func (h theap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].idx = i; h[j].idx = j }
func (h *theap) Push(x interface{}) { it := x.(*titem); it.idx = len(*h); *h = append(*h, it) }
func (h *theap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	it.idx = -1
	return it
}

// Dispatcher owns the timers and the event queue. Timer methods may only
// be called from callbacks, other goroutines use Post.
type Dispatcher struct {
	post chan func()
	quit chan struct{}

	// owned by the Run goroutine
	h      theap
	idx    map[TimerID]*titem
	lastID TimerID
	t      *time.Timer
	next   time.Time
}

// New returns an idle dispatcher
func New() *Dispatcher {
	d := &Dispatcher{
		post: make(chan func(), 64),
		quit: make(chan struct{}),
		idx:  make(map[TimerID]*titem),
	}
	heap.Init(&d.h)
	return d
}

// Post queues fn to be run on the dispatcher goroutine. It is safe to
// call from any goroutine.
func (d *Dispatcher) Post(fn func()) {
	select {
	case d.post <- fn:
	case <-d.quit:
	}
}

// Stop makes Run return after the current callback
func (d *Dispatcher) Stop() {
	select {
	case <-d.quit:
	default:
		close(d.quit)
	}
}

// Done is closed when the dispatcher is stopped
func (d *Dispatcher) Done() <-chan struct{} {
	return d.quit
}

// StartTimer arranges for fn to be called after delay
func (d *Dispatcher) StartTimer(delay time.Duration, fn func()) TimerID {
	d.lastID++
	it := &titem{id: d.lastID, due: time.Now().Add(delay), fn: fn}
	heap.Push(&d.h, it)
	d.idx[it.id] = it
	return it.id
}

// StopTimer cancels a pending timer. Unknown or fired timers are ignored.
func (d *Dispatcher) StopTimer(id TimerID) {
	if it, ok := d.idx[id]; ok {
		heap.Remove(&d.h, it.idx)
		delete(d.idx, id)
	}
}

// Pending returns the number of armed timers
func (d *Dispatcher) Pending() int {
	return len(d.h)
}

func (d *Dispatcher) arm() {
	if len(d.h) == 0 {
		if d.t != nil {
			d.t.Stop()
			d.t = nil
		}
		return
	}
	due := d.h[0].due
	if d.t != nil && due.Equal(d.next) {
		return
	}
	if d.t != nil {
		d.t.Stop()
	}
	d.next = due
	d.t = time.NewTimer(time.Until(due))
}

func (d *Dispatcher) fire() {
	now := time.Now()
	for len(d.h) > 0 && !d.h[0].due.After(now) {
		it := heap.Pop(&d.h).(*titem)
		delete(d.idx, it.id)
		it.fn()
	}
}

// Run dispatches callbacks until Stop is called or ctx is done
func (d *Dispatcher) Run(ctx context.Context) error {
	defer func() {
		if d.t != nil {
			d.t.Stop()
			d.t = nil
		}
	}()
	for {
		d.arm()
		var timerC <-chan time.Time
		if d.t != nil {
			timerC = d.t.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.quit:
			return nil
		case fn := <-d.post:
			fn()
		case <-timerC:
			d.t = nil
			d.fire()
		}
	}
}

// WatchReadable calls fn on the dispatcher goroutine whenever fd has
// data to read. The descriptor is not polled again until fn returned.
// The returned function cancels the watch.
func (d *Dispatcher) WatchReadable(fd int, fn func()) (cancel func()) {
	stop := make(chan struct{})
	go func() {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			select {
			case <-stop:
				return
			case <-d.quit:
				return
			default:
			}
			n, err := unix.Poll(fds, 200)
			if err == unix.EINTR || n == 0 {
				continue
			}
			if err != nil || fds[0].Revents&(unix.POLLNVAL|unix.POLLERR) != 0 {
				return
			}
			done := make(chan struct{})
			d.Post(func() {
				defer close(done)
				select {
				case <-stop:
				default:
					fn()
				}
			})
			select {
			case <-done:
			case <-stop:
				return
			case <-d.quit:
				return
			}
		}
	}()
	var stopped bool
	return func() {
		if !stopped {
			stopped = true
			close(stop)
		}
	}
}
