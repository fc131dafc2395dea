// Package tick implements the global watchdog queue: one-shot callbacks that
// fire after a number of timer ticks.
//
// Pending watchdogs live on a single list ordered by deadline. Each node stores
// only its distance, in ticks, from the node in front of it, so advancing the
// clock touches nothing but the head. One core advances the queue per tick.
package tick

import (
	"sync/atomic"

	"ksched/internal/spin"
)

// Proc is a watchdog callback. c is the core that advanced the queue; the four
// arguments are whatever was passed to Start. Procs run with interrupts masked
// but without the queue lock, so they may start or cancel other watchdogs.
type Proc[C spin.Masker] func(c C, a1, a2, a3, a4 any)

// Watchdog is a one-shot deferred callback. The zero value is disarmed and
// ready for Start. A Watchdog must not be copied once it has been armed.
type Watchdog[C spin.Masker] struct {
	prev, next *Watchdog[C]
	ticks      int // distance from the previous node
	armed      atomic.Bool
	proc       Proc[C]
	a1, a2     any
	a3, a4     any
}

// Armed reports whether wd is currently queued.
func (wd *Watchdog[C]) Armed() bool { return wd.armed.Load() }

// Queue is the delta-ordered list of armed watchdogs.
type Queue[C spin.Masker] struct {
	lock    spin.Lock
	head    *Watchdog[C]
	tail    *Watchdog[C]
	size    int
	running *Watchdog[C] // callback currently executing, if any
	ticks   atomic.Int64
}

// Start arms wd to call proc after ticks advances. ticks <= 0 fires on the next
// advance. Start returns false, changing nothing, if wd is already armed.
func (q *Queue[C]) Start(c C, wd *Watchdog[C], ticks int, proc Proc[C], a1, a2, a3, a4 any) bool {
	if ticks < 1 {
		ticks = 1
	}

	key := q.lock.Take(c)
	if wd.armed.Load() {
		q.lock.Give(c, key)
		return false
	}

	wd.proc = proc
	wd.a1, wd.a2, wd.a3, wd.a4 = a1, a2, a3, a4

	// walk past every node that fires no later than us, consuming their deltas
	node := q.head
	for node != nil && node.ticks <= ticks {
		ticks -= node.ticks
		node = node.next
	}
	wd.ticks = ticks
	if node != nil {
		node.ticks -= ticks
	}
	q.insertBefore(wd, node)
	wd.armed.Store(true)

	q.lock.Give(c, key)
	return true
}

// Cancel disarms wd. If wd's callback is executing on another core, Cancel
// waits for it to finish, so once Cancel returns the callback is neither
// running nor going to run. Cancelling a disarmed watchdog is a no-op.
// Cancel must not be called from wd's own callback.
func (q *Queue[C]) Cancel(c C, wd *Watchdog[C]) {
	key := q.lock.Take(c)
	for q.running == wd {
		q.lock.Give(c, key)
		key = q.lock.Take(c)
	}
	if wd.armed.Load() {
		if wd.next != nil {
			wd.next.ticks += wd.ticks
		}
		q.remove(wd)
		wd.armed.Store(false)
	}
	q.lock.Give(c, key)
}

// Advance moves the clock forward one tick and runs every watchdog whose
// deadline has been reached, in deadline order. It must be called by exactly
// one core per tick, with interrupts masked.
func (q *Queue[C]) Advance(c C) {
	q.ticks.Add(1)

	q.lock.TakeMasked()
	if q.head != nil {
		q.head.ticks--
	}
	for q.head != nil && q.head.ticks <= 0 {
		wd := q.head
		q.remove(wd)
		// a head that overshot hands its surplus to the node behind it
		if q.head != nil {
			q.head.ticks += wd.ticks
		}
		wd.armed.Store(false)
		q.running = wd
		proc, a1, a2, a3, a4 := wd.proc, wd.a1, wd.a2, wd.a3, wd.a4
		q.lock.GiveMasked()

		proc(c, a1, a2, a3, a4)

		q.lock.TakeMasked()
		q.running = nil
	}
	q.lock.GiveMasked()
}

// Ticks returns the number of advances so far.
func (q *Queue[C]) Ticks() int64 { return q.ticks.Load() }

// Len returns the number of armed watchdogs.
func (q *Queue[C]) Len(c C) int {
	key := q.lock.Take(c)
	n := q.size
	q.lock.Give(c, key)
	return n
}

// Remaining returns the ticks left before wd fires, or -1 if it is disarmed.
func (q *Queue[C]) Remaining(c C, wd *Watchdog[C]) int {
	key := q.lock.Take(c)
	defer q.lock.Give(c, key)
	if !wd.armed.Load() {
		return -1
	}
	sum := 0
	for node := q.head; node != nil; node = node.next {
		sum += node.ticks
		if node == wd {
			break
		}
	}
	return sum
}

func (q *Queue[C]) insertBefore(wd, node *Watchdog[C]) {
	wd.next = node
	if node == nil {
		wd.prev = q.tail
		if q.tail != nil {
			q.tail.next = wd
		} else {
			q.head = wd
		}
		q.tail = wd
	} else {
		wd.prev = node.prev
		if node.prev != nil {
			node.prev.next = wd
		} else {
			q.head = wd
		}
		node.prev = wd
	}
	q.size++
}

func (q *Queue[C]) remove(wd *Watchdog[C]) {
	if wd.prev != nil {
		wd.prev.next = wd.next
	} else {
		q.head = wd.next
	}
	if wd.next != nil {
		wd.next.prev = wd.prev
	} else {
		q.tail = wd.prev
	}
	wd.prev, wd.next = nil, nil
	q.size--
}
