package sched

import (
	"math/bits"
	"sync/atomic"

	"ksched/internal/spin"
)

// readyQueue is one core's set of runnable tasks: a FIFO per priority and a
// bitmap whose bit p is set iff queue p is non-empty.
type readyQueue struct {
	lock     spin.Lock
	bitmap   uint32
	tasks    [PriorityCount]taskList
	load     [PriorityCount]atomic.Int32 // sum of timeslices, see loadBalancer
	runnable int
}

func (rq *readyQueue) init() {
	for p := range rq.tasks {
		rq.tasks[p] = newTaskList(schedLink)
	}
}

// highest returns the most urgent non-empty priority.
func (rq *readyQueue) highest() int {
	return bits.TrailingZeros32(rq.bitmap)
}

func (rq *readyQueue) push(tb *table, t *Task) {
	q := &rq.tasks[t.priority]
	tb.pushTail(q, t)
	t.queue = q
	rq.bitmap |= 1 << uint(t.priority)
	rq.runnable++
}

func (rq *readyQueue) remove(tb *table, t *Task) {
	q := &rq.tasks[t.priority]
	tb.remove(q, t)
	t.queue = nil
	if q.empty() {
		rq.bitmap &^= 1 << uint(t.priority)
	}
	rq.runnable--
}

// head returns the task that should run next, or nil if the queue is empty.
func (rq *readyQueue) head(tb *table) *Task {
	if rq.bitmap == 0 {
		return nil
	}
	return tb.first(&rq.tasks[rq.highest()])
}

// rotate moves t, the head of its priority, to the tail.
func (rq *readyQueue) rotate(tb *table, t *Task) bool {
	q := &rq.tasks[t.priority]
	if t.queue != q || q.head != t.id {
		return false
	}
	if q.n > 1 {
		tb.remove(q, t)
		tb.pushTail(q, t)
	}
	return true
}

// consistent checks the bitmap against the queues. Callers hold the lock.
func (rq *readyQueue) consistent() bool {
	n := 0
	for p := range rq.tasks {
		if (rq.bitmap&(1<<uint(p)) != 0) == rq.tasks[p].empty() {
			return false
		}
		n += rq.tasks[p].len()
	}
	return n == rq.runnable
}
