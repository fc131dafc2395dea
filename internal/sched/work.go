package sched

import (
	"runtime"

	"github.com/emirpasic/gods/queues/circularbuffer"

	"ksched/internal/spin"
)

// workQueue holds tasks that have exited and still need their resources
// released by someone not running on their stack.
type workQueue struct {
	lock spin.Raw
	ring *circularbuffer.Queue // of *Task
}

func newWorkQueue(size int) *workQueue {
	return &workQueue{ring: circularbuffer.New(size)}
}

// push enqueues t unless the ring is full. circularbuffer overwrites the
// oldest entry when full, so fullness is checked first.
func (w *workQueue) push(t *Task) bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.ring.Full() {
		return false
	}
	w.ring.Enqueue(t)
	return true
}

func (w *workQueue) pop() *Task {
	w.lock.Lock()
	defer w.lock.Unlock()
	v, ok := w.ring.Dequeue()
	if !ok {
		return nil
	}
	return v.(*Task)
}

func (w *workQueue) len() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.ring.Size()
}

// RunWork releases every exited task whose core has switched away from it.
// The idle loop calls it; it never blocks.
func (k *Kernel) RunWork(c *CPU) {
	for n := k.work.len(); n > 0; n-- {
		t := k.work.pop()
		if t == nil {
			return
		}
		if k.cleanup(c, t) {
			continue
		}
		// still on its core; try again on the next pass, or wait for the
		// core to finish switching away if the ring filled up meanwhile
		if !k.work.push(t) {
			for !k.cleanup(c, t) {
				runtime.Gosched()
			}
		}
	}
}

// PendingWork returns the number of exited tasks awaiting cleanup.
func (k *Kernel) PendingWork() int { return k.work.len() }
