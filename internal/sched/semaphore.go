package sched

import (
	"errors"

	"ksched/internal/spin"
)

// WaitForever disables the timeout of Semaphore.Take.
const WaitForever = -1

var (
	ErrTimeout     = errors.New("sched: timed out")
	ErrDestroyed   = errors.New("sched: semaphore destroyed")
	ErrUnavailable = errors.New("sched: semaphore unavailable")
)

// Semaphore is a counting gate. Waiters are served in arrival order, and a
// waiter woken by Give receives the unit directly.
type Semaphore struct {
	k         *Kernel
	lock      spin.Lock
	limit     int
	count     int
	pend      taskList
	destroyed bool
}

// NewSemaphore creates a semaphore holding count of at most limit units.
func (k *Kernel) NewSemaphore(limit, count int) *Semaphore {
	if limit < 1 || count < 0 || count > limit {
		k.fatal(nil, "invalid semaphore bounds", "limit", limit, "count", count)
	}
	return &Semaphore{
		k:     k,
		limit: limit,
		count: count,
		pend:  newTaskList(schedLink),
	}
}

// Take acquires one unit, blocking the running task on c while none is
// available. timeout is in ticks; WaitForever (or any negative value) waits
// without limit and 0 fails at once with ErrTimeout instead of blocking.
func (s *Semaphore) Take(c *CPU, timeout int) error {
	t := s.k.running(c, "semaphore take")

	key := c.IntLock()
	s.lock.TakeMasked()
	if err := s.fast(timeout); err != errWouldBlock {
		s.lock.GiveMasked()
		c.IntUnlock(key)
		return err
	}

	t.lock.TakeMasked()
	s.k.MarkBlocked(t, Pend)
	s.k.tasks.pushTail(&s.pend, t)
	t.queue = &s.pend
	t.ret = nil
	if timeout > 0 && !s.k.wdogs.Start(c, &t.wd, timeout, semTimeout, s, t, nil, nil) {
		s.k.fatal(c, "task watchdog already armed", "task", t.id)
	}
	t.lock.GiveMasked()
	s.lock.GiveMasked()

	c = s.k.schedule(c)
	if timeout > 0 {
		s.k.wdogs.Cancel(c, &t.wd)
	}

	t.lock.TakeMasked()
	err := t.ret
	t.ret = nil
	t.lock.GiveMasked()
	c.IntUnlock(key)
	return err
}

// errWouldBlock is fast's answer when the caller has to wait.
var errWouldBlock = errors.New("would block")

// fast is the non-blocking part of Take. Caller holds the lock.
func (s *Semaphore) fast(timeout int) error {
	switch {
	case s.destroyed:
		return ErrDestroyed
	case s.count > 0:
		s.count--
		return nil
	case timeout == 0:
		return ErrTimeout
	}
	return errWouldBlock
}

// TryTake acquires one unit if one is available, never blocking.
func (s *Semaphore) TryTake(c *CPU) error {
	key := s.lock.Take(c)
	defer s.lock.Give(c, key)
	switch {
	case s.destroyed:
		return ErrDestroyed
	case s.count == 0:
		return ErrUnavailable
	}
	s.count--
	return nil
}

// Give releases one unit. The oldest waiter, if any, receives it; otherwise
// the count grows, saturating at the limit. Give may be called from an
// interrupt handler.
func (s *Semaphore) Give(c *CPU) error {
	key := s.lock.Take(c)
	if s.destroyed {
		s.lock.Give(c, key)
		return ErrDestroyed
	}
	t := s.k.tasks.popHead(&s.pend)
	if t == nil {
		if s.count < s.limit {
			s.count++
		}
		s.lock.Give(c, key)
		return nil
	}

	t.lock.TakeMasked()
	cpu := s.release(t, nil)
	t.lock.GiveMasked()
	s.lock.GiveMasked()

	c = s.k.notify(c, cpu)
	c.IntUnlock(key)
	return nil
}

// Destroy wakes every waiter with ErrDestroyed. Every later call on s fails
// the same way.
func (s *Semaphore) Destroy(c *CPU) {
	var remote CPUSet
	local := false

	key := s.lock.Take(c)
	if s.destroyed {
		s.lock.Give(c, key)
		return
	}
	s.destroyed = true
	woken := 0
	for t := s.k.tasks.popHead(&s.pend); t != nil; t = s.k.tasks.popHead(&s.pend) {
		t.lock.TakeMasked()
		cpu := s.release(t, ErrDestroyed)
		t.lock.GiveMasked()
		woken++
		switch {
		case cpu == c.idx:
			local = true
		case cpu >= 0:
			remote |= CPUs(cpu)
		}
	}
	s.lock.GiveMasked()

	if woken > 0 {
		s.k.log.Debug("semaphore destroyed", "cpu", c.idx, "woken", woken)
	}
	// the local switch goes last: it may move the caller elsewhere
	for set := remote; set != 0; set &= set - 1 {
		s.k.notify(c, bitIndex(set))
	}
	if local {
		c = s.k.notify(c, c.idx)
	}
	c.IntUnlock(key)
}

// Count returns the units currently available.
func (s *Semaphore) Count(c *CPU) int {
	key := s.lock.Take(c)
	defer s.lock.Give(c, key)
	return s.count
}

// Waiters returns the number of tasks pending on s.
func (s *Semaphore) Waiters(c *CPU) int {
	key := s.lock.Take(c)
	defer s.lock.Give(c, key)
	return s.pend.len()
}

// Limit returns the maximum count.
func (s *Semaphore) Limit() int { return s.limit }

// release readies a waiter already unlinked from the pend queue. Caller holds
// the semaphore lock and t's lock. It returns the core t was queued on.
func (s *Semaphore) release(t *Task, ret error) int {
	t.queue = nil
	t.ret = ret
	_, cpu := s.k.unblock(t, Pend)
	return cpu
}

// semTimeout is the Take watchdog callback. It only wins if the task is still
// waiting on this semaphore; Give and Destroy unlink under the same lock.
func semTimeout(c *CPU, a1, a2, _, _ any) {
	s, t := a1.(*Semaphore), a2.(*Task)

	key := s.lock.Take(c)
	t.lock.TakeMasked()
	if t.queue != &s.pend {
		t.lock.GiveMasked()
		s.lock.Give(c, key)
		return
	}
	s.k.tasks.remove(&s.pend, t)
	cpu := s.release(t, ErrTimeout)
	t.lock.GiveMasked()
	s.lock.GiveMasked()

	c = s.k.notify(c, cpu)
	c.IntUnlock(key)
}
