package sched

import (
	"ksched/internal/spin"
)

// CPU is one core's scheduler state. Code running on a core obtains its CPU
// once, from Kernel.CPU or Kernel.Here, and passes it down explicitly.
type CPU struct {
	k   *Kernel
	idx int
	rq  readyQueue

	// prev is the task running on this core, next the task that should be.
	// Both are written under rq.lock. prev is only written by this core,
	// which may therefore read it without the lock.
	prev *Task
	next *Task
	idle *Task

	irqNest int // interrupt handler depth, touched only by this core
}

// Index returns the core number.
func (c *CPU) Index() int { return c.idx }

// IntLock masks interrupts on this core. It makes CPU a spin.Masker.
func (c *CPU) IntLock() spin.Key { return c.k.arch.IntLock(c.idx) }

// IntUnlock restores the interrupt state saved by IntLock.
func (c *CPU) IntUnlock(key spin.Key) { c.k.arch.IntUnlock(c.idx, key) }

// Current returns the task running on this core. prev is only written by
// this core, so the read needs no lock here; other goroutines must ask the
// core itself, from code it executes.
func (c *CPU) Current() *Task { return c.prev }

// Next returns the task this core should be running. It differs from Current
// while a switch is pending.
func (c *CPU) Next() *Task {
	key := c.rq.lock.Take(c)
	n := c.next
	c.rq.lock.Give(c, key)
	return n
}

// IdleTask returns this core's idle task.
func (c *CPU) IdleTask() *Task { return c.idle }

// Load returns the sum of timeslices of tasks queued at priority pri.
// The value is read without the ready lock and may be stale.
func (c *CPU) Load(pri int) int { return int(c.rq.load[pri].Load()) }

// Runnable returns the number of tasks on the ready queue, including the
// running one and the idle task.
func (c *CPU) Runnable() int {
	key := c.rq.lock.Take(c)
	n := c.rq.runnable
	c.rq.lock.Give(c, key)
	return n
}

// Bitmap returns the non-empty priority mask.
func (c *CPU) Bitmap() uint32 {
	key := c.rq.lock.Take(c)
	b := c.rq.bitmap
	c.rq.lock.Give(c, key)
	return b
}

// InInterrupt reports whether this core is executing an interrupt handler.
func (c *CPU) InInterrupt() bool { return c.irqNest > 0 }

// EnterInterrupt is called by the Arch on interrupt entry, before the handler.
func (c *CPU) EnterInterrupt() { c.irqNest++ }

// ExitInterrupt is called by the Arch after the handler. Leaving the outermost
// handler performs any switch the handler asked for.
func (c *CPU) ExitInterrupt() {
	c.irqNest--
	if c.irqNest < 0 {
		c.k.fatal(c, "unbalanced interrupt exit", "cpu", c.idx)
	}
	if c.irqNest == 0 {
		c.k.schedule(c)
	}
}
