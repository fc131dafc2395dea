package sched

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrNoTask is returned when the task table is full.
var ErrNoTask = errors.New("sched: task table full")

// CreateTask makes a new suspended task. It runs once Resume is called.
// priority must be in [MinPriority, MaxPriority]; the idle band is reserved.
// It allocates a stack, so it is not for interrupt handlers.
func (k *Kernel) CreateTask(priority int, affinity CPUSet, entry Entry) (*Task, error) {
	if priority < MinPriority || priority > MaxPriority {
		k.fatal(nil, "invalid task priority", "priority", priority)
	}
	if entry == nil {
		k.fatal(nil, "task without entry")
	}
	t, err := k.newTask(priority, affinity, entry)
	if err != nil {
		k.log.Warn("task creation failed", "priority", priority, "err", err)
		return nil, err
	}
	k.emit(StatusCreate, t.CPU(), t)
	return t, nil
}

func (k *Kernel) newTask(priority int, affinity CPUSet, entry Entry) (*Task, error) {
	t := k.tasks.alloc()
	if t == nil {
		return nil, ErrNoTask
	}
	stack, err := k.stacks.Alloc()
	if err != nil {
		k.tasks.release(t)
		return nil, fmt.Errorf("kernel stack: %w", err)
	}

	t.setState(Suspend)
	t.priority = priority
	t.affinity = affinity
	t.timeslice = k.cfg.SliceTicks
	t.remaining = k.cfg.SliceTicks
	t.stack = stack
	k.arch.NewContext(t, stack, entry)
	return t, nil
}

// Resume clears t's suspension. It may switch to t at once if t lands on c
// with a more urgent priority than the caller.
func (k *Kernel) Resume(c *CPU, t *Task) {
	key := c.IntLock()
	t.lock.TakeMasked()
	_, cpu := k.unblock(t, Suspend)
	t.lock.GiveMasked()
	c = k.notify(c, cpu)
	c.IntUnlock(key)
}

// Suspend stops the running task on c until someone resumes it.
func (k *Kernel) Suspend(c *CPU) {
	t := k.running(c, "suspend")
	key := c.IntLock()
	t.lock.TakeMasked()
	k.MarkBlocked(t, Suspend)
	t.lock.GiveMasked()
	c = k.schedule(c)
	c.IntUnlock(key)
}

// Delay blocks the running task on c for ticks timer ticks.
func (k *Kernel) Delay(c *CPU, ticks int) {
	t := k.running(c, "delay")
	key := c.IntLock()
	t.lock.TakeMasked()
	k.MarkBlocked(t, Delay)
	if !k.wdogs.Start(c, &t.wd, ticks, wakeup, k, t, nil, nil) {
		k.fatal(c, "task watchdog already armed", "task", t.id)
	}
	t.lock.GiveMasked()

	c = k.schedule(c)
	k.wdogs.Cancel(c, &t.wd)
	c.IntUnlock(key)
}

// wakeup is the Delay watchdog callback.
func wakeup(c *CPU, a1, a2, _, _ any) {
	a1.(*Kernel).Wakeup(c, a2.(*Task))
}

// Wakeup ends t's delay early. It has no effect on a task that is not delayed.
func (k *Kernel) Wakeup(c *CPU, t *Task) {
	key := c.IntLock()
	t.lock.TakeMasked()
	_, cpu := k.unblock(t, Delay)
	t.lock.GiveMasked()
	c = k.notify(c, cpu)
	c.IntUnlock(key)
}

// Exit ends the running task on c. It does not return; the task's stack and
// slot are released later by RunWork on another task.
func (k *Kernel) Exit(c *CPU) {
	t := k.running(c, "exit")
	c.IntLock()
	t.lock.TakeMasked()
	k.MarkBlocked(t, Zombie)
	t.lock.GiveMasked()

	for !k.work.push(t) {
		// ring full: clean others up ourselves before leaving
		k.RunWork(c)
		runtime.Gosched()
	}
	k.schedule(c)
	k.fatal(c, "exited task resumed", "task", t.id)
}

// running returns the task executing on c, refusing the call from an
// interrupt handler or the idle task.
func (k *Kernel) running(c *CPU, op string) *Task {
	if c.InInterrupt() {
		k.fatal(c, op+" inside interrupt")
	}
	t := c.prev
	if t.Idle() {
		k.fatal(c, op+" on idle task")
	}
	return t
}

// cleanup releases an exited task once no core is running it.
func (k *Kernel) cleanup(c *CPU, t *Task) bool {
	if !t.State().Has(Zombie) {
		k.fatal(c, "cleanup of live task", "task", t.id, "state", t.State().String())
	}
	home := k.cpus[t.CPU()]
	key := home.rq.lock.Take(c)
	onCore := home.prev == t
	home.rq.lock.Give(c, key)
	if onCore {
		return false
	}

	k.stacks.Free(t.stack)
	if p := t.process; p != nil {
		p.detach(t)
	}
	k.emit(StatusFinish, home.idx, t)
	k.log.Debug("task released", "task", t.id, "tag", t.tag)
	k.tasks.release(t)
	return true
}

// Busy spins, without giving up the core voluntarily, until ticks timer
// ticks have passed. Interrupts are briefly unmasked on every turn so the
// tick that ends the wait can arrive, and the task may be preempted there.
func (k *Kernel) Busy(c *CPU, ticks int) {
	t := k.running(c, "busy")
	start := k.Ticks()
	for k.Ticks()-start < int64(ticks) {
		c = k.Here(t)
		key := c.IntLock()
		c.IntUnlock(key)
		runtime.Gosched()
	}
}
