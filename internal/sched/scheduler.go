// internal/sched/scheduler.go

package sched

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"ksched/internal/tick"
)

// timekeeper is the core that advances the global watchdog queue.
const timekeeper = 0

// Kernel is the scheduling core: per-core ready queues, the task table, the
// watchdog queue and the policy built on them.
type Kernel struct {
	cfg    Config
	arch   Arch
	stacks StackAllocator
	log    *slog.Logger

	cpus   []*CPU
	active atomic.Int32 // cores 0..active-1 are running
	tasks  *table
	loads  loadBalancer
	wdogs  tick.Queue[*CPU]
	work   *workQueue
	procs  atomic.Int32

	events  chan StatusEvent
	dropped atomic.Uint64
}

// New creates a kernel for cfg.CPUs cores. No core runs until StartCPU.
func New(cfg Config, arch Arch, stacks StackAllocator, logger *slog.Logger) (*Kernel, error) {
	if arch == nil {
		return nil, errors.New("sched: nil arch")
	}
	if stacks == nil {
		return nil, errors.New("sched: nil stack allocator")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.clamp()

	k := &Kernel{
		cfg:    cfg,
		arch:   arch,
		stacks: stacks,
		log:    logger.With("component", "sched"),
		cpus:   make([]*CPU, cfg.CPUs),
		tasks:  newTable(cfg.MaxTasks),
		work:   newWorkQueue(cfg.WorkQueue),
	}
	for i := range k.cpus {
		c := &CPU{k: k, idx: i}
		c.rq.init()
		k.cpus[i] = c
	}
	if cfg.EventBuffer > 0 {
		k.events = make(chan StatusEvent, cfg.EventBuffer)
	}

	k.log.Info("kernel initialised",
		"cpus", cfg.CPUs,
		"max_tasks", cfg.MaxTasks,
		"slice_ticks", cfg.SliceTicks)
	return k, nil
}

// Config returns the effective configuration.
func (k *Kernel) Config() Config { return k.cfg }

// Installed returns the number of cores the kernel was built for.
func (k *Kernel) Installed() int { return len(k.cpus) }

// Active returns the number of running cores.
func (k *Kernel) Active() int { return int(k.active.Load()) }

// CPU returns core i.
func (k *Kernel) CPU(i int) *CPU { return k.cpus[i] }

// Here returns the core t is running on. Only meaningful when t is running,
// typically called by t itself after something that may have switched.
func (k *Kernel) Here(t *Task) *CPU { return k.cpus[t.CPU()] }

// Watchdogs returns the global watchdog queue, for drivers that need their
// own timeouts.
func (k *Kernel) Watchdogs() *tick.Queue[*CPU] { return &k.wdogs }

// Ticks returns the global tick count.
func (k *Kernel) Ticks() int64 { return k.wdogs.Ticks() }

// FreeTasks returns the number of unused task slots.
func (k *Kernel) FreeTasks() int { return k.tasks.available() }

// StartCPU brings core i online with its idle task. Cores start in order.
func (k *Kernel) StartCPU(i int) error {
	if i >= len(k.cpus) {
		return fmt.Errorf("start cpu %d: only %d installed", i, len(k.cpus))
	}
	if want := k.Active(); i != want {
		return fmt.Errorf("start cpu %d: cores start in order, next is %d", i, want)
	}

	idle, err := k.newTask(PriorityIdle, CPUs(i), k.idleLoop)
	if err != nil {
		return fmt.Errorf("start cpu %d: %w", i, err)
	}
	idle.cpu.Store(int32(i))
	idle.tag = fmt.Sprintf("idle/%d", i)

	// The idle task is queued directly: it is runnable before the core is
	// active, so nothing can race a placement onto an empty queue.
	c := k.cpus[i]
	key := c.rq.lock.Take(c)
	idle.setState(Ready)
	c.rq.push(k.tasks, idle)
	k.loads.enqueued(c, idle)
	c.prev, c.next, c.idle = idle, idle, idle
	c.rq.lock.Give(c, key)

	k.active.Add(1)
	k.log.Info("cpu online", "cpu", i, "idle", idle.id)
	k.arch.Launch(i, idle)
	return nil
}

func (k *Kernel) idleLoop(self *Task) {
	for {
		c := k.Here(self)
		k.RunWork(c)
		k.arch.Halt(c.idx)
	}
}

// schedule switches c to its chosen next task if that is not the one running.
// It returns the core the caller is running on afterwards, which differs from
// c if the caller was migrated while switched out.
//
// Callers that blocked the running task keep interrupts masked from the state
// change up to here, or an interrupt could switch them out early and leave c
// stale.
func (k *Kernel) schedule(c *CPU) *CPU {
	key := c.IntLock()
	c.rq.lock.TakeMasked()
	prev, next := c.prev, c.next
	if prev == next {
		c.rq.lock.GiveMasked()
		c.IntUnlock(key)
		return c
	}
	c.prev = next
	// an exited prev may be recycled as soon as the lock drops
	exiting := prev.State().Has(Zombie)
	// NOTE: the lock is released before switching; next may change again at once
	c.rq.lock.GiveMasked()

	if next.Idle() {
		k.emit(StatusIdle, c.idx, next)
	} else {
		k.emit(StatusDispatch, c.idx, next)
	}

	if exiting {
		k.arch.Exit(c.idx, prev, next)
		k.fatal(c, "arch returned from Exit")
	}
	k.arch.Switch(c.idx, prev, next)

	c = k.Here(prev)
	c.IntUnlock(key)
	return c
}

// notify makes core cpu re-evaluate its next task after a wakeup placed a
// task there. Inside an interrupt the local switch is left to ExitInterrupt.
// Like schedule it returns the caller's core afterwards.
func (k *Kernel) notify(c *CPU, cpu int) *CPU {
	if cpu < 0 {
		return c
	}
	if cpu != c.idx {
		k.emit(StatusReschedule, cpu, nil)
		k.arch.Reschedule(cpu)
		return c
	}
	if c.InInterrupt() {
		return c
	}
	return k.schedule(c)
}

// rotate moves the running task behind its priority peers and picks the new
// head as next. Interrupts are masked by the caller.
func (k *Kernel) rotate(c *CPU) {
	c.rq.lock.TakeMasked()
	if t := c.prev; t.State().Runnable() {
		c.rq.rotate(k.tasks, t)
	}
	c.next = c.rq.head(k.tasks)
	c.rq.lock.GiveMasked()
}

// Yield gives up the rest of the running task's turn to any other runnable
// task of the same priority.
func (k *Kernel) Yield(c *CPU) {
	if c.InInterrupt() {
		k.fatal(c, "yield inside interrupt")
	}
	key := c.IntLock()
	k.rotate(c)
	c = k.schedule(c)
	c.IntUnlock(key)
}

// Tick is the timer interrupt handler. Every core calls it once per tick
// between EnterInterrupt and ExitInterrupt; the timekeeper core also advances
// the watchdog queue.
func (k *Kernel) Tick(c *CPU) {
	if c.idx == timekeeper {
		k.wdogs.Advance(c)
		k.emit(StatusTick, c.idx, nil)
	}

	t := c.prev
	if t == nil || t.Idle() {
		return
	}
	t.remaining--
	if t.remaining <= 0 {
		t.remaining = t.timeslice
		k.rotate(c)
		k.emit(StatusPreempt, c.idx, t)
	}
}

// HandleReschedule is the reschedule interrupt handler. The switch itself
// happens in ExitInterrupt.
func (k *Kernel) HandleReschedule(c *CPU) {}
