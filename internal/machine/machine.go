// Package machine is a simulated multi-core computer for the scheduler to run
// on. Every task is a goroutine; a core is a baton passed between them, so at
// most one task goroutine executes per core at any instant.
//
// Interrupts are pending flags per core. They are delivered by whichever task
// holds the core's baton, at the next point where it has interrupts enabled:
// when it unmasks them, calls Checkpoint, or halts in the idle loop.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"ksched/internal/mem"
	"ksched/internal/sched"
	"ksched/internal/spin"
)

const (
	keyMasked  spin.Key = 0
	keyEnabled spin.Key = 1
)

// ErrStopped is returned by calls made after Stop.
var ErrStopped = errors.New("machine: stopped")

// core is one simulated processor.
type core struct {
	idx     int
	enabled atomic.Bool // interrupt delivery

	ticks   atomic.Int64 // timer interrupts raised
	handled atomic.Int64 // timer interrupts serviced
	resched atomic.Bool
	calls   chan func(c *sched.CPU)
	poke    chan struct{} // wakes Halt

	switches atomic.Uint64
	irqs     atomic.Uint64

	// holder is the task whose goroutine owns the baton. Only that goroutine
	// reads or writes it.
	holder *sched.Task
}

func (co *core) pending() bool {
	return co.ticks.Load() != co.handled.Load() || co.resched.Load() || len(co.calls) > 0
}

func (co *core) wake() {
	select {
	case co.poke <- struct{}{}:
	default:
	}
}

// taskContext is the machine state behind Task.Context.
type taskContext struct {
	gate chan int // receives the index of the core handed over
}

func contextOf(t *sched.Task) *taskContext { return t.Context().(*taskContext) }

// Machine implements sched.Arch on goroutines.
type Machine struct {
	log   *slog.Logger
	k     *sched.Kernel
	cores []*core

	stop    chan struct{}
	stopped atomic.Bool
}

// New builds a machine with n cores. Nothing runs until Boot.
func New(n int, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		log:   logger.With("component", "machine"),
		cores: make([]*core, n),
		stop:  make(chan struct{}),
	}
	for i := range m.cores {
		m.cores[i] = &core{
			idx:   i,
			calls: make(chan func(*sched.CPU), 64),
			poke:  make(chan struct{}, 1),
		}
	}
	return m
}

// Boot brings every core online on k, in order.
func (m *Machine) Boot(k *sched.Kernel) error {
	if k.Installed() > len(m.cores) {
		return fmt.Errorf("machine: kernel wants %d cores, machine has %d", k.Installed(), len(m.cores))
	}
	m.k = k
	for i := 0; i < k.Installed(); i++ {
		if err := k.StartCPU(i); err != nil {
			return err
		}
	}
	m.log.Info("machine booted", "cpus", k.Installed())
	return nil
}

// Kernel returns the kernel passed to Boot.
func (m *Machine) Kernel() *sched.Kernel { return m.k }

// Stop halts the machine. Parked tasks are released and every running task
// stops at its next interrupt window.
func (m *Machine) Stop() {
	if m.stopped.CompareAndSwap(false, true) {
		close(m.stop)
		m.log.Info("machine stopped")
	}
}

func (m *Machine) NewContext(t *sched.Task, _ mem.Block, entry sched.Entry) {
	ctx := &taskContext{gate: make(chan int, 1)}
	t.SetContext(ctx)
	go m.trampoline(t, ctx, entry)
}

// trampoline is the first frame of every task. A task that returns from its
// entry exits.
func (m *Machine) trampoline(t *sched.Task, ctx *taskContext, entry sched.Entry) {
	select {
	case cpu := <-ctx.gate:
		m.cores[cpu].holder = t
		m.enable(cpu)
	case <-m.stop:
		return
	}
	entry(t)
	m.k.Exit(m.k.Here(t))
}

func (m *Machine) Launch(cpu int, t *sched.Task) {
	m.log.Debug("core launched", "cpu", cpu, "idle", t.ID())
	contextOf(t).gate <- cpu
}

func (m *Machine) Switch(cpu int, prev, next *sched.Task) {
	m.cores[cpu].switches.Add(1)
	contextOf(next).gate <- cpu
	select {
	case now := <-contextOf(prev).gate:
		m.cores[now].holder = prev
	case <-m.stop:
		runtime.Goexit()
	}
}

func (m *Machine) Exit(cpu int, _, next *sched.Task) {
	m.cores[cpu].switches.Add(1)
	contextOf(next).gate <- cpu
	runtime.Goexit()
}

func (m *Machine) Reschedule(cpu int) {
	co := m.cores[cpu]
	co.resched.Store(true)
	co.wake()
}

func (m *Machine) IntLock(cpu int) spin.Key {
	if m.cores[cpu].enabled.Swap(false) {
		return keyEnabled
	}
	return keyMasked
}

func (m *Machine) IntUnlock(cpu int, key spin.Key) {
	if key == keyEnabled {
		m.enable(cpu)
	}
}

func (m *Machine) Halt(cpu int) {
	co := m.cores[cpu]
	if !co.pending() {
		select {
		case <-co.poke:
		case <-m.stop:
			runtime.Goexit()
		}
	}
	m.service(cpu)
}

// Checkpoint is an interrupt window for task code that computes for a while
// without calling into the kernel. self must be the calling task.
func (m *Machine) Checkpoint(self *sched.Task) {
	cpu := self.CPU()
	if m.cores[cpu].enabled.Load() {
		m.service(cpu)
	}
}

// enable unmasks interrupts on cpu and delivers whatever is pending.
func (m *Machine) enable(cpu int) {
	m.cores[cpu].enabled.Store(true)
	m.service(cpu)
}

// service runs pending interrupt handlers on cpu in the baton holder's
// goroutine. A handler may switch the holder out; it resumes here, possibly
// on another core, and carries on delivering that core's interrupts.
func (m *Machine) service(cpu int) {
	for {
		if m.stopped.Load() {
			runtime.Goexit()
		}
		co := m.cores[cpu]
		if !co.pending() {
			return
		}
		self := co.holder
		c := m.k.CPU(cpu)

		co.enabled.Store(false)
		co.irqs.Add(1)
		c.EnterInterrupt()
		for drained := false; !drained; {
			select {
			case fn := <-co.calls:
				fn(c)
			default:
				drained = true
			}
		}
		if co.resched.Swap(false) {
			m.k.HandleReschedule(c)
		}
		if co.ticks.Load() != co.handled.Load() {
			m.k.Tick(c)
			co.handled.Add(1)
		}
		c.ExitInterrupt()

		cpu = self.CPU()
		m.cores[cpu].enabled.Store(true)
	}
}

// Tick raises one timer interrupt on every active core and waits until all of
// them have handled it.
func (m *Machine) Tick(ctx context.Context) error {
	active := m.k.Active()
	want := make([]int64, active)
	for i := 0; i < active; i++ {
		co := m.cores[i]
		want[i] = co.ticks.Add(1)
		co.wake()
	}
	for i := 0; i < active; i++ {
		if err := m.await(ctx, func() bool { return m.cores[i].handled.Load() >= want[i] }); err != nil {
			return fmt.Errorf("tick on cpu %d: %w", i, err)
		}
	}
	return nil
}

// Call runs fn on cpu in interrupt context and waits for it to finish. It is
// how code outside the machine, such as a test or a loader, reaches the
// kernel.
func (m *Machine) Call(ctx context.Context, cpu int, fn func(c *sched.CPU)) error {
	done := make(chan struct{})
	co := m.cores[cpu]
	select {
	case co.calls <- func(c *sched.CPU) { fn(c); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stop:
		return ErrStopped
	}
	co.wake()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stop:
		return ErrStopped
	}
}

// Start resumes t from core 0.
func (m *Machine) Start(ctx context.Context, t *sched.Task) error {
	return m.Call(ctx, 0, func(c *sched.CPU) { m.k.Resume(c, t) })
}

// Run ticks the machine every interval until ctx is done, or until limit
// ticks when limit > 0.
func (m *Machine) Run(ctx context.Context, interval time.Duration, limit int64) error {
	clock := NewClock(1)
	clock.Start(interval)
	defer clock.Stop()

	for n := int64(1); ; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return ErrStopped
		case <-clock.C():
		}
		if err := m.Tick(ctx); err != nil {
			return err
		}
		if limit > 0 && n >= limit {
			m.log.Debug("tick limit reached", "ticks", n, "late", clock.Missed())
			return nil
		}
	}
}

func (m *Machine) await(ctx context.Context, cond func() bool) error {
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return ErrStopped
		case <-time.After(20 * time.Microsecond):
		}
	}
	return nil
}

// Switches returns the number of context switches performed on cpu.
func (m *Machine) Switches(cpu int) uint64 { return m.cores[cpu].switches.Load() }

// Interrupts returns the number of interrupt entries on cpu.
func (m *Machine) Interrupts(cpu int) uint64 { return m.cores[cpu].irqs.Load() }
