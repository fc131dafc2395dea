package sched

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"ksched/internal/mem"
	"ksched/internal/spin"
)

// fakeArch records what the scheduler asks of the machine without running
// anything. Switch returns at once, so every test drives the kernel from a
// single goroutine.
type fakeArch struct {
	mu       sync.Mutex
	masked   [MaxCPUs]bool
	switches []switchRec
	resched  []int
	launched []TaskID
	contexts int
}

type switchRec struct {
	CPU        int
	Prev, Next TaskID
}

func (a *fakeArch) NewContext(t *Task, _ mem.Block, _ Entry) {
	a.mu.Lock()
	a.contexts++
	a.mu.Unlock()
}

func (a *fakeArch) Launch(_ int, t *Task) {
	a.mu.Lock()
	a.launched = append(a.launched, t.ID())
	a.mu.Unlock()
}

func (a *fakeArch) Switch(cpu int, prev, next *Task) {
	a.mu.Lock()
	a.switches = append(a.switches, switchRec{cpu, prev.ID(), next.ID()})
	a.mu.Unlock()
}

func (a *fakeArch) Exit(cpu int, prev, next *Task) {
	a.Switch(cpu, prev, next)
}

func (a *fakeArch) Reschedule(cpu int) {
	a.mu.Lock()
	a.resched = append(a.resched, cpu)
	a.mu.Unlock()
}

func (a *fakeArch) IntLock(cpu int) spin.Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	var key spin.Key
	if !a.masked[cpu] {
		key = 1
	}
	a.masked[cpu] = true
	return key
}

func (a *fakeArch) IntUnlock(cpu int, key spin.Key) {
	a.mu.Lock()
	a.masked[cpu] = key == 0
	a.mu.Unlock()
}

func (a *fakeArch) Halt(int) {}

func (a *fakeArch) lastSwitch() (switchRec, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.switches) == 0 {
		return switchRec{}, false
	}
	return a.switches[len(a.switches)-1], true
}

func (a *fakeArch) switchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.switches)
}

func (a *fakeArch) reschedules() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.resched...)
}

// newTestKernel boots a kernel with every core online on a fakeArch.
func newTestKernel(t *testing.T, cpus int) (*Kernel, *fakeArch) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CPUs = cpus
	cfg.MaxTasks = 16 + cpus
	cfg.StackBlocks = 16 + cpus
	cfg.EventBuffer = 0

	pool, err := mem.NewPool(0x100, cfg.StackOrder, cfg.StackBlocks)
	require.NoError(t, err)

	arch := &fakeArch{}
	k, err := New(cfg, arch, pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	for i := 0; i < cpus; i++ {
		require.NoError(t, k.StartCPU(i))
	}
	return k, arch
}

func nop(*Task) {}

// spawn creates and resumes a task from core c.
func spawn(t *testing.T, k *Kernel, c *CPU, pri int, aff CPUSet) *Task {
	t.Helper()
	task, err := k.CreateTask(pri, aff, nop)
	require.NoError(t, err)
	k.Resume(c, task)
	return task
}

// interrupt runs handler on c the way the machine delivers an interrupt.
func interrupt(c *CPU, handler func(*CPU)) {
	key := c.IntLock()
	c.EnterInterrupt()
	handler(c)
	c.ExitInterrupt()
	c.IntUnlock(key)
}

func consistent(c *CPU) bool {
	key := c.rq.lock.Take(c)
	defer c.rq.lock.Give(c, key)
	return c.rq.consistent() && c.next == c.rq.head(c.k.tasks)
}
