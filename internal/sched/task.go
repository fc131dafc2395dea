package sched

import (
	"sync/atomic"

	"ksched/internal/mem"
	"ksched/internal/spin"
	"ksched/internal/tick"
)

// TaskID identifies a task by its slot in the task table.
type TaskID int32

// NoTask is the nil link.
const NoTask TaskID = -1

// Priority bands. Lower numbers are more urgent.
const (
	PriorityCount  = 32
	PriorityIdle   = 31 // exactly one idle task per core
	PriorityNormal = 30 // default for ordinary tasks
	MinPriority    = 0
	MaxPriority    = PriorityNormal // highest value an ordinary task may use
)

// Entry is the code a task runs. self is the task itself; the core it is
// running on can be recovered with Kernel.Here.
type Entry func(self *Task)

// Task represents one thread of control.
type Task struct {
	id        TaskID
	lock      spin.Lock
	state     atomic.Uint32 // written under lock, read anywhere
	ret       error         // why the last block ended, under lock
	priority  int
	affinity  CPUSet
	cpu       atomic.Int32 // home core, written under that core's ready lock
	timeslice int
	remaining int // touched only by the core running the task
	links     [linkKinds]link
	queue     *taskList // ready or pend queue the sched link is on
	process   *Process
	stack     mem.Block
	wd        tick.Watchdog[*CPU] // delay and pend timeout
	context   any                 // owned by the Arch
	tag       string
}

// ID returns the task's table slot.
func (t *Task) ID() TaskID { return t.id }

// Priority returns the task's fixed priority.
func (t *Task) Priority() int { return t.priority }

// Affinity returns the set of cores the task may run on; empty means any.
func (t *Task) Affinity() CPUSet { return t.affinity }

// CPU returns the task's home core.
func (t *Task) CPU() int { return int(t.cpu.Load()) }

// State returns the current reason bits.
func (t *Task) State() State { return State(t.state.Load()) }

// Timeslice returns the round-robin budget in ticks.
func (t *Task) Timeslice() int { return t.timeslice }

// Remaining returns what is left of the current timeslice.
// Only meaningful on the core running the task.
func (t *Task) Remaining() int { return t.remaining }

// Stack returns the kernel stack block.
func (t *Task) Stack() mem.Block { return t.stack }

// Process returns the owning process, or nil for kernel tasks.
func (t *Task) Process() *Process { return t.process }

// Context returns the architecture state attached by Arch.NewContext.
func (t *Task) Context() any { return t.context }

// SetContext attaches architecture state. Only the Arch calls this.
func (t *Task) SetContext(ctx any) { t.context = ctx }

// Tag returns the free-form label set with SetTag.
func (t *Task) Tag() string { return t.tag }

// SetTag labels the task for traces. Call it before the first Resume.
func (t *Task) SetTag(tag string) { t.tag = tag }

// Idle reports whether t is a core's idle task.
func (t *Task) Idle() bool { return t.priority == PriorityIdle }

func (t *Task) setState(s State) { t.state.Store(uint32(s)) }

// reset prepares a recycled slot for reuse.
func (t *Task) reset() {
	id := t.id
	*t = Task{id: id}
	for i := range t.links {
		t.links[i] = link{prev: NoTask, next: NoTask}
	}
}
