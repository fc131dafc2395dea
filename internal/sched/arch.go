package sched

import (
	"ksched/internal/mem"
	"ksched/internal/spin"
)

// Arch is everything the scheduler needs from the machine underneath it.
// The scheduler decides which task runs; the Arch makes it so.
type Arch interface {
	// NewContext prepares t to begin executing entry on stack the first time
	// it is switched to. If entry returns, the Arch must call Kernel.Exit.
	NewContext(t *Task, stack mem.Block, entry Entry)

	// Launch starts t on a core that has never run anything (boot only).
	Launch(cpu int, t *Task)

	// Switch saves prev and resumes next on cpu. It is called in prev's
	// context with interrupts masked and returns once prev is resumed,
	// possibly on another core.
	Switch(cpu int, prev, next *Task)

	// Exit is Switch for a prev that will never run again. It does not return.
	Exit(cpu int, prev, next *Task)

	// Reschedule sends a reschedule interrupt to cpu. It does not wait.
	Reschedule(cpu int)

	// IntLock masks interrupt delivery on cpu and returns the previous state.
	IntLock(cpu int) spin.Key

	// IntUnlock restores the state returned by IntLock.
	IntUnlock(cpu int, key spin.Key)

	// Halt waits on cpu until an interrupt has been delivered.
	Halt(cpu int)
}

// StackAllocator provides kernel stacks. It is called from task context
// only, never from an interrupt handler.
type StackAllocator interface {
	Alloc() (mem.Block, error)
	Free(b mem.Block)
}
