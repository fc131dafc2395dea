// internal/sched/schedulerEvent.go

package sched

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusEnqueue
	StatusDispatch
	StatusPreempt
	StatusFinish
	StatusTick
	StatusBlock
	StatusReschedule
	StatusCreate
)

// StatusEvent is emitted on every state transition and context switch, and
// once per tick by the timekeeper core.
type StatusEvent struct {
	Tick     int64
	CPU      int
	Kind     StatusKind
	TaskID   TaskID
	Priority int
	State    State
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusEnqueue:
		return "Enqueued"
	case StatusDispatch:
		return "Dispatch"
	case StatusPreempt:
		return "Preempt"
	case StatusFinish:
		return "Finish"
	case StatusTick:
		return "Tick"
	case StatusBlock:
		return "Block"
	case StatusReschedule:
		return "Reschedule"
	case StatusCreate:
		return "Create"
	default:
		return "Unknown"
	}
}

// emit sends ev without blocking; scheduler paths cannot wait for a reader.
func (k *Kernel) emit(kind StatusKind, cpu int, t *Task) {
	if k.events == nil {
		return
	}
	ev := StatusEvent{
		Tick: k.wdogs.Ticks(),
		CPU:  cpu,
		Kind: kind,
	}
	if t != nil {
		ev.TaskID = t.id
		ev.Priority = t.priority
		ev.State = t.State()
	} else {
		ev.TaskID = NoTask
	}
	select {
	case k.events <- ev:
	default:
		k.dropped.Add(1)
	}
}

// Events exposes the read-only event stream, or nil when disabled.
func (k *Kernel) Events() <-chan StatusEvent { return k.events }

// Dropped returns how many events were discarded because the stream was full.
func (k *Kernel) Dropped() uint64 { return k.dropped.Load() }
