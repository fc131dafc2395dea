// Package job turns a list of steps into a task body. Each step is one kernel
// interaction: computing, sleeping, yielding, or exchanging units and bytes
// through semaphores and pipes.
package job

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"ksched/internal/pipe"
	"ksched/internal/sched"
)

// Op is the kind of a step.
type Op int

const (
	OpSpin  Op = iota // busy for Ticks timer ticks
	OpWork            // Loops iterations of pure computation
	OpSleep           // delay for Ticks
	OpYield
	OpTake // take Sem, waiting at most Timeout ticks
	OpGive
	OpWrite // write Data to Pipe
	OpRead  // read up to Size bytes from Pipe
)

var opNames = [...]string{"spin", "work", "sleep", "yield", "take", "give", "write", "read"}

func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return fmt.Sprintf("Op(%d)", int(o))
	}
	return opNames[o]
}

// ParseOp is the inverse of Op.String.
func ParseOp(s string) (Op, error) {
	for i, name := range opNames {
		if name == s {
			return Op(i), nil
		}
	}
	return 0, fmt.Errorf("unknown op %q", s)
}

// Step is one instruction of a Program.
type Step struct {
	Op      Op
	Ticks   int
	Loops   int
	Timeout int
	Sem     *sched.Semaphore
	Pipe    *pipe.Pipe
	Data    []byte
	Size    int
}

// Checkpointer opens an interrupt window for a task that computes without
// calling the kernel. *machine.Machine satisfies it.
type Checkpointer interface {
	Checkpoint(self *sched.Task)
}

// Stats counts what the tasks of a program did. It is shared by every
// instance of the program.
type Stats struct {
	Runs      atomic.Int64 // completed passes over the steps
	Taken     atomic.Int64
	TimedOut  atomic.Int64
	Given     atomic.Int64
	Written   atomic.Int64 // bytes
	Read      atomic.Int64 // bytes
	Destroyed atomic.Int64 // instances stopped by a destroyed semaphore or closed pipe
}

// Program is a named step list run Repeat times (at least once).
type Program struct {
	Name   string
	Steps  []Step
	Repeat int
	Stats  *Stats
}

// Entry returns the task body running p on kernel k.
func (p *Program) Entry(k *sched.Kernel, cp Checkpointer, log *slog.Logger) sched.Entry {
	if p.Stats == nil {
		p.Stats = &Stats{}
	}
	repeat := max(p.Repeat, 1)
	return func(self *sched.Task) {
		for r := 0; r < repeat; r++ {
			for i := range p.Steps {
				err := p.Steps[i].run(k, cp, self, p.Stats)
				if errors.Is(err, sched.ErrDestroyed) {
					p.Stats.Destroyed.Add(1)
					log.Debug("program stopped", "program", p.Name, "task", self.ID(), "step", i)
					return
				}
				if err != nil {
					log.Warn("step failed", "program", p.Name, "task", self.ID(), "step", i, "op", p.Steps[i].Op.String(), "err", err)
					return
				}
			}
			p.Stats.Runs.Add(1)
		}
	}
}

func (s *Step) run(k *sched.Kernel, cp Checkpointer, self *sched.Task, st *Stats) error {
	c := k.Here(self)
	switch s.Op {
	case OpSpin:
		k.Busy(c, s.Ticks)
	case OpWork:
		for i := 0; i < s.Loops; i++ {
			cp.Checkpoint(self)
		}
	case OpSleep:
		k.Delay(c, s.Ticks)
	case OpYield:
		k.Yield(c)
	case OpTake:
		switch err := s.Sem.Take(c, s.Timeout); {
		case err == nil:
			st.Taken.Add(1)
		case errors.Is(err, sched.ErrTimeout):
			st.TimedOut.Add(1)
		default:
			return err
		}
	case OpGive:
		if err := s.Sem.Give(c); err != nil {
			return err
		}
		st.Given.Add(1)
	case OpWrite:
		n, err := s.Pipe.Write(c, s.Data)
		st.Written.Add(int64(n))
		return err
	case OpRead:
		buf := make([]byte, max(s.Size, 1))
		n, err := s.Pipe.Read(c, buf)
		st.Read.Add(int64(n))
		return err
	default:
		return fmt.Errorf("unknown op %v", s.Op)
	}
	return nil
}
