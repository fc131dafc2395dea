// Package trace renders the kernel's event stream: one line per event on a
// console, an optional CSV log, and per-task totals.
package trace

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"ksched/internal/sched"
)

// Totals is what the recorder counted for one task.
type Totals struct {
	TaskID     sched.TaskID
	Priority   int
	Enqueued   int
	Dispatched int
	Preempted  int
	Blocked    int
	Finished   bool
}

// Recorder consumes StatusEvents.
type Recorder struct {
	out    io.Writer // nil for no console output
	csv    *csv.Writer
	totals *treemap.Map // TaskID -> *Totals, ordered by id
	ticks  int64
}

// NewRecorder creates a recorder printing to out, which may be nil.
func NewRecorder(out io.Writer) *Recorder {
	return &Recorder{
		out: out,
		totals: treemap.NewWith(func(a, b any) int {
			return utils.Int32Comparator(int32(a.(sched.TaskID)), int32(b.(sched.TaskID)))
		}),
	}
}

// EnableCSV writes a header to w and then one record per event.
func (r *Recorder) EnableCSV(w io.Writer) error {
	r.csv = csv.NewWriter(w)
	if err := r.csv.Write([]string{"tick", "cpu", "event", "task_id", "priority", "state"}); err != nil {
		return err
	}
	r.csv.Flush()
	return r.csv.Error()
}

// Run handles events until ctx is done or the stream closes, then drains
// whatever is still buffered.
func (r *Recorder) Run(ctx context.Context, events <-chan sched.StatusEvent) error {
	defer r.drain(events)
	for {
		select {
		case <-ctx.Done():
			return r.flush()
		case ev, ok := <-events:
			if !ok {
				return r.flush()
			}
			r.Handle(ev)
		}
	}
}

func (r *Recorder) drain(events <-chan sched.StatusEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Handle(ev)
		default:
			_ = r.flush()
			return
		}
	}
}

func (r *Recorder) flush() error {
	if r.csv == nil {
		return nil
	}
	r.csv.Flush()
	return r.csv.Error()
}

// Handle accounts for one event and renders it.
func (r *Recorder) Handle(ev sched.StatusEvent) {
	if ev.Kind == sched.StatusTick {
		// ticks are frequent; count them but keep the console readable
		r.ticks = ev.Tick
		r.record(ev)
		return
	}

	var tot *Totals
	if ev.TaskID != sched.NoTask {
		tot = r.task(ev)
		switch ev.Kind {
		case sched.StatusEnqueue:
			tot.Enqueued++
		case sched.StatusDispatch, sched.StatusIdle:
			tot.Dispatched++
		case sched.StatusPreempt:
			tot.Preempted++
		case sched.StatusBlock:
			tot.Blocked++
		case sched.StatusFinish:
			tot.Finished = true
		}
	}

	if r.out != nil {
		dispatched := 0
		if tot != nil {
			dispatched = tot.Dispatched
		}
		fmt.Fprintf(r.out, "Tick: %07d CPU %02d [%s] => Task: %04d, pri=%02d, state=%-13s dispatched=%04d\n",
			ev.Tick, ev.CPU, center(ev.Kind.String(), 12), ev.TaskID, ev.Priority, ev.State, dispatched)
	}
	r.record(ev)
}

func (r *Recorder) record(ev sched.StatusEvent) {
	if r.csv == nil {
		return
	}
	_ = r.csv.Write([]string{
		strconv.FormatInt(ev.Tick, 10),
		strconv.Itoa(ev.CPU),
		ev.Kind.String(),
		strconv.FormatInt(int64(ev.TaskID), 10),
		strconv.Itoa(ev.Priority),
		ev.State.String(),
	})
}

func (r *Recorder) task(ev sched.StatusEvent) *Totals {
	if v, ok := r.totals.Get(ev.TaskID); ok {
		tot := v.(*Totals)
		if tot.Finished && ev.Kind == sched.StatusCreate {
			// slot reused by a new task
			tot = &Totals{TaskID: ev.TaskID}
			r.totals.Put(ev.TaskID, tot)
		}
		tot.Priority = ev.Priority
		return tot
	}
	tot := &Totals{TaskID: ev.TaskID, Priority: ev.Priority}
	r.totals.Put(ev.TaskID, tot)
	return tot
}

// Ticks returns the last tick seen.
func (r *Recorder) Ticks() int64 { return r.ticks }

// Totals returns the per-task counters, ordered by task id.
func (r *Recorder) Totals() []Totals {
	out := make([]Totals, 0, r.totals.Size())
	it := r.totals.Iterator()
	for it.Next() {
		out = append(out, *it.Value().(*Totals))
	}
	return out
}

// Summary writes the totals as a table.
func (r *Recorder) Summary(w io.Writer) {
	fmt.Fprintf(w, "%-6s %-4s %-8s %-10s %-9s %-7s %s\n",
		"task", "pri", "enqueued", "dispatched", "preempted", "blocked", "finished")
	for _, t := range r.Totals() {
		fmt.Fprintf(w, "%-6d %-4d %-8d %-10d %-9d %-7d %t\n",
			t.TaskID, t.Priority, t.Enqueued, t.Dispatched, t.Preempted, t.Blocked, t.Finished)
	}
}

// center pads str to width with str in the middle.
func center(str string, width int) string {
	if len(str) >= width {
		return str
	}
	spaces := (width - len(str)) / 2
	return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
}
