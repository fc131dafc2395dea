package sched

import (
	"errors"

	"ksched/internal/spin"
)

// ErrProcessFinished is returned by Spawn once every task of the process has
// been cleaned up.
var ErrProcessFinished = errors.New("sched: process finished")

// Process owns a group of tasks. It finishes when the last of them has exited
// and been cleaned up.
type Process struct {
	k    *Kernel
	id   int
	name string

	lock     spin.Raw // never taken by interrupt handlers
	tasks    taskList
	spawned  int
	finished bool
	done     chan struct{}
}

// NewProcess creates an empty process.
func (k *Kernel) NewProcess(name string) *Process {
	p := &Process{
		k:     k,
		id:    int(k.procs.Add(1)),
		name:  name,
		tasks: newTaskList(procLink),
		done:  make(chan struct{}),
	}
	k.log.Debug("process created", "pid", p.id, "name", name)
	return p
}

func (p *Process) ID() int      { return p.id }
func (p *Process) Name() string { return p.name }

// Spawn creates a suspended task owned by p.
//
// A process finishes the moment its last task is cleaned up, and a finished
// process refuses new tasks. Spawn every task before resuming any that may
// exit.
func (p *Process) Spawn(priority int, affinity CPUSet, entry Entry) (*Task, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.finished {
		return nil, ErrProcessFinished
	}

	t, err := p.k.CreateTask(priority, affinity, entry)
	if err != nil {
		return nil, err
	}
	t.process = p
	p.k.tasks.pushTail(&p.tasks, t)
	p.spawned++
	return t, nil
}

// Tasks returns the number of live tasks, exited ones awaiting cleanup
// included.
func (p *Process) Tasks() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.tasks.len()
}

// Done is closed when the process finishes.
func (p *Process) Done() <-chan struct{} { return p.done }

// detach unlinks a cleaned-up task, finishing p if it was the last one.
func (p *Process) detach(t *Task) {
	p.lock.Lock()
	p.k.tasks.remove(&p.tasks, t)
	t.process = nil
	last := p.tasks.empty()
	if last {
		p.finished = true
	}
	p.lock.Unlock()

	if last {
		p.k.log.Info("process finished", "pid", p.id, "name", p.name, "tasks", p.spawned)
		close(p.done)
	}
}
