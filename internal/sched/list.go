package sched

import (
	"github.com/emirpasic/gods/stacks/arraystack"

	"ksched/internal/spin"
)

// Tasks carry two intrusive links: one for the ready or pend queue they are
// on, one for their owning process. Links are slot indices into the task
// table, so queue operations never allocate.
const (
	schedLink = iota
	procLink
	linkKinds
)

type link struct {
	prev, next TaskID
}

// taskList is a doubly linked list threaded through one link kind.
type taskList struct {
	head, tail TaskID
	n          int
	kind       int
}

func newTaskList(kind int) taskList {
	return taskList{head: NoTask, tail: NoTask, kind: kind}
}

func (l *taskList) empty() bool { return l.head == NoTask }

func (l *taskList) len() int { return l.n }

// table is the fixed array of task control blocks.
type table struct {
	lock  spin.Raw // guards free
	tasks []Task
	free  *arraystack.Stack // of TaskID
}

func newTable(n int) *table {
	tb := &table{
		tasks: make([]Task, n),
		free:  arraystack.New(),
	}
	for i := n - 1; i >= 0; i-- {
		tb.tasks[i].id = TaskID(i)
		tb.tasks[i].reset()
		tb.free.Push(TaskID(i))
	}
	return tb
}

func (tb *table) at(id TaskID) *Task {
	if id == NoTask {
		return nil
	}
	return &tb.tasks[id]
}

// alloc takes a free slot, or nil if the table is full.
func (tb *table) alloc() *Task {
	tb.lock.Lock()
	defer tb.lock.Unlock()
	v, ok := tb.free.Pop()
	if !ok {
		return nil
	}
	t := &tb.tasks[v.(TaskID)]
	t.reset()
	return t
}

func (tb *table) release(t *Task) {
	tb.lock.Lock()
	tb.free.Push(t.id)
	tb.lock.Unlock()
}

func (tb *table) available() int {
	tb.lock.Lock()
	defer tb.lock.Unlock()
	return tb.free.Size()
}

func (tb *table) pushTail(l *taskList, t *Task) {
	ln := &t.links[l.kind]
	ln.prev, ln.next = l.tail, NoTask
	if l.tail != NoTask {
		tb.tasks[l.tail].links[l.kind].next = t.id
	} else {
		l.head = t.id
	}
	l.tail = t.id
	l.n++
}

func (tb *table) remove(l *taskList, t *Task) {
	ln := &t.links[l.kind]
	if ln.prev != NoTask {
		tb.tasks[ln.prev].links[l.kind].next = ln.next
	} else {
		l.head = ln.next
	}
	if ln.next != NoTask {
		tb.tasks[ln.next].links[l.kind].prev = ln.prev
	} else {
		l.tail = ln.prev
	}
	ln.prev, ln.next = NoTask, NoTask
	l.n--
}

func (tb *table) popHead(l *taskList) *Task {
	t := tb.at(l.head)
	if t != nil {
		tb.remove(l, t)
	}
	return t
}

func (tb *table) first(l *taskList) *Task { return tb.at(l.head) }

// each walks l from head to tail. fn must not modify l.
func (tb *table) each(l *taskList, fn func(t *Task)) {
	for id := l.head; id != NoTask; id = tb.tasks[id].links[l.kind].next {
		fn(&tb.tasks[id])
	}
}
