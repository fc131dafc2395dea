package sched

// MarkBlocked adds reason to t's state. If t was runnable it leaves its home
// core's ready queue, and that core's next task is recomputed if t was it.
// It returns the state before the call.
//
// The caller holds t's lock with interrupts masked, and is responsible for
// switching away afterwards if t is the running task.
func (k *Kernel) MarkBlocked(t *Task, reason State) State {
	k.checkTransition(t, reason)

	old := t.State()
	if old.Runnable() && t.Idle() {
		k.fatal(nil, "idle task must stay ready", "task", t.id, "reason", reason)
	}
	t.setState(old | reason)
	if !old.Runnable() {
		return old
	}

	c := k.cpus[t.CPU()]
	c.rq.lock.TakeMasked()
	c.rq.remove(k.tasks, t)
	k.loads.dequeued(c, t)
	if c.next == t {
		// the idle task keeps the queue non-empty
		c.next = c.rq.head(k.tasks)
	}
	k.emit(StatusBlock, c.idx, t)
	c.rq.lock.GiveMasked()
	return old
}

// MarkUnblocked clears reason from t's state. If that leaves t runnable, a
// core is chosen for it and t is queued there, becoming the core's next task
// if it is more urgent than the current choice. It returns the state before
// the call.
//
// The caller holds t's lock with interrupts masked, and is responsible for
// notifying t's new home core once the locks are released.
func (k *Kernel) MarkUnblocked(t *Task, reason State) State {
	old, _ := k.unblock(t, reason)
	return old
}

// unblock is MarkUnblocked that also reports the core t was queued on, or -1
// if t did not become runnable.
func (k *Kernel) unblock(t *Task, reason State) (State, int) {
	k.checkTransition(t, reason)
	if reason&Zombie != 0 {
		k.fatal(nil, "zombie cannot be revived", "task", t.id)
	}

	old := t.State()
	now := old &^ reason
	t.setState(now)
	if old.Runnable() || !now.Runnable() {
		return old, -1
	}

	cpu := k.selectCPU(t)
	c := k.cpus[cpu]
	c.rq.lock.TakeMasked()
	c.rq.push(k.tasks, t)
	k.loads.enqueued(c, t)
	t.cpu.Store(int32(cpu))
	if c.next == nil || t.priority < c.next.priority {
		c.next = t
	}
	k.emit(StatusEnqueue, cpu, t)
	c.rq.lock.GiveMasked()
	return old, cpu
}

func (k *Kernel) checkTransition(t *Task, reason State) {
	if t == nil {
		k.fatal(nil, "state transition on nil task")
	}
	if reason == Ready || !reason.Valid() {
		k.fatal(nil, "invalid reason bits", "task", t.id, "reason", uint32(reason))
	}
	if !t.lock.Held() {
		k.fatal(nil, "state transition without task lock", "task", t.id)
	}
}
