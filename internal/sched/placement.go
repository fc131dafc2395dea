package sched

import (
	"math"
	"math/bits"

	"ksched/internal/spin"
)

// loadBalancer tracks, per priority, the core believed to be least loaded, so
// that placing an unrestricted task does not scan every core. The figure is
// corrected lazily: whichever core sees a smaller load takes the slot.
type loadBalancer struct {
	prio [PriorityCount]struct {
		lock  spin.Raw
		least int32
		cpu   int
	}
}

// dequeued records that t left c's ready queue. Caller holds c's ready lock.
func (lb *loadBalancer) dequeued(c *CPU, t *Task) {
	p := &lb.prio[t.priority]
	p.lock.Lock()
	load := c.rq.load[t.priority].Add(-int32(t.timeslice))
	if load < p.least {
		p.least = load
		p.cpu = c.idx
	}
	p.lock.Unlock()
}

// enqueued records that t joined c's ready queue. Caller holds c's ready lock.
func (lb *loadBalancer) enqueued(c *CPU, t *Task) {
	p := &lb.prio[t.priority]
	p.lock.Lock()
	load := c.rq.load[t.priority].Add(int32(t.timeslice))
	if p.cpu == c.idx {
		// the minimum grew: probe one neighbour so it can take over
		p.least = load
		if n := c.k.Active(); n > 1 {
			o := c.k.cpus[(c.idx+1)%n]
			if l := o.rq.load[t.priority].Load(); l < p.least {
				p.least, p.cpu = l, o.idx
			}
		}
	} else if load < p.least {
		p.least = load
		p.cpu = c.idx
	}
	p.lock.Unlock()
}

func (lb *loadBalancer) least(pri int) (cpu int, load int32) {
	p := &lb.prio[pri]
	p.lock.Lock()
	cpu, load = p.cpu, p.least
	p.lock.Unlock()
	return cpu, load
}

// selectCPU picks the core t will be queued on when it becomes runnable.
// The result is always an active core inside t's affinity. Load figures are
// read without the ready locks; a stale read only makes the choice worse.
func (k *Kernel) selectCPU(t *Task) int {
	active := k.Active()
	mask := FirstCPUs(active)
	eligible := mask
	if t.affinity != 0 {
		eligible = t.affinity & mask
		if eligible == 0 {
			k.fatal(nil, "task affinity excludes every active core",
				"task", t.id, "affinity", t.affinity, "active", active)
		}
	}

	pri := t.priority
	cand, load := -1, int32(math.MaxInt32)
	if eligible == mask {
		cand, load = k.loads.least(pri)
		if cand >= active {
			cand, load = -1, math.MaxInt32
		}
	}
	if cand < 0 {
		for set := eligible; set != 0; set &= set - 1 {
			i := bits.TrailingZeros64(uint64(set))
			if l := k.cpus[i].rq.load[pri].Load(); l < load {
				cand, load = i, l
			}
		}
	}

	home := t.CPU()
	if !eligible.Has(home) {
		return cand
	}
	// stay home unless the best core is lighter by more than one slice
	if k.cpus[home].rq.load[pri].Load()-load > int32(t.timeslice) {
		return cand
	}
	return home
}
