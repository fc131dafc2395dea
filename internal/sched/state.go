package sched

import "strings"

// State is a task's set of reasons for not being runnable. The empty set
// means Ready. Pend, Delay and Suspend combine freely (a suspended task can
// also be pending); Zombie is terminal and is only ever added.
type State uint32

const (
	Ready   State = 0
	Pend    State = 1 << 0 // waiting on a pend queue
	Delay   State = 1 << 1 // waiting for a watchdog
	Suspend State = 1 << 2 // stopped on purpose, on no queue
	Zombie  State = 1 << 3 // exited, waiting for cleanup

	stateMask = Pend | Delay | Suspend | Zombie
)

// Has reports whether every bit of r is set in s.
func (s State) Has(r State) bool { return s&r == r && r != 0 }

// Runnable reports whether s is the empty set.
func (s State) Runnable() bool { return s == Ready }

// Valid reports whether s only carries known reason bits.
func (s State) Valid() bool { return s&^stateMask == 0 }

func (s State) String() string {
	if s == Ready {
		return "READY"
	}
	var parts []string
	for _, b := range []struct {
		bit  State
		name string
	}{
		{Pend, "PEND"},
		{Delay, "DELAY"},
		{Suspend, "SUSPEND"},
		{Zombie, "ZOMBIE"},
	} {
		if s&b.bit != 0 {
			parts = append(parts, b.name)
		}
	}
	if !s.Valid() {
		parts = append(parts, "?")
	}
	return strings.Join(parts, "|")
}
