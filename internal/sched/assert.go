package sched

import (
	"fmt"
	"strings"
)

// Violation is the panic value raised when a scheduler contract is broken.
// There is no recovery: the invariants it protects are shared by every core.
type Violation struct {
	CPU  int // -1 when no core context was available
	Msg  string
	Args []any
}

func (v *Violation) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sched: %s", v.Msg)
	if v.CPU >= 0 {
		fmt.Fprintf(&b, " (cpu %d)", v.CPU)
	}
	for i := 0; i+1 < len(v.Args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", v.Args[i], v.Args[i+1])
	}
	return b.String()
}

// fatal logs the diagnostic context and halts the calling core by panicking.
func (k *Kernel) fatal(c *CPU, msg string, args ...any) {
	v := &Violation{CPU: -1, Msg: msg, Args: args}
	if c != nil {
		v.CPU = c.idx
		if cur := c.prev; cur != nil {
			args = append(args, "current", cur.id, "current_state", cur.State().String())
		}
	}
	k.log.Error("contract violation: "+msg, args...)
	panic(v)
}
