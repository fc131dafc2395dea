package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	for _, tc := range []struct {
		s    State
		want string
	}{
		{Ready, "READY"},
		{Pend, "PEND"},
		{Pend | Suspend, "PEND|SUSPEND"},
		{Delay | Zombie, "DELAY|ZOMBIE"},
		{State(1 << 6), "?"},
	} {
		assert.Equal(t, tc.want, tc.s.String())
	}
}

func TestStateBits(t *testing.T) {
	s := Pend | Delay
	assert.True(t, s.Has(Pend))
	assert.True(t, s.Has(Pend|Delay))
	assert.False(t, s.Has(Suspend))
	assert.False(t, s.Has(Ready))
	assert.False(t, s.Runnable())
	assert.True(t, Ready.Runnable())
	assert.True(t, s.Valid())
	assert.False(t, State(1<<9).Valid())
}

func TestCPUSet(t *testing.T) {
	s := CPUs(0, 3, 5)
	assert.Equal(t, 3, s.Count())
	assert.True(t, s.Has(3))
	assert.False(t, s.Has(4))
	assert.False(t, s.Has(-1))
	assert.False(t, s.Has(MaxCPUs))

	var got []int
	s.Each(func(i int) { got = append(got, i) })
	assert.Equal(t, []int{0, 3, 5}, got)

	assert.Equal(t, CPUs(0, 1, 2), FirstCPUs(3))
	assert.Equal(t, MaxCPUs, FirstCPUs(MaxCPUs).Count())
	assert.Equal(t, 5, bitIndex(CPUs(5, 9)))
}

func TestTaskListOrder(t *testing.T) {
	tb := newTable(4)
	l := newTaskList(schedLink)
	a, b, c := tb.alloc(), tb.alloc(), tb.alloc()
	tb.pushTail(&l, a)
	tb.pushTail(&l, b)
	tb.pushTail(&l, c)
	tb.remove(&l, b)

	var ids []TaskID
	tb.each(&l, func(t *Task) { ids = append(ids, t.ID()) })
	assert.Equal(t, []TaskID{a.ID(), c.ID()}, ids)
	assert.Equal(t, 2, l.len())
	assert.Equal(t, a, tb.popHead(&l))
	assert.Equal(t, c, tb.popHead(&l))
	assert.Nil(t, tb.popHead(&l))
	assert.True(t, l.empty())
	assert.Equal(t, 1, tb.available())
}
