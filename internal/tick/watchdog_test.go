package tick

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ksched/internal/spin"
)

type core struct{}

func (core) IntLock() spin.Key    { return 0 }
func (core) IntUnlock(_ spin.Key) {}

// recorder collects fired watchdog labels in order.
type recorder struct {
	mu    sync.Mutex
	fired []string
}

func record(_ core, a1, a2, _, _ any) {
	r := a1.(*recorder)
	r.mu.Lock()
	r.fired = append(r.fired, a2.(string))
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fired...)
}

func advance(q *Queue[core], n int) {
	for i := 0; i < n; i++ {
		q.Advance(core{})
	}
}

func TestQueue_FiresAfterExactTicks(t *testing.T) {
	var q Queue[core]
	var wd Watchdog[core]
	r := &recorder{}

	require.True(t, q.Start(core{}, &wd, 10, record, r, "a", nil, nil))
	assert.True(t, wd.Armed())

	advance(&q, 9)
	assert.Empty(t, r.list())
	assert.Equal(t, 1, q.Remaining(core{}, &wd))

	advance(&q, 1)
	assert.Equal(t, []string{"a"}, r.list())
	assert.False(t, wd.Armed())
	assert.Equal(t, -1, q.Remaining(core{}, &wd))
	assert.EqualValues(t, 10, q.Ticks())
}

func TestQueue_DeltaOrdering(t *testing.T) {
	var q Queue[core]
	wds := make([]Watchdog[core], 6)
	r := &recorder{}

	// deadlines 1, 1, 3, 4, 4, 9 armed out of order
	arm := []struct {
		ticks int
		name  string
	}{
		{4, "d1"}, {1, "a1"}, {9, "z"}, {3, "c"}, {1, "a2"}, {4, "d2"},
	}
	for i, a := range arm {
		require.True(t, q.Start(core{}, &wds[i], a.ticks, record, r, a.name, nil, nil))
	}
	assert.Equal(t, 6, q.Len(core{}))

	var deltas []int
	for n := q.head; n != nil; n = n.next {
		deltas = append(deltas, n.ticks)
	}
	if diff := cmp.Diff([]int{1, 0, 2, 1, 0, 5}, deltas); diff != "" {
		t.Errorf("delta chain mismatch (-want +got):\n%s", diff)
	}

	advance(&q, 1)
	assert.Equal(t, []string{"a1", "a2"}, r.list())
	advance(&q, 3)
	assert.Equal(t, []string{"a1", "a2", "c", "d1", "d2"}, r.list())
	advance(&q, 5)
	assert.Equal(t, []string{"a1", "a2", "c", "d1", "d2", "z"}, r.list())
	assert.Equal(t, 0, q.Len(core{}))
}

func TestQueue_StartRejectsArmed(t *testing.T) {
	var q Queue[core]
	var wd Watchdog[core]
	r := &recorder{}

	require.True(t, q.Start(core{}, &wd, 5, record, r, "first", nil, nil))
	assert.False(t, q.Start(core{}, &wd, 2, record, r, "second", nil, nil))
	assert.Equal(t, 1, q.Len(core{}))

	advance(&q, 2)
	assert.Empty(t, r.list())
	advance(&q, 3)
	assert.Equal(t, []string{"first"}, r.list())
}

func TestQueue_CancelCreditsSuccessor(t *testing.T) {
	var q Queue[core]
	var a, b, c Watchdog[core]
	r := &recorder{}

	q.Start(core{}, &a, 2, record, r, "a", nil, nil)
	q.Start(core{}, &b, 5, record, r, "b", nil, nil)
	q.Start(core{}, &c, 7, record, r, "c", nil, nil)

	q.Cancel(core{}, &b)
	assert.False(t, b.Armed())
	assert.Equal(t, 7, q.Remaining(core{}, &c))

	// cancelling twice changes nothing
	q.Cancel(core{}, &b)
	assert.Equal(t, 2, q.Len(core{}))

	advance(&q, 7)
	assert.Equal(t, []string{"a", "c"}, r.list())
}

func TestQueue_ZeroTicksFiresNextAdvance(t *testing.T) {
	var q Queue[core]
	var wd Watchdog[core]
	r := &recorder{}

	q.Start(core{}, &wd, 0, record, r, "now", nil, nil)
	assert.Empty(t, r.list())
	advance(&q, 1)
	assert.Equal(t, []string{"now"}, r.list())
}

func rearm(c core, a1, a2, a3, _ any) {
	q := a1.(*Queue[core])
	next := a2.(*Watchdog[core])
	r := a3.(*recorder)
	record(c, r, "outer", nil, nil)
	q.Start(c, next, 2, record, r, "inner", nil, nil)
}

func TestQueue_CallbackMayArmOthers(t *testing.T) {
	var q Queue[core]
	var outer, inner Watchdog[core]
	r := &recorder{}

	q.Start(core{}, &outer, 1, rearm, &q, &inner, r, nil)
	advance(&q, 1)
	assert.Equal(t, []string{"outer"}, r.list())
	assert.True(t, inner.Armed())

	advance(&q, 2)
	assert.Equal(t, []string{"outer", "inner"}, r.list())
}
