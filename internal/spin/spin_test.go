package spin

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingMasker records how interrupts were masked and restored.
type countingMasker struct {
	mu       sync.Mutex
	masked   int
	restored []Key
}

func (m *countingMasker) IntLock() Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.masked++
	return Key(m.masked)
}

func (m *countingMasker) IntUnlock(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restored = append(m.restored, key)
}

func TestRaw_MutualExclusion(t *testing.T) {
	var l Raw
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8*500, counter)
	assert.False(t, l.Held())
}

func TestRaw_TryLock(t *testing.T) {
	var l Raw
	require.True(t, l.TryLock())
	assert.True(t, l.Held())
	assert.False(t, l.TryLock(), "second TryLock must fail while held")
	l.Unlock()
	assert.True(t, l.TryLock())
	l.Unlock()
}

func TestRaw_FIFOOrder(t *testing.T) {
	var l Raw
	l.Lock()

	// Queue waiters one at a time so their ticket order is known.
	order := make(chan int, 4)
	for i := 0; i < 4; i++ {
		want := l.t.next.Load() + 1
		go func(id int) {
			l.Lock()
			order <- id
			l.Unlock()
		}(i)
		for l.t.next.Load() != want {
			relax()
		}
	}

	l.Unlock()
	for i := 0; i < 4; i++ {
		assert.Equal(t, i, <-order)
	}
}

func TestLock_TakeGiveRestoresKey(t *testing.T) {
	var l Lock
	m := &countingMasker{}

	k1 := l.Take(m)
	assert.True(t, l.Held())
	l.Give(m, k1)

	k2 := l.Take(m)
	l.Give(m, k2)

	assert.False(t, l.Held())
	assert.Equal(t, 2, m.masked)
	assert.Equal(t, []Key{k1, k2}, m.restored)
}

func TestLock_MaskedVariantsLeaveInterruptsAlone(t *testing.T) {
	var l Lock
	m := &countingMasker{}

	key := m.IntLock()
	l.TakeMasked()
	assert.False(t, l.TryTakeMasked())
	l.GiveMasked()
	m.IntUnlock(key)

	assert.Equal(t, 1, m.masked)
	assert.Len(t, m.restored, 1)
}

func TestLock_Contended(t *testing.T) {
	var l Lock
	m := &countingMasker{}
	var wg sync.WaitGroup
	total := 0

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := l.Take(m)
				total++
				l.Give(m, key)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, total)
}
