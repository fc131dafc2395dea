// Package spin provides ticket spinlocks for code that runs with no scheduler
// underneath it: the scheduler itself, interrupt handlers, and anything they
// share data with.
//
// Two lock types exist on purpose. Lock is the interrupt-safe variant: taking it
// masks interrupt delivery on the calling core first, and giving it back
// restores the previous state. Raw never touches interrupts and must only guard
// data that no interrupt handler reads or writes. Both hand ownership out in
// strict arrival order.
package spin

import (
	"runtime"
	"sync/atomic"
)

// Key is the opaque interrupt state returned by Masker.IntLock. It must be
// handed back unchanged to the matching IntUnlock.
type Key uint32

// Masker disables and restores interrupt delivery on the core identified by the
// receiver.
type Masker interface {
	IntLock() Key
	IntUnlock(key Key)
}

// ticket is the shared FIFO core of both lock types. The lock is free when
// next == owner.
type ticket struct {
	next  atomic.Uint32 // next ticket to hand out
	owner atomic.Uint32 // ticket currently being served
}

func (t *ticket) acquire() {
	my := t.next.Add(1) - 1
	for t.owner.Load() != my {
		relax()
	}
}

func (t *ticket) tryAcquire() bool {
	cur := t.owner.Load()
	return t.next.CompareAndSwap(cur, cur+1)
}

func (t *ticket) release() {
	t.owner.Add(1)
}

func (t *ticket) held() bool {
	return t.next.Load() != t.owner.Load()
}

// relax stands in for the cpu pause instruction. Cores are goroutines here, so
// the waiter has to give the Go scheduler a chance to run the holder.
func relax() {
	runtime.Gosched()
}

// Raw is a plain ticket spinlock. The zero value is unlocked.
// It implements sync.Locker.
type Raw struct {
	t ticket
}

// Lock busy-waits until the caller owns the lock.
func (l *Raw) Lock() { l.t.acquire() }

// TryLock takes the lock only if nobody holds or waits for it.
func (l *Raw) TryLock() bool { return l.t.tryAcquire() }

// Unlock hands the lock to the next waiter in arrival order.
func (l *Raw) Unlock() { l.t.release() }

// Held reports whether some core currently owns the lock.
func (l *Raw) Held() bool { return l.t.held() }

// Lock is an interrupt-safe ticket spinlock. The zero value is unlocked.
type Lock struct {
	t ticket
}

// Take masks interrupts on m's core, then busy-waits for the lock.
// The returned key restores the previous interrupt state in Give.
func (l *Lock) Take(m Masker) Key {
	key := m.IntLock()
	l.t.acquire()
	return key
}

// Give releases the lock and restores the interrupt state saved by Take.
func (l *Lock) Give(m Masker, key Key) {
	l.t.release()
	m.IntUnlock(key)
}

// TakeMasked acquires the lock for a caller that already runs with interrupts
// masked, such as code nested inside another Take or an interrupt handler.
func (l *Lock) TakeMasked() { l.t.acquire() }

// GiveMasked releases a lock taken with TakeMasked.
func (l *Lock) GiveMasked() { l.t.release() }

// TryTakeMasked is the non-blocking form of TakeMasked.
func (l *Lock) TryTakeMasked() bool { return l.t.tryAcquire() }

// Held reports whether some core currently owns the lock.
func (l *Lock) Held() bool { return l.t.held() }
