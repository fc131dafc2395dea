// Package pipe is an unbounded byte stream between tasks. Data lives in page
// frames taken from a page pool; a reader blocks on a semaphore while the
// pipe is empty.
package pipe

import (
	"github.com/emirpasic/gods/queues/linkedlistqueue"

	"ksched/internal/mem"
	"ksched/internal/sched"
	"ksched/internal/spin"
)

// Pages supplies the page frames backing a pipe. *mem.Pool of order 0
// satisfies it. A pipe only calls Alloc and Free while holding its own lock,
// that is with interrupts masked, so the pool's raw lock is never contended
// by an interrupt handler on the same core.
type Pages interface {
	Alloc() (mem.Block, error)
	Free(b mem.Block)
}

type page struct {
	blk  mem.Block
	data [mem.PageSize]byte
}

// Pipe is an unbounded byte stream. Writers never block; Write may be called
// from an interrupt handler.
type Pipe struct {
	k     *sched.Kernel
	pages Pages
	data  *sched.Semaphore // signals "not empty"

	lock   spin.Lock
	queue  *linkedlistqueue.Queue // of *page, head is read from
	tail   *page
	rd, wr int // offsets inside the head and tail page
	closed bool
}

// New creates an empty pipe. Pages are taken from pages as data arrives and
// given back once read.
func New(k *sched.Kernel, pages Pages) *Pipe {
	return &Pipe{
		k:     k,
		pages: pages,
		data:  k.NewSemaphore(1, 0),
		queue: linkedlistqueue.New(),
	}
}

// empty reports whether nothing is left to read. Read pages are released at
// once, so any queued page holds data. Caller holds the lock.
func (p *Pipe) empty() bool {
	return p.queue.Empty()
}

// grow appends a fresh tail page. Caller holds the lock.
func (p *Pipe) grow() error {
	blk, err := p.pages.Alloc()
	if err != nil {
		return err
	}
	p.tail = &page{blk: blk}
	p.queue.Enqueue(p.tail)
	p.wr = 0
	return nil
}

// Write appends b. It returns how much was stored, which is short only when
// the page pool ran dry.
func (p *Pipe) Write(c *sched.CPU, b []byte) (int, error) {
	key := p.lock.Take(c)
	if p.closed {
		p.lock.Give(c, key)
		return 0, sched.ErrDestroyed
	}
	n := 0
	var err error
	for n < len(b) {
		if p.tail == nil || p.wr == mem.PageSize {
			if err = p.grow(); err != nil {
				break
			}
		}
		k := copy(p.tail.data[p.wr:], b[n:])
		p.wr += k
		n += k
	}
	p.lock.Give(c, key)

	if n > 0 {
		if gerr := p.data.Give(c); gerr != nil {
			return n, gerr
		}
	}
	return n, err
}

// Read blocks while the pipe is empty, then copies up to len(b) bytes out.
// Once the pipe is closed and drained it returns sched.ErrDestroyed.
func (p *Pipe) Read(c *sched.CPU, b []byte) (int, error) {
	self := c.Current()
	for {
		key := p.lock.Take(c)
		if !p.empty() {
			n := p.drain(b)
			p.lock.Give(c, key)
			return n, nil
		}
		closed := p.closed
		p.lock.Give(c, key)
		if closed {
			return 0, sched.ErrDestroyed
		}

		if err := p.data.Take(c, sched.WaitForever); err != nil && err != sched.ErrDestroyed {
			return 0, err
		}
		c = p.k.Here(self)
	}
}

// drain copies out of the head pages, releasing every page read to the end.
// Caller holds the lock.
func (p *Pipe) drain(b []byte) int {
	n := 0
	for n < len(b) && !p.queue.Empty() {
		v, _ := p.queue.Peek()
		head := v.(*page)
		end := mem.PageSize
		if head == p.tail {
			end = p.wr
		}
		k := copy(b[n:], head.data[p.rd:end])
		p.rd += k
		n += k
		if p.rd < end {
			break
		}
		p.queue.Dequeue()
		p.pages.Free(head.blk)
		p.rd = 0
		if head == p.tail {
			p.tail, p.wr = nil, 0
		}
	}
	return n
}

// Len returns the number of unread bytes.
func (p *Pipe) Len(c *sched.CPU) int {
	key := p.lock.Take(c)
	defer p.lock.Give(c, key)
	if p.queue.Empty() {
		return 0
	}
	return (p.queue.Size()-1)*mem.PageSize + p.wr - p.rd
}

// Close wakes blocked readers. Data already written can still be read.
func (p *Pipe) Close(c *sched.CPU) {
	key := p.lock.Take(c)
	if p.closed {
		p.lock.Give(c, key)
		return
	}
	p.closed = true
	p.lock.Give(c, key)
	p.data.Destroy(c)
}

// Release returns the pipe's pages to the pool, discarding unread data. The
// pipe must be closed and have no readers.
func (p *Pipe) Release(c *sched.CPU) {
	key := p.lock.Take(c)
	defer p.lock.Give(c, key)
	for !p.queue.Empty() {
		v, _ := p.queue.Dequeue()
		p.pages.Free(v.(*page).blk)
	}
	p.tail = nil
	p.rd, p.wr = 0, 0
}
