// Package mem hands out physically contiguous page blocks for kernel stacks.
//
// The pool is carved once at boot into fixed-size blocks of 2^order pages and
// never grows; running out is an ordinary error for the caller to report.
package mem

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/stacks/arraystack"

	"ksched/internal/spin"
)

// PageSize is the size of one page frame.
const PageSize = 4096

// ErrNoMemory is returned when every block is in use.
var ErrNoMemory = errors.New("mem: no free page block")

// PFN is a page frame number.
type PFN uint32

// Block is one contiguous run of pages.
type Block struct {
	Base  PFN
	Order uint
}

// Pages returns the number of pages in the block.
func (b Block) Pages() int { return 1 << b.Order }

// Size returns the block size in bytes.
func (b Block) Size() int { return b.Pages() * PageSize }

// Top returns the address one past the end of the block, where a downward
// growing stack starts.
func (b Block) Top() uint64 { return uint64(b.Base)*PageSize + uint64(b.Size()) }

// Pool is a fixed set of equal-sized page blocks. Its lock is raw: a pool
// reached from interrupt handlers must only be used with interrupts masked
// (pipes call it under their own interrupt-safe lock), and the kernel stack
// pool is never touched by a handler.
type Pool struct {
	lock  spin.Raw
	order uint
	total int
	free  *arraystack.Stack // of PFN
	used  map[PFN]bool
}

// NewPool carves blocks blocks of 2^order pages, starting at frame base.
func NewPool(base PFN, order uint, blocks int) (*Pool, error) {
	if blocks <= 0 {
		return nil, fmt.Errorf("mem: pool needs at least one block, got %d", blocks)
	}
	p := &Pool{
		order: order,
		total: blocks,
		free:  arraystack.New(),
		used:  make(map[PFN]bool, blocks),
	}
	// push in reverse so the lowest frame is handed out first
	for i := blocks - 1; i >= 0; i-- {
		p.free.Push(base + PFN(i<<order))
	}
	return p, nil
}

// Alloc takes one block out of the pool.
func (p *Pool) Alloc() (Block, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	v, ok := p.free.Pop()
	if !ok {
		return Block{}, ErrNoMemory
	}
	pfn := v.(PFN)
	p.used[pfn] = true
	return Block{Base: pfn, Order: p.order}, nil
}

// Free returns b to the pool. Freeing a block that is not allocated panics,
// since it means two owners believed they held the same memory.
func (p *Pool) Free(b Block) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if b.Order != p.order || !p.used[b.Base] {
		panic(fmt.Sprintf("mem: free of unallocated block %#x (order %d)", b.Base, b.Order))
	}
	delete(p.used, b.Base)
	p.free.Push(b.Base)
}

// Available returns the number of free blocks.
func (p *Pool) Available() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.free.Size()
}

// Total returns the number of blocks the pool was created with.
func (p *Pool) Total() int { return p.total }
