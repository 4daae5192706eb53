package page

import (
	"context"
	"sync"

	"github.com/joshuapare/heapkit/alloc/arena"
	"github.com/joshuapare/heapkit/alloc/dirty"
	"github.com/joshuapare/heapkit/backing"
	"github.com/joshuapare/heapkit/internal/buf"
	"github.com/joshuapare/heapkit/internal/format"
)

// DefaultGranularity is the minimum alignment of bump allocations and the
// slack below which a bump page counts as full.
const DefaultGranularity = 256

// BumpOptions configures a BumpPage.
type BumpOptions struct {
	// Granularity is the minimum alignment and the full-page slack threshold.
	// Zero selects DefaultGranularity. Must be a power of two.
	Granularity uint64

	// SyncAtom is the flush/invalidate granularity for non-coherent blocks.
	// Zero selects dirty.DefaultAtom.
	SyncAtom uint64
}

// BumpPage is a linear page: allocation only advances a cursor.
//
// Allocate is safe for concurrent use; AllocateUnlocked skips the lock for
// callers that already serialize access. There is no per-allocation Free;
// Reset rewinds the cursor and invalidates every record handed out.
type BumpPage struct {
	mu sync.Mutex

	index       int
	block       backing.Block
	size        uint64
	granularity uint64

	cursor     uint64
	nearlyFull bool
	allocs     int

	// dirty is nil for coherent blocks.
	dirty  *dirty.Tracker
	syncer backing.Syncer
}

// NewBump wraps block in a bump page at the given pool index.
func NewBump(index int, block backing.Block, opts BumpOptions) (*BumpPage, error) {
	if block == nil || block.Size() == 0 {
		return nil, ErrBadBlock
	}
	granularity := opts.Granularity
	if granularity == 0 || !format.IsPow2(granularity) {
		granularity = DefaultGranularity
	}
	p := &BumpPage{
		index:       index,
		block:       block,
		size:        block.Size(),
		granularity: granularity,
	}
	if s, ok := block.(backing.Syncer); ok {
		p.syncer = s
		p.dirty = dirty.NewTracker(p.size, opts.SyncAtom)
	}
	return p, nil
}

// Allocate reserves size bytes aligned to alignment under the page lock.
func (p *BumpPage) Allocate(size, alignment uint64) (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocate(size, alignment)
}

// AllocateUnlocked is Allocate without the page lock.
func (p *BumpPage) AllocateUnlocked(size, alignment uint64) (Record, bool) {
	return p.allocate(size, alignment)
}

func (p *BumpPage) allocate(size, alignment uint64) (Record, bool) {
	offset, alignedSize, ok := p.place(size, alignment)
	if !ok {
		if p.size-p.cursor < p.granularity {
			p.nearlyFull = true
		}
		return Record{}, false
	}

	p.cursor = offset + alignedSize
	p.allocs++
	if p.dirty != nil {
		p.dirty.Add(offset, alignedSize)
	}
	return newRecord(p.index, p.block, offset, alignedSize, arena.Allocation{}), true
}

// place computes where a request would land without moving the cursor.
func (p *BumpPage) place(size, alignment uint64) (offset, alignedSize uint64, ok bool) {
	if size == 0 || size > p.size {
		return 0, 0, false
	}
	alignment = max(alignment, p.granularity)
	if !format.IsPow2(alignment) || alignment > p.size {
		return 0, 0, false
	}
	alignedSize = format.AlignUp(size, alignment)
	offset = format.AlignUp(p.cursor, alignment)
	if !buf.Has(p.size, offset, alignedSize) {
		return 0, 0, false
	}
	return offset, alignedSize, true
}

// Fits reports whether Allocate(size, alignment) would succeed now.
func (p *BumpPage) Fits(size, alignment uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _, ok := p.place(size, alignment)
	return ok
}

// Reset rewinds the cursor. Every record handed out so far becomes invalid.
func (p *BumpPage) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = 0
	p.allocs = 0
	p.nearlyFull = false
	if p.dirty != nil {
		p.dirty.Reset()
	}
}

// IsFull reports whether the page was marked nearly full or has less than one
// granularity unit left.
func (p *BumpPage) IsFull() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nearlyFull || p.size-p.cursor < p.granularity
}

// IsEmpty reports whether nothing was allocated since the last Reset.
func (p *BumpPage) IsEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor == 0
}

// Used returns the cursor position.
func (p *BumpPage) Used() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Remaining returns the bytes past the cursor.
func (p *BumpPage) Remaining() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - p.cursor
}

// Allocations returns the number of allocations since the last Reset.
func (p *BumpPage) Allocations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocs
}

// Coherent reports whether the block needs no Flush/Invalidate.
func (p *BumpPage) Coherent() bool { return p.syncer == nil }

// Flush makes CPU writes to allocated ranges visible to the device.
// It is a no-op for coherent blocks.
func (p *BumpPage) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dirty == nil {
		return nil
	}
	return p.dirty.Flush(ctx, p.syncer)
}

// Invalidate discards stale CPU views of allocated ranges before reading
// device output. It is a no-op for coherent blocks.
func (p *BumpPage) Invalidate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dirty == nil {
		return nil
	}
	return p.dirty.Invalidate(ctx, p.syncer)
}

// PendingRanges returns the coalesced ranges the next Flush or Invalidate
// would sync.
func (p *BumpPage) PendingRanges() []dirty.Range {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dirty == nil {
		return nil
	}
	return p.dirty.Coalesced()
}

// Index returns the page index inside its pool.
func (p *BumpPage) Index() int { return p.index }

// Block returns the backing block.
func (p *BumpPage) Block() backing.Block { return p.block }

// Size returns the page size.
func (p *BumpPage) Size() uint64 { return p.size }

// Release returns the backing block to its factory.
func (p *BumpPage) Release() error {
	return p.block.Release()
}
