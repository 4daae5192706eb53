package page

import (
	"github.com/cockroachdb/errors"

	"github.com/joshuapare/heapkit/alloc/arena"
	"github.com/joshuapare/heapkit/backing"
	"github.com/joshuapare/heapkit/internal/format"
)

// Page is a free-list page: one backing block sub-allocated by an arena.
//
// Page is not thread-safe.
type Page struct {
	index int
	block backing.Block
	arena *arena.Arena
}

// New wraps block in a free-list page at the given pool index.
func New(index int, block backing.Block, minAlignment uint64) (*Page, error) {
	if block == nil || block.Size() == 0 {
		return nil, ErrBadBlock
	}
	a, err := arena.New(block.Size(), minAlignment)
	if err != nil {
		return nil, err
	}
	return &Page{index: index, block: block, arena: a}, nil
}

// Allocate reserves size bytes aligned to alignment.
// It returns false when the arena cannot fit the request.
func (p *Page) Allocate(size, alignment uint64) (Record, bool) {
	span := p.arena.Allocate(size, alignment)
	if !span.Valid() {
		return Record{}, false
	}

	alignment = max(alignment, p.arena.MinAlignment())
	offset := span.AlignedOffset(alignment)
	alignedSize := format.AlignUp(size, alignment)
	if offset-span.Offset+alignedSize > span.Size {
		// Arena contract broken; give the span back rather than overrun it.
		_ = p.arena.Free(&span)
		return Record{}, false
	}
	return newRecord(p.index, p.block, offset, alignedSize, span), true
}

// Fits reports whether Allocate(size, alignment) would succeed.
func (p *Page) Fits(size, alignment uint64) bool {
	return p.arena.Fits(size, alignment)
}

// Free returns r to the page and zeroes it.
func (p *Page) Free(r *Record) error {
	if r == nil || !r.Valid() {
		return errors.Wrap(arena.ErrBadAllocation, "invalid record")
	}
	if r.Page != p.index || r.Block != p.block {
		return errors.Wrapf(ErrForeignRecord, "record of page %d freed on page %d", r.Page, p.index)
	}
	if err := p.arena.Free(&r.span); err != nil {
		return err
	}
	*r = Record{}
	return nil
}

// Reset makes the whole page free again.
func (p *Page) Reset() {
	p.arena.Reset()
}

// IsFull reports whether not even a minimum-alignment unit fits anymore.
func (p *Page) IsFull() bool {
	return p.arena.MaxBlockSize() < p.arena.MinAlignment()
}

// IsEmpty reports whether no allocation is live.
func (p *Page) IsEmpty() bool { return p.arena.IsEmpty() }

// Index returns the page index inside its pool.
func (p *Page) Index() int { return p.index }

// Block returns the backing block.
func (p *Page) Block() backing.Block { return p.block }

// Size returns the page size.
func (p *Page) Size() uint64 { return p.arena.PageSize() }

// Remaining returns the number of free bytes.
func (p *Page) Remaining() uint64 { return p.arena.FreeSize() }

// Used returns the number of allocated bytes, margins included.
func (p *Page) Used() uint64 { return p.arena.UsedSize() }

// MaxBlockSize returns the largest free block.
func (p *Page) MaxBlockSize() uint64 { return p.arena.MaxBlockSize() }

// Stats returns the arena counters of the page.
func (p *Page) Stats() arena.Stats { return p.arena.Stats() }

// Validate checks the arena invariants.
func (p *Page) Validate() error { return p.arena.Validate() }

// Release returns the backing block to its factory.
func (p *Page) Release() error {
	return p.block.Release()
}
