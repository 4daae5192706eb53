package arena

import (
	"github.com/cockroachdb/errors"

	"github.com/joshuapare/heapkit/internal/buf"
	"github.com/joshuapare/heapkit/internal/format"
)

const (
	// DefaultMinAlignment is used when New is given a zero minimum alignment.
	DefaultMinAlignment = 8

	// maxFitScan bounds how many size-ordered candidates Allocate inspects when
	// the smallest candidate needs a larger alignment margin than reserved.
	maxFitScan = 32
)

// Allocation is a span handed out by an Arena.
//
// Offset is the raw start of the span and Size includes the alignment margin.
// The zero value is invalid; Free zeroes the caller's Allocation.
type Allocation struct {
	Offset uint64
	Size   uint64
}

// Valid reports whether the allocation refers to a live span.
func (a Allocation) Valid() bool {
	return a.Size != 0
}

// AlignedOffset returns the first offset inside the span aligned to alignment.
func (a Allocation) AlignedOffset(alignment uint64) uint64 {
	return format.AlignUp(a.Offset, alignment)
}

// FreeBlock is one maximal free run, reported by FreeBlocks.
type FreeBlock struct {
	Offset uint64
	Size   uint64
}

// Stats holds arena counters.
type Stats struct {
	AllocCalls       int    // Total Allocate() calls
	AllocFailed      int    // Allocate() calls returning an invalid Allocation
	FreeCalls        int    // Successful Free() calls
	Resets           int    // Reset() calls
	SplitCount       int    // Allocations that returned a remainder block
	CoalesceForward  int    // Frees merged with the following free block
	CoalesceBackward int    // Frees merged with the preceding free block
	BytesAllocated   uint64 // Total bytes handed out (including margins)
	BytesFreed       uint64 // Total bytes returned
}

// Arena tracks free and used spans of one page.
type Arena struct {
	pageSize       uint64
	minAlignment   uint64
	initialCapable uint64

	freeSize         uint64
	capableAlignment uint64
	maxBlockSize     uint64

	free  freeIndex
	stats Stats
}

// New creates an arena over [0, pageSize) with one free block spanning it.
// minAlignment must be a power of two; zero selects DefaultMinAlignment.
func New(pageSize, minAlignment uint64) (*Arena, error) {
	if minAlignment == 0 {
		minAlignment = DefaultMinAlignment
	}
	if !format.IsPow2(minAlignment) {
		return nil, errors.Wrapf(ErrBadConfig, "min alignment %d is not a power of two", minAlignment)
	}
	if pageSize == 0 {
		return nil, errors.Wrap(ErrBadConfig, "zero page size")
	}
	a := &Arena{
		pageSize:       pageSize,
		minAlignment:   minAlignment,
		initialCapable: format.PrevPow2(pageSize),
		free:           newFreeIndex(),
	}
	a.reset()
	return a, nil
}

// Allocate reserves a span able to hold size bytes at an offset aligned to
// alignment (raised to the minimum alignment).
//
// It returns an invalid Allocation when size is zero, size exceeds the page,
// alignment is not a power of two, or no free block fits.
func (a *Arena) Allocate(size, alignment uint64) Allocation {
	a.stats.AllocCalls++

	f, ok := a.find(size, alignment)
	if !ok {
		a.stats.AllocFailed++
		return Allocation{}
	}

	a.free.remove(f.offset, f.size)

	allocSize := f.margin + f.alignedSize
	if rem := f.size - allocSize; rem > 0 {
		a.stats.SplitCount++
		a.free.insert(f.offset+allocSize, rem)
	}

	a.freeSize -= allocSize
	if f.size == a.maxBlockSize {
		a.maxBlockSize = a.free.largest()
	}

	if format.IsPow2(f.alignedSize) {
		a.capableAlignment = min(f.alignedSize, a.initialCapable)
	} else {
		a.capableAlignment = min(a.capableAlignment, f.alignment)
	}

	a.stats.BytesAllocated += allocSize
	return Allocation{Offset: f.offset, Size: allocSize}
}

// Fits reports whether Allocate(size, alignment) would succeed, without
// changing any state.
func (a *Arena) Fits(size, alignment uint64) bool {
	_, ok := a.find(size, alignment)
	return ok
}

// fit describes the block chosen for a request.
type fit struct {
	offset      uint64
	size        uint64
	margin      uint64
	alignment   uint64
	alignedSize uint64
}

func (a *Arena) find(size, alignment uint64) (fit, bool) {
	if size == 0 || size > a.pageSize {
		return fit{}, false
	}
	alignment = max(alignment, a.minAlignment)
	if !format.IsPow2(alignment) || alignment > a.pageSize {
		return fit{}, false
	}

	alignedSize := format.AlignUp(size, alignment)
	if alignedSize < size || alignedSize > a.maxBlockSize {
		return fit{}, false
	}

	var reserve uint64
	if alignment > a.capableAlignment {
		reserve = alignment - a.capableAlignment
	}
	need, ok := buf.AddOverflowSafe(alignedSize, reserve)
	if !ok || need > a.maxBlockSize {
		return fit{}, false
	}

	// First candidate normally fits. The capable alignment is an estimate, so
	// verify the real margin and walk a bounded number of larger blocks.
	n := a.free.ceilingBySize(need)
	for i := 0; n != nil && i < maxFitScan; i++ {
		k := n.Key.(sizeKey) //nolint:errcheck // tree holds only sizeKey
		aligned := format.AlignUp(k.offset, alignment)
		margin := aligned - k.offset
		if margin+alignedSize <= k.size {
			return fit{
				offset:      k.offset,
				size:        k.size,
				margin:      margin,
				alignment:   alignment,
				alignedSize: alignedSize,
			}, true
		}
		n = successor(n)
	}
	return fit{}, false
}

// Free returns a span to the arena, coalescing it with adjacent free blocks,
// and zeroes *alloc.
//
// Freeing an invalid span, a span outside the page, or a span overlapping a
// free block returns ErrBadAllocation and leaves the arena unchanged.
func (a *Arena) Free(alloc *Allocation) error {
	if alloc == nil || !alloc.Valid() {
		return errors.Wrap(ErrBadAllocation, "invalid allocation")
	}
	off, size := alloc.Offset, alloc.Size
	end, ok := buf.AddOverflowSafe(off, size)
	if !ok || end > a.pageSize {
		return errors.Wrapf(ErrBadAllocation, "span [%d, %d) outside page of %d bytes", off, end, a.pageSize)
	}

	prevOff, prevSize, hasPrev := a.free.floorByOffset(off)
	if hasPrev {
		if prevOff+prevSize > off {
			return errors.Wrapf(ErrBadAllocation, "span at %d overlaps free block at %d", off, prevOff)
		}
		hasPrev = prevOff+prevSize == off
	}

	nextOff, nextSize, hasNext := a.free.ceilingByOffset(off)
	if hasNext {
		if nextOff < end {
			return errors.Wrapf(ErrBadAllocation, "span at %d overlaps free block at %d", off, nextOff)
		}
		hasNext = nextOff == end
	}

	mergedOff, mergedSize := off, size
	if hasPrev {
		a.stats.CoalesceBackward++
		a.free.remove(prevOff, prevSize)
		mergedOff = prevOff
		mergedSize += prevSize
	}
	if hasNext {
		a.stats.CoalesceForward++
		a.free.remove(nextOff, nextSize)
		mergedSize += nextSize
	}
	a.free.insert(mergedOff, mergedSize)

	a.freeSize += size
	a.maxBlockSize = max(a.maxBlockSize, mergedSize)
	if a.freeSize == a.pageSize {
		a.capableAlignment = a.initialCapable
	}

	a.stats.FreeCalls++
	a.stats.BytesFreed += size
	*alloc = Allocation{}
	return nil
}

// Reset discards all bookkeeping and makes the whole page one free block.
// Outstanding allocations become invalid without individual Free calls.
func (a *Arena) Reset() {
	a.stats.Resets++
	a.reset()
}

func (a *Arena) reset() {
	a.free.clear()
	a.free.insert(0, a.pageSize)
	a.freeSize = a.pageSize
	a.capableAlignment = a.initialCapable
	a.maxBlockSize = a.pageSize
}

// PageSize returns the arena capacity.
func (a *Arena) PageSize() uint64 { return a.pageSize }

// MinAlignment returns the minimum alignment applied to every request.
func (a *Arena) MinAlignment() uint64 { return a.minAlignment }

// FreeSize returns the total size of all free blocks.
func (a *Arena) FreeSize() uint64 { return a.freeSize }

// UsedSize returns the total size of live allocations, margins included.
func (a *Arena) UsedSize() uint64 { return a.pageSize - a.freeSize }

// MaxBlockSize returns the size of the largest free block.
func (a *Arena) MaxBlockSize() uint64 { return a.maxBlockSize }

// CapableAlignment returns the cached alignment estimate.
func (a *Arena) CapableAlignment() uint64 { return a.capableAlignment }

// IsEmpty reports whether no allocation is live.
func (a *Arena) IsEmpty() bool { return a.freeSize == a.pageSize }

// NumFreeBlocks returns the number of free blocks.
func (a *Arena) NumFreeBlocks() int { return a.free.len() }

// Stats returns a copy of the arena counters.
func (a *Arena) Stats() Stats { return a.stats }

// FreeBlocks returns the free blocks in offset order.
func (a *Arena) FreeBlocks() []FreeBlock {
	blocks := make([]FreeBlock, 0, a.free.len())
	it := a.free.byOffset.Iterator()
	for it.Next() {
		blocks = append(blocks, FreeBlock{
			Offset: it.Key().(uint64),   //nolint:errcheck // tree holds only uint64
			Size:   it.Value().(uint64), //nolint:errcheck // tree holds only uint64
		})
	}
	return blocks
}

// Validate checks the bookkeeping invariants and returns ErrCorrupt describing
// the first violation found.
func (a *Arena) Validate() error {
	if a.free.byOffset.Size() != a.free.bySize.Size() {
		return errors.Wrapf(ErrCorrupt, "index sizes differ: %d by offset, %d by size",
			a.free.byOffset.Size(), a.free.bySize.Size())
	}

	var sum, largest, prevEnd uint64
	for i, b := range a.FreeBlocks() {
		if b.Size == 0 {
			return errors.Wrapf(ErrCorrupt, "zero-size free block at %d", b.Offset)
		}
		if i > 0 && b.Offset < prevEnd {
			return errors.Wrapf(ErrCorrupt, "free block at %d overlaps previous ending at %d", b.Offset, prevEnd)
		}
		if i > 0 && b.Offset == prevEnd {
			return errors.Wrapf(ErrCorrupt, "free blocks adjacent at %d", b.Offset)
		}
		if b.Offset+b.Size > a.pageSize {
			return errors.Wrapf(ErrCorrupt, "free block at %d ends past page", b.Offset)
		}
		if _, ok := a.free.bySize.Get(sizeKey{size: b.Size, offset: b.Offset}); !ok {
			return errors.Wrapf(ErrCorrupt, "free block at %d missing from size index", b.Offset)
		}
		sum += b.Size
		largest = max(largest, b.Size)
		prevEnd = b.Offset + b.Size
	}

	if sum != a.freeSize {
		return errors.Wrapf(ErrCorrupt, "free blocks sum to %d, free size is %d", sum, a.freeSize)
	}
	if largest != a.maxBlockSize {
		return errors.Wrapf(ErrCorrupt, "largest free block is %d, cached max is %d", largest, a.maxBlockSize)
	}
	return nil
}
