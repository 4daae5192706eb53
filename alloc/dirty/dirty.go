package dirty

import (
	"context"
	"sort"

	"github.com/joshuapare/heapkit/backing"
	"github.com/joshuapare/heapkit/internal/format"
)

const (
	// defaultRangeCapacity is the pre-allocated capacity for dirty ranges.
	defaultRangeCapacity = 64

	// DefaultAtom is the typical OS page size (4KB), the granularity msync needs.
	DefaultAtom = 4096
)

// Range represents a byte range inside one block.
type Range struct {
	Off uint64 // Offset from the start of the block
	Len uint64 // Length in bytes
}

// Tracker accumulates written ranges of a block of a fixed size.
type Tracker struct {
	ranges []Range
	size   uint64 // block size; coalesced ranges never extend past it
	atom   uint64 // power-of-two sync granularity
}

// NewTracker creates a tracker for a block of size bytes. atom must be a power
// of two; zero selects DefaultAtom.
func NewTracker(size, atom uint64) *Tracker {
	if atom == 0 || !format.IsPow2(atom) {
		atom = DefaultAtom
	}
	return &Tracker{
		ranges: make([]Range, 0, defaultRangeCapacity),
		size:   size,
		atom:   atom,
	}
}

// Add records a written range. Empty ranges are ignored.
func (t *Tracker) Add(off, length uint64) {
	if length == 0 {
		return
	}
	t.ranges = append(t.ranges, Range{Off: off, Len: length})
}

// Len returns the number of raw ranges recorded since the last sync or reset.
func (t *Tracker) Len() int {
	return len(t.ranges)
}

// Reset clears all tracked ranges.
func (t *Tracker) Reset() {
	t.ranges = t.ranges[:0]
}

// Ranges returns a copy of the raw, uncoalesced ranges.
func (t *Tracker) Ranges() []Range {
	result := make([]Range, len(t.ranges))
	copy(result, t.ranges)
	return result
}

// Coalesced returns the atom-aligned, sorted and merged ranges that a sync
// would cover.
func (t *Tracker) Coalesced() []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	aligned := make([]Range, len(t.ranges))
	for i, r := range t.ranges {
		start := format.AlignDown(r.Off, t.atom)
		end := min(format.AlignUp(r.Off+r.Len, t.atom), t.size)
		aligned[i] = Range{Off: start, Len: end - start}
	}

	sort.Slice(aligned, func(i, j int) bool {
		return aligned[i].Off < aligned[j].Off
	})

	merged := make([]Range, 0, len(aligned))
	current := aligned[0]
	for _, next := range aligned[1:] {
		if next.Off <= current.Off+current.Len {
			end := max(current.Off+current.Len, next.Off+next.Len)
			current.Len = end - current.Off
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}

// Flush flushes every coalesced range through s and clears the ranges.
//
// If ctx is cancelled part-way, the ranges already flushed stay flushed and
// all ranges are kept for a later retry.
func (t *Tracker) Flush(ctx context.Context, s backing.Syncer) error {
	return t.sync(ctx, s.Flush)
}

// Invalidate invalidates every coalesced range through s and clears the ranges.
func (t *Tracker) Invalidate(ctx context.Context, s backing.Syncer) error {
	return t.sync(ctx, s.Invalidate)
}

func (t *Tracker) sync(ctx context.Context, op func(off, length uint64) error) error {
	if len(t.ranges) == 0 {
		return nil
	}
	for _, r := range t.Coalesced() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := op(r.Off, r.Len); err != nil {
			return err
		}
	}
	t.Reset()
	return nil
}
