// Package arena implements free/used bookkeeping over one fixed-capacity linear
// range [0, N).
//
// # Overview
//
// An Arena never touches memory. It hands out (offset, size) spans of a page and
// takes them back, keeping two ordered indices over the free blocks:
//
//   - by offset: predecessor/successor lookup for O(log n) coalescing on Free
//   - by (size, offset): smallest-fitting block lookup for O(log n) Allocate
//
// Both indices are red-black trees and always hold exactly the same blocks.
//
// # Invariants
//
// After every call:
//
//   - sum(free block sizes) == FreeSize()
//   - sum(free block sizes) + sum(live allocation sizes) == PageSize()
//   - no two free blocks are offset-adjacent
//
// # Alignment
//
// Allocate raises the alignment to the arena's minimum alignment. The returned
// Allocation starts at the raw block offset and its Size includes the margin
// needed to reach the aligned offset:
//
//	alloc := a.Allocate(100, 256)
//	usable := format.AlignUp(alloc.Offset, 256) // alloc.Offset+alloc.Size >= usable+100
//
// The arena caches CapableAlignment, an estimate of the largest alignment free
// blocks satisfy without a margin, and reserves the difference when looking up
// a block for a stricter alignment.
//
// # Thread Safety
//
// Arena instances are not thread-safe. Callers must synchronize access externally.
package arena
