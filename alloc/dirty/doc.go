// Package dirty tracks written byte ranges of one backing block and syncs
// them in coalesced, atom-aligned batches.
//
// # Overview
//
// Non-coherent host mappings need an explicit Flush after the CPU writes and an
// explicit Invalidate before the CPU reads device output. Staging pages record
// every range they hand out; at sync time the tracker:
//
//  1. Aligns every range outward to the sync atom (the OS page size by default)
//  2. Sorts and merges overlapping or adjacent ranges
//  3. Calls the block's Flush or Invalidate once per merged range
//  4. Clears the ranges
//
// # Usage
//
//	tracker := dirty.NewTracker(block.Size(), 0)
//	tracker.Add(0x5000, 128)
//	err := tracker.Flush(ctx, block.(backing.Syncer))
//
// # Thread Safety
//
// Tracker is NOT thread-safe. The owning page guards it with its own lock.
package dirty
