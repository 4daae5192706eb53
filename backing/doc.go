// Package backing defines the backing-store collaborator of the heapkit allocators.
//
// # Overview
//
// A backing store hands out fixed-size memory blocks. Blocks are expensive to
// create and never change size, so the allocator packages sub-divide them into
// ranges instead of asking for a block per request.
//
//   - Block: one fixed-size block, optionally host-visible (Bytes) and optionally
//     carrying a device base address (Address)
//   - Factory: creates a Block for a (size, heap class) pair
//   - Syncer: optional Block extension for non-coherent memory (Flush, Invalidate)
//
// # Implementations
//
// HeapFactory: Go-heap backed blocks
//
//   - Host visibility is configured per heap class; device-local classes get no
//     host memory, only a synthetic device address range
//   - Optional byte budget to simulate device memory exhaustion (ErrOutOfMemory)
//   - Host-visible blocks are coherent (no Syncer)
//
// MmapFactory: memory-mapped blocks (unix)
//
//   - Anonymous private mappings, or file-backed shared mappings when a directory
//     is configured
//   - Implements Syncer with msync(MS_SYNC) and msync(MS_INVALIDATE)
//
// # Heap Classes
//
// HeapClass is opaque to this module. Callers decide which class to request;
// the allocators only keep one page pool per class. At most MaxHeapClasses
// classes are supported.
package backing
