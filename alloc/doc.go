// Package alloc is the public entry point of the sub-allocator.
//
// A Router maps every request to a PagePool chosen by (size class, heap class).
// Size classes are powers of two starting at the minimum page size, so a
// request never lands in a pool whose pages are more than twice as large as
// the request plus its alignment:
//
//	class = log2(nextPow2(size+alignment)) - log2(MinPageSize) + 1   (clamped to 0)
//	page  = max(MinPageSize, 2^(class-1+log2(MinPageSize)))
//
// Pools are created lazily on first use. The returned Record carries its
// routing indices, so Free needs nothing but the record.
//
// # Layers
//
//	alloc.Router     size-class and heap-class routing
//	pool.Pool        growable set of same-shape pages
//	page.Page        one backing block plus its arena
//	arena.Arena      free-list bookkeeping over [0, pageSize)
//
// The staging package provides the linear (bump) variant for per-cycle
// transient buffers.
//
// # Concurrency
//
// Router is not safe for concurrent use. Callers serialize access, typically
// with one allocating goroutine per heap class.
package alloc
