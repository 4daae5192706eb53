package alloc

import (
	"github.com/joshuapare/heapkit/internal/buf"
	"github.com/joshuapare/heapkit/internal/format"
)

// SizeClass returns the pool index for a request of size bytes aligned to
// alignment. minPageSize must be a power of two.
//
// Classes are monotonic in size: s1 < s2 implies SizeClass(s1) <= SizeClass(s2).
// A sum that overflows uint64 maps to the largest class.
func SizeClass(size, alignment, minPageSize uint64) int {
	total, ok := buf.AddOverflowSafe(size, alignment)
	if !ok {
		return 64 - format.Log2(minPageSize) + 1
	}
	shift := format.Log2(minPageSize)
	idx := format.Log2(format.NextPow2(total)) - shift + 1
	if idx < 0 {
		return 0
	}
	return idx
}

// PageSizeForClass returns the page size of pools in class idx.
// The result is at least minPageSize and saturates at 1<<63.
func PageSizeForClass(idx int, minPageSize uint64) uint64 {
	if idx <= 1 {
		return minPageSize
	}
	exp := idx - 1 + format.Log2(minPageSize)
	if exp >= 63 {
		return 1 << 63
	}
	return max(minPageSize, uint64(1)<<exp)
}
