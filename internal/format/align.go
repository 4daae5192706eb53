// Package format holds the power-of-two and alignment arithmetic shared by the
// allocator packages. All helpers operate on uint64 byte counts.
package format

import "math/bits"

// IsPow2 reports whether n is a non-zero power of two.
func IsPow2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// AlignUp returns n rounded up to the next multiple of alignment.
// alignment must be a power of two.
//
// Example:
//
//	AlignUp(1, 8)    = 8
//	AlignUp(8, 8)    = 8
//	AlignUp(100, 16) = 112
func AlignUp(n, alignment uint64) uint64 {
	mask := alignment - 1
	return (n + mask) &^ mask
}

// AlignDown returns n rounded down to a multiple of alignment.
// alignment must be a power of two.
func AlignDown(n, alignment uint64) uint64 {
	return n &^ (alignment - 1)
}

// IsAligned reports whether n is a multiple of alignment.
func IsAligned(n, alignment uint64) bool {
	return n&(alignment-1) == 0
}

// NextPow2 returns the smallest power of two >= n. NextPow2(0) is 1.
// Values above 1<<63 saturate to 1<<63.
func NextPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	if n > 1<<63 {
		return 1 << 63
	}
	return 1 << (64 - bits.LeadingZeros64(n-1))
}

// PrevPow2 returns the largest power of two <= n. PrevPow2(0) is 0.
func PrevPow2(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return 1 << (63 - bits.LeadingZeros64(n))
}

// Log2 returns floor(log2(n)). Log2(0) is 0.
func Log2(n uint64) int {
	if n == 0 {
		return 0
	}
	return 63 - bits.LeadingZeros64(n)
}
