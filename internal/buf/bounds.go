// Package buf provides overflow-checked arithmetic for byte ranges.
package buf

import "math"

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow uint64.
func AddOverflowSafe(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

// Has reports whether [off, off+length) lies within a buffer of size n.
func Has(n, off, length uint64) bool {
	end, ok := AddOverflowSafe(off, length)
	return ok && end <= n
}

// Slice returns b[off:off+length] when the range is in bounds.
func Slice(b []byte, off, length uint64) ([]byte, bool) {
	if !Has(uint64(len(b)), off, length) {
		return nil, false
	}
	return b[off : off+length : off+length], true
}
