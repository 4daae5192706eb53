package backing

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfMemory indicates that the factory budget cannot fit another block.
	ErrOutOfMemory = errors.New("backing: out of memory")

	// ErrBadSize indicates a zero or unmappable block size.
	ErrBadSize = errors.New("backing: bad block size")

	// ErrBadClass indicates a heap class outside [0, MaxHeapClasses).
	ErrBadClass = errors.New("backing: bad heap class")

	// ErrReleased indicates an operation on a block that was already released.
	ErrReleased = errors.New("backing: block released")

	// ErrRange indicates a sync range outside the block.
	ErrRange = errors.New("backing: range out of bounds")
)
