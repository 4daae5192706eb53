package arena

import "github.com/cockroachdb/errors"

var (
	// ErrBadAllocation indicates a Free of a zero, out-of-range or already-free span.
	ErrBadAllocation = errors.New("arena: bad allocation")

	// ErrBadConfig indicates an invalid page size or minimum alignment.
	ErrBadConfig = errors.New("arena: bad configuration")

	// ErrCorrupt is returned by Validate when bookkeeping invariants do not hold.
	ErrCorrupt = errors.New("arena: corrupt free lists")
)
