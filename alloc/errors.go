package alloc

import (
	"github.com/cockroachdb/errors"

	"github.com/joshuapare/heapkit/alloc/arena"
	"github.com/joshuapare/heapkit/alloc/pool"
)

var (
	// ErrInvalidRequest indicates a zero size, a non-power-of-two alignment,
	// a request beyond MaxPageSize, or a heap class out of range.
	ErrInvalidRequest = pool.ErrInvalidRequest

	// ErrBackingStore indicates the backing-store factory failed to create a page.
	ErrBackingStore = pool.ErrBackingStore

	// ErrBadAllocation indicates a free of a stale, zeroed or double-freed record.
	ErrBadAllocation = arena.ErrBadAllocation

	// ErrBadOptions indicates invalid router options.
	ErrBadOptions = errors.New("alloc: invalid options")
)
