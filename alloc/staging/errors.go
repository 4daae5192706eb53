package staging

import (
	"github.com/cockroachdb/errors"

	"github.com/joshuapare/heapkit/alloc/pool"
)

var (
	// ErrInvalidRequest indicates a zero size or a non-power-of-two alignment.
	ErrInvalidRequest = pool.ErrInvalidRequest

	// ErrBackingStore indicates the backing-store factory failed to create a page.
	ErrBackingStore = pool.ErrBackingStore

	// ErrNoSpace indicates that a freshly selected page still rejected the request.
	ErrNoSpace = pool.ErrNoSpace

	// ErrBadOptions indicates invalid staging pool options.
	ErrBadOptions = errors.New("staging: invalid options")

	// ErrUnknownKind indicates an unrecognized staging kind name.
	ErrUnknownKind = errors.New("staging: unknown kind")
)
