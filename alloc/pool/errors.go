package pool

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidRequest indicates a zero size, a non-power-of-two alignment, or
	// a request that cannot fit an empty page of this pool.
	ErrInvalidRequest = errors.New("pool: invalid request")

	// ErrBackingStore marks failures of the backing-store factory. The factory
	// error is kept as the cause.
	ErrBackingStore = errors.New("pool: backing store creation failed")

	// ErrNoSpace indicates that a freshly selected page still rejected the request.
	ErrNoSpace = errors.New("pool: no page can hold the request")

	// ErrUnknownPage indicates a record naming a page this pool does not own.
	ErrUnknownPage = errors.New("pool: record names an unknown page")
)
