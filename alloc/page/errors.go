package page

import "github.com/cockroachdb/errors"

var (
	// ErrForeignRecord indicates a Record that was not handed out by this page.
	ErrForeignRecord = errors.New("page: record belongs to another page")

	// ErrBadBlock indicates a nil or empty backing block.
	ErrBadBlock = errors.New("page: bad backing block")
)
