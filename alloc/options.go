package alloc

import (
	"github.com/cockroachdb/errors"

	"github.com/joshuapare/heapkit/alloc/arena"
	"github.com/joshuapare/heapkit/internal/format"
)

const (
	// DefaultMinPageSize is the page size of the smallest size class.
	DefaultMinPageSize = 128 << 20

	// DefaultMaxPageSize bounds the largest page a single request may create.
	DefaultMaxPageSize = 64 << 30
)

// Options configures a Router.
type Options struct {
	// MinPageSize is the page size of size class 0 and 1. Must be a power of two.
	// Default: 128 MiB
	MinPageSize uint64

	// MinAlignment is the smallest alignment handed out. Must be a power of two.
	// Default: 8
	MinAlignment uint64

	// MaxPageSize rejects requests whose size class would need larger pages.
	// Default: 64 GiB
	MaxPageSize uint64
}

// DefaultOptions returns the recommended router options.
func DefaultOptions() *Options {
	return &Options{
		MinPageSize:  DefaultMinPageSize,
		MinAlignment: arena.DefaultMinAlignment,
		MaxPageSize:  DefaultMaxPageSize,
	}
}

// withDefaults fills zero fields.
func (o Options) withDefaults() Options {
	if o.MinPageSize == 0 {
		o.MinPageSize = DefaultMinPageSize
	}
	if o.MinAlignment == 0 {
		o.MinAlignment = arena.DefaultMinAlignment
	}
	if o.MaxPageSize == 0 {
		o.MaxPageSize = max(DefaultMaxPageSize, o.MinPageSize)
	}
	return o
}

// Validate checks the options after defaults are applied.
func (o Options) Validate() error {
	o = o.withDefaults()
	switch {
	case !format.IsPow2(o.MinPageSize):
		return errors.Wrapf(ErrBadOptions, "min page size %d is not a power of two", o.MinPageSize)
	case !format.IsPow2(o.MinAlignment):
		return errors.Wrapf(ErrBadOptions, "min alignment %d is not a power of two", o.MinAlignment)
	case o.MinAlignment > o.MinPageSize:
		return errors.Wrapf(ErrBadOptions, "min alignment %d exceeds min page size %d", o.MinAlignment, o.MinPageSize)
	case o.MaxPageSize < o.MinPageSize:
		return errors.Wrapf(ErrBadOptions, "max page size %d below min page size %d", o.MaxPageSize, o.MinPageSize)
	}
	return nil
}
