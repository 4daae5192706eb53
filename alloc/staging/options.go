package staging

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/heapkit/alloc/page"
	"github.com/joshuapare/heapkit/backing"
	"github.com/joshuapare/heapkit/internal/format"
)

const (
	// DefaultPageSize is the size of regular staging pages.
	DefaultPageSize = 8 << 20

	// DefaultMaxPageSize bounds the dedicated page of an oversized request.
	DefaultMaxPageSize = 64 << 30
)

// Kind is the transfer direction of a staging pool.
type Kind uint8

const (
	// KindUpload stages CPU writes for the device. MakeVisible flushes.
	KindUpload Kind = iota

	// KindReadback stages device output for the CPU. MakeVisible invalidates.
	KindReadback
)

// String returns the config name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUpload:
		return "upload"
	case KindReadback:
		return "readback"
	default:
		return "unknown"
	}
}

// ParseKind parses "upload" or "readback".
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "upload", "":
		return KindUpload, nil
	case "readback":
		return KindReadback, nil
	default:
		return 0, errors.Wrapf(ErrUnknownKind, "%q", name)
	}
}

// Options configures a staging Pool.
type Options struct {
	// HeapClass is fixed for the lifetime of the pool.
	HeapClass backing.HeapClass

	// PageSize of regular pages. Must be a power of two.
	// Default: 8 MiB
	PageSize uint64

	// MaxPageSize rejects requests that would need a larger dedicated page.
	// Default: 64 GiB, or PageSize when that is larger
	MaxPageSize uint64

	// Granularity is the minimum alignment and full-page slack of every page.
	// Default: page.DefaultGranularity
	Granularity uint64

	// SyncAtom is the flush/invalidate granularity of non-coherent blocks.
	// Default: dirty.DefaultAtom
	SyncAtom uint64

	// Coherent records that the heap class needs no explicit Flush or
	// Invalidate. MakeVisible is then a no-op.
	Coherent bool

	// Kind selects what MakeVisible does for non-coherent memory.
	Kind Kind

	// Label names the pool in logs.
	Label string
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxPageSize == 0 {
		o.MaxPageSize = max(DefaultMaxPageSize, o.PageSize)
	}
	if o.Granularity == 0 {
		o.Granularity = page.DefaultGranularity
	}
	if o.Label == "" {
		o.Label = "staging/" + o.Kind.String()
	}
	return o
}

// Validate checks the options after defaults are applied.
func (o Options) Validate() error {
	o = o.withDefaults()
	switch {
	case !o.HeapClass.Valid():
		return errors.Wrapf(ErrBadOptions, "heap class %d out of range", o.HeapClass)
	case !format.IsPow2(o.PageSize):
		return errors.Wrapf(ErrBadOptions, "page size %d is not a power of two", o.PageSize)
	case o.MaxPageSize < o.PageSize:
		return errors.Wrapf(ErrBadOptions, "max page size %d below page size %d", o.MaxPageSize, o.PageSize)
	case !format.IsPow2(o.Granularity) || o.Granularity > o.PageSize:
		return errors.Wrapf(ErrBadOptions, "granularity %d", o.Granularity)
	case o.SyncAtom != 0 && !format.IsPow2(o.SyncAtom):
		return errors.Wrapf(ErrBadOptions, "sync atom %d is not a power of two", o.SyncAtom)
	case o.Kind != KindUpload && o.Kind != KindReadback:
		return errors.Wrapf(ErrUnknownKind, "kind %d", o.Kind)
	}
	return nil
}
