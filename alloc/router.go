package alloc

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/heapkit/alloc/page"
	"github.com/joshuapare/heapkit/alloc/pool"
	"github.com/joshuapare/heapkit/backing"
	"github.com/joshuapare/heapkit/internal/format"
	"github.com/joshuapare/heapkit/internal/logger"
)

// Record is an allocation handed out by a Router. It carries its routing
// indices so Free can find the owning pool. The zero Record is invalid.
type Record struct {
	page.Record

	SizeClass int
	HeapClass backing.HeapClass
}

// Stats aggregates router and pool counters.
type Stats struct {
	AllocCalls    int    // Total Allocate() calls
	AllocFailed   int    // Allocate() calls that returned an error
	FreeCalls     int    // Successful Free() calls
	Resets        int    // Reset() calls
	Pools         int    // Pools constructed
	Pages         int    // Pages owned across all pools
	BytesReserved uint64 // Backing bytes owned across all pools
	BytesUsed     uint64 // Bytes allocated across all pools, margins included
}

// PoolInfo describes one constructed pool.
type PoolInfo struct {
	SizeClass int
	HeapClass backing.HeapClass
	PageSize  uint64
	Stats     pool.Stats
}

// Router is the PoolRouter: it owns every PagePool and dispatches requests by
// size class and heap class.
type Router struct {
	factory backing.Factory
	opts    Options

	// pools[sizeClass][heapClass], grown on demand.
	pools [][backing.MaxHeapClasses]*pool.Pool

	stats Stats
}

// NewRouter creates a router that requests pages from factory.
// A nil opts selects DefaultOptions.
func NewRouter(factory backing.Factory, opts *Options) (*Router, error) {
	if factory == nil {
		return nil, errors.Wrap(ErrBadOptions, "nil factory")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Router{
		factory: factory,
		opts:    opts.withDefaults(),
	}, nil
}

// Options returns the effective options.
func (r *Router) Options() Options { return r.opts }

// Allocate reserves size bytes aligned to alignment from memory of heapClass.
//
// Errors: ErrInvalidRequest for zero size, a non-power-of-two alignment, a
// request beyond MaxPageSize or an out-of-range heap class; ErrBackingStore when
// a new page was needed and the factory failed. Failures are never retried.
func (r *Router) Allocate(size, alignment uint64, heapClass backing.HeapClass) (Record, error) {
	r.stats.AllocCalls++

	rec, err := r.allocate(size, alignment, heapClass)
	if err != nil {
		r.stats.AllocFailed++
		return Record{}, err
	}
	return rec, nil
}

func (r *Router) allocate(size, alignment uint64, heapClass backing.HeapClass) (Record, error) {
	if size == 0 {
		return Record{}, errors.Wrap(ErrInvalidRequest, "zero size")
	}
	if !heapClass.Valid() {
		return Record{}, errors.Wrapf(ErrInvalidRequest, "heap class %d out of range", heapClass)
	}
	alignment = max(alignment, r.opts.MinAlignment)
	if !format.IsPow2(alignment) {
		return Record{}, errors.Wrapf(ErrInvalidRequest, "alignment %d is not a power of two", alignment)
	}

	sizeClass := SizeClass(size, alignment, r.opts.MinPageSize)
	pageSize := PageSizeForClass(sizeClass, r.opts.MinPageSize)
	if pageSize > r.opts.MaxPageSize {
		return Record{}, errors.Wrapf(ErrInvalidRequest, "%d bytes aligned to %d need %d byte pages, max %d",
			size, alignment, pageSize, r.opts.MaxPageSize)
	}

	p, err := r.pool(sizeClass, heapClass)
	if err != nil {
		return Record{}, err
	}
	pr, err := p.Allocate(size, alignment)
	if err != nil {
		return Record{}, err
	}
	return Record{Record: pr, SizeClass: sizeClass, HeapClass: heapClass}, nil
}

// pool returns the pool for (sizeClass, heapClass), creating it on first use.
func (r *Router) pool(sizeClass int, heapClass backing.HeapClass) (*pool.Pool, error) {
	if sizeClass >= len(r.pools) {
		grown := make([][backing.MaxHeapClasses]*pool.Pool, sizeClass+1)
		copy(grown, r.pools)
		r.pools = grown
	}
	if p := r.pools[sizeClass][heapClass]; p != nil {
		return p, nil
	}

	p, err := pool.New(r.factory, pool.Config{
		HeapClass:    heapClass,
		PageSize:     PageSizeForClass(sizeClass, r.opts.MinPageSize),
		MinAlignment: r.opts.MinAlignment,
		Label:        fmt.Sprintf("sc%d/hc%d", sizeClass, heapClass),
	})
	if err != nil {
		return nil, err
	}
	r.pools[sizeClass][heapClass] = p
	r.stats.Pools++
	logger.Debug("alloc: created pool", "pool", p.Label(), "page_size", p.PageSize())
	return p, nil
}

// Free returns rec to its pool and zeroes it. Freeing a zeroed, stale or
// foreign record returns an error instead of corrupting the pool.
func (r *Router) Free(rec *Record) error {
	if rec == nil || !rec.Valid() {
		return errors.Wrap(ErrBadAllocation, "invalid record")
	}
	if rec.SizeClass < 0 || rec.SizeClass >= len(r.pools) || !rec.HeapClass.Valid() {
		return errors.Wrapf(ErrBadAllocation, "record routed to sc%d/hc%d", rec.SizeClass, rec.HeapClass)
	}
	p := r.pools[rec.SizeClass][rec.HeapClass]
	if p == nil {
		return errors.Wrapf(ErrBadAllocation, "no pool sc%d/hc%d", rec.SizeClass, rec.HeapClass)
	}
	if err := p.Free(&rec.Record); err != nil {
		return err
	}
	*rec = Record{}
	r.stats.FreeCalls++
	return nil
}

// Reset bulk-frees every constructed pool. Every outstanding record becomes
// invalid; call it only when nothing allocated is still in use.
func (r *Router) Reset() {
	r.stats.Resets++
	r.each(func(_ int, _ backing.HeapClass, p *pool.Pool) {
		p.Reset()
	})
}

// Release returns every backing block to the factory and drops all pools.
func (r *Router) Release() error {
	var err error
	r.each(func(_ int, _ backing.HeapClass, p *pool.Pool) {
		err = errors.CombineErrors(err, p.Release())
	})
	r.pools = nil
	r.stats.Pools = 0
	return err
}

// Stats returns aggregate counters across all pools.
func (r *Router) Stats() Stats {
	s := r.stats
	s.Pages, s.BytesReserved, s.BytesUsed = 0, 0, 0
	r.each(func(_ int, _ backing.HeapClass, p *pool.Pool) {
		ps := p.Stats()
		s.Pages += p.NumPages()
		s.BytesReserved += ps.BytesReserved
		s.BytesUsed += ps.BytesUsed
	})
	return s
}

// Pools returns one entry per constructed pool, ordered by size class then
// heap class.
func (r *Router) Pools() []PoolInfo {
	var infos []PoolInfo
	r.each(func(sc int, hc backing.HeapClass, p *pool.Pool) {
		infos = append(infos, PoolInfo{
			SizeClass: sc,
			HeapClass: hc,
			PageSize:  p.PageSize(),
			Stats:     p.Stats(),
		})
	})
	return infos
}

// Validate checks the invariants of every page of every pool.
func (r *Router) Validate() error {
	var err error
	r.each(func(_ int, _ backing.HeapClass, p *pool.Pool) {
		if err == nil {
			err = p.Validate()
		}
	})
	return err
}

func (r *Router) each(fn func(sizeClass int, heapClass backing.HeapClass, p *pool.Pool)) {
	for sc := range r.pools {
		for hc, p := range r.pools[sc] {
			if p != nil {
				fn(sc, backing.HeapClass(hc), p)
			}
		}
	}
}
