// Package pool manages a growable set of same-shape free-list pages.
//
// A Pool owns every page it creates. It keeps a fast-path "current" page and an
// ordered set of "available" pages that are not known to be full. When the
// current page rejects a request, the pool evicts it from the available set if
// it is full, scans the available pages in index order for one that fits, and
// creates a new page only when none does.
//
// Pool is not thread-safe; callers serialize access per pool.
package pool

import (
	"github.com/cockroachdb/errors"
	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"

	"github.com/joshuapare/heapkit/alloc/arena"
	"github.com/joshuapare/heapkit/alloc/page"
	"github.com/joshuapare/heapkit/backing"
	"github.com/joshuapare/heapkit/internal/format"
	"github.com/joshuapare/heapkit/internal/logger"
)

// noPage marks the absence of a current page.
const noPage = -1

// Config describes the shape of every page of a pool.
type Config struct {
	HeapClass    backing.HeapClass
	PageSize     uint64
	MinAlignment uint64 // zero selects arena.DefaultMinAlignment
	Label        string // diagnostic name used in logs
}

// Stats holds pool counters.
type Stats struct {
	PagesCreated  int    // Pages created through the factory
	AllocCalls    int    // Total Allocate() calls
	AllocFastPath int    // Served by the current page
	AllocSlowPath int    // Needed a page change or a new page
	PageChanges   int    // Current page switched to an existing page
	Evictions     int    // Full current pages dropped from the available set
	FreeCalls     int    // Successful Free() calls
	Resets        int    // Reset() calls
	BytesReserved uint64 // Total backing bytes owned
	BytesUsed     uint64 // Bytes allocated across pages, margins included
}

// PageInfo is a point-in-time view of one page.
type PageInfo struct {
	Index     int
	Size      uint64
	Used      uint64
	MaxBlock  uint64
	Full      bool
	Current   bool
	Available bool
}

// Pool is a PagePool: all pages of one (heap class, page size) shape.
type Pool struct {
	factory backing.Factory
	cfg     Config

	pages     []*page.Page
	available *treeset.Set // page indices, iterated in ascending order
	current   int

	stats Stats
}

// New creates an empty pool. No page is created until the first Allocate.
func New(factory backing.Factory, cfg Config) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("pool: nil factory")
	}
	if cfg.MinAlignment == 0 {
		cfg.MinAlignment = arena.DefaultMinAlignment
	}
	if cfg.PageSize == 0 || !format.IsPow2(cfg.MinAlignment) {
		return nil, errors.Wrapf(ErrInvalidRequest, "page size %d, min alignment %d", cfg.PageSize, cfg.MinAlignment)
	}
	if !cfg.HeapClass.Valid() {
		return nil, errors.Wrapf(backing.ErrBadClass, "class %d", cfg.HeapClass)
	}
	return &Pool{
		factory:   factory,
		cfg:       cfg,
		available: treeset.NewWith(utils.IntComparator),
		current:   noPage,
	}, nil
}

// Allocate reserves size bytes aligned to alignment, growing the pool by one
// page when no existing page can hold the request.
//
// Errors: ErrInvalidRequest for requests no page could ever hold,
// ErrBackingStore (wrapping the factory error) when a new page is needed and
// the factory fails.
func (p *Pool) Allocate(size, alignment uint64) (page.Record, error) {
	p.stats.AllocCalls++

	if err := p.checkRequest(size, alignment); err != nil {
		return page.Record{}, err
	}

	if p.current != noPage {
		if r, ok := p.pages[p.current].Allocate(size, alignment); ok {
			p.stats.AllocFastPath++
			return r, nil
		}
	}

	if err := p.changePage(size, alignment); err != nil {
		return page.Record{}, err
	}
	p.stats.AllocSlowPath++

	r, ok := p.pages[p.current].Allocate(size, alignment)
	if !ok {
		return page.Record{}, errors.Wrapf(ErrNoSpace, "%s: %d bytes aligned to %d on page %d",
			p.cfg.Label, size, alignment, p.current)
	}
	return r, nil
}

func (p *Pool) checkRequest(size, alignment uint64) error {
	if size == 0 {
		return errors.Wrap(ErrInvalidRequest, "zero size")
	}
	alignment = max(alignment, p.cfg.MinAlignment)
	if !format.IsPow2(alignment) {
		return errors.Wrapf(ErrInvalidRequest, "alignment %d is not a power of two", alignment)
	}
	if size > p.cfg.PageSize || alignment > p.cfg.PageSize || format.AlignUp(size, alignment) > p.cfg.PageSize {
		return errors.Wrapf(ErrInvalidRequest, "%d bytes aligned to %d exceed page size %d",
			size, alignment, p.cfg.PageSize)
	}
	return nil
}

// changePage selects a new current page able to hold the request, creating
// one when no available page fits.
func (p *Pool) changePage(size, alignment uint64) error {
	if p.current != noPage && p.pages[p.current].IsFull() {
		p.available.Remove(p.current)
		p.stats.Evictions++
	}

	it := p.available.Iterator()
	for it.Next() {
		idx := it.Value().(int) //nolint:errcheck // set holds only int
		if idx == p.current {
			continue
		}
		if p.pages[idx].Fits(size, alignment) {
			p.current = idx
			p.stats.PageChanges++
			return nil
		}
	}

	pg, err := p.newPage()
	if err != nil {
		return err
	}
	p.current = pg.Index()
	return nil
}

func (p *Pool) newPage() (*page.Page, error) {
	block, err := p.factory.Create(p.cfg.PageSize, p.cfg.HeapClass)
	if err != nil {
		logger.Warn("pool: backing store creation failed",
			"pool", p.cfg.Label, "heap_class", p.cfg.HeapClass, "size", p.cfg.PageSize, "err", err)
		return nil, errors.Mark(
			errors.Wrapf(err, "%s: create %d byte page", p.cfg.Label, p.cfg.PageSize),
			ErrBackingStore)
	}

	pg, err := page.New(len(p.pages), block, p.cfg.MinAlignment)
	if err != nil {
		_ = block.Release()
		return nil, err
	}

	p.pages = append(p.pages, pg)
	p.available.Add(pg.Index())
	p.stats.PagesCreated++
	p.stats.BytesReserved += p.cfg.PageSize

	logger.Debug("pool: created page",
		"pool", p.cfg.Label, "page", pg.Index(), "size", p.cfg.PageSize, "heap_class", p.cfg.HeapClass)
	return pg, nil
}

// Free returns r to its owning page and zeroes it. A page other than the
// current one becomes available again, since it may have been evicted as full.
func (p *Pool) Free(r *page.Record) error {
	if r == nil || !r.Valid() {
		return errors.Wrap(arena.ErrBadAllocation, "invalid record")
	}
	if r.Page < 0 || r.Page >= len(p.pages) {
		return errors.Wrapf(ErrUnknownPage, "%s: page %d of %d", p.cfg.Label, r.Page, len(p.pages))
	}

	idx := r.Page
	if err := p.pages[idx].Free(r); err != nil {
		return err
	}
	if idx != p.current {
		p.available.Add(idx)
	}
	p.stats.FreeCalls++
	return nil
}

// Reset frees every page in bulk and makes all of them available.
// Outstanding records become invalid without individual Free calls.
func (p *Pool) Reset() {
	p.stats.Resets++
	for _, pg := range p.pages {
		pg.Reset()
		p.available.Add(pg.Index())
	}
	p.current = noPage
	if len(p.pages) > 0 {
		p.current = 0
	}
}

// Release returns every backing block to the factory and empties the pool.
func (p *Pool) Release() error {
	var err error
	for _, pg := range p.pages {
		err = errors.CombineErrors(err, pg.Release())
	}
	p.pages = nil
	p.available.Clear()
	p.current = noPage
	p.stats.BytesReserved = 0
	return err
}

// Label returns the diagnostic pool name.
func (p *Pool) Label() string { return p.cfg.Label }

// PageSize returns the size of every page of the pool.
func (p *Pool) PageSize() uint64 { return p.cfg.PageSize }

// HeapClass returns the heap class the pool requests pages for.
func (p *Pool) HeapClass() backing.HeapClass { return p.cfg.HeapClass }

// NumPages returns the number of pages owned.
func (p *Pool) NumPages() int { return len(p.pages) }

// Current returns the index of the current page, or -1.
func (p *Pool) Current() int { return p.current }

// Available returns the available page indices in ascending order.
func (p *Pool) Available() []int {
	values := p.available.Values()
	result := make([]int, len(values))
	for i, v := range values {
		result[i] = v.(int) //nolint:errcheck // set holds only int
	}
	return result
}

// Pages returns a snapshot of every page.
func (p *Pool) Pages() []PageInfo {
	infos := make([]PageInfo, len(p.pages))
	for i, pg := range p.pages {
		infos[i] = PageInfo{
			Index:     i,
			Size:      pg.Size(),
			Used:      pg.Used(),
			MaxBlock:  pg.MaxBlockSize(),
			Full:      pg.IsFull(),
			Current:   i == p.current,
			Available: p.available.Contains(i),
		}
	}
	return infos
}

// Stats returns the pool counters.
func (p *Pool) Stats() Stats {
	s := p.stats
	s.BytesUsed = 0
	for _, pg := range p.pages {
		s.BytesUsed += pg.Used()
	}
	return s
}

// Validate checks the arena invariants of every page and that the current
// page is owned.
func (p *Pool) Validate() error {
	if p.current != noPage && (p.current < 0 || p.current >= len(p.pages)) {
		return errors.Newf("pool %s: current page %d not owned", p.cfg.Label, p.current)
	}
	for _, pg := range p.pages {
		if err := pg.Validate(); err != nil {
			return errors.Wrapf(err, "pool %s page %d", p.cfg.Label, pg.Index())
		}
	}
	return nil
}
