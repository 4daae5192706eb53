// Package staging implements the linear sub-allocator for per-cycle transient
// buffers: uploads written by the CPU for the device, and readbacks written by
// the device for the CPU.
//
// Allocations are never freed individually. ResetPages, called once per cycle
// after every consumer of the previous cycle is known to be done, rewinds all
// pages at once. For non-coherent memory, MakeVisible flushes (upload) or
// invalidates (readback) exactly the ranges handed out since the last sync.
//
// AllocateBufferPart is safe for concurrent use: allocations on the main page
// run under a shared lock plus the page's own mutex, and only switching the
// main page takes the pool lock exclusively.
package staging

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/heapkit/alloc/page"
	"github.com/joshuapare/heapkit/backing"
	"github.com/joshuapare/heapkit/internal/buf"
	"github.com/joshuapare/heapkit/internal/format"
	"github.com/joshuapare/heapkit/internal/logger"
)

const noPage = -1

// Stats holds staging pool counters.
type Stats struct {
	Allocations     int64  // Successful AllocateBufferPart() calls
	Cycles          int    // ResetPages() calls
	PagesCreated    int    // Pages created through the factory
	OversizedPages  int    // Pages sized above PageSize for a single request
	MainPageChanges int    // Main page switched to an existing page
	Flushes         int    // Flush() calls that reached the blocks
	Invalidates     int    // Invalidate() calls that reached the blocks
	BytesReserved   uint64 // Total backing bytes owned
	BytesUsed       uint64 // Sum of page cursors
}

// PageInfo is a point-in-time view of one staging page.
type PageInfo struct {
	Index       int
	Size        uint64
	Used        uint64
	Allocations int
	Full        bool
	Main        bool
	Pending     int // coalesced ranges awaiting Flush or Invalidate
}

// Pool is a staging (linear) pool of bump pages of one heap class.
type Pool struct {
	mu sync.RWMutex

	factory backing.Factory
	opts    Options

	pages []*page.BumpPage
	main  int

	allocs atomic.Int64
	stats  Stats
}

// New creates an empty staging pool.
func New(factory backing.Factory, opts Options) (*Pool, error) {
	if factory == nil {
		return nil, errors.Wrap(ErrBadOptions, "nil factory")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		factory: factory,
		opts:    opts.withDefaults(),
		main:    noPage,
	}, nil
}

// AllocateBufferPart reserves size bytes aligned to alignment for the current
// cycle. The record stays valid until the next ResetPages.
//
// Requests larger than the page size get a dedicated page sized to the next
// power of two. A request that would need a page above MaxPageSize is
// rejected with ErrInvalidRequest.
func (p *Pool) AllocateBufferPart(size, alignment uint64) (page.Record, error) {
	if size == 0 {
		return page.Record{}, errors.Wrap(ErrInvalidRequest, "zero size")
	}
	alignment = max(alignment, p.opts.Granularity)
	if !format.IsPow2(alignment) {
		return page.Record{}, errors.Wrapf(ErrInvalidRequest, "alignment %d is not a power of two", alignment)
	}
	pageSize, err := p.pageSizeFor(size, alignment)
	if err != nil {
		return page.Record{}, err
	}

	p.mu.RLock()
	r, ok := p.tryMain(size, alignment)
	p.mu.RUnlock()
	if ok {
		p.allocs.Add(1)
		return r, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another goroutine may have switched the main page meanwhile.
	if r, ok := p.tryMain(size, alignment); ok {
		p.allocs.Add(1)
		return r, nil
	}
	if err := p.changeMainPage(size, alignment, pageSize); err != nil {
		return page.Record{}, err
	}
	// The exclusive lock keeps every other allocator off the pages.
	r, ok = p.pages[p.main].AllocateUnlocked(size, alignment)
	if !ok {
		return page.Record{}, errors.Wrapf(ErrNoSpace, "%s: %d bytes aligned to %d on page %d",
			p.opts.Label, size, alignment, p.main)
	}
	p.allocs.Add(1)
	return r, nil
}

func (p *Pool) tryMain(size, alignment uint64) (page.Record, bool) {
	if p.main == noPage {
		return page.Record{}, false
	}
	return p.pages[p.main].Allocate(size, alignment)
}

// pageSizeFor returns the size of the page a new main page would need to hold
// the request: the regular page size, or a dedicated power-of-two page.
func (p *Pool) pageSizeFor(size, alignment uint64) (uint64, error) {
	end, ok := buf.AddOverflowSafe(size, alignment-1)
	if !ok {
		return 0, errors.Wrapf(ErrInvalidRequest, "%d bytes aligned to %d overflows", size, alignment)
	}
	need := max(format.AlignDown(end, alignment), alignment)
	if need <= p.opts.PageSize {
		return p.opts.PageSize, nil
	}
	pageSize := format.NextPow2(need)
	if pageSize < need || pageSize > p.opts.MaxPageSize {
		return 0, errors.Wrapf(ErrInvalidRequest, "%d bytes aligned to %d exceed the %d byte page limit",
			size, alignment, p.opts.MaxPageSize)
	}
	return pageSize, nil
}

// changeMainPage makes a page able to hold the request the main page. Every
// non-main page is checked before one of pageSize bytes is created.
func (p *Pool) changeMainPage(size, alignment, pageSize uint64) error {
	for i, pg := range p.pages {
		if i == p.main {
			continue
		}
		if pg.Fits(size, alignment) {
			p.main = i
			p.stats.MainPageChanges++
			return nil
		}
	}

	if pageSize > p.opts.PageSize {
		p.stats.OversizedPages++
	}

	block, err := p.factory.Create(pageSize, p.opts.HeapClass)
	if err != nil {
		logger.Warn("staging: backing store creation failed",
			"pool", p.opts.Label, "heap_class", p.opts.HeapClass, "size", pageSize, "err", err)
		return errors.Mark(
			errors.Wrapf(err, "%s: create %d byte page", p.opts.Label, pageSize),
			ErrBackingStore)
	}
	pg, err := page.NewBump(len(p.pages), block, page.BumpOptions{
		Granularity: p.opts.Granularity,
		SyncAtom:    p.opts.SyncAtom,
	})
	if err != nil {
		_ = block.Release()
		return err
	}

	p.pages = append(p.pages, pg)
	p.main = pg.Index()
	p.stats.PagesCreated++
	p.stats.BytesReserved += pageSize

	logger.Debug("staging: created page",
		"pool", p.opts.Label, "page", pg.Index(), "size", pageSize, "coherent", pg.Coherent())
	return nil
}

// ResetPages rewinds every page. All records of the previous cycle become
// invalid; call it only once their consumers are finished.
func (p *Pool) ResetPages() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pg := range p.pages {
		pg.Reset()
	}
	p.main = noPage
	if len(p.pages) > 0 {
		p.main = 0
	}
	p.stats.Cycles++
	logger.Debug("staging: reset pages", "pool", p.opts.Label, "pages", len(p.pages), "cycle", p.stats.Cycles)
}

// Flush makes CPU writes to every range allocated since the last sync visible
// to the device. Pages on coherent blocks are skipped.
func (p *Pool) Flush(ctx context.Context) error {
	return p.sync(ctx, "flush", (*page.BumpPage).Flush, &p.stats.Flushes)
}

// Invalidate discards stale CPU views of every range allocated since the last
// sync, before reading device output.
func (p *Pool) Invalidate(ctx context.Context) error {
	return p.sync(ctx, "invalidate", (*page.BumpPage).Invalidate, &p.stats.Invalidates)
}

func (p *Pool) sync(ctx context.Context, op string, fn func(*page.BumpPage, context.Context) error, counter *int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pg := range p.pages {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "%s %s", p.opts.Label, op)
		}
		if err := fn(pg, ctx); err != nil {
			return errors.Wrapf(err, "%s %s page %d", p.opts.Label, op, pg.Index())
		}
	}
	*counter++
	return nil
}

// MakeVisible publishes the cycle's allocations to the other side: a flush
// for upload pools, an invalidate for readback pools, nothing for coherent
// memory.
func (p *Pool) MakeVisible(ctx context.Context) error {
	if p.opts.Coherent {
		return nil
	}
	switch p.opts.Kind {
	case KindReadback:
		return p.Invalidate(ctx)
	default:
		return p.Flush(ctx)
	}
}

// Release returns every backing block to the factory and empties the pool.
func (p *Pool) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for _, pg := range p.pages {
		err = errors.CombineErrors(err, pg.Release())
	}
	p.pages = nil
	p.main = noPage
	p.stats.BytesReserved = 0
	return err
}

// Kind returns the transfer direction.
func (p *Pool) Kind() Kind { return p.opts.Kind }

// Coherent reports whether the pool was built for coherent memory.
func (p *Pool) Coherent() bool { return p.opts.Coherent }

// HeapClass returns the heap class of every page.
func (p *Pool) HeapClass() backing.HeapClass { return p.opts.HeapClass }

// PageSize returns the size of regular pages.
func (p *Pool) PageSize() uint64 { return p.opts.PageSize }

// Main returns the index of the main page, or -1.
func (p *Pool) Main() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.main
}

// Pages returns a snapshot of every page.
func (p *Pool) Pages() []PageInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	infos := make([]PageInfo, len(p.pages))
	for i, pg := range p.pages {
		infos[i] = PageInfo{
			Index:       i,
			Size:        pg.Size(),
			Used:        pg.Used(),
			Allocations: pg.Allocations(),
			Full:        pg.IsFull(),
			Main:        i == p.main,
			Pending:     len(pg.PendingRanges()),
		}
	}
	return infos
}

// Stats returns the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := p.stats
	s.Allocations = p.allocs.Load()
	for _, pg := range p.pages {
		s.BytesUsed += pg.Used()
	}
	return s
}
