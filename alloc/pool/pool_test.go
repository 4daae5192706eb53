package pool

import (
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/alloc/arena"
	"github.com/joshuapare/heapkit/alloc/page"
	"github.com/joshuapare/heapkit/backing"
)

const (
	kib = uint64(1) << 10
	mib = uint64(1) << 20
)

// deviceClass is never marked host-visible, so large pages cost no memory.
const deviceClass backing.HeapClass = 3

func newTestPool(t *testing.T, f backing.Factory, pageSize uint64) *Pool {
	t.Helper()
	p, err := New(f, Config{HeapClass: deviceClass, PageSize: pageSize, Label: "test"})
	require.NoError(t, err)
	return p
}

func TestPool_TwoLargeAllocationsUseTwoPages(t *testing.T) {
	f := backing.NewHeapFactory()
	p := newTestPool(t, f, 128*mib)

	a, err := p.Allocate(100*mib, 256)
	require.NoError(t, err)
	b, err := p.Allocate(100*mib, 256)
	require.NoError(t, err)

	assert.NotEqual(t, a.Page, b.Page)
	assert.NotSame(t, a.Block, b.Block)
	assert.Equal(t, 2, p.NumPages())
	assert.Equal(t, 2, f.Created())
	assert.Equal(t, 256*mib, f.Reserved())
	assert.Zero(t, a.Offset%256)
	assert.Zero(t, b.Offset%256)
	assert.Nil(t, a.Mapped)
	assert.NotZero(t, a.Address)

	s := p.Stats()
	assert.Equal(t, 2, s.PagesCreated)
	assert.Equal(t, 2, s.AllocSlowPath)
	assert.Equal(t, 200*mib, s.BytesUsed)
	require.NoError(t, p.Validate())
}

func TestPool_FastPathStaysOnCurrentPage(t *testing.T) {
	p := newTestPool(t, backing.NewHeapFactory(), 64*kib)

	first, err := p.Allocate(100, 16)
	require.NoError(t, err)
	for range 20 {
		r, err := p.Allocate(100, 16)
		require.NoError(t, err)
		assert.Equal(t, first.Page, r.Page)
	}
	s := p.Stats()
	assert.Equal(t, 1, s.PagesCreated)
	assert.Equal(t, 20, s.AllocFastPath)
	assert.Equal(t, 1, s.AllocSlowPath)
}

func TestPool_FreedPageIsReused(t *testing.T) {
	p := newTestPool(t, backing.NewHeapFactory(), 4*kib)

	a, err := p.Allocate(4*kib, 8)
	require.NoError(t, err)
	b, err := p.Allocate(4*kib, 8)
	require.NoError(t, err)
	require.Equal(t, 0, a.Page)
	require.Equal(t, 1, b.Page)

	// Page 0 was evicted as full when page 1 was created.
	assert.Equal(t, []int{1}, p.Available())
	assert.Equal(t, 1, p.Current())

	require.NoError(t, p.Free(&a))
	assert.False(t, a.Valid())
	assert.Equal(t, []int{0, 1}, p.Available())

	// Page 1 is full, so the pool moves back to page 0 without creating a page.
	c, err := p.Allocate(2*kib, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Page)
	assert.Equal(t, 2, p.NumPages())

	s := p.Stats()
	assert.Equal(t, 1, s.PageChanges)
	assert.Equal(t, 2, s.Evictions)
}

func TestPool_InvalidRequests(t *testing.T) {
	f := backing.NewHeapFactory()
	p := newTestPool(t, f, 4*kib)

	cases := []struct {
		name            string
		size, alignment uint64
	}{
		{"zero size", 0, 8},
		{"larger than page", 4*kib + 1, 8},
		{"alignment not pow2", 64, 24},
		{"alignment larger than page", 64, 8 * kib},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Allocate(tc.size, tc.alignment)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Zero(t, f.Created())
}

func TestPool_BackingStoreFailure(t *testing.T) {
	f := backing.NewHeapFactory(backing.WithLimit(8 * kib))
	p := newTestPool(t, f, 4*kib)

	_, err := p.Allocate(4*kib, 8)
	require.NoError(t, err)
	_, err = p.Allocate(4*kib, 8)
	require.NoError(t, err)

	_, err = p.Allocate(4*kib, 8)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackingStore))
	assert.True(t, errors.Is(err, backing.ErrOutOfMemory))
	assert.Equal(t, 2, p.NumPages())
}

func TestPool_FactoryErrorIsWrapped(t *testing.T) {
	boom := errors.New("device lost")
	f := backing.FactoryFunc(func(uint64, backing.HeapClass) (backing.Block, error) {
		return nil, boom
	})
	p := newTestPool(t, f, 4*kib)

	_, err := p.Allocate(16, 8)
	require.ErrorIs(t, err, ErrBackingStore)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, p.NumPages())
	assert.Equal(t, -1, p.Current())
}

func TestPool_FreeErrors(t *testing.T) {
	p := newTestPool(t, backing.NewHeapFactory(), 4*kib)

	r, err := p.Allocate(64, 8)
	require.NoError(t, err)

	require.ErrorIs(t, p.Free(nil), arena.ErrBadAllocation)

	foreign := r
	foreign.Page = 7
	require.ErrorIs(t, p.Free(&foreign), ErrUnknownPage)

	other := newTestPool(t, backing.NewHeapFactory(), 4*kib)
	_, err = other.Allocate(64, 8)
	require.NoError(t, err)
	stolen := r
	require.ErrorIs(t, other.Free(&stolen), page.ErrForeignRecord)

	require.NoError(t, p.Free(&r))
	require.ErrorIs(t, p.Free(&r), arena.ErrBadAllocation)
}

func TestPool_ResetAndRelease(t *testing.T) {
	f := backing.NewHeapFactory()
	p := newTestPool(t, f, 4*kib)

	for range 3 {
		_, err := p.Allocate(4*kib, 8)
		require.NoError(t, err)
	}
	require.Equal(t, 3, p.NumPages())

	p.Reset()
	assert.Equal(t, []int{0, 1, 2}, p.Available())
	assert.Equal(t, 0, p.Current())
	for _, info := range p.Pages() {
		assert.Zero(t, info.Used)
		assert.True(t, info.Available)
	}

	r, err := p.Allocate(4*kib, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Page)
	assert.Equal(t, 3, f.Created())

	require.NoError(t, p.Release())
	assert.Zero(t, p.NumPages())
	assert.Zero(t, f.Live())
	assert.Zero(t, f.Reserved())
}

func TestPool_RandomWorkloadKeepsInvariants(t *testing.T) {
	p := newTestPool(t, backing.NewHeapFactory(), 64*kib)
	rng := rand.New(rand.NewSource(42))

	var live []page.Record
	for step := range 3000 {
		if len(live) > 0 && rng.Intn(3) == 0 {
			i := rng.Intn(len(live))
			require.NoError(t, p.Free(&live[i]), "step %d", step)
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}
		size := uint64(1 + rng.Intn(8*1024))
		alignment := uint64(1) << rng.Intn(10)
		r, err := p.Allocate(size, alignment)
		require.NoError(t, err, "step %d", step)
		require.Zero(t, r.Offset%max(alignment, arena.DefaultMinAlignment))
		require.LessOrEqual(t, r.Offset+r.Size, p.PageSize())
		live = append(live, r)
	}
	require.NoError(t, p.Validate())

	for i := range live {
		require.NoError(t, p.Free(&live[i]))
	}
	for _, info := range p.Pages() {
		assert.Zero(t, info.Used, "page %d", info.Index)
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(nil, Config{PageSize: kib})
	require.Error(t, err)

	_, err = New(backing.NewHeapFactory(), Config{PageSize: 0})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = New(backing.NewHeapFactory(), Config{PageSize: kib, HeapClass: backing.MaxHeapClasses})
	require.ErrorIs(t, err, backing.ErrBadClass)
}
