package alloc

import (
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/backing"
)

const (
	kib = uint64(1) << 10
	mib = uint64(1) << 20
)

const (
	deviceLocal backing.HeapClass = 0
	hostVisible backing.HeapClass = 1
)

func newTestRouter(t *testing.T, f backing.Factory, minPage uint64) *Router {
	t.Helper()
	r, err := NewRouter(f, &Options{MinPageSize: minPage})
	require.NoError(t, err)
	return r
}

func TestRouter_DefaultPageSizes(t *testing.T) {
	f := backing.NewHeapFactory()
	r, err := NewRouter(f, nil)
	require.NoError(t, err)

	a, err := r.Allocate(100*mib, 256, deviceLocal)
	require.NoError(t, err)
	b, err := r.Allocate(100*mib, 256, deviceLocal)
	require.NoError(t, err)

	assert.Equal(t, 1, a.SizeClass)
	assert.Equal(t, a.SizeClass, b.SizeClass)
	assert.NotSame(t, a.Block, b.Block)
	assert.Equal(t, uint64(DefaultMinPageSize), a.Block.Size())

	c, err := r.Allocate(200*mib, 256, deviceLocal)
	require.NoError(t, err)
	assert.Equal(t, 2, c.SizeClass)
	assert.Equal(t, 256*mib, c.Block.Size())

	s := r.Stats()
	assert.Equal(t, 2, s.Pools)
	assert.Equal(t, 3, s.Pages)
	assert.Equal(t, 512*mib, s.BytesReserved)
}

func TestRouter_RoutesByHeapClass(t *testing.T) {
	f := backing.NewHeapFactory(backing.WithHostVisible(hostVisible))
	r := newTestRouter(t, f, 64*kib)

	dev, err := r.Allocate(1000, 64, deviceLocal)
	require.NoError(t, err)
	host, err := r.Allocate(1000, 64, hostVisible)
	require.NoError(t, err)

	assert.Equal(t, dev.SizeClass, host.SizeClass)
	assert.Equal(t, deviceLocal, dev.HeapClass)
	assert.Equal(t, hostVisible, host.HeapClass)
	assert.NotSame(t, dev.Block, host.Block)

	assert.Nil(t, dev.Mapped)
	require.Len(t, host.Mapped, int(host.Size))
	host.Mapped[0] = 0xAB
	assert.Equal(t, byte(0xAB), host.Block.Bytes()[host.Offset])

	pools := r.Pools()
	require.Len(t, pools, 2)
	assert.Equal(t, deviceLocal, pools[0].HeapClass)
	assert.Equal(t, hostVisible, pools[1].HeapClass)
}

func TestRouter_InvalidRequests(t *testing.T) {
	f := backing.NewHeapFactory()
	r, err := NewRouter(f, &Options{MinPageSize: 4 * kib, MaxPageSize: 16 * kib})
	require.NoError(t, err)

	cases := []struct {
		name            string
		size, alignment uint64
		heapClass       backing.HeapClass
	}{
		{"zero size", 0, 8, 0},
		{"alignment not pow2", 64, 48, 0},
		{"heap class out of range", 64, 8, backing.MaxHeapClasses},
		{"beyond max page size", 20 * kib, 8, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := r.Allocate(tc.size, tc.alignment, tc.heapClass)
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.False(t, rec.Valid())
		})
	}
	assert.Zero(t, f.Created())
	assert.Equal(t, len(cases), r.Stats().AllocFailed)
}

func TestRouter_BackingStoreFailureIsPropagated(t *testing.T) {
	f := backing.NewHeapFactory(backing.WithLimit(8 * kib))
	r := newTestRouter(t, f, 4*kib)

	_, err := r.Allocate(3*kib, 8, deviceLocal)
	require.NoError(t, err)
	_, err = r.Allocate(3*kib, 8, deviceLocal)
	require.NoError(t, err)

	rec, err := r.Allocate(3*kib, 8, deviceLocal)
	require.ErrorIs(t, err, ErrBackingStore)
	assert.True(t, errors.Is(err, backing.ErrOutOfMemory))
	assert.False(t, rec.Valid())

	// A different size class still fails: nothing is evicted to make room.
	_, err = r.Allocate(6*kib, 8, deviceLocal)
	require.ErrorIs(t, err, ErrBackingStore)
	assert.Equal(t, 2, f.Live())
}

func TestRouter_FreeRoundTrip(t *testing.T) {
	r := newTestRouter(t, backing.NewHeapFactory(), 4*kib)

	rec, err := r.Allocate(512, 64, deviceLocal)
	require.NoError(t, err)
	require.NoError(t, r.Free(&rec))
	assert.False(t, rec.Valid())
	assert.Zero(t, r.Stats().BytesUsed)

	require.ErrorIs(t, r.Free(&rec), ErrBadAllocation)
	require.ErrorIs(t, r.Free(nil), ErrBadAllocation)

	other, err := r.Allocate(512, 64, deviceLocal)
	require.NoError(t, err)
	misrouted := other
	misrouted.SizeClass = 40
	require.ErrorIs(t, r.Free(&misrouted), ErrBadAllocation)
	misrouted = other
	misrouted.HeapClass = 9
	require.ErrorIs(t, r.Free(&misrouted), ErrBadAllocation)

	require.NoError(t, r.Free(&other))
	assert.Equal(t, 2, r.Stats().FreeCalls)
}

func TestRouter_ResetReclaimsEverything(t *testing.T) {
	f := backing.NewHeapFactory()
	r := newTestRouter(t, f, 4*kib)

	for i := range 50 {
		_, err := r.Allocate(uint64(100+i*97), 16, backing.HeapClass(i%3))
		require.NoError(t, err)
	}
	created := f.Created()
	require.NotZero(t, r.Stats().BytesUsed)

	r.Reset()
	s := r.Stats()
	assert.Zero(t, s.BytesUsed)
	assert.Equal(t, 1, s.Resets)

	for i := range 50 {
		_, err := r.Allocate(uint64(100+i*97), 16, backing.HeapClass(i%3))
		require.NoError(t, err)
	}
	assert.Equal(t, created, f.Created(), "reset pages are reused")

	require.NoError(t, r.Release())
	assert.Zero(t, f.Live())
	assert.Zero(t, r.Stats().Pools)
}

func TestRouter_RandomWorkload(t *testing.T) {
	r := newTestRouter(t, backing.NewHeapFactory(), 16*kib)
	rng := rand.New(rand.NewSource(42))

	var live []Record
	for step := range 4000 {
		if len(live) > 0 && rng.Float64() < 0.4 {
			i := rng.Intn(len(live))
			require.NoError(t, r.Free(&live[i]), "step %d", step)
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}
		size := 1 + uint64(rng.Intn(40*1024))
		alignment := uint64(1) << rng.Intn(13)
		rec, err := r.Allocate(size, alignment, backing.HeapClass(rng.Intn(4)))
		require.NoError(t, err, "step %d", step)
		require.Zero(t, rec.Offset%alignment)
		require.GreaterOrEqual(t, rec.Size, size)
		require.LessOrEqual(t, rec.Offset+rec.Size, rec.Block.Size())
		live = append(live, rec)
	}
	require.NoError(t, r.Validate())

	for i := range live {
		require.NoError(t, r.Free(&live[i]))
	}
	assert.Zero(t, r.Stats().BytesUsed)
}

func TestNewRouter_BadOptions(t *testing.T) {
	f := backing.NewHeapFactory()

	_, err := NewRouter(nil, nil)
	require.ErrorIs(t, err, ErrBadOptions)

	for _, opts := range []*Options{
		{MinPageSize: 3000},
		{MinAlignment: 12},
		{MinPageSize: 4096, MinAlignment: 8192},
		{MinPageSize: 1 << 20, MaxPageSize: 1 << 10},
	} {
		_, err := NewRouter(f, opts)
		require.ErrorIs(t, err, ErrBadOptions, "%+v", *opts)
	}
}
