package alloc

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClass_Values(t *testing.T) {
	const minPage = 4096
	cases := []struct {
		size, alignment uint64
		want            int
	}{
		{1, 8, 0},
		{2000, 8, 0},
		{4000, 96, 1},
		{4088, 8, 1},
		{4096, 8, 2},
		{8000, 192, 2},
		{8192, 1, 3},
		{1 << 20, 4096, 10},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SizeClass(tc.size, tc.alignment, minPage),
			"size %d alignment %d", tc.size, tc.alignment)
	}
}

func TestPageSizeForClass(t *testing.T) {
	const minPage = 4096
	assert.Equal(t, uint64(4096), PageSizeForClass(0, minPage))
	assert.Equal(t, uint64(4096), PageSizeForClass(1, minPage))
	assert.Equal(t, uint64(8192), PageSizeForClass(2, minPage))
	assert.Equal(t, uint64(16384), PageSizeForClass(3, minPage))
	assert.Equal(t, uint64(1)<<63, PageSizeForClass(200, minPage))
}

func TestSizeClass_Monotonic(t *testing.T) {
	const minPage = 128 << 20
	rng := rand.New(rand.NewSource(42))

	sizes := make([]uint64, 0, 4096)
	for i := uint64(1); i <= 1024; i++ {
		sizes = append(sizes, i)
	}
	for range 3072 {
		sizes = append(sizes, 1+uint64(rng.Int63n(1<<36)))
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })

	for _, alignment := range []uint64{1, 8, 256, 65536} {
		prev := 0
		for _, s := range sizes {
			idx := SizeClass(s, alignment, minPage)
			require.GreaterOrEqual(t, idx, prev, "size %d alignment %d", s, alignment)
			prev = idx
		}
	}
}

func TestSizeClass_PageHoldsRequest(t *testing.T) {
	const minPage = 4096
	rng := rand.New(rand.NewSource(42))

	for range 2000 {
		size := 1 + uint64(rng.Int63n(1<<24))
		alignment := uint64(1) << rng.Intn(16)
		pageSize := PageSizeForClass(SizeClass(size, alignment, minPage), minPage)

		require.GreaterOrEqual(t, pageSize, size+alignment)
		// Fragmentation bound: the page is the smallest power of two holding
		// the request plus its alignment, or the minimum page.
		if pageSize > minPage {
			require.Less(t, pageSize/2, size+alignment)
		}
	}
}

func TestSizeClass_Overflow(t *testing.T) {
	const minPage = 4096
	huge := SizeClass(^uint64(0), 8, minPage)
	assert.GreaterOrEqual(t, huge, SizeClass(1<<62, 8, minPage))
	assert.Equal(t, uint64(1)<<63, PageSizeForClass(huge, minPage))
}
