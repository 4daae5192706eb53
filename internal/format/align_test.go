package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(8), AlignUp(1, 8))
	assert.Equal(t, uint64(8), AlignUp(8, 8))
	assert.Equal(t, uint64(16), AlignUp(9, 8))
	assert.Equal(t, uint64(112), AlignUp(100, 16))
	assert.Equal(t, uint64(0), AlignUp(0, 4096))
	assert.Equal(t, uint64(7), AlignUp(7, 1))
}

func TestAlignDownAndIsAligned(t *testing.T) {
	assert.Equal(t, uint64(4096), AlignDown(4097, 4096))
	assert.Equal(t, uint64(0), AlignDown(4095, 4096))
	assert.True(t, IsAligned(256, 256))
	assert.False(t, IsAligned(257, 256))
}

func TestPow2Helpers(t *testing.T) {
	assert.True(t, IsPow2(1))
	assert.True(t, IsPow2(1<<40))
	assert.False(t, IsPow2(0))
	assert.False(t, IsPow2(24))

	assert.Equal(t, uint64(1), NextPow2(0))
	assert.Equal(t, uint64(1), NextPow2(1))
	assert.Equal(t, uint64(128), NextPow2(100))
	assert.Equal(t, uint64(128), NextPow2(128))
	assert.Equal(t, uint64(256), NextPow2(129))
	assert.Equal(t, uint64(1)<<63, NextPow2(1<<63+1))

	assert.Equal(t, uint64(0), PrevPow2(0))
	assert.Equal(t, uint64(1024), PrevPow2(1024))
	assert.Equal(t, uint64(1024), PrevPow2(2047))

	assert.Equal(t, 0, Log2(1))
	assert.Equal(t, 10, Log2(1024))
	assert.Equal(t, 10, Log2(2047))
	assert.Equal(t, 27, Log2(128<<20))
}
