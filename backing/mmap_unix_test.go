//go:build unix

package backing

import (
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmapFactory_Anonymous(t *testing.T) {
	f := NewMmapFactory("")
	b, err := f.Create(1<<16, 0)
	require.NoError(t, err)

	data := b.Bytes()
	require.Len(t, data, 1<<16)
	data[0] = 0xAA
	data[len(data)-1] = 0xBB
	assert.NotZero(t, b.Address())
	assert.False(t, IsCoherent(b), "mmap blocks expose Flush/Invalidate")

	s := b.(Syncer)
	require.NoError(t, s.Flush(0, 4096))
	require.NoError(t, s.Flush(0, 0))
	assert.True(t, errors.Is(s.Flush(1<<16, 4096), ErrRange))

	require.NoError(t, b.Release())
	assert.True(t, errors.Is(b.Release(), ErrReleased))
}

func TestMmapFactory_FileBacked(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mmap file test in short mode")
	}
	dir := t.TempDir()
	f := NewMmapFactory(dir)

	b, err := f.Create(8192, 3)
	require.NoError(t, err)

	path := b.(*mmapBlock).Path()
	require.NotEmpty(t, path)

	copy(b.Bytes()[4096:], []byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, b.(Syncer).Flush(4096, 4096))

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, onDisk, 8192)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, onDisk[4096:4100])

	require.NoError(t, b.(Syncer).Invalidate(0, 8192))

	require.NoError(t, b.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "release should remove the block file")
}

func TestMmapFactory_BadSize(t *testing.T) {
	_, err := NewMmapFactory("").Create(0, 0)
	assert.True(t, errors.Is(err, ErrBadSize))
}
