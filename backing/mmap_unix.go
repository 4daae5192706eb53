//go:build unix

package backing

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/joshuapare/heapkit/internal/buf"
)

// MmapFactory creates memory-mapped blocks.
//
// With an empty directory each block is an anonymous private mapping. With a
// directory each block is a shared mapping of its own file, so Flush reaches
// the file and Invalidate re-reads it.
//
// MmapFactory is safe for concurrent use.
type MmapFactory struct {
	dir string

	mu  sync.Mutex
	seq int
}

// NewMmapFactory creates an mmap factory. dir may be empty.
func NewMmapFactory(dir string) *MmapFactory {
	return &MmapFactory{dir: dir}
}

// Create maps a block of size bytes. The class only affects the file name.
func (f *MmapFactory) Create(size uint64, class HeapClass) (Block, error) {
	if size == 0 || size > uint64(^uint(0)>>1) {
		return nil, errors.Wrapf(ErrBadSize, "mmap %d bytes", size)
	}
	if !class.Valid() {
		return nil, errors.Wrapf(ErrBadClass, "class %d", class)
	}

	if f.dir == "" {
		data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			return nil, errors.Wrapf(err, "mmap anonymous %d bytes", size)
		}
		return &mmapBlock{data: data}, nil
	}

	f.mu.Lock()
	f.seq++
	seq := f.seq
	f.mu.Unlock()

	path := filepath.Join(f.dir, fmt.Sprintf("block-%02d-%06d.bin", class, seq))
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "create block file")
	}
	defer file.Close() // safe before return; mapping keeps pages alive

	if err := file.Truncate(int64(size)); err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrapf(err, "size block file %s", path)
	}
	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrapf(err, "mmap %s", path)
	}
	return &mmapBlock{data: data, path: path}, nil
}

// mmapBlock is an MmapFactory block.
type mmapBlock struct {
	data []byte
	path string // empty for anonymous mappings
}

func (b *mmapBlock) Size() uint64  { return uint64(len(b.data)) }
func (b *mmapBlock) Bytes() []byte { return b.data }

// Path returns the backing file of a file-backed block, or "".
func (b *mmapBlock) Path() string { return b.path }

func (b *mmapBlock) Address() uint64 {
	if len(b.data) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b.data[0])))
}

// Flush writes back [off, off+length) with msync(MS_SYNC).
func (b *mmapBlock) Flush(off, length uint64) error {
	return b.msync(off, length, unix.MS_SYNC)
}

// Invalidate drops cached copies of [off, off+length) with msync(MS_INVALIDATE).
func (b *mmapBlock) Invalidate(off, length uint64) error {
	return b.msync(off, length, unix.MS_INVALIDATE)
}

func (b *mmapBlock) msync(off, length uint64, flags int) error {
	if b.data == nil {
		return ErrReleased
	}
	if length == 0 {
		return nil
	}
	region, ok := buf.Slice(b.data, off, length)
	if !ok {
		return errors.Wrapf(ErrRange, "[%d, +%d) of %d", off, length, len(b.data))
	}
	return unix.Msync(region, flags)
}

func (b *mmapBlock) Release() error {
	if b.data == nil {
		return ErrReleased
	}
	err := unix.Munmap(b.data)
	b.data = nil
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		err = nil
	}
	if b.path != "" {
		if rmErr := os.Remove(b.path); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

// Compile-time interface checks
var (
	_ Factory = (*MmapFactory)(nil)
	_ Block   = (*mmapBlock)(nil)
	_ Syncer  = (*mmapBlock)(nil)
)
