package backing

import (
	"math"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/heapkit/internal/format"
)

const (
	// deviceAddressBase is the first synthetic device address handed out.
	deviceAddressBase = 0x1_0000_0000

	// deviceAddressAlign keeps synthetic block addresses 64KB aligned.
	deviceAddressAlign = 64 << 10
)

// HeapFactory creates blocks on the Go heap.
//
// Classes marked host-visible get a []byte of the block size; all other classes
// only receive a synthetic, non-overlapping device address range. The optional
// limit caps the total bytes of live blocks across all classes.
//
// HeapFactory is safe for concurrent use.
type HeapFactory struct {
	mu          sync.Mutex
	hostVisible [MaxHeapClasses]bool
	limit       uint64
	reserved    uint64
	nextAddr    uint64
	created     int
	released    int
}

// HeapOption configures a HeapFactory.
type HeapOption func(*HeapFactory)

// WithHostVisible marks the given heap classes as host-visible.
func WithHostVisible(classes ...HeapClass) HeapOption {
	return func(f *HeapFactory) {
		for _, c := range classes {
			if c.Valid() {
				f.hostVisible[c] = true
			}
		}
	}
}

// WithLimit caps the total size of live blocks. Zero means unlimited.
func WithLimit(bytes uint64) HeapOption {
	return func(f *HeapFactory) {
		f.limit = bytes
	}
}

// NewHeapFactory creates a Go-heap factory.
func NewHeapFactory(opts ...HeapOption) *HeapFactory {
	f := &HeapFactory{nextAddr: deviceAddressBase}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create allocates a block of size bytes for class.
func (f *HeapFactory) Create(size uint64, class HeapClass) (Block, error) {
	if size == 0 {
		return nil, ErrBadSize
	}
	if size > math.MaxInt {
		return nil, errors.Wrapf(ErrBadSize, "%d bytes exceeds the addressable range", size)
	}
	if !class.Valid() {
		return nil, errors.Wrapf(ErrBadClass, "class %d", class)
	}

	f.mu.Lock()
	if f.limit != 0 && f.reserved+size > f.limit {
		reserved := f.reserved
		f.mu.Unlock()
		return nil, errors.Wrapf(ErrOutOfMemory, "need %d bytes, %d of %d in use", size, reserved, f.limit)
	}
	f.reserved += size
	f.created++
	addr := f.nextAddr
	f.nextAddr = format.AlignUp(f.nextAddr+size, deviceAddressAlign)
	visible := f.hostVisible[class]
	f.mu.Unlock()

	b := &heapBlock{
		factory: f,
		size:    size,
		addr:    addr,
	}
	if visible {
		b.data = make([]byte, size)
	}
	return b, nil
}

// Reserved returns the total size of live blocks.
func (f *HeapFactory) Reserved() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reserved
}

// Created returns the number of blocks created so far.
func (f *HeapFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Live returns the number of blocks created and not yet released.
func (f *HeapFactory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created - f.released
}

func (f *HeapFactory) release(size uint64) {
	f.mu.Lock()
	f.reserved -= size
	f.released++
	f.mu.Unlock()
}

// heapBlock is a HeapFactory block.
type heapBlock struct {
	factory  *HeapFactory
	size     uint64
	addr     uint64
	data     []byte
	released bool
}

func (b *heapBlock) Size() uint64    { return b.size }
func (b *heapBlock) Bytes() []byte   { return b.data }
func (b *heapBlock) Address() uint64 { return b.addr }

func (b *heapBlock) Release() error {
	if b.released {
		return ErrReleased
	}
	b.released = true
	b.data = nil
	b.factory.release(b.size)
	return nil
}

// Compile-time interface checks
var (
	_ Factory = (*HeapFactory)(nil)
	_ Block   = (*heapBlock)(nil)
)
