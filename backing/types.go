package backing

// HeapClass is a caller-supplied category of backing memory
// (for example device-local or host-visible). It is opaque to the allocators.
type HeapClass uint8

// MaxHeapClasses bounds the number of distinct heap classes.
const MaxHeapClasses = 32

// Valid reports whether c is inside [0, MaxHeapClasses).
func (c HeapClass) Valid() bool {
	return c < MaxHeapClasses
}

// Block is one fixed-size backing-store block.
//
// A Block is exclusively owned by the page that requested it.
type Block interface {
	// Size returns the block size in bytes. It never changes.
	Size() uint64

	// Bytes returns the host mapping of the whole block, or nil when the block
	// is not host-visible.
	Bytes() []byte

	// Address returns the device-side base address of the block, or 0 when the
	// block has none.
	Address() uint64

	// Release returns the block to its factory. The block must not be used afterwards.
	Release() error
}

// Syncer is implemented by blocks whose host mapping is not coherent.
//
// Flush makes CPU writes in [off, off+length) visible to the device.
// Invalidate discards stale CPU views of [off, off+length) before the CPU reads
// data written by the device.
type Syncer interface {
	Flush(off, length uint64) error
	Invalidate(off, length uint64) error
}

// Factory creates backing blocks. Failure is returned to the caller as-is;
// factories never retry.
type Factory interface {
	Create(size uint64, class HeapClass) (Block, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(size uint64, class HeapClass) (Block, error)

// Create calls f(size, class).
func (f FactoryFunc) Create(size uint64, class HeapClass) (Block, error) {
	return f(size, class)
}

// IsCoherent reports whether b needs no explicit Flush/Invalidate.
func IsCoherent(b Block) bool {
	_, ok := b.(Syncer)
	return !ok
}
