//go:build !unix

package backing

import "github.com/cockroachdb/errors"

// MmapFactory falls back to Go-heap blocks when mmap is not available.
// Every class is host-visible and coherent.
type MmapFactory struct {
	heap *HeapFactory
}

// NewMmapFactory creates the fallback factory. dir is ignored.
func NewMmapFactory(dir string) *MmapFactory {
	all := make([]HeapClass, MaxHeapClasses)
	for i := range all {
		all[i] = HeapClass(i)
	}
	return &MmapFactory{heap: NewHeapFactory(WithHostVisible(all...))}
}

// Create allocates a host-visible heap block.
func (f *MmapFactory) Create(size uint64, class HeapClass) (Block, error) {
	b, err := f.heap.Create(size, class)
	if err != nil {
		return nil, errors.Wrap(err, "mmap fallback")
	}
	return b, nil
}

var _ Factory = (*MmapFactory)(nil)
