package page

import (
	"github.com/joshuapare/heapkit/alloc/arena"
	"github.com/joshuapare/heapkit/backing"
)

// Record describes one allocation inside a page.
//
// Offset and Size describe the usable range: Offset is already aligned and Size
// is the request rounded up to the alignment. The zero Record is invalid.
type Record struct {
	Block   backing.Block // Backing block holding the range
	Offset  uint64        // Aligned byte offset inside Block
	Size    uint64        // Usable size in bytes
	Mapped  []byte        // Host view of [Offset, Offset+Size), nil if not host-visible
	Address uint64        // Device address of Offset, 0 if the block has none
	Page    int           // Index of the owning page in its pool

	span arena.Allocation // raw arena span, zero for bump pages
}

// Valid reports whether r refers to a live allocation.
func (r Record) Valid() bool {
	return r.Size != 0
}

// Span returns the raw arena span backing r. Bump records return a zero span.
func (r Record) Span() arena.Allocation {
	return r.span
}

func newRecord(index int, block backing.Block, offset, size uint64, span arena.Allocation) Record {
	r := Record{
		Block:  block,
		Offset: offset,
		Size:   size,
		Page:   index,
		span:   span,
	}
	if data := block.Bytes(); data != nil {
		r.Mapped = data[offset : offset+size : offset+size]
	}
	if base := block.Address(); base != 0 {
		r.Address = base + offset
	}
	return r
}
