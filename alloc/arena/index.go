package arena

import (
	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
)

// sizeKey orders free blocks by size, ties broken by offset.
type sizeKey struct {
	size   uint64
	offset uint64
}

func sizeKeyComparator(a, b any) int {
	ka := a.(sizeKey) //nolint:errcheck // tree holds only sizeKey
	kb := b.(sizeKey) //nolint:errcheck // tree holds only sizeKey
	switch {
	case ka.size < kb.size:
		return -1
	case ka.size > kb.size:
		return 1
	case ka.offset < kb.offset:
		return -1
	case ka.offset > kb.offset:
		return 1
	default:
		return 0
	}
}

// freeIndex keeps the by-offset and by-size trees in lock step.
// byOffset maps offset -> size; bySize holds (size, offset) keys only.
type freeIndex struct {
	byOffset *redblacktree.Tree
	bySize   *redblacktree.Tree
}

func newFreeIndex() freeIndex {
	return freeIndex{
		byOffset: redblacktree.NewWith(utils.UInt64Comparator),
		bySize:   redblacktree.NewWith(sizeKeyComparator),
	}
}

func (ix *freeIndex) insert(off, size uint64) {
	ix.byOffset.Put(off, size)
	ix.bySize.Put(sizeKey{size: size, offset: off}, struct{}{})
}

func (ix *freeIndex) remove(off, size uint64) {
	ix.byOffset.Remove(off)
	ix.bySize.Remove(sizeKey{size: size, offset: off})
}

func (ix *freeIndex) clear() {
	ix.byOffset.Clear()
	ix.bySize.Clear()
}

func (ix *freeIndex) len() int {
	return ix.byOffset.Size()
}

// ceilingBySize returns the smallest block with size >= need.
func (ix *freeIndex) ceilingBySize(need uint64) *redblacktree.Node {
	n, ok := ix.bySize.Ceiling(sizeKey{size: need})
	if !ok {
		return nil
	}
	return n
}

// floorByOffset returns the free block starting at or before off.
func (ix *freeIndex) floorByOffset(off uint64) (start, size uint64, ok bool) {
	n, found := ix.byOffset.Floor(off)
	if !found {
		return 0, 0, false
	}
	return n.Key.(uint64), n.Value.(uint64), true //nolint:errcheck // tree holds only uint64
}

// ceilingByOffset returns the free block starting at or after off.
func (ix *freeIndex) ceilingByOffset(off uint64) (start, size uint64, ok bool) {
	n, found := ix.byOffset.Ceiling(off)
	if !found {
		return 0, 0, false
	}
	return n.Key.(uint64), n.Value.(uint64), true //nolint:errcheck // tree holds only uint64
}

// largest returns the size of the largest free block, or 0.
func (ix *freeIndex) largest() uint64 {
	n := ix.bySize.Right()
	if n == nil {
		return 0
	}
	return n.Key.(sizeKey).size //nolint:errcheck // tree holds only sizeKey
}

// successor returns the in-order successor of n, or nil.
func successor(n *redblacktree.Node) *redblacktree.Node {
	if n.Right != nil {
		n = n.Right
		for n.Left != nil {
			n = n.Left
		}
		return n
	}
	p := n.Parent
	for p != nil && n == p.Right {
		n = p
		p = p.Parent
	}
	return p
}
