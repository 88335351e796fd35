package merkle

import (
	"fmt"
	"math/bits"
)

// Frontier is the rightmost skeleton of an append-only tree: one ommer slot
// per level, enough to append the next leaf and to compute the root.
//
// Slot i is live iff bit i of size is set. A slot that went dead during the
// last append still holds the left sibling that append consumed at that
// level, which is what NewWitness reads to seed the newest leaf's path.
type Frontier struct {
	cfg    *TreeConfig
	depth  uint8
	size   uint64
	ommers []HashNode // len depth+1; ommers[depth] is the root once full

	// lastSiblings is false for a restored frontier until its next append,
	// because dead slots are not part of the serialized form.
	lastSiblings bool
}

// NewFrontier returns the frontier of an empty tree.
func NewFrontier(cfg *TreeConfig) *Frontier {
	return newFrontier(cfg, cfg.depth)
}

// newFrontier builds a frontier of a subtree of the given height, sharing the
// hasher and empty values of cfg.
func newFrontier(cfg *TreeConfig, depth uint8) *Frontier {
	return &Frontier{
		cfg:    cfg,
		depth:  depth,
		ommers: make([]HashNode, int(depth)+1),
	}
}

// RestoreFrontier rebuilds a frontier from its size and live ommers as
// returned by Ommers.
func RestoreFrontier(cfg *TreeConfig, size uint64, ommers []HashNode) (*Frontier, error) {
	f := NewFrontier(cfg)
	if size > f.Capacity() {
		return nil, fmt.Errorf("%w: size %d exceeds capacity %d", ErrTreeFull, size, f.Capacity())
	}
	if want := bits.OnesCount64(size); len(ommers) != want {
		return nil, fmt.Errorf("%w: frontier of size %d needs %d ommers, got %d",
			ErrLengthMismatch, size, want, len(ommers))
	}
	next := 0
	for level := 0; level <= int(f.depth); level++ {
		if size>>uint(level)&1 == 1 {
			f.ommers[level] = ommers[next]
			next++
		}
	}
	f.size = size
	return f, nil
}

func (f *Frontier) Config() *TreeConfig { return f.cfg }

// Size is the number of leaves appended so far.
func (f *Frontier) Size() uint64 { return f.size }

func (f *Frontier) Capacity() uint64 { return uint64(1) << f.depth }

func (f *Frontier) IsFull() bool { return f.size == f.Capacity() }

// Append inserts leaf at position Size(). Each occupied slot from the leaf
// level upward is combined with the incoming value and cleared; the first
// empty slot receives the result.
func (f *Frontier) Append(leaf HashNode) error {
	if f.IsFull() {
		return fmt.Errorf("%w: depth %d holds %d leaves", ErrTreeFull, f.depth, f.size)
	}
	carry := leaf
	level := uint8(0)
	for ; f.size>>level&1 == 1; level++ {
		carry = f.cfg.combine(level, f.ommers[level], carry)
	}
	f.ommers[level] = carry
	f.size++
	f.lastSiblings = true
	return nil
}

// Root combines the live ommers with canonical empty subtrees for every
// level not yet filled.
func (f *Frontier) Root() HashNode {
	if f.IsFull() {
		return f.ommers[f.depth]
	}
	cur := f.cfg.empty[0]
	empty := true // cur is still the empty subtree of the current height
	for level := uint8(0); level < f.depth; level++ {
		switch {
		case f.size>>level&1 == 1:
			cur = f.cfg.combine(level, f.ommers[level], cur)
			empty = false
		case empty:
			cur = f.cfg.empty[level+1]
		default:
			cur = f.cfg.combine(level, cur, f.cfg.empty[level])
		}
	}
	return cur
}

// Ommers returns the live ommers in level order. The result has at most
// depth entries, or a single entry (the root) once the tree is full.
func (f *Frontier) Ommers() []HashNode {
	out := make([]HashNode, 0, bits.OnesCount64(f.size))
	for level := 0; level <= int(f.depth); level++ {
		if f.size>>uint(level)&1 == 1 {
			out = append(out, f.ommers[level])
		}
	}
	return out
}

// Clone returns an independent copy.
func (f *Frontier) Clone() *Frontier {
	cp := *f
	cp.ommers = make([]HashNode, len(f.ommers))
	copy(cp.ommers, f.ommers)
	return &cp
}

// leftSibling returns the left sibling the most recent leaf's path has at
// level. Only meaningful when bit level of Size()-1 is set.
func (f *Frontier) leftSibling(level uint8) HashNode {
	return f.ommers[level]
}
