package merkle

import "fmt"

// AuthPath is the sibling chain of one leaf, ordered from the leaf level to
// the level just below the root.
type AuthPath struct {
	Position uint64
	Siblings []HashNode
}

// Validate checks the path against the tree shape.
func (p AuthPath) Validate(cfg *TreeConfig) error {
	if len(p.Siblings) != int(cfg.depth) {
		return fmt.Errorf("%w: path has %d siblings, depth is %d", ErrLengthMismatch, len(p.Siblings), cfg.depth)
	}
	if p.Position >= cfg.Capacity() {
		return fmt.Errorf("%w: position %d outside a tree of depth %d", ErrPositionOutOfRange, p.Position, cfg.depth)
	}
	return nil
}

// Root recomputes the root from leaf. At each level the position bit picks
// the combine order: 0 means leaf||sibling, 1 means sibling||leaf.
func (p AuthPath) Root(cfg *TreeConfig, leaf HashNode) (HashNode, error) {
	if err := p.Validate(cfg); err != nil {
		return HashNode{}, err
	}
	return pathRoot(cfg, p.Position, p.Siblings, leaf), nil
}

func pathRoot(cfg *TreeConfig, position uint64, siblings []HashNode, leaf HashNode) HashNode {
	cur := leaf
	for level, sibling := range siblings {
		if position>>uint(level)&1 == 0 {
			cur = cfg.combine(uint8(level), cur, sibling)
		} else {
			cur = cfg.combine(uint8(level), sibling, cur)
		}
	}
	return cur
}
