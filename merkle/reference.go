package merkle

import "fmt"

// RootFromLeaves rebuilds the tree level by level from the full leaf list,
// padding the right edge with canonical empty subtrees.
func RootFromLeaves(cfg *TreeConfig, leaves []HashNode) (HashNode, error) {
	levels, err := buildLevels(cfg, leaves)
	if err != nil {
		return HashNode{}, err
	}
	top := levels[cfg.depth]
	if len(top) == 0 {
		return cfg.empty[cfg.depth], nil
	}
	return top[0], nil
}

// PathFromLeaves returns the authentication path of the leaf at position in
// the tree holding exactly leaves.
func PathFromLeaves(cfg *TreeConfig, leaves []HashNode, position uint64) (AuthPath, error) {
	if position >= uint64(len(leaves)) {
		return AuthPath{}, fmt.Errorf("%w: position %d, %d leaves", ErrPositionOutOfRange, position, len(leaves))
	}
	levels, err := buildLevels(cfg, leaves)
	if err != nil {
		return AuthPath{}, err
	}
	path := AuthPath{Position: position, Siblings: make([]HashNode, cfg.depth)}
	index := position
	for level := uint8(0); level < cfg.depth; level++ {
		sibling := index ^ 1
		if sibling < uint64(len(levels[level])) {
			path.Siblings[level] = levels[level][sibling]
		} else {
			path.Siblings[level] = cfg.empty[level]
		}
		index >>= 1
	}
	return path, nil
}

// buildLevels returns every non-empty node, levels[i] holding the nodes of
// height i from the left.
func buildLevels(cfg *TreeConfig, leaves []HashNode) ([][]HashNode, error) {
	if uint64(len(leaves)) > cfg.Capacity() {
		return nil, fmt.Errorf("%w: %d leaves, capacity %d", ErrTreeFull, len(leaves), cfg.Capacity())
	}
	levels := make([][]HashNode, int(cfg.depth)+1)
	levels[0] = append([]HashNode(nil), leaves...)
	for level := uint8(0); level < cfg.depth; level++ {
		cur := levels[level]
		next := make([]HashNode, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			right := cfg.empty[level]
			if i+1 < len(cur) {
				right = cur[i+1]
			}
			next = append(next, cfg.combine(level, cur[i], right))
		}
		levels[level+1] = next
	}
	return levels, nil
}
