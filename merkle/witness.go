package merkle

import (
	"fmt"

	"github.com/colorfulnotion/zewif/log"
)

// Witness is the inclusion proof of one note commitment, kept current as
// leaves are appended after it.
//
// open[i] is true while the sibling at level i is not yet fully determined.
// The lowest open level owns a cursor frontier that accumulates its sibling
// subtree; once the cursor is full its root becomes path[i] and the level is
// closed for good.
type Witness struct {
	cfg        *TreeConfig
	commitment HashNode
	position   uint64
	path       []HashNode
	open       []bool

	cursor      *Frontier
	cursorLevel uint8
	cursorDirty bool // path[cursorLevel] is behind the cursor
	treeSize    uint64

	anchor         HashNode
	anchorTreeSize uint64
	anchorFrontier []HashNode

	// err is set once the witness can no longer be trusted.
	err error
}

// NewWitness creates the witness of commitment, which frontier has just
// appended at position. Siblings to the left come from the frontier, siblings
// to the right start as canonical empty subtrees. The initial anchor is
// captured at tree size position+1.
func NewWitness(cfg *TreeConfig, commitment HashNode, position uint64, frontier *Frontier) (*Witness, error) {
	if frontier.cfg != cfg {
		return nil, fmt.Errorf("%w: frontier belongs to tree %s, witness to %s",
			ErrInconsistentAppendOrder, frontier.cfg.name, cfg.name)
	}
	if frontier.Size() != position+1 || !frontier.lastSiblings {
		return nil, fmt.Errorf("%w: commitment at %d is not the last leaf of a frontier of size %d",
			ErrInconsistentAppendOrder, position, frontier.Size())
	}
	w := &Witness{
		cfg:        cfg,
		commitment: commitment,
		position:   position,
		path:       make([]HashNode, cfg.depth),
		open:       make([]bool, cfg.depth),
		treeSize:   position + 1,
	}
	for level := uint8(0); level < cfg.depth; level++ {
		if position>>level&1 == 1 {
			w.path[level] = frontier.leftSibling(level)
		} else {
			w.path[level] = cfg.empty[level]
			w.open[level] = true
		}
	}
	if err := w.CaptureAnchor(w.treeSize, frontier); err != nil {
		return nil, err
	}
	return w, nil
}

// FromParts rebuilds a witness from its persisted fields. Only the shape is
// checked; VerifyAnchor checks the content. The witness resumes at
// anchorTreeSize: when anchorFrontier describes that size it can be extended
// further, otherwise Extend reports why it cannot.
func FromParts(cfg *TreeConfig, commitment HashNode, position uint64, path []HashNode,
	anchor HashNode, anchorTreeSize uint64, anchorFrontier []HashNode) (*Witness, error) {
	if err := (AuthPath{Position: position, Siblings: path}).Validate(cfg); err != nil {
		return nil, err
	}
	if anchorTreeSize <= position || anchorTreeSize > cfg.Capacity() {
		return nil, fmt.Errorf("%w: anchor tree size %d for position %d", ErrPositionOutOfRange, anchorTreeSize, position)
	}
	if len(anchorFrontier) > int(cfg.depth) {
		return nil, fmt.Errorf("%w: anchor frontier has %d ommers, depth is %d",
			ErrLengthMismatch, len(anchorFrontier), cfg.depth)
	}

	w := &Witness{
		cfg:            cfg,
		commitment:     commitment,
		position:       position,
		path:           append([]HashNode(nil), path...),
		open:           make([]bool, cfg.depth),
		treeSize:       anchorTreeSize,
		anchor:         anchor,
		anchorTreeSize: anchorTreeSize,
		anchorFrontier: append([]HashNode(nil), anchorFrontier...),
	}
	for level := uint8(0); level < cfg.depth; level++ {
		if position>>level&1 == 0 {
			siblingEnd := ((position >> level) + 2) << level
			w.open[level] = siblingEnd > anchorTreeSize
		}
	}
	w.err = w.resumeCursor()
	return w, nil
}

// resumeCursor rebuilds the cursor of the lowest open level from the anchor
// frontier. The cursor subtree is the rightmost partial subtree of the tree,
// so its live nodes are exactly the frontier's live ommers below that level.
func (w *Witness) resumeCursor() error {
	level, ok := w.lowestOpen()
	if !ok {
		return nil
	}
	start := ((w.position >> level) | 1) << level
	if w.treeSize <= start {
		return nil
	}
	full, err := RestoreFrontier(w.cfg, w.treeSize, w.anchorFrontier)
	if err != nil {
		return fmt.Errorf("%w: cannot resume witness at %d: %v", ErrInconsistentAppendOrder, w.position, err)
	}
	cursor := newFrontier(w.cfg, level)
	cursor.size = w.treeSize - start
	for l := uint8(0); l < level; l++ {
		if cursor.size>>l&1 == 1 {
			cursor.ommers[l] = full.ommers[l]
		}
	}
	w.cursor = cursor
	w.cursorLevel = level
	return nil
}

func (w *Witness) lowestOpen() (uint8, bool) {
	for level, open := range w.open {
		if open {
			return uint8(level), true
		}
	}
	return 0, false
}

// Extend feeds the leaf appended at position to the witness. It must be
// called once for every leaf after the witnessed one, in order.
func (w *Witness) Extend(position uint64, leaf HashNode) error {
	if w.err != nil {
		return w.err
	}
	if w.treeSize == w.cfg.Capacity() {
		return fmt.Errorf("%w: witness at %d already saw %d leaves", ErrTreeFull, w.position, w.treeSize)
	}
	if position != w.treeSize {
		return w.poison(fmt.Errorf("%w: witness at %d expected leaf %d, got %d",
			ErrInconsistentAppendOrder, w.position, w.treeSize, position))
	}
	level, ok := w.lowestOpen()
	if !ok {
		return w.poison(fmt.Errorf("%w: witness at %d has no open level at tree size %d",
			ErrInconsistentAppendOrder, w.position, w.treeSize))
	}
	if w.cursor == nil {
		w.cursor = newFrontier(w.cfg, level)
		w.cursorLevel = level
	}
	if err := w.cursor.Append(leaf); err != nil {
		return w.poison(fmt.Errorf("%w: cursor at level %d: %v", ErrInconsistentAppendOrder, level, err))
	}
	w.cursorDirty = true
	if w.cursor.IsFull() {
		w.path[level] = w.cursor.Root()
		w.open[level] = false
		w.cursor = nil
		w.cursorDirty = false
		log.Trace(log.MerkleMonitoring, "witness level closed", "tree", w.cfg.name, "position", w.position, "level", level)
	}
	w.treeSize++
	return nil
}

func (w *Witness) poison(err error) error {
	w.err = err
	w.cursor = nil
	log.Warn(log.MerkleMonitoring, "witness invalidated", "tree", w.cfg.name, "position", w.position, "err", err)
	return err
}

// Err reports why the witness can no longer be extended, if it cannot.
func (w *Witness) Err() error { return w.err }

// Path returns the current authentication path. The entry of the level being
// filled reflects the partial sibling subtree padded with empty subtrees.
func (w *Witness) Path() AuthPath {
	siblings := make([]HashNode, len(w.path))
	copy(siblings, w.path)
	if w.cursor != nil && w.cursorDirty {
		siblings[w.cursorLevel] = w.cursor.Root()
	}
	return AuthPath{Position: w.position, Siblings: siblings}
}

// Root recomputes the tree root at TreeSize() from the commitment and path.
func (w *Witness) Root() HashNode {
	p := w.Path()
	return pathRoot(w.cfg, p.Position, p.Siblings, w.commitment)
}

// CaptureAnchor freezes the current root together with the tree size and a
// copy of the frontier's live ommers, so the anchor can later be checked
// without replaying leaves.
func (w *Witness) CaptureAnchor(treeSize uint64, frontier *Frontier) error {
	if w.err != nil {
		return w.err
	}
	if treeSize != w.treeSize || frontier.Size() != treeSize {
		return fmt.Errorf("%w: capture at tree size %d, witness saw %d leaves, frontier holds %d",
			ErrInconsistentAppendOrder, treeSize, w.treeSize, frontier.Size())
	}
	root := w.Root()
	if want := frontier.Root(); root != want {
		return fmt.Errorf("%w: position %d at size %d: witness %s, frontier %s",
			ErrAnchorMismatch, w.position, treeSize, root, want)
	}
	w.anchor = root
	w.anchorTreeSize = treeSize
	w.anchorFrontier = frontier.Ommers()
	return nil
}

// VerifyAnchor restores the frontier from the captured ommers and checks it
// reproduces the anchor. When the witness has not moved past the anchor the
// path is checked against it too.
func (w *Witness) VerifyAnchor() error {
	f, err := RestoreFrontier(w.cfg, w.anchorTreeSize, w.anchorFrontier)
	if err != nil {
		return err
	}
	if root := f.Root(); root != w.anchor {
		return fmt.Errorf("%w: anchor frontier yields %s, anchor is %s", ErrAnchorMismatch, root, w.anchor)
	}
	if w.treeSize == w.anchorTreeSize {
		if root := w.Root(); root != w.anchor {
			return fmt.Errorf("%w: path yields %s, anchor is %s", ErrAnchorMismatch, root, w.anchor)
		}
	}
	return nil
}

// VerifyAnchorByReplay recomputes the anchor from the leaf history.
func (w *Witness) VerifyAnchorByReplay(leaves []HashNode) error {
	if uint64(len(leaves)) < w.anchorTreeSize {
		return fmt.Errorf("%w: history has %d leaves, anchor needs %d",
			ErrInconsistentAppendOrder, len(leaves), w.anchorTreeSize)
	}
	if leaves[w.position] != w.commitment {
		return fmt.Errorf("%w: leaf %d is %s, witness commits to %s",
			ErrAnchorMismatch, w.position, leaves[w.position], w.commitment)
	}
	root, err := RootFromLeaves(w.cfg, leaves[:w.anchorTreeSize])
	if err != nil {
		return err
	}
	if root != w.anchor {
		return fmt.Errorf("%w: replay yields %s, anchor is %s", ErrAnchorMismatch, root, w.anchor)
	}
	return nil
}

func (w *Witness) Config() *TreeConfig { return w.cfg }

func (w *Witness) Commitment() HashNode { return w.commitment }

func (w *Witness) Position() uint64 { return w.position }

// TreeSize is the number of leaves the witness has seen, its own included.
func (w *Witness) TreeSize() uint64 { return w.treeSize }

func (w *Witness) Anchor() HashNode { return w.anchor }

func (w *Witness) AnchorTreeSize() uint64 { return w.anchorTreeSize }

func (w *Witness) AnchorFrontier() []HashNode {
	return append([]HashNode(nil), w.anchorFrontier...)
}

// MerklePath returns the siblings of Path.
func (w *Witness) MerklePath() []HashNode { return w.Path().Siblings }

// OpenLevels counts the levels whose sibling is still being filled.
func (w *Witness) OpenLevels() int {
	n := 0
	for _, open := range w.open {
		if open {
			n++
		}
	}
	return n
}

// Equal compares the persisted fields of two witnesses and the number of
// leaves each has seen.
func (w *Witness) Equal(o *Witness) bool {
	if w == nil || o == nil {
		return w == o
	}
	if w.cfg.name != o.cfg.name || w.commitment != o.commitment || w.position != o.position ||
		w.treeSize != o.treeSize || w.anchor != o.anchor || w.anchorTreeSize != o.anchorTreeSize {
		return false
	}
	return nodesEqual(w.MerklePath(), o.MerklePath()) && nodesEqual(w.anchorFrontier, o.anchorFrontier)
}

func nodesEqual(a, b []HashNode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
