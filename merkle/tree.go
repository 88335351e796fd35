package merkle

import (
	"errors"
	"fmt"
	"sort"

	"github.com/colorfulnotion/zewif/log"
)

// Tree couples a frontier with the witnesses that follow it. It is not safe
// for concurrent use; callers serialize appends.
type Tree struct {
	cfg       *TreeConfig
	frontier  *Frontier
	witnesses map[uint64]*Witness
	faults    map[uint64]error
}

// NewTree returns an empty tree.
func NewTree(cfg *TreeConfig) *Tree {
	return &Tree{
		cfg:       cfg,
		frontier:  NewFrontier(cfg),
		witnesses: make(map[uint64]*Witness),
		faults:    make(map[uint64]error),
	}
}

// RestoreTree resumes a tree from a persisted frontier.
func RestoreTree(cfg *TreeConfig, size uint64, ommers []HashNode) (*Tree, error) {
	f, err := RestoreFrontier(cfg, size, ommers)
	if err != nil {
		return nil, err
	}
	t := NewTree(cfg)
	t.frontier = f
	return t, nil
}

func (t *Tree) Config() *TreeConfig { return t.cfg }

func (t *Tree) Size() uint64 { return t.frontier.Size() }

func (t *Tree) Root() HashNode { return t.frontier.Root() }

// Frontier returns a copy of the current frontier.
func (t *Tree) Frontier() *Frontier { return t.frontier.Clone() }

// Append adds leaf to the tree and extends every live witness. A witness that
// fails to extend is dropped and its error kept in Faults. Only tree errors
// are returned.
func (t *Tree) Append(leaf HashNode) (uint64, error) {
	position := t.frontier.Size()
	if err := t.frontier.Append(leaf); err != nil {
		return 0, err
	}
	for pos, w := range t.witnesses {
		if err := w.Extend(position, leaf); err != nil {
			t.fault(pos, err)
		}
	}
	return position, nil
}

// Mark starts witnessing the most recently appended leaf.
func (t *Tree) Mark(commitment HashNode) (*Witness, error) {
	if t.frontier.Size() == 0 {
		return nil, fmt.Errorf("%w: nothing appended to %s", ErrInconsistentAppendOrder, t.cfg.name)
	}
	position := t.frontier.Size() - 1
	if w, ok := t.witnesses[position]; ok {
		return w, nil
	}
	w, err := NewWitness(t.cfg, commitment, position, t.frontier)
	if err != nil {
		return nil, err
	}
	t.witnesses[position] = w
	log.Debug(log.MerkleMonitoring, "witness marked", "tree", t.cfg.name, "position", position)
	return w, nil
}

// Track adopts a witness restored elsewhere. It must have seen exactly the
// leaves the tree holds, and its path and anchor must reproduce the tree's
// root and frontier.
func (t *Tree) Track(w *Witness) error {
	if w.Config().name != t.cfg.name {
		return fmt.Errorf("%w: witness of %s tracked by %s", ErrInconsistentAppendOrder, w.Config().name, t.cfg.name)
	}
	if err := w.Err(); err != nil {
		return err
	}
	if w.TreeSize() != t.frontier.Size() {
		return fmt.Errorf("%w: witness at %d saw %d leaves, tree holds %d",
			ErrInconsistentAppendOrder, w.Position(), w.TreeSize(), t.frontier.Size())
	}
	if err := w.VerifyAnchor(); err != nil {
		return fmt.Errorf("%w: witness at %d: %w", ErrInconsistentAppendOrder, w.Position(), err)
	}
	if root := w.Root(); root != t.frontier.Root() {
		return fmt.Errorf("%w: %w: witness at %d yields %s, tree root is %s",
			ErrInconsistentAppendOrder, ErrAnchorMismatch, w.Position(), root, t.frontier.Root())
	}
	if w.anchorTreeSize == t.frontier.Size() && !nodesEqual(w.anchorFrontier, t.frontier.Ommers()) {
		return fmt.Errorf("%w: %w: witness at %d carries a different frontier at size %d",
			ErrInconsistentAppendOrder, ErrAnchorMismatch, w.Position(), w.anchorTreeSize)
	}
	if _, ok := t.witnesses[w.Position()]; ok {
		return fmt.Errorf("%w: position %d already tracked", ErrInconsistentAppendOrder, w.Position())
	}
	t.witnesses[w.Position()] = w
	delete(t.faults, w.Position())
	return nil
}

// Witness returns the live witness at position.
func (t *Tree) Witness(position uint64) (*Witness, bool) {
	w, ok := t.witnesses[position]
	return w, ok
}

// Witnesses returns the live witnesses ordered by position.
func (t *Tree) Witnesses() []*Witness {
	out := make([]*Witness, 0, len(t.witnesses))
	for _, w := range t.witnesses {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].position < out[j].position })
	return out
}

// Forget stops following the witness at position.
func (t *Tree) Forget(position uint64) bool {
	_, ok := t.witnesses[position]
	delete(t.witnesses, position)
	delete(t.faults, position)
	return ok
}

// Checkpoint captures an anchor at the current size on every live witness.
func (t *Tree) Checkpoint() error {
	var errs []error
	for pos, w := range t.witnesses {
		if err := w.CaptureAnchor(t.frontier.Size(), t.frontier); err != nil {
			t.fault(pos, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Faults returns the witnesses dropped since they were tracked, by position.
func (t *Tree) Faults() map[uint64]error {
	out := make(map[uint64]error, len(t.faults))
	for pos, err := range t.faults {
		out[pos] = err
	}
	return out
}

func (t *Tree) fault(position uint64, err error) {
	delete(t.witnesses, position)
	t.faults[position] = err
	log.Warn(log.MerkleMonitoring, "witness dropped", "tree", t.cfg.name, "position", position, "err", err)
}
