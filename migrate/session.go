// Package migrate drives one wallet's note commitment trees through an
// import or append session, moving witnesses between the engine and the
// record store.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/colorfulnotion/zewif/log"
	"github.com/colorfulnotion/zewif/merkle"
	"github.com/colorfulnotion/zewif/witness"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/colorfulnotion/zewif/migrate"

var (
	ErrPoolClosed    = errors.New("pool tree is closed")
	ErrUnknownNote   = errors.New("note has no live witness")
	ErrPoolPopulated = errors.New("pool already holds leaves")
	ErrDuplicateNote = errors.New("note commitment already witnessed")
)

type Option func(*Session)

// WithTracerProvider sets the provider spans are created from. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) { s.tracer = tp.Tracer(tracerName) }
}

// Session holds the trees of one wallet, one per pool. All methods are
// serialized on a single mutex; the trees themselves are not safe for
// concurrent use.
type Session struct {
	mu     sync.Mutex
	trees  map[witness.Pool]*merkle.Tree
	closed map[witness.Pool]error
	notes  map[witness.Pool]map[merkle.HashNode]uint64
	tracer trace.Tracer
}

func NewSession(opts ...Option) *Session {
	s := &Session{
		trees:  make(map[witness.Pool]*merkle.Tree),
		closed: make(map[witness.Pool]error),
		notes:  make(map[witness.Pool]map[merkle.HashNode]uint64),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) tree(pool witness.Pool) (*merkle.Tree, error) {
	if t, ok := s.trees[pool]; ok {
		return t, nil
	}
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	t := merkle.NewTree(pool.Config())
	s.trees[pool] = t
	s.notes[pool] = make(map[merkle.HashNode]uint64)
	return t, nil
}

// AppendCommitment appends cm to the pool's tree and extends every live
// witness. Owned notes get a witness of their own. Once the tree is full the
// pool is closed for the rest of the session.
func (s *Session) AppendCommitment(ctx context.Context, pool witness.Pool, cm merkle.HashNode, owned bool) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closed[pool]; err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrPoolClosed, pool, err)
	}
	t, err := s.tree(pool)
	if err != nil {
		return 0, err
	}
	if owned {
		if _, dup := s.notes[pool][cm]; dup {
			return 0, fmt.Errorf("%w: %s %s", ErrDuplicateNote, pool, cm)
		}
	}
	position, err := t.Append(cm)
	if err != nil {
		if errors.Is(err, merkle.ErrTreeFull) {
			s.closed[pool] = err
			log.Error(log.MigrateMonitoring, "pool tree full, closing", "pool", pool, "size", t.Size())
		}
		return 0, err
	}
	if owned {
		if _, err := t.Mark(cm); err != nil {
			return position, err
		}
		s.notes[pool][cm] = position
		log.Debug(log.MigrateMonitoring, "note witnessed", "pool", pool, "position", position)
	}
	return position, nil
}

// Witness returns the live witness of cm.
func (s *Session) Witness(pool witness.Pool, cm merkle.HashNode) (*merkle.Witness, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(pool, cm)
}

func (s *Session) lookup(pool witness.Pool, cm merkle.HashNode) (*merkle.Witness, bool) {
	t, ok := s.trees[pool]
	if !ok {
		return nil, false
	}
	position, ok := s.notes[pool][cm]
	if !ok {
		return nil, false
	}
	return t.Witness(position)
}

// Spend drops the witness of a spent note.
func (s *Session) Spend(pool witness.Pool, cm merkle.HashNode) error {
	return s.forget(pool, cm, "spent")
}

// Discard drops the witness of a note whose owner is gone.
func (s *Session) Discard(pool witness.Pool, cm merkle.HashNode) error {
	return s.forget(pool, cm, "discarded")
}

func (s *Session) forget(pool witness.Pool, cm merkle.HashNode, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	position, ok := s.notes[pool][cm]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrUnknownNote, pool, cm)
	}
	s.trees[pool].Forget(position)
	delete(s.notes[pool], cm)
	log.Debug(log.MigrateMonitoring, "witness dropped", "pool", pool, "position", position, "reason", reason)
	return nil
}

// Root returns the current root of the pool's tree, zero for an unknown pool.
func (s *Session) Root(pool witness.Pool) merkle.HashNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tree(pool)
	if err != nil {
		return merkle.HashNode{}
	}
	return t.Root()
}

func (s *Session) Size(pool witness.Pool) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tree(pool)
	if err != nil {
		return 0
	}
	return t.Size()
}

// Faults returns the witnesses of a pool dropped because they could no
// longer be extended, keyed by commitment.
func (s *Session) Faults(pool witness.Pool) map[merkle.HashNode]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[merkle.HashNode]error)
	t, ok := s.trees[pool]
	if !ok {
		return out
	}
	faults := t.Faults()
	for cm, position := range s.notes[pool] {
		if err, ok := faults[position]; ok {
			out[cm] = err
		}
	}
	return out
}

// Export captures a fresh anchor on every live witness and replaces the
// store's records of each pool with the session state.
func (s *Session) Export(ctx context.Context, store *witness.Store) (err error) {
	_, span := s.tracer.Start(ctx, "migrate.Export")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pool := range witness.Pools() {
		t, ok := s.trees[pool]
		if !ok {
			continue
		}
		if err := t.Checkpoint(); err != nil {
			log.Warn(log.MigrateMonitoring, "anchor capture failed", "pool", pool, "err", err)
		}
		live := t.Witnesses()
		if err := store.Commit(pool, live, t.Frontier()); err != nil {
			return err
		}
		span.AddEvent("pool exported", trace.WithAttributes(
			attribute.String("pool", pool.String()),
			attribute.Int("witnesses", len(live)),
			attribute.Int64("tree_size", int64(t.Size())),
		))
		log.Info(log.MigrateMonitoring, "pool exported", "pool", pool, "witnesses", len(live), "treeSize", t.Size())
	}
	return nil
}
