package migrate

import (
	"context"
	"testing"

	"github.com/colorfulnotion/zewif/merkle"
	"github.com/colorfulnotion/zewif/witness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func commitment(i int) merkle.HashNode {
	var h merkle.HashNode
	h[0] = 0x11
	h[29] = byte(i >> 16)
	h[30] = byte(i >> 8)
	h[31] = byte(i)
	return h
}

func newStore(t *testing.T) *witness.Store {
	t.Helper()
	s, err := witness.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// appendRange appends commitments [from, to) to pool, owning those in owned.
func appendRange(t *testing.T, s *Session, pool witness.Pool, from, to int, owned map[int]bool) []merkle.HashNode {
	t.Helper()
	var leaves []merkle.HashNode
	for i := from; i < to; i++ {
		cm := commitment(i)
		pos, err := s.AppendCommitment(context.Background(), pool, cm, owned[i])
		require.NoError(t, err)
		require.Equal(t, uint64(i), pos)
		leaves = append(leaves, cm)
	}
	return leaves
}

func TestSessionAppendAndSpend(t *testing.T) {
	s := NewSession()
	pool := witness.PoolSapling
	owned := map[int]bool{1: true, 4: true, 9: true}
	leaves := appendRange(t, s, pool, 0, 20, owned)

	want, err := merkle.RootFromLeaves(pool.Config(), leaves)
	require.NoError(t, err)
	assert.Equal(t, want, s.Root(pool))
	assert.Equal(t, uint64(20), s.Size(pool))

	for i := range owned {
		w, ok := s.Witness(pool, commitment(i))
		require.True(t, ok)
		assert.Equal(t, want, w.Root())
	}

	require.NoError(t, s.Spend(pool, commitment(4)))
	_, ok := s.Witness(pool, commitment(4))
	assert.False(t, ok)
	assert.ErrorIs(t, s.Spend(pool, commitment(4)), ErrUnknownNote)
	require.NoError(t, s.Discard(pool, commitment(9)))

	_, err = s.AppendCommitment(context.Background(), pool, commitment(1), true)
	assert.ErrorIs(t, err, ErrDuplicateNote)
}

func TestSessionExportImport(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx := context.Background()
	store := newStore(t)

	src := NewSession(WithTracerProvider(tp))
	owned := map[int]bool{0: true, 5: true, 6: true, 17: true}
	leaves := appendRange(t, src, witness.PoolOrchard, 0, 23, owned)
	appendRange(t, src, witness.PoolSapling, 0, 3, map[int]bool{2: true})
	require.NoError(t, src.Export(ctx, store))

	dst := NewSession(WithTracerProvider(tp))
	report, err := dst.Import(ctx, store, witness.PoolOrchard)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Imported)
	assert.Empty(t, report.Warnings())
	assert.Equal(t, uint64(23), report.TreeSize)

	// both sessions keep following the same tree
	more := appendRange(t, dst, witness.PoolOrchard, 23, 40, map[int]bool{30: true})
	appendRange(t, src, witness.PoolOrchard, 23, 40, map[int]bool{30: true})
	want, err := merkle.RootFromLeaves(witness.PoolOrchard.Config(), append(leaves, more...))
	require.NoError(t, err)

	for _, i := range []int{0, 5, 6, 17, 30} {
		got, ok := dst.Witness(witness.PoolOrchard, commitment(i))
		require.True(t, ok, "note %d", i)
		assert.Equal(t, want, got.Root(), "note %d", i)
		orig, ok := src.Witness(witness.PoolOrchard, commitment(i))
		require.True(t, ok)
		assert.Equal(t, orig.MerklePath(), got.MerklePath())
	}

	_, err = dst.Import(ctx, store, witness.PoolOrchard)
	assert.ErrorIs(t, err, ErrPoolPopulated)

	names := map[string]int{}
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, 1, names["migrate.Export"])
	assert.Equal(t, 2, names["migrate.Import"])
}

func TestImportSkipsCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	pool := witness.PoolSapling

	src := NewSession()
	appendRange(t, src, pool, 0, 10, map[int]bool{2: true, 3: true, 7: true})
	require.NoError(t, src.Export(ctx, store))

	// garbage bytes and a record with the wrong type tag
	require.NoError(t, store.PutRecord(pool, commitment(3), []byte{0x01, 0x02}))
	w, ok := src.Witness(pool, commitment(7))
	require.True(t, ok)
	data, err := witness.Marshal(witness.PoolOrchard, w)
	require.NoError(t, err)
	require.NoError(t, store.PutRecord(pool, commitment(7), data))

	dst := NewSession()
	report, err := dst.Import(ctx, store, pool)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	require.Len(t, report.Skipped, 2)
	for _, issue := range report.Skipped {
		assert.ErrorIs(t, issue.Err, merkle.ErrSerializationMismatch)
	}
	assert.Len(t, report.Warnings(), 2)

	_, ok = dst.Witness(pool, commitment(2))
	assert.True(t, ok)
}

func TestImportAbortsStaleWitness(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	pool := witness.PoolSapling

	src := NewSession()
	appendRange(t, src, pool, 0, 6, map[int]bool{1: true, 4: true})
	require.NoError(t, src.Export(ctx, store))

	// a copy anchored before the stored frontier cannot follow the tree
	live, ok := src.Witness(pool, commitment(4))
	require.True(t, ok)
	old, err := merkle.FromParts(pool.Config(), live.Commitment(), live.Position(), live.MerklePath(),
		live.Anchor(), live.AnchorTreeSize(), live.AnchorFrontier())
	require.NoError(t, err)

	appendRange(t, src, pool, 6, 9, nil)
	require.NoError(t, src.Export(ctx, store))
	require.NoError(t, store.Put(pool, old))

	dst := NewSession()
	report, err := dst.Import(ctx, store, pool)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	require.Len(t, report.Aborted, 1)
	assert.Equal(t, commitment(4), report.Aborted[0].Commitment)
	assert.ErrorIs(t, report.Aborted[0].Err, merkle.ErrInconsistentAppendOrder)
}

func TestImportAbortsCorruptSibling(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	pool := witness.PoolSapling

	src := NewSession()
	appendRange(t, src, pool, 0, 10, map[int]bool{2: true, 4: true, 7: true})
	require.NoError(t, src.Export(ctx, store))

	stored, err := store.Get(pool, commitment(4))
	require.NoError(t, err)
	path := stored.MerklePath()
	path[5][0] ^= 0xff
	corrupt, err := merkle.FromParts(pool.Config(), stored.Commitment(), stored.Position(), path,
		stored.Anchor(), stored.AnchorTreeSize(), stored.AnchorFrontier())
	require.NoError(t, err)
	require.NoError(t, store.Put(pool, corrupt))

	dst := NewSession()
	report, err := dst.Import(ctx, store, pool)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported)
	assert.Empty(t, report.Skipped)
	require.Len(t, report.Aborted, 1)
	assert.Equal(t, commitment(4), report.Aborted[0].Commitment)
	assert.ErrorIs(t, report.Aborted[0].Err, merkle.ErrAnchorMismatch)
	assert.Len(t, report.Warnings(), 1)

	_, ok := dst.Witness(pool, commitment(4))
	assert.False(t, ok)
	for _, i := range []int{2, 7} {
		w, ok := dst.Witness(pool, commitment(i))
		require.True(t, ok, "note %d", i)
		assert.Equal(t, src.Root(pool), w.Root(), "note %d", i)
	}
}

func TestSessionUnknownPool(t *testing.T) {
	ctx := context.Background()
	s := NewSession()
	unknown := witness.Pool(7)

	_, err := s.AppendCommitment(ctx, unknown, commitment(0), true)
	assert.ErrorIs(t, err, witness.ErrUnknownPool)
	_, err = s.Import(ctx, newStore(t), unknown)
	assert.ErrorIs(t, err, witness.ErrUnknownPool)
	assert.Equal(t, merkle.HashNode{}, s.Root(unknown))
	assert.Zero(t, s.Size(unknown))
}

func TestSessionTreeFullClosesPool(t *testing.T) {
	cfg, err := merkle.NewTreeConfig("tiny", 2, merkle.NewKeccakHasher(""), merkle.HashNode{})
	require.NoError(t, err)
	tree := merkle.NewTree(cfg)
	for i := 0; i < 4; i++ {
		_, err := tree.Append(commitment(i))
		require.NoError(t, err)
	}
	_, err = tree.Append(commitment(4))
	require.ErrorIs(t, err, merkle.ErrTreeFull)

	s := NewSession()
	s.trees[witness.PoolSprout] = tree
	s.notes[witness.PoolSprout] = map[merkle.HashNode]uint64{}

	_, err = s.AppendCommitment(context.Background(), witness.PoolSprout, commitment(5), false)
	require.ErrorIs(t, err, merkle.ErrTreeFull)
	_, err = s.AppendCommitment(context.Background(), witness.PoolSprout, commitment(6), false)
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.ErrorIs(t, err, merkle.ErrTreeFull)
}

func TestAppendCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSession().AppendCommitment(ctx, witness.PoolSapling, commitment(0), true)
	assert.ErrorIs(t, err, context.Canceled)
}
