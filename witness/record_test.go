package witness

import (
	"testing"

	"github.com/colorfulnotion/zewif/envelope"
	"github.com/colorfulnotion/zewif/merkle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func randomNode(rng *rand.Rand) merkle.HashNode {
	var h merkle.HashNode
	rng.Read(h[:])
	return h
}

func randomNodes(rng *rand.Rand, n int) []merkle.HashNode {
	out := make([]merkle.HashNode, n)
	for i := range out {
		out[i] = randomNode(rng)
	}
	return out
}

func leaf(i int) merkle.HashNode {
	var h merkle.HashNode
	h[0] = 0x5a
	h[31] = byte(i)
	h[30] = byte(i >> 8)
	return h
}

// liveWitness appends n leaves to a tree of the pool and returns the witness
// of the leaf at position, anchored at size n.
func liveWitness(t *testing.T, cfg *merkle.TreeConfig, position, n int) (*merkle.Witness, *merkle.Tree) {
	t.Helper()
	tree := merkle.NewTree(cfg)
	var w *merkle.Witness
	for i := 0; i < n; i++ {
		_, err := tree.Append(leaf(i))
		require.NoError(t, err)
		if i == position {
			var err error
			w, err = tree.Mark(leaf(i))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tree.Checkpoint())
	return w, tree
}

func TestRecordRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, depth := range []uint8{1, 2, 5, 16, 29, 32, 62} {
		cfg, err := merkle.NewTreeConfig("random", depth, merkle.NewKeccakHasher(""), merkle.HashNode{})
		require.NoError(t, err)
		capacity := cfg.Capacity()

		for i := 0; i < 40; i++ {
			position := rng.Uint64() % capacity
			treeSize := position + 1 + rng.Uint64()%(capacity-position)
			frontier := randomNodes(rng, rng.Intn(int(depth)+1))

			w, err := merkle.FromParts(cfg, randomNode(rng), position, randomNodes(rng, int(depth)),
				randomNode(rng), treeSize, frontier)
			require.NoError(t, err)

			env, err := EncodeRecord("TestWitness", w)
			require.NoError(t, err)
			data, err := env.MarshalCBOR()
			require.NoError(t, err)
			parsed, err := envelope.Unmarshal(data)
			require.NoError(t, err)
			back, err := DecodeRecord(cfg, "TestWitness", parsed)
			require.NoError(t, err)
			require.True(t, w.Equal(back), "depth %d position %d size %d", depth, position, treeSize)
		}
	}
}

func TestRecordRoundTripLive(t *testing.T) {
	for _, pool := range Pools() {
		t.Run(pool.String(), func(t *testing.T) {
			w, _ := liveWitness(t, pool.Config(), 2, 11)
			data, err := Marshal(pool, w)
			require.NoError(t, err)

			back, err := Unmarshal(pool, data)
			require.NoError(t, err)
			assert.True(t, w.Equal(back))
			assert.NoError(t, back.VerifyAnchor())
			assert.Equal(t, uint64(11), back.TreeSize())
		})
	}
}

func TestEncodeRequiresCurrentAnchor(t *testing.T) {
	cfg := PoolSapling.Config()
	tree := merkle.NewTree(cfg)
	_, err := tree.Append(leaf(0))
	require.NoError(t, err)
	w, err := tree.Mark(leaf(0))
	require.NoError(t, err)
	_, err = tree.Append(leaf(1))
	require.NoError(t, err)
	require.Equal(t, uint64(2), w.TreeSize())
	require.Equal(t, uint64(1), w.AnchorTreeSize())

	_, err = Marshal(PoolSapling, w)
	assert.ErrorIs(t, err, ErrAnchorBehind)
	assert.ErrorIs(t, newTestStore(t).Put(PoolSapling, w), ErrAnchorBehind)

	// the path at size 2 paired with the anchor at size 1
	mixed, err := merkle.FromParts(cfg, w.Commitment(), w.Position(), w.MerklePath(),
		w.Anchor(), w.AnchorTreeSize(), w.AnchorFrontier())
	require.NoError(t, err)
	assert.False(t, w.Equal(mixed))

	require.NoError(t, tree.Checkpoint())
	data, err := Marshal(PoolSapling, w)
	require.NoError(t, err)
	back, err := Unmarshal(PoolSapling, data)
	require.NoError(t, err)
	assert.True(t, w.Equal(back))
	assert.Equal(t, uint64(2), back.TreeSize())
	assert.NoError(t, back.VerifyAnchor())
	assert.Equal(t, tree.Root(), back.Root())
}

func TestDecodeTypeMismatch(t *testing.T) {
	w, _ := liveWitness(t, PoolSapling.Config(), 0, 3)
	env, err := Encode(PoolSapling, w)
	require.NoError(t, err)

	_, err = Decode(PoolOrchard, env)
	assert.ErrorIs(t, err, merkle.ErrSerializationMismatch)
	assert.ErrorIs(t, err, merkle.ErrTypeMismatch)
}

func TestDecodeStructuralFailures(t *testing.T) {
	cfg, err := merkle.NewTreeConfig("small", 4, merkle.NewKeccakHasher(""), merkle.HashNode{})
	require.NoError(t, err)
	zero := make([]byte, 32)
	path := make([][]byte, 4)
	for i := range path {
		path[i] = zero
	}

	build := func(subject []byte, skip string, override map[string]any) *envelope.Envelope {
		env, err := envelope.New(subject)
		require.NoError(t, err)
		env.AddType("T")
		fields := []struct {
			name  string
			value any
		}{
			{FieldNotePosition, uint64(3)},
			{FieldMerklePath, path},
			{FieldAnchor, zero},
			{FieldAnchorTreeSize, uint64(4)},
			{FieldAnchorFrontier, [][]byte{zero}},
		}
		for _, f := range fields {
			if f.name == skip {
				continue
			}
			value := f.value
			if v, ok := override[f.name]; ok {
				value = v
			}
			require.NoError(t, env.AddAssertion(f.name, value))
		}
		return env
	}

	_, err = DecodeRecord(cfg, "T", build(zero, "", nil))
	require.NoError(t, err)

	cases := []struct {
		name string
		env  *envelope.Envelope
		want error
	}{
		{"missing anchor", build(zero, FieldAnchor, nil), merkle.ErrFieldMissing},
		{"missing frontier", build(zero, FieldAnchorFrontier, nil), merkle.ErrFieldMissing},
		{"short path", build(zero, "", map[string]any{FieldMerklePath: path[:3]}), merkle.ErrLengthMismatch},
		{"short commitment", build(zero[:31], "", nil), merkle.ErrHashLengthMismatch},
		{"wide anchor", build(zero, "", map[string]any{FieldAnchor: make([]byte, 33)}), merkle.ErrHashLengthMismatch},
		{"position out of range", build(zero, "", map[string]any{FieldNotePosition: uint64(16)}), merkle.ErrPositionOutOfRange},
		{"anchor before note", build(zero, "", map[string]any{FieldAnchorTreeSize: uint64(3)}), merkle.ErrPositionOutOfRange},
		{"long frontier", build(zero, "", map[string]any{FieldAnchorFrontier: append(path, zero)}), merkle.ErrLengthMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRecord(cfg, "T", tc.env)
			assert.ErrorIs(t, err, merkle.ErrSerializationMismatch)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err = DecodeRecord(cfg, "Other", build(zero, "", nil))
	assert.ErrorIs(t, err, merkle.ErrTypeMismatch)
}

func TestUnmarshalGarbage(t *testing.T) {
	_, err := Unmarshal(PoolSapling, []byte{0xff})
	assert.ErrorIs(t, err, merkle.ErrSerializationMismatch)
}

func TestClassifyShieldedAddress(t *testing.T) {
	pool, ok := ClassifyShieldedAddress("zs1qqqqqq")
	assert.True(t, ok)
	assert.Equal(t, PoolSapling, pool)

	pool, ok = ClassifyShieldedAddress("zo1qqqqqq")
	assert.True(t, ok)
	assert.Equal(t, PoolOrchard, pool)

	pool, ok = ClassifyShieldedAddress("u1qqqqqq")
	assert.False(t, ok)
	assert.Equal(t, PoolSapling, pool)
}

func TestParsePool(t *testing.T) {
	for _, p := range Pools() {
		parsed, err := ParsePool(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
		assert.NotNil(t, p.Config())
		assert.NotEmpty(t, p.RecordType())
	}
	_, err := ParsePool("transparent")
	assert.ErrorIs(t, err, ErrUnknownPool)
}

func TestUnknownPool(t *testing.T) {
	unknown := Pool(9)
	assert.Nil(t, unknown.Config())
	assert.ErrorIs(t, unknown.Validate(), ErrUnknownPool)

	w, _ := liveWitness(t, PoolSapling.Config(), 0, 2)
	_, err := Marshal(unknown, w)
	assert.ErrorIs(t, err, ErrUnknownPool)
	env, err := Encode(PoolSapling, w)
	require.NoError(t, err)
	_, err = Decode(unknown, env)
	assert.ErrorIs(t, err, ErrUnknownPool)
}
