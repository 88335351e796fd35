package merkle

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, depth uint8) *TreeConfig {
	t.Helper()
	cfg, err := NewTreeConfig("test", depth, NewKeccakHasher("zewif-test"), HashNode{})
	require.NoError(t, err)
	return cfg
}

func testLeaf(i int) HashNode {
	var h HashNode
	h[0] = 0xc0
	binary.BigEndian.PutUint64(h[24:], uint64(i)+1)
	return h
}

func testLeaves(n int) []HashNode {
	leaves := make([]HashNode, n)
	for i := range leaves {
		leaves[i] = testLeaf(i)
	}
	return leaves
}

// TestFrontierRootMatchesRebuild appends up to capacity and compares every
// intermediate root with a full rebuild.
func TestFrontierRootMatchesRebuild(t *testing.T) {
	for depth := uint8(1); depth <= 6; depth++ {
		cfg := testConfig(t, depth)
		f := NewFrontier(cfg)
		leaves := testLeaves(int(cfg.Capacity()))

		empty, err := RootFromLeaves(cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, empty, f.Root(), "empty root at depth %d", depth)
		assert.Equal(t, cfg.EmptyRoot(depth), f.Root())

		for n := 1; n <= len(leaves); n++ {
			require.NoError(t, f.Append(leaves[n-1]))
			want, err := RootFromLeaves(cfg, leaves[:n])
			require.NoError(t, err)
			require.Equal(t, want, f.Root(), "depth %d size %d", depth, n)
			require.LessOrEqual(t, len(f.Ommers()), int(depth)+1)
		}
	}
}

func TestFrontierBoundary(t *testing.T) {
	cfg := testConfig(t, 3)
	f := NewFrontier(cfg)
	for i := 0; i < 8; i++ {
		require.NoError(t, f.Append(testLeaf(i)), "append %d", i)
	}
	assert.True(t, f.IsFull())
	assert.Len(t, f.Ommers(), 1)
	assert.Equal(t, f.Root(), f.Ommers()[0])

	err := f.Append(testLeaf(8))
	require.ErrorIs(t, err, ErrTreeFull)
	assert.Equal(t, uint64(8), f.Size())
}

func TestFrontierTwoByTwo(t *testing.T) {
	cfg := testConfig(t, 2)
	a, b, c, d := testLeaf(0), testLeaf(1), testLeaf(2), testLeaf(3)

	f := NewFrontier(cfg)
	for _, leaf := range []HashNode{a, b, c, d} {
		require.NoError(t, f.Append(leaf))
	}
	h := cfg.Hasher()
	want := h.Combine(1, h.Combine(0, a, b), h.Combine(0, c, d))
	assert.Equal(t, want, f.Root())
}

func TestRestoreFrontier(t *testing.T) {
	cfg := testConfig(t, 5)
	f := NewFrontier(cfg)
	for i := 0; i < 21; i++ {
		require.NoError(t, f.Append(testLeaf(i)))
	}

	ommers := f.Ommers()
	assert.Len(t, ommers, 3) // 21 = 0b10101

	restored, err := RestoreFrontier(cfg, f.Size(), ommers)
	require.NoError(t, err)
	assert.Equal(t, f.Root(), restored.Root())

	// both continue identically
	for i := 21; i < 32; i++ {
		require.NoError(t, f.Append(testLeaf(i)))
		require.NoError(t, restored.Append(testLeaf(i)))
		require.Equal(t, f.Root(), restored.Root())
	}

	_, err = RestoreFrontier(cfg, 21, ommers[:2])
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = RestoreFrontier(cfg, 33, nil)
	assert.ErrorIs(t, err, ErrTreeFull)
}

func TestFrontierClone(t *testing.T) {
	cfg := testConfig(t, 4)
	f := NewFrontier(cfg)
	require.NoError(t, f.Append(testLeaf(0)))

	cp := f.Clone()
	require.NoError(t, f.Append(testLeaf(1)))
	assert.Equal(t, uint64(1), cp.Size())
	assert.NotEqual(t, f.Root(), cp.Root())
}
