// Package merkle implements the append-only note commitment tree used by the
// shielded pools: a frontier that appends one leaf in logarithmic time, and
// incremental witnesses that keep an authentication path current as later
// leaves arrive, without ever rebuilding the tree.
package merkle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HashLength is the width in bytes of every tree node.
const HashLength = 32

// HashNode is one node value of the commitment tree.
type HashNode [HashLength]byte

// HashNodeFromBytes converts raw bytes into a HashNode.
func HashNodeFromBytes(b []byte) (HashNode, error) {
	var h HashNode
	if len(b) != HashLength {
		return h, fmt.Errorf("%w: expected %d bytes, got %d", ErrHashLengthMismatch, HashLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ParseHashNode decodes a 0x-prefixed hex string.
func ParseHashNode(s string) (HashNode, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return HashNode{}, fmt.Errorf("parse hash node %q: %w", s, err)
	}
	return HashNodeFromBytes(b)
}

// Bytes returns a copy of the node as a slice.
func (h HashNode) Bytes() []byte {
	out := make([]byte, HashLength)
	copy(out, h[:])
	return out
}

func (h HashNode) Hex() string {
	return hexutil.Encode(h[:])
}

func (h HashNode) String() string {
	return h.Hex()
}

func (h HashNode) IsZero() bool {
	return h == HashNode{}
}

// NodesToBytes is the inverse of NodesFromBytes.
func NodesToBytes(nodes []HashNode) [][]byte {
	out := make([][]byte, len(nodes))
	for i, n := range nodes {
		out[i] = n.Bytes()
	}
	return out
}

// NodesFromBytes converts a list of raw values, failing on the first one
// with the wrong width.
func NodesFromBytes(raw [][]byte) ([]HashNode, error) {
	out := make([]HashNode, len(raw))
	for i, b := range raw {
		h, err := HashNodeFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		out[i] = h
	}
	return out, nil
}
