package merkle

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
)

// Hasher is the domain-separated two-to-one combine of a tree. The level is
// the height of the two children (0 for leaves).
type Hasher interface {
	Name() string
	Combine(level uint8, left, right HashNode) HashNode
}

const (
	HasherBlake2b  = "blake2b"
	HasherKeccak   = "keccak256"
	HasherMiMC     = "mimc-bn254"
	HasherPoseidon = "poseidon-bn254"
)

// HasherByName resolves the hasher a tree configuration refers to.
func HasherByName(name string, domainKey string) (Hasher, error) {
	switch name {
	case HasherBlake2b:
		return NewBlake2bHasher(domainKey), nil
	case HasherKeccak:
		return NewKeccakHasher(domainKey), nil
	case HasherMiMC:
		return MiMCHasher{}, nil
	case HasherPoseidon:
		return PoseidonHasher{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHasher, name)
	}
}

// Blake2bHasher runs BLAKE2b-256 in keyed (MAC) mode with the tree's domain
// key and prefixes the level byte. The key is not the BLAKE2b personalization
// parameter.
type Blake2bHasher struct {
	key []byte
}

// NewBlake2bHasher keys the hasher with domainKey, trimmed to 64 bytes.
func NewBlake2bHasher(domainKey string) Blake2bHasher {
	key := []byte(domainKey)
	if len(key) > blake2b.Size {
		key = key[:blake2b.Size]
	}
	return Blake2bHasher{key: key}
}

func (Blake2bHasher) Name() string { return HasherBlake2b }

func (b Blake2bHasher) Combine(level uint8, left, right HashNode) HashNode {
	h, err := blake2b.New256(b.key)
	if err != nil {
		// only reachable with a key longer than 64 bytes, which the constructor trims
		panic(err)
	}
	h.Write([]byte{level})
	h.Write(left[:])
	h.Write(right[:])
	var out HashNode
	copy(out[:], h.Sum(nil))
	return out
}

// KeccakHasher is keccak256(domainKey || level || left || right).
type KeccakHasher struct {
	prefix []byte
}

func NewKeccakHasher(domainKey string) KeccakHasher {
	return KeccakHasher{prefix: []byte(domainKey)}
}

func (KeccakHasher) Name() string { return HasherKeccak }

func (k KeccakHasher) Combine(level uint8, left, right HashNode) HashNode {
	var out HashNode
	copy(out[:], crypto.Keccak256(k.prefix, []byte{level}, left[:], right[:]))
	return out
}

// MiMCHasher hashes (level, left, right) as BN254 scalar field elements with
// MiMC. Children are reduced modulo the field order first.
type MiMCHasher struct{}

func (MiMCHasher) Name() string { return HasherMiMC }

func (MiMCHasher) Combine(level uint8, left, right HashNode) HashNode {
	var lvl, l, r fr.Element
	lvl.SetUint64(uint64(level))
	l.SetBytes(left[:])
	r.SetBytes(right[:])

	h := mimc.NewMiMC()
	for _, e := range []*fr.Element{&lvl, &l, &r} {
		b := e.Bytes()
		h.Write(b[:])
	}
	var out HashNode
	copy(out[:], h.Sum(nil))
	return out
}

// PoseidonHasher is the simplified width-3 Poseidon sponge over the BN254
// scalar field: 8 full rounds, x^5 S-box, a fixed linear layer and counter
// round constants. The capacity element carries level+1.
type PoseidonHasher struct{}

func (PoseidonHasher) Name() string { return HasherPoseidon }

func (PoseidonHasher) Combine(level uint8, left, right HashNode) HashNode {
	var state [3]fr.Element
	state[0].SetBytes(left[:])
	state[1].SetBytes(right[:])
	state[2].SetUint64(uint64(level) + 1)
	poseidonPermute(&state)
	return HashNode(state[0].Bytes())
}

func poseidonPermute(state *[3]fr.Element) {
	var rc, x2, x4, t0, t1, t2, two, three fr.Element
	two.SetUint64(2)
	three.SetUint64(3)

	for round := 0; round < 8; round++ {
		for i := 0; i < 3; i++ {
			rc.SetUint64(uint64(round*3 + i + 1))
			state[i].Add(&state[i], &rc)
		}

		// S-box x^5
		for i := 0; i < 3; i++ {
			x2.Square(&state[i])
			x4.Square(&x2)
			state[i].Mul(&x4, &state[i])
		}

		// t0 = s0+s1+s2, t1 = s0+2*s1+s2, t2 = s0+s1+3*s2
		t0.Add(&state[0], &state[1])
		t0.Add(&t0, &state[2])

		t1.Mul(&state[1], &two)
		t1.Add(&t1, &state[0])
		t1.Add(&t1, &state[2])

		t2.Mul(&state[2], &three)
		t2.Add(&t2, &state[0])
		t2.Add(&t2, &state[1])

		state[0], state[1], state[2] = t0, t1, t2
	}
}
