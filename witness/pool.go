// Package witness persists note witnesses as typed envelope records and keeps
// them in a LevelDB store, one keyspace per shielded pool.
package witness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/colorfulnotion/zewif/log"
	"github.com/colorfulnotion/zewif/merkle"
)

// Pool identifies a shielded pool and, through it, a tree configuration.
type Pool uint8

const (
	PoolSprout Pool = iota
	PoolSapling
	PoolOrchard
)

var poolNames = map[Pool]string{
	PoolSprout:  "sprout",
	PoolSapling: "sapling",
	PoolOrchard: "orchard",
}

var recordTypes = map[Pool]string{
	PoolSprout:  "SproutWitness",
	PoolSapling: "SaplingWitness",
	PoolOrchard: "OrchardWitness",
}

var ErrUnknownPool = errors.New("unknown shielded pool")

// Pools lists every known pool.
func Pools() []Pool {
	return []Pool{PoolSprout, PoolSapling, PoolOrchard}
}

func (p Pool) String() string {
	if name, ok := poolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("pool(%d)", uint8(p))
}

// Validate fails for a Pool value outside Pools.
func (p Pool) Validate() error {
	if _, ok := poolNames[p]; !ok || p.Config() == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPool, p)
	}
	return nil
}

// Config returns the embedded tree configuration of the pool, nil for an
// unknown pool.
func (p Pool) Config() *merkle.TreeConfig {
	cfg, _ := merkle.DefaultConfig(p.String())
	return cfg
}

// RecordType is the type tag of the pool's witness records.
func (p Pool) RecordType() string {
	return recordTypes[p]
}

func ParsePool(s string) (Pool, error) {
	for p, name := range poolNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPool, s)
}

// ClassifyShieldedAddress guesses the pool of an encoded shielded address
// from its prefix. Unrecognized prefixes fall back to Sapling with ok false.
// A third pool prefix would be misfiled by this fallback.
func ClassifyShieldedAddress(addr string) (Pool, bool) {
	switch {
	case strings.HasPrefix(addr, "zs"):
		return PoolSapling, true
	case strings.HasPrefix(addr, "zo"):
		return PoolOrchard, true
	}
	log.Warn(log.WitnessMonitoring, "unrecognized shielded address prefix, assuming sapling", "addr", addr)
	return PoolSapling, false
}
