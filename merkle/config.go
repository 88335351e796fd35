package merkle

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

// MaxDepth keeps 2^depth representable as a leaf count.
const MaxDepth = 62

// TreeConfig fixes everything that differs between shielded pools: depth,
// combine function and the canonical empty-subtree values.
type TreeConfig struct {
	name   string
	depth  uint8
	hasher Hasher
	empty  []HashNode // empty[i] is the root of an empty subtree of height i
}

// NewTreeConfig precomputes the empty-subtree values for levels 0..depth.
func NewTreeConfig(name string, depth uint8, hasher Hasher, emptyLeaf HashNode) (*TreeConfig, error) {
	if depth == 0 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidDepth, depth, MaxDepth)
	}
	if hasher == nil {
		return nil, fmt.Errorf("%w: nil hasher for %s", ErrUnknownHasher, name)
	}
	cfg := &TreeConfig{
		name:   name,
		depth:  depth,
		hasher: hasher,
		empty:  make([]HashNode, int(depth)+1),
	}
	cfg.empty[0] = emptyLeaf
	for i := uint8(0); i < depth; i++ {
		cfg.empty[i+1] = hasher.Combine(i, cfg.empty[i], cfg.empty[i])
	}
	return cfg, nil
}

func (c *TreeConfig) Name() string   { return c.name }
func (c *TreeConfig) Depth() uint8   { return c.depth }
func (c *TreeConfig) Hasher() Hasher { return c.hasher }

// Capacity is the number of leaves the tree can hold.
func (c *TreeConfig) Capacity() uint64 {
	return uint64(1) << c.depth
}

// EmptyRoot returns the canonical value of an empty subtree of the given height.
func (c *TreeConfig) EmptyRoot(level uint8) HashNode {
	return c.empty[level]
}

// EmptyLeaf is the placeholder for an unfilled leaf position.
func (c *TreeConfig) EmptyLeaf() HashNode {
	return c.empty[0]
}

func (c *TreeConfig) combine(level uint8, left, right HashNode) HashNode {
	return c.hasher.Combine(level, left, right)
}

// TreeParams is the JSON form of a tree configuration.
type TreeParams struct {
	Name      string `json:"name"`
	Depth     uint8  `json:"depth"`
	Hasher    string `json:"hasher"`
	DomainKey string `json:"domain_key,omitempty"`
	EmptyLeaf string `json:"empty_leaf"`
}

// Build resolves the hasher and empty leaf of an entry.
func (s TreeParams) Build() (*TreeConfig, error) {
	hasher, err := HasherByName(s.Hasher, s.DomainKey)
	if err != nil {
		return nil, fmt.Errorf("tree %s: %w", s.Name, err)
	}
	emptyLeaf, err := ParseHashNode(s.EmptyLeaf)
	if err != nil {
		return nil, fmt.Errorf("tree %s empty_leaf: %w", s.Name, err)
	}
	return NewTreeConfig(s.Name, s.Depth, hasher, emptyLeaf)
}

// ParseTreeConfigs decodes a JSON array of tree entries keyed by name.
func ParseTreeConfigs(data []byte) (map[string]*TreeConfig, error) {
	var entries []TreeParams
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode tree configs: %w", err)
	}
	out := make(map[string]*TreeConfig, len(entries))
	for _, p := range entries {
		if _, dup := out[p.Name]; dup {
			return nil, fmt.Errorf("duplicate tree config %q", p.Name)
		}
		cfg, err := p.Build()
		if err != nil {
			return nil, err
		}
		out[p.Name] = cfg
	}
	return out, nil
}

//go:embed pools.json
var defaultPoolsJSON []byte

var defaultPools map[string]*TreeConfig

func init() {
	pools, err := ParseTreeConfigs(defaultPoolsJSON)
	if err != nil {
		panic(fmt.Sprintf("embedded pool configs: %v", err))
	}
	defaultPools = pools
}

// DefaultConfig returns one of the embedded pool configurations.
func DefaultConfig(name string) (*TreeConfig, bool) {
	cfg, ok := defaultPools[name]
	return cfg, ok
}

func SaplingConfig() *TreeConfig { return defaultPools["sapling"] }
func OrchardConfig() *TreeConfig { return defaultPools["orchard"] }
func SproutConfig() *TreeConfig  { return defaultPools["sprout"] }
