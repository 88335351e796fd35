package witness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/colorfulnotion/zewif/envelope"
	"github.com/colorfulnotion/zewif/log"
	"github.com/colorfulnotion/zewif/merkle"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const frontierRecordType = "Frontier"

var ErrNotFound = errors.New("witness record not found")

// StoredRecord is one raw witness record as found in the store.
type StoredRecord struct {
	Commitment merkle.HashNode
	Data       []byte
}

// Store keeps witness records under wt_<pool>_<commitment 0x-hex> and one
// frontier snapshot per pool under fr_<pool>.
type Store struct {
	db *leveldb.DB
}

// OpenStore opens or creates the store at path. An empty path keeps
// everything in memory.
func OpenStore(path string) (*Store, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open witness store at %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// NewMemoryStore creates an in-memory store for testing.
func NewMemoryStore() (*Store, error) {
	return OpenStore("")
}

// Put encodes and stores w.
func (s *Store) Put(pool Pool, w *merkle.Witness) error {
	data, err := Marshal(pool, w)
	if err != nil {
		return err
	}
	return s.PutRecord(pool, w.Commitment(), data)
}

// PutRecord stores an already encoded record.
func (s *Store) PutRecord(pool Pool, commitment merkle.HashNode, data []byte) error {
	return s.db.Put(witnessKey(pool, commitment), data, nil)
}

// Get loads and decodes the witness of commitment.
func (s *Store) Get(pool Pool, commitment merkle.HashNode) (*merkle.Witness, error) {
	data, err := s.db.Get(witnessKey(pool, commitment), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, pool, commitment)
	}
	if err != nil {
		return nil, err
	}
	return Unmarshal(pool, data)
}

func (s *Store) Delete(pool Pool, commitment merkle.HashNode) error {
	return s.db.Delete(witnessKey(pool, commitment), nil)
}

// List returns the raw records of a pool in key order. Keys that do not
// parse are skipped.
func (s *Store) List(pool Pool) ([]StoredRecord, error) {
	prefix := witnessPrefix(pool)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	records := make([]StoredRecord, 0)
	for iter.Next() {
		cm, err := parseWitnessKey(string(iter.Key()), string(prefix))
		if err != nil {
			log.Warn(log.StoreMonitoring, "skipping malformed witness key", "key", string(iter.Key()), "err", err)
			continue
		}
		records = append(records, StoredRecord{
			Commitment: cm,
			Data:       append([]byte(nil), iter.Value()...),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return records, nil
}

// PutFrontier stores the frontier snapshot of a pool.
func (s *Store) PutFrontier(pool Pool, f *merkle.Frontier) error {
	data, err := encodeFrontier(pool, f)
	if err != nil {
		return err
	}
	return s.db.Put(frontierKey(pool), data, nil)
}

// GetFrontier loads the frontier snapshot of a pool. ok is false when none
// was stored.
func (s *Store) GetFrontier(pool Pool) (f *merkle.Frontier, ok bool, err error) {
	data, err := s.db.Get(frontierKey(pool), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	f, err = decodeFrontier(pool, data)
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// Commit atomically replaces the records of a pool with witnesses and
// stores frontier alongside them.
func (s *Store) Commit(pool Pool, witnesses []*merkle.Witness, frontier *merkle.Frontier) error {
	batch := new(leveldb.Batch)

	iter := s.db.NewIterator(util.BytesPrefix(witnessPrefix(pool)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	for _, w := range witnesses {
		data, err := Marshal(pool, w)
		if err != nil {
			return fmt.Errorf("encode witness at %d: %w", w.Position(), err)
		}
		batch.Put(witnessKey(pool, w.Commitment()), data)
	}
	data, err := encodeFrontier(pool, frontier)
	if err != nil {
		return err
	}
	batch.Put(frontierKey(pool), data)

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("commit %s: %w", pool, err)
	}
	log.Debug(log.StoreMonitoring, "pool committed", "pool", pool, "witnesses", len(witnesses), "treeSize", frontier.Size())
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func encodeFrontier(pool Pool, f *merkle.Frontier) ([]byte, error) {
	env, err := envelope.New(pool.String())
	if err != nil {
		return nil, err
	}
	env.AddType(frontierRecordType)
	if err := env.AddAssertion("tree_size", f.Size()); err != nil {
		return nil, err
	}
	if err := env.AddAssertion("ommers", merkle.NodesToBytes(f.Ommers())); err != nil {
		return nil, err
	}
	return env.MarshalCBOR()
}

func decodeFrontier(pool Pool, data []byte) (*merkle.Frontier, error) {
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	env, err := envelope.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if err := env.CheckType(frontierRecordType); err != nil {
		return nil, err
	}
	var name string
	if err := env.ExtractSubject(&name); err != nil {
		return nil, err
	}
	if name != pool.String() {
		return nil, fmt.Errorf("frontier of %s stored under %s", name, pool)
	}
	var size uint64
	var raw [][]byte
	if err := env.ExtractObject("tree_size", &size); err != nil {
		return nil, err
	}
	if err := env.ExtractObject("ommers", &raw); err != nil {
		return nil, err
	}
	ommers, err := merkle.NodesFromBytes(raw)
	if err != nil {
		return nil, err
	}
	return merkle.RestoreFrontier(pool.Config(), size, ommers)
}

func witnessPrefix(pool Pool) []byte {
	return []byte(fmt.Sprintf("wt_%s_", pool))
}

func witnessKey(pool Pool, commitment merkle.HashNode) []byte {
	return []byte(fmt.Sprintf("wt_%s_%s", pool, commitment.Hex()))
}

func frontierKey(pool Pool) []byte {
	return []byte(fmt.Sprintf("fr_%s", pool))
}

func parseWitnessKey(key, prefix string) (merkle.HashNode, error) {
	if !strings.HasPrefix(key, prefix) {
		return merkle.HashNode{}, fmt.Errorf("invalid witness key")
	}
	cm, err := merkle.ParseHashNode(strings.TrimPrefix(key, prefix))
	if err != nil {
		return merkle.HashNode{}, fmt.Errorf("invalid witness key: %w", err)
	}
	return cm, nil
}
