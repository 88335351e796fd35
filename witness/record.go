package witness

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/zewif/envelope"
	"github.com/colorfulnotion/zewif/log"
	"github.com/colorfulnotion/zewif/merkle"
)

// ErrAnchorBehind is returned when encoding a witness extended past its last
// captured anchor. Capture a fresh anchor first.
var ErrAnchorBehind = errors.New("witness moved past its anchor")

// Record field predicates.
const (
	FieldNotePosition   = "note_position"
	FieldMerklePath     = "merkle_path"
	FieldAnchor         = "anchor"
	FieldAnchorTreeSize = "anchor_tree_size"
	FieldAnchorFrontier = "anchor_frontier"
)

// Encode writes w as a record of the pool's type, subject the commitment.
func Encode(pool Pool, w *merkle.Witness) (*envelope.Envelope, error) {
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	return EncodeRecord(pool.RecordType(), w)
}

// EncodeRecord writes w as a record tagged recordType. The path is written as
// of the anchor, so w must not have seen leaves after it.
func EncodeRecord(recordType string, w *merkle.Witness) (*envelope.Envelope, error) {
	if w.TreeSize() != w.AnchorTreeSize() {
		return nil, fmt.Errorf("%w: witness at %d saw %d leaves, anchor captured at %d",
			ErrAnchorBehind, w.Position(), w.TreeSize(), w.AnchorTreeSize())
	}
	env, err := envelope.New(w.Commitment().Bytes())
	if err != nil {
		return nil, err
	}
	env.AddType(recordType)
	fields := []struct {
		predicate string
		value     any
	}{
		{FieldNotePosition, w.Position()},
		{FieldMerklePath, merkle.NodesToBytes(w.MerklePath())},
		{FieldAnchor, w.Anchor().Bytes()},
		{FieldAnchorTreeSize, w.AnchorTreeSize()},
		{FieldAnchorFrontier, merkle.NodesToBytes(w.AnchorFrontier())},
	}
	for _, f := range fields {
		if err := env.AddAssertion(f.predicate, f.value); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// Decode reads a witness record of the pool's type. Every failure matches
// merkle.ErrSerializationMismatch and the specific structural error.
func Decode(pool Pool, env *envelope.Envelope) (*merkle.Witness, error) {
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	return DecodeRecord(pool.Config(), pool.RecordType(), env)
}

// DecodeRecord reads a record tagged recordType against cfg.
func DecodeRecord(cfg *merkle.TreeConfig, recordType string, env *envelope.Envelope) (*merkle.Witness, error) {
	if err := env.CheckType(recordType); err != nil {
		return nil, mismatch(merkle.ErrTypeMismatch, err)
	}

	var raw []byte
	if err := env.ExtractSubject(&raw); err != nil {
		return nil, fieldError("note_commitment", err)
	}
	commitment, err := merkle.HashNodeFromBytes(raw)
	if err != nil {
		return nil, mismatch(err, errors.New("note_commitment"))
	}

	var position, anchorTreeSize uint64
	var path, frontier [][]byte
	if err := env.ExtractObject(FieldNotePosition, &position); err != nil {
		return nil, fieldError(FieldNotePosition, err)
	}
	if err := env.ExtractObject(FieldMerklePath, &path); err != nil {
		return nil, fieldError(FieldMerklePath, err)
	}
	if err := env.ExtractObject(FieldAnchor, &raw); err != nil {
		return nil, fieldError(FieldAnchor, err)
	}
	anchor, err := merkle.HashNodeFromBytes(raw)
	if err != nil {
		return nil, mismatch(err, errors.New(FieldAnchor))
	}
	if err := env.ExtractObject(FieldAnchorTreeSize, &anchorTreeSize); err != nil {
		return nil, fieldError(FieldAnchorTreeSize, err)
	}
	if err := env.ExtractObject(FieldAnchorFrontier, &frontier); err != nil {
		return nil, fieldError(FieldAnchorFrontier, err)
	}

	if len(path) != int(cfg.Depth()) {
		return nil, mismatch(merkle.ErrLengthMismatch,
			fmt.Errorf("%s has %d entries, depth is %d", FieldMerklePath, len(path), cfg.Depth()))
	}
	pathNodes, err := merkle.NodesFromBytes(path)
	if err != nil {
		return nil, mismatch(err, errors.New(FieldMerklePath))
	}
	frontierNodes, err := merkle.NodesFromBytes(frontier)
	if err != nil {
		return nil, mismatch(err, errors.New(FieldAnchorFrontier))
	}

	w, err := merkle.FromParts(cfg, commitment, position, pathNodes, anchor, anchorTreeSize, frontierNodes)
	if err != nil {
		return nil, mismatch(err, fmt.Errorf("commitment %s", commitment))
	}
	log.Trace(log.WitnessMonitoring, "witness decoded", "tree", cfg.Name(), "position", position, "anchorTreeSize", anchorTreeSize)
	return w, nil
}

// Marshal encodes w to CBOR bytes.
func Marshal(pool Pool, w *merkle.Witness) ([]byte, error) {
	env, err := Encode(pool, w)
	if err != nil {
		return nil, err
	}
	return env.MarshalCBOR()
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(pool Pool, data []byte) (*merkle.Witness, error) {
	env, err := envelope.Unmarshal(data)
	if err != nil {
		return nil, mismatch(err, errors.New("record"))
	}
	return Decode(pool, env)
}

func mismatch(kind error, detail error) error {
	if errors.Is(kind, merkle.ErrSerializationMismatch) {
		return fmt.Errorf("%w: %v", kind, detail)
	}
	return fmt.Errorf("%w: %w: %v", merkle.ErrSerializationMismatch, kind, detail)
}

func fieldError(field string, err error) error {
	if errors.Is(err, envelope.ErrFieldMissing) {
		return mismatch(merkle.ErrFieldMissing, errors.New(field))
	}
	return mismatch(err, errors.New(field))
}
