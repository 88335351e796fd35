package merkle

import "errors"

// Tree errors
var (
	ErrTreeFull                = errors.New("TreeFull: the tree already holds 2^depth leaves")
	ErrInconsistentAppendOrder = errors.New("InconsistentAppendOrder: leaf arrived out of the expected sequence")
	ErrAnchorMismatch          = errors.New("AnchorMismatch: witness root differs from the frontier root")
)

// Record errors. Every structural decode failure also matches
// ErrSerializationMismatch.
var (
	ErrSerializationMismatch = errors.New("SerializationMismatch: record failed structural validation")
	ErrTypeMismatch          = errors.New("TypeMismatch: record type tag does not match")
	ErrFieldMissing          = errors.New("FieldMissing: required field is absent")
	ErrLengthMismatch        = errors.New("LengthMismatch: sequence length does not match the tree depth")
	ErrHashLengthMismatch    = errors.New("HashLengthMismatch: raw bytes do not match the node width")
	ErrPositionOutOfRange    = errors.New("PositionOutOfRange: leaf position outside the tree")
)

// Configuration errors
var (
	ErrInvalidDepth  = errors.New("tree depth out of range")
	ErrUnknownHasher = errors.New("unknown hasher")
)
