// Package envelope is a minimal ordered assertion graph: a subject value
// followed by (predicate, object) pairs, every value held as deterministic
// CBOR. Type tags are assertions under the IsA predicate.
package envelope

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// IsA is the predicate of type tag assertions.
const IsA = "isA"

var (
	ErrTypeMismatch = errors.New("envelope type mismatch")
	ErrFieldMissing = errors.New("envelope field missing")
	ErrInvalidValue = errors.New("envelope value does not decode")
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Assertion is one (predicate, object) pair.
type Assertion struct {
	Predicate string
	Object    cbor.RawMessage
}

type Envelope struct {
	subject    cbor.RawMessage
	assertions []Assertion
}

// New wraps subject.
func New(subject any) (*Envelope, error) {
	raw, err := encMode.Marshal(subject)
	if err != nil {
		return nil, fmt.Errorf("encode subject: %w", err)
	}
	return &Envelope{subject: raw}, nil
}

// AddType appends an IsA assertion.
func (e *Envelope) AddType(tag string) *Envelope {
	if err := e.AddAssertion(IsA, tag); err != nil {
		panic(err) // strings always encode
	}
	return e
}

// AddAssertion appends a (predicate, object) pair. Order is kept.
func (e *Envelope) AddAssertion(predicate string, object any) error {
	raw, err := encMode.Marshal(object)
	if err != nil {
		return fmt.Errorf("encode %s: %w", predicate, err)
	}
	e.assertions = append(e.assertions, Assertion{Predicate: predicate, Object: raw})
	return nil
}

// Types returns the IsA tags in insertion order.
func (e *Envelope) Types() []string {
	var out []string
	for _, a := range e.assertions {
		if a.Predicate != IsA {
			continue
		}
		var tag string
		if err := cbor.Unmarshal(a.Object, &tag); err == nil {
			out = append(out, tag)
		}
	}
	return out
}

func (e *Envelope) HasType(tag string) bool {
	for _, t := range e.Types() {
		if t == tag {
			return true
		}
	}
	return false
}

// CheckType fails unless the envelope carries tag.
func (e *Envelope) CheckType(tag string) error {
	if !e.HasType(tag) {
		return fmt.Errorf("%w: want %q, have %q", ErrTypeMismatch, tag, e.Types())
	}
	return nil
}

// ExtractSubject decodes the subject into v.
func (e *Envelope) ExtractSubject(v any) error {
	if len(e.subject) == 0 {
		return fmt.Errorf("%w: subject", ErrFieldMissing)
	}
	if err := cbor.Unmarshal(e.subject, v); err != nil {
		return fmt.Errorf("%w: subject: %v", ErrInvalidValue, err)
	}
	return nil
}

// ExtractObject decodes the object of the first assertion with predicate.
func (e *Envelope) ExtractObject(predicate string, v any) error {
	for _, a := range e.assertions {
		if a.Predicate != predicate {
			continue
		}
		if err := cbor.Unmarshal(a.Object, v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, predicate, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrFieldMissing, predicate)
}

// Assertions returns a copy of the assertion list.
func (e *Envelope) Assertions() []Assertion {
	return append([]Assertion(nil), e.assertions...)
}

type wireAssertion struct {
	_         struct{} `cbor:",toarray"`
	Predicate string
	Object    cbor.RawMessage
}

type wireEnvelope struct {
	_          struct{} `cbor:",toarray"`
	Subject    cbor.RawMessage
	Assertions []wireAssertion
}

// MarshalCBOR encodes the envelope as [subject, [[predicate, object]...]].
func (e *Envelope) MarshalCBOR() ([]byte, error) {
	w := wireEnvelope{Subject: e.subject, Assertions: make([]wireAssertion, len(e.assertions))}
	for i, a := range e.assertions {
		w.Assertions[i] = wireAssertion{Predicate: a.Predicate, Object: a.Object}
	}
	return encMode.Marshal(w)
}

// Unmarshal decodes an envelope written by MarshalCBOR.
func Unmarshal(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	e := &Envelope{subject: w.Subject, assertions: make([]Assertion, len(w.Assertions))}
	for i, a := range w.Assertions {
		e.assertions[i] = Assertion{Predicate: a.Predicate, Object: a.Object}
	}
	return e, nil
}
