// Package cborcanon provides canonical CBOR encoding helpers used for
// anything that gets hashed or signed: manifests, commit records, and wire
// frames. Canonical encoding (deterministic key order, no indefinite
// lengths) is what makes a digest reproducible across implementations.
package cborcanon

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// CanonicalMode is a CBOR encoding mode with canonical settings:
// deterministic key order, shortest-form floats, no indefinite lengths,
// integer timestamps.
var CanonicalMode cbor.EncMode

func init() {
	var err error
	CanonicalMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cborcanon: failed to create canonical mode: %v", err))
	}
}

// Marshal encodes v into canonical CBOR.
func Marshal(v interface{}) ([]byte, error) {
	return CanonicalMode.Marshal(v)
}

// Unmarshal decodes canonical CBOR data into v.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// CanonicalBytes re-encodes data in canonical form by round-tripping it
// through a generic decode/encode.
func CanonicalBytes(data []byte) ([]byte, error) {
	var v interface{}
	if err := Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("cborcanon: invalid CBOR: %w", err)
	}
	return Marshal(v)
}

// IsCanonical reports whether data is already in canonical form.
func IsCanonical(data []byte) bool {
	canonical, err := CanonicalBytes(data)
	if err != nil {
		return false
	}
	return bytes.Equal(data, canonical)
}

// SortedMap is a map with deterministic key ordering for canonical encoding.
type SortedMap struct {
	Keys   []string
	Values map[string]interface{}
}

// NewSortedMap builds a SortedMap from a regular map.
func NewSortedMap(m map[string]interface{}) *SortedMap {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &SortedMap{Keys: keys, Values: m}
}

// MarshalCBOR implements deterministic key order.
func (sm *SortedMap) MarshalCBOR() ([]byte, error) {
	ordered := make(map[string]interface{}, len(sm.Keys))
	for _, key := range sm.Keys {
		ordered[key] = sm.Values[key]
	}
	return CanonicalMode.Marshal(ordered)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (sm *SortedMap) UnmarshalCBOR(data []byte) error {
	var m map[string]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sm.Keys = keys
	sm.Values = m
	return nil
}

// EncodeForSigning encodes v canonically with excludeFields removed first
// (typically the "sig" field itself), so the result is stable to sign over
// and to verify a signature against.
func EncodeForSigning(v interface{}, excludeFields ...string) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for _, field := range excludeFields {
		delete(m, field)
	}
	return Marshal(NewSortedMap(m))
}

// ValidateCanonical errors if data is not canonical CBOR.
func ValidateCanonical(data []byte) error {
	if !IsCanonical(data) {
		return fmt.Errorf("cborcanon: data is not canonical CBOR")
	}
	return nil
}
