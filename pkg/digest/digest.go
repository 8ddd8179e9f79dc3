// Package digest implements the content-addressing primitive: a fixed
// 256-bit cryptographic digest, streaming and one-shot, fixed at build time
// to BLAKE3-256.
package digest

import (
	"encoding/hex"
	"fmt"
	"io"

	"lukechampine.com/blake3"
)

// Size is the digest length in bytes.
const Size = 32

// Digest is a 256-bit content digest, rendered as 64 lowercase hex
// characters.
type Digest [Size]byte

// Zero is the all-zero digest.
var Zero Digest

// String renders the digest as 64 lowercase hex characters.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Zero
}

// Parse decodes a full 64-character hex digest.
func Parse(s string) (Digest, error) {
	var d Digest
	if len(s) != Size*2 {
		return d, fmt.Errorf("digest: invalid length %d, want %d", len(s), Size*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("digest: invalid hex: %w", err)
	}
	copy(d[:], b)
	return d, nil
}

// Hasher is a streaming BLAKE3-256 hasher.
type Hasher struct {
	h *blake3.Hasher
}

// New returns a fresh streaming hasher.
func New() *Hasher {
	return &Hasher{h: blake3.New(Size, nil)}
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// ReadFrom hashes everything read from r.
func (h *Hasher) ReadFrom(r io.Reader) (int64, error) {
	return io.Copy(h.h, r)
}

// Sum finalizes the hasher and returns the digest. The hasher remains
// usable for further writes, matching blake3's semantics.
func (h *Hasher) Sum() Digest {
	var d Digest
	sum := h.h.Sum(nil)
	copy(d[:], sum)
	return d
}

// Sum computes the one-shot digest of b.
func Sum(b []byte) Digest {
	var d Digest
	sum := blake3.Sum256(b)
	copy(d[:], sum[:])
	return d
}

// SumReader computes the digest of everything read from r.
func SumReader(r io.Reader) (Digest, error) {
	h := New()
	if _, err := h.ReadFrom(r); err != nil {
		return Digest{}, fmt.Errorf("digest: read: %w", err)
	}
	return h.Sum(), nil
}
