// Package chunk implements the Chunker/Reassembler (§4.C): splitting a file
// into fixed-size chunks addressed by digest, building the manifest record
// that lists them, and recovering a file from a manifest.
package chunk

import (
	"fmt"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/cborcanon"
	"github.com/latchvc/latchvc/pkg/digest"
)

// Size is the fixed chunk size (CHUNK_SIZE, §3): 1 MiB.
const Size = 1024 * 1024

// Entry describes one chunk within a Manifest.
type Entry struct {
	Index  uint32        `cbor:"index"`
	Digest digest.Digest `cbor:"digest"`
	Size   uint32        `cbor:"size"`
}

// Manifest is the serialized record for a file whose length exceeds Size
// (§3): `{ total_size, chunks: [ {index, digest, size} ... ] }`. Its own
// digest is computed over its canonical CBOR encoding.
type Manifest struct {
	TotalSize uint64  `cbor:"total_size"`
	Chunks    []Entry `cbor:"chunks"`
}

// Marshal encodes the manifest to canonical CBOR.
func (m *Manifest) Marshal() ([]byte, error) {
	return cborcanon.Marshal(m)
}

// UnmarshalManifest decodes a canonical-CBOR-encoded manifest.
func UnmarshalManifest(b []byte) (*Manifest, error) {
	var m Manifest
	if err := cborcanon.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("chunk: decode manifest: %w", err)
	}
	return &m, nil
}

// Verify checks invariant I5: total_size equals the sum of chunk sizes, and
// chunk indices are dense, 0-based, in order.
func (m *Manifest) Verify() error {
	var sum uint64
	for i, c := range m.Chunks {
		if c.Index != uint32(i) {
			return apperr.New(apperr.CodeCorruptObject,
				fmt.Sprintf("manifest chunk %d has index %d, want %d", i, c.Index, i))
		}
		sum += uint64(c.Size)
	}
	if sum != m.TotalSize {
		return apperr.New(apperr.CodeCorruptObject,
			fmt.Sprintf("manifest total_size %d does not match sum of chunk sizes %d", m.TotalSize, sum))
	}
	return nil
}
