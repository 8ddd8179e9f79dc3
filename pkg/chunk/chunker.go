package chunk

import (
	"fmt"
	"io"
	"os"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/digest"
	"github.com/latchvc/latchvc/pkg/store"
)

// Blob is the minimal object-store surface the chunker needs, satisfied by
// *store.Store.
type Blob interface {
	Put(b []byte) (digest.Digest, error)
	Get(d digest.Digest) ([]byte, error)
}

// StoreReader reads everything from r, chunking and storing it through s. If
// the total length is ≤ Size it is stored as a single chunk and manifest is
// nil. Otherwise a Manifest is built, stored under its own digest, and
// returned alongside the digest under which the whole file is addressed.
func StoreReader(s Blob, r io.Reader) (d digest.Digest, manifest *Manifest, err error) {
	var chunks []Entry
	buf := make([]byte, Size)
	var offset uint64

	for {
		n, rerr := io.ReadFull(r, buf)
		if rerr == io.ErrUnexpectedEOF {
			rerr = io.EOF
		}
		if rerr != nil && rerr != io.EOF {
			return digest.Digest{}, nil, fmt.Errorf("chunk: read: %w", rerr)
		}
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			cd, err := s.Put(data)
			if err != nil {
				return digest.Digest{}, nil, err
			}
			chunks = append(chunks, Entry{
				Index:  uint32(len(chunks)),
				Digest: cd,
				Size:   uint32(n),
			})
			offset += uint64(n)
		}
		if rerr == io.EOF {
			break
		}
	}

	if len(chunks) == 0 {
		// Empty input: store an empty chunk, no manifest.
		cd, err := s.Put(nil)
		if err != nil {
			return digest.Digest{}, nil, err
		}
		return cd, nil, nil
	}
	if len(chunks) == 1 {
		// Total bytes ≤ CHUNK_SIZE (§4.C): single chunk, no manifest row.
		return chunks[0].Digest, nil, nil
	}

	m := &Manifest{TotalSize: offset, Chunks: chunks}
	mb, err := m.Marshal()
	if err != nil {
		return digest.Digest{}, nil, fmt.Errorf("chunk: marshal manifest: %w", err)
	}
	md, err := s.Put(mb)
	if err != nil {
		return digest.Digest{}, nil, err
	}
	return md, m, nil
}

// StoreFile chunks and stores the file at path.
func StoreFile(s Blob, path string) (digest.Digest, *Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return digest.Digest{}, nil, apperr.Wrap(apperr.CodePathNotFound, path, err)
		}
		return digest.Digest{}, nil, fmt.Errorf("chunk: open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return digest.Digest{}, nil, fmt.Errorf("chunk: stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return digest.Digest{}, nil, apperr.New(apperr.CodePathIsDirectory, path)
	}

	return StoreReader(s, f)
}

// ManifestChecker reports whether d has a manifest row in the catalog, i.e.
// whether d should be treated as a Manifest digest rather than a bare
// chunk digest (§3: "distinguishes them by presence of a manifest row").
type ManifestChecker func(d digest.Digest) (bool, error)

// RetrieveFile recovers the object addressed by d and writes it atomically
// to outPath. hasManifest determines whether d is a manifest digest.
func RetrieveFile(s Blob, hasManifest ManifestChecker, d digest.Digest, outPath string) error {
	isManifest, err := hasManifest(d)
	if err != nil {
		return fmt.Errorf("chunk: manifest lookup: %w", err)
	}

	if !isManifest {
		data, err := s.Get(d)
		if err != nil {
			return err
		}
		return store.WriteFileAtomic(outPath, data)
	}

	mb, err := s.Get(d)
	if err != nil {
		return err
	}
	m, err := UnmarshalManifest(mb)
	if err != nil {
		return err
	}
	if err := m.Verify(); err != nil {
		return err
	}

	out := make([]byte, 0, m.TotalSize)
	for _, c := range m.Chunks {
		data, err := s.Get(c.Digest)
		if err != nil {
			return err
		}
		if uint32(len(data)) != c.Size {
			return apperr.New(apperr.CodeCorruptObject,
				fmt.Sprintf("chunk %d of manifest %s has size %d, want %d", c.Index, d, len(data), c.Size))
		}
		out = append(out, data...)
	}

	return store.WriteFileAtomic(outPath, out)
}
