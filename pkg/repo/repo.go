// Package repo implements the Repository Facade (§4.E): the single local
// entry point that coordinates the Object Store, Chunker, and Metadata
// Catalog to provide init/add/status/commit/log/diff/branch/checkout/amend.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/catalog"
	"github.com/latchvc/latchvc/pkg/chunk"
	"github.com/latchvc/latchvc/pkg/digest"
	"github.com/latchvc/latchvc/pkg/store"
)

// defaultBranch is the branch created by Init and checked out by a fresh
// clone (§4.E).
const defaultBranch = "main"

// Repo is the Facade: the only component that touches both the Store and
// the Catalog for local operations.
type Repo struct {
	root    string
	store   *store.Store
	catalog *catalog.Catalog
}

// Init creates a new repository at root: an objects/ directory, a fresh
// catalog, and HEAD pointing at defaultBranch with no commit. Fails
// InitExists if root already holds a catalog.
func Init(root string) (*Repo, error) {
	if catalog.Exists(root) {
		return nil, apperr.New(apperr.CodeInitExists, root)
	}
	if err := os.MkdirAll(filepath.Join(root, "objects"), 0755); err != nil {
		return nil, fmt.Errorf("repo: create objects dir: %w", err)
	}

	s, err := store.Open(filepath.Join(root, "objects"))
	if err != nil {
		return nil, fmt.Errorf("repo: open store: %w", err)
	}
	c, err := catalog.Open(root)
	if err != nil {
		return nil, fmt.Errorf("repo: open catalog: %w", err)
	}

	if err := c.CreateBranch(defaultBranch, digest.Digest{}, false); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.InitHead(defaultBranch); err != nil {
		c.Close()
		return nil, err
	}

	return &Repo{root: root, store: s, catalog: c}, nil
}

// Open opens an existing repository at root.
func Open(root string) (*Repo, error) {
	if !catalog.Exists(root) {
		return nil, apperr.New(apperr.CodePathNotFound, root)
	}
	s, err := store.Open(filepath.Join(root, "objects"))
	if err != nil {
		return nil, fmt.Errorf("repo: open store: %w", err)
	}
	c, err := catalog.Open(root)
	if err != nil {
		return nil, fmt.Errorf("repo: open catalog: %w", err)
	}
	return &Repo{root: root, store: s, catalog: c}, nil
}

// Close releases the catalog handle.
func (r *Repo) Close() error {
	return r.catalog.Close()
}

// Store exposes the underlying object store, used by the Sync Orchestrator
// to write objects it fetches from peers exactly as the Facade would.
func (r *Repo) Store() *store.Store {
	return r.store
}

// Catalog exposes the underlying catalog, used by the Sync Orchestrator to
// insert fetched commits and manifests.
func (r *Repo) Catalog() *catalog.Catalog {
	return r.catalog
}

// Add chunks and stores the file at path, records its manifest (if any) in
// the catalog, then stages it under path exactly as given. Fails
// PathNotFound/PathIsDirectory per §4.E.
func (r *Repo) Add(path string) (digest.Digest, error) {
	d, manifest, err := chunk.StoreFile(r.store, path)
	if err != nil {
		return digest.Digest{}, err
	}
	if manifest != nil {
		if err := r.catalog.InsertManifest(toManifestRow(d, manifest)); err != nil {
			return digest.Digest{}, err
		}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("repo: stat %s: %w", path, err)
	}
	if err := r.catalog.Stage(path, d, fi.Size(), time.Now().UTC()); err != nil {
		return digest.Digest{}, err
	}
	return d, nil
}

// toManifestRow converts a Chunker-produced Manifest, addressed by d, into
// the row shape the Catalog stores (§3, §4.C invariant I1).
func toManifestRow(d digest.Digest, m *chunk.Manifest) catalog.ManifestRow {
	chunks := make([]catalog.ManifestChunk, len(m.Chunks))
	for i, c := range m.Chunks {
		chunks[i] = catalog.ManifestChunk{Index: c.Index, Digest: c.Digest, Size: c.Size}
	}
	return catalog.ManifestRow{
		Digest:     d,
		TotalSize:  m.TotalSize,
		ChunkCount: uint32(len(m.Chunks)),
		Chunks:     chunks,
	}
}

// Status is the result of Status().
type Status struct {
	Branch      string
	Head        digest.Digest
	HasHead     bool
	StagedFiles []catalog.StagedFile
}

// Status returns the current branch, its head commit (if any), and the
// staged entries.
func (r *Repo) Status() (Status, error) {
	branchName, err := r.catalog.GetHead()
	if err != nil {
		return Status{}, err
	}
	b, err := r.catalog.GetBranch(branchName)
	if err != nil {
		return Status{}, err
	}
	staged, err := r.catalog.ListStaged()
	if err != nil {
		return Status{}, err
	}
	return Status{Branch: b.Name, Head: b.Head, HasHead: b.HasHead, StagedFiles: staged}, nil
}

// Chunks returns the chunk list for d: the manifest's entries if d is a
// manifest digest, or a single synthetic entry if d is a bare chunk.
func (r *Repo) Chunks(d digest.Digest) ([]chunk.Entry, error) {
	isManifest, err := r.catalog.HasManifest(d)
	if err != nil {
		return nil, err
	}
	if !isManifest {
		size, err := r.store.Size(d)
		if err != nil {
			return nil, err
		}
		return []chunk.Entry{{Index: 0, Digest: d, Size: uint32(size)}}, nil
	}
	mb, err := r.store.Get(d)
	if err != nil {
		return nil, err
	}
	m, err := chunk.UnmarshalManifest(mb)
	if err != nil {
		return nil, err
	}
	return m.Chunks, nil
}
