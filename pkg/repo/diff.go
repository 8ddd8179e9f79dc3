package repo

import (
	"github.com/latchvc/latchvc/pkg/digest"
)

// Diff is the result of comparing two commits' file sets by path → digest.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Diff resolves a and b (full digests or prefixes of ≥4 hex chars) and
// compares their file sets. "Modified" means the same path exists in both
// with a different digest.
func (r *Repo) Diff(a, b string) (Diff, error) {
	da, err := r.catalog.ResolveCommitPrefix(a)
	if err != nil {
		return Diff{}, err
	}
	db, err := r.catalog.ResolveCommitPrefix(b)
	if err != nil {
		return Diff{}, err
	}

	ca, err := r.catalog.GetCommit(da)
	if err != nil {
		return Diff{}, err
	}
	cb, err := r.catalog.GetCommit(db)
	if err != nil {
		return Diff{}, err
	}

	am := make(map[string]digest.Digest, len(ca.Files))
	for _, f := range ca.Files {
		am[f.Path] = f.Digest
	}
	bm := make(map[string]digest.Digest, len(cb.Files))
	for _, f := range cb.Files {
		bm[f.Path] = f.Digest
	}

	var out Diff
	for path, bd := range bm {
		ad, ok := am[path]
		if !ok {
			out.Added = append(out.Added, path)
		} else if ad != bd {
			out.Modified = append(out.Modified, path)
		}
	}
	for path := range am {
		if _, ok := bm[path]; !ok {
			out.Removed = append(out.Removed, path)
		}
	}
	return out, nil
}
