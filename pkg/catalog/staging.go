package catalog

import (
	"fmt"
	"time"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/digest"
)

// StagedFile is one row of staged_files.
type StagedFile struct {
	Path     string
	Digest   digest.Digest
	Size     int64
	StagedAt time.Time
}

// Stage upserts a staged entry; re-adding the same path overwrites it (§3).
func (c *Catalog) Stage(path string, d digest.Digest, size int64, at time.Time) error {
	_, err := c.db.Exec(
		`INSERT INTO staged_files (path, digest, size, staged_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET digest=excluded.digest, size=excluded.size, staged_at=excluded.staged_at`,
		path, d.String(), size, at.Unix(),
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeCatalogError, "stage file", err)
	}
	return nil
}

// ListStaged returns every staged entry, ordered by path.
func (c *Catalog) ListStaged() ([]StagedFile, error) {
	rows, err := c.db.Query(`SELECT path, digest, size, staged_at FROM staged_files ORDER BY path`)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeCatalogError, "list staged files", err)
	}
	defer rows.Close()

	var out []StagedFile
	for rows.Next() {
		var sf StagedFile
		var digestStr string
		var stagedAt int64
		if err := rows.Scan(&sf.Path, &digestStr, &sf.Size, &stagedAt); err != nil {
			return nil, apperr.Wrap(apperr.CodeCatalogError, "scan staged file", err)
		}
		d, err := parseDigestCell(digestStr)
		if err != nil {
			return nil, fmt.Errorf("catalog: corrupt staged digest: %w", err)
		}
		sf.Digest = d
		sf.StagedAt = time.Unix(stagedAt, 0).UTC()
		out = append(out, sf)
	}
	return out, rows.Err()
}

// ClearStaged deletes every staged entry, used after a successful commit.
func (c *Catalog) ClearStaged() error {
	if _, err := c.db.Exec(`DELETE FROM staged_files`); err != nil {
		return apperr.Wrap(apperr.CodeCatalogError, "clear staged files", err)
	}
	return nil
}
