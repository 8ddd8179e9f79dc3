package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/digest"
)

// FileEntry is one (path, digest, size) tuple of a commit's file_set.
type FileEntry struct {
	Path   string
	Digest digest.Digest
	Size   int64
}

// Commit is one row of commits plus its file_set.
type Commit struct {
	Digest    digest.Digest
	Message   string
	Timestamp time.Time
	Parent    digest.Digest
	HasParent bool
	Files     []FileEntry
}

// InsertCommit writes a commit and its file_set inside a single transaction
// (§4.D: "Cross-table writes ... MUST be all-or-nothing").
func (c *Catalog) InsertCommit(cm Commit) error {
	tx, err := c.db.Begin()
	if err != nil {
		return apperr.Wrap(apperr.CodeCatalogError, "begin commit transaction", err)
	}
	defer tx.Rollback()

	var parent any
	if cm.HasParent {
		parent = cm.Parent.String()
	}

	if _, err := tx.Exec(
		`INSERT INTO commits (digest, message, timestamp, parent_digest) VALUES (?, ?, ?, ?)`,
		cm.Digest.String(), cm.Message, cm.Timestamp.UTC().Format(time.RFC3339), parent,
	); err != nil {
		return apperr.Wrap(apperr.CodeCatalogError, "insert commit", err)
	}

	for _, f := range cm.Files {
		if _, err := tx.Exec(
			`INSERT INTO commit_files (commit_digest, file_digest, file_path, file_size) VALUES (?, ?, ?, ?)`,
			cm.Digest.String(), f.Digest.String(), f.Path, f.Size,
		); err != nil {
			return apperr.Wrap(apperr.CodeCatalogError, "insert commit file", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.CodeCatalogError, "commit transaction", err)
	}
	return nil
}

// HasCommit reports whether d exists in the commits table.
func (c *Catalog) HasCommit(d digest.Digest) (bool, error) {
	var one int
	err := c.db.QueryRow(`SELECT 1 FROM commits WHERE digest = ?`, d.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.CodeCatalogError, "check commit existence", err)
	}
	return true, nil
}

// GetCommit loads a single commit's row and file_set.
func (c *Catalog) GetCommit(d digest.Digest) (*Commit, error) {
	row := c.db.QueryRow(`SELECT digest, message, timestamp, parent_digest FROM commits WHERE digest = ?`, d.String())
	cm, err := scanCommit(row)
	if err != nil {
		return nil, err
	}
	if cm == nil {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("commit %s not found", d))
	}

	files, err := c.commitFiles(d)
	if err != nil {
		return nil, err
	}
	cm.Files = files
	return cm, nil
}

func (c *Catalog) commitFiles(d digest.Digest) ([]FileEntry, error) {
	rows, err := c.db.Query(`SELECT file_path, file_digest, file_size FROM commit_files WHERE commit_digest = ? ORDER BY file_path`, d.String())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeCatalogError, "list commit files", err)
	}
	defer rows.Close()

	var out []FileEntry
	for rows.Next() {
		var fe FileEntry
		var digestStr string
		if err := rows.Scan(&fe.Path, &digestStr, &fe.Size); err != nil {
			return nil, apperr.Wrap(apperr.CodeCatalogError, "scan commit file", err)
		}
		fd, err := parseDigestCell(digestStr)
		if err != nil {
			return nil, fmt.Errorf("catalog: corrupt commit file digest: %w", err)
		}
		fe.Digest = fd
		out = append(out, fe)
	}
	return out, rows.Err()
}

func scanCommit(s scanner) (*Commit, error) {
	var digestStr, message, ts string
	var parent sql.NullString

	err := s.Scan(&digestStr, &message, &ts, &parent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeCatalogError, "scan commit", err)
	}

	d, err := parseDigestCell(digestStr)
	if err != nil {
		return nil, fmt.Errorf("catalog: corrupt commit digest: %w", err)
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil, fmt.Errorf("catalog: corrupt commit timestamp: %w", err)
	}

	cm := &Commit{Digest: d, Message: message, Timestamp: t}
	if parent.Valid {
		pd, err := parseDigestCell(parent.String)
		if err != nil {
			return nil, fmt.Errorf("catalog: corrupt parent digest: %w", err)
		}
		cm.Parent = pd
		cm.HasParent = true
	}
	return cm, nil
}

// Log walks parent links starting at start, yielding commits newest-first
// (§4.E log()). If start has no parent or is absent, the chain ends.
func (c *Catalog) Log(start digest.Digest, hasStart bool) ([]Commit, error) {
	var out []Commit
	cur, ok := start, hasStart
	for ok {
		row := c.db.QueryRow(`SELECT digest, message, timestamp, parent_digest FROM commits WHERE digest = ?`, cur.String())
		cm, err := scanCommit(row)
		if err != nil {
			return nil, err
		}
		if cm == nil {
			return nil, apperr.New(apperr.CodeCatalogError, fmt.Sprintf("commit %s missing from catalog (dangling reference)", cur))
		}
		files, err := c.commitFiles(cur)
		if err != nil {
			return nil, err
		}
		cm.Files = files
		out = append(out, *cm)

		cur, ok = cm.Parent, cm.HasParent
	}
	return out, nil
}

// IsAncestor reports whether candidate is reachable by walking parent links
// from descendant (used by pull's fast-forward detection, §4.G step 3).
func (c *Catalog) IsAncestor(candidate, descendant digest.Digest) (bool, error) {
	cur, ok := descendant, true
	for ok {
		if cur == candidate {
			return true, nil
		}
		row := c.db.QueryRow(`SELECT digest, message, timestamp, parent_digest FROM commits WHERE digest = ?`, cur.String())
		cm, err := scanCommit(row)
		if err != nil {
			return false, err
		}
		if cm == nil {
			return false, nil
		}
		cur, ok = cm.Parent, cm.HasParent
	}
	return false, nil
}
