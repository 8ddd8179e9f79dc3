// Package catalog implements the Metadata Catalog (§4.D): a transactional,
// single-file relational store for staging entries, commits, commit→file
// membership, manifest→chunk mapping, branch refs, and HEAD. Backed by
// SQLite in WAL mode so readers never block writers and writers serialize at
// the transaction level, matching §5's "writers serialize at the
// transaction level" requirement.
package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/digest"
)

// Catalog wraps the single-file SQLite store.
type Catalog struct {
	db *sql.DB
}

// Open creates or opens the catalog database at dir/db.sqlite.
func Open(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("catalog: create dir: %w", err)
	}

	dbPath := filepath.Join(dir, "db.sqlite")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: ping sqlite: %w", err)
	}

	// SQLite is single-writer; one connection avoids cross-connection lock
	// contention and keeps WAL checkpoints predictable.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}
	return c, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Exists reports whether a catalog database already exists at dir, used by
// the Facade to reject re-init (§4.E InitExists).
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "db.sqlite"))
	return err == nil
}

func (c *Catalog) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS staged_files (
			path      TEXT PRIMARY KEY,
			digest    TEXT NOT NULL,
			size      INTEGER NOT NULL,
			staged_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS commits (
			digest        TEXT PRIMARY KEY,
			message       TEXT NOT NULL,
			timestamp     TEXT NOT NULL,
			parent_digest TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS commit_files (
			commit_digest TEXT NOT NULL,
			file_digest   TEXT NOT NULL,
			file_path     TEXT NOT NULL,
			file_size     INTEGER NOT NULL,
			PRIMARY KEY (commit_digest, file_path)
		)`,
		`CREATE TABLE IF NOT EXISTS manifests (
			digest     TEXT PRIMARY KEY,
			total_size INTEGER NOT NULL,
			chunk_count INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS manifest_chunks (
			manifest_digest TEXT NOT NULL,
			chunk_index     INTEGER NOT NULL,
			chunk_digest    TEXT NOT NULL,
			chunk_size      INTEGER NOT NULL,
			PRIMARY KEY (manifest_digest, chunk_index)
		)`,
		`CREATE TABLE IF NOT EXISTS branches (
			name               TEXT PRIMARY KEY,
			head_commit_digest TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS head (
			id          INTEGER PRIMARY KEY CHECK (id = 0),
			branch_name TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commits_parent ON commits(parent_digest)`,
	}
	for _, m := range migrations {
		if _, err := c.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func parseDigestCell(s string) (digest.Digest, error) {
	return digest.Parse(s)
}

func nullDigest(d digest.Digest, present bool) any {
	if !present {
		return nil
	}
	return d.String()
}

// resolveAgainst resolves a hex digest prefix of ≥4 characters against one
// column of one table (the caller picks the table relevant to the reference
// kind), returning
// AmbiguousReference if more than one match exists.
func (c *Catalog) resolveAgainst(table, column, prefix string) (digest.Digest, error) {
	if len(prefix) < 4 {
		return digest.Digest{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("prefix %q too short", prefix))
	}
	rows, err := c.db.Query(fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s LIKE ? || '%%'`, column, table, column), prefix)
	if err != nil {
		return digest.Digest{}, apperr.Wrap(apperr.CodeCatalogError, "resolve prefix", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return digest.Digest{}, apperr.Wrap(apperr.CodeCatalogError, "scan prefix match", err)
		}
		matches = append(matches, s)
	}
	if err := rows.Err(); err != nil {
		return digest.Digest{}, apperr.Wrap(apperr.CodeCatalogError, "iterate prefix matches", err)
	}

	switch len(matches) {
	case 0:
		return digest.Digest{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("no match for prefix %q", prefix))
	case 1:
		return digest.Parse(matches[0])
	default:
		return digest.Digest{}, apperr.New(apperr.CodeAmbiguousReference, fmt.Sprintf("prefix %q matches %d commits", prefix, len(matches)))
	}
}

// ResolveCommitPrefix resolves a digest or prefix to a unique full commit
// digest.
func (c *Catalog) ResolveCommitPrefix(ref string) (digest.Digest, error) {
	if d, err := digest.Parse(ref); err == nil {
		return d, nil
	}
	return c.resolveAgainst("commits", "digest", ref)
}
