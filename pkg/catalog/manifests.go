package catalog

import (
	"database/sql"
	"fmt"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/digest"
)

// ManifestChunk is one row of manifest_chunks.
type ManifestChunk struct {
	Index  uint32
	Digest digest.Digest
	Size   uint32
}

// ManifestRow is a manifest's catalog entry plus its chunk list.
type ManifestRow struct {
	Digest     digest.Digest
	TotalSize  uint64
	ChunkCount uint32
	Chunks     []ManifestChunk
}

// InsertManifest records a manifest and its chunk list transactionally.
func (c *Catalog) InsertManifest(m ManifestRow) error {
	tx, err := c.db.Begin()
	if err != nil {
		return apperr.Wrap(apperr.CodeCatalogError, "begin manifest transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO manifests (digest, total_size, chunk_count) VALUES (?, ?, ?)
		 ON CONFLICT(digest) DO NOTHING`,
		m.Digest.String(), m.TotalSize, m.ChunkCount,
	); err != nil {
		return apperr.Wrap(apperr.CodeCatalogError, "insert manifest", err)
	}

	for _, ch := range m.Chunks {
		if _, err := tx.Exec(
			`INSERT INTO manifest_chunks (manifest_digest, chunk_index, chunk_digest, chunk_size) VALUES (?, ?, ?, ?)
			 ON CONFLICT(manifest_digest, chunk_index) DO NOTHING`,
			m.Digest.String(), ch.Index, ch.Digest.String(), ch.Size,
		); err != nil {
			return apperr.Wrap(apperr.CodeCatalogError, "insert manifest chunk", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.CodeCatalogError, "commit manifest transaction", err)
	}
	return nil
}

// HasManifest reports whether d has a manifest row (§3's tagged-lookup
// distinction between a chunk digest and a manifest digest).
func (c *Catalog) HasManifest(d digest.Digest) (bool, error) {
	var one int
	err := c.db.QueryRow(`SELECT 1 FROM manifests WHERE digest = ?`, d.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.CodeCatalogError, "check manifest existence", err)
	}
	return true, nil
}

// GetManifest loads a manifest row and its ordered chunk list.
func (c *Catalog) GetManifest(d digest.Digest) (*ManifestRow, error) {
	row := c.db.QueryRow(`SELECT digest, total_size, chunk_count FROM manifests WHERE digest = ?`, d.String())

	var digestStr string
	var m ManifestRow
	err := row.Scan(&digestStr, &m.TotalSize, &m.ChunkCount)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("manifest %s not found", d))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeCatalogError, "scan manifest", err)
	}
	pd, err := parseDigestCell(digestStr)
	if err != nil {
		return nil, fmt.Errorf("catalog: corrupt manifest digest: %w", err)
	}
	m.Digest = pd

	rows, err := c.db.Query(
		`SELECT chunk_index, chunk_digest, chunk_size FROM manifest_chunks WHERE manifest_digest = ? ORDER BY chunk_index`,
		d.String(),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeCatalogError, "list manifest chunks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mc ManifestChunk
		var chunkDigestStr string
		if err := rows.Scan(&mc.Index, &chunkDigestStr, &mc.Size); err != nil {
			return nil, apperr.Wrap(apperr.CodeCatalogError, "scan manifest chunk", err)
		}
		cd, err := parseDigestCell(chunkDigestStr)
		if err != nil {
			return nil, fmt.Errorf("catalog: corrupt manifest chunk digest: %w", err)
		}
		mc.Digest = cd
		m.Chunks = append(m.Chunks, mc)
	}
	return &m, rows.Err()
}
