package catalog

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/digest"
)

// Branch is one row of branches.
type Branch struct {
	Name      string
	Head      digest.Digest
	HasHead   bool
}

// CreateBranch creates a branch pointing at head (absent if no commit yet).
// Fails BranchExists if name is already taken.
func (c *Catalog) CreateBranch(name string, head digest.Digest, hasHead bool) error {
	var headVal any
	if hasHead {
		headVal = head.String()
	}
	_, err := c.db.Exec(`INSERT INTO branches (name, head_commit_digest) VALUES (?, ?)`, name, headVal)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.CodeBranchExists, name)
		}
		return apperr.Wrap(apperr.CodeCatalogError, "create branch", err)
	}
	return nil
}

// GetBranch loads a branch by name.
func (c *Catalog) GetBranch(name string) (*Branch, error) {
	row := c.db.QueryRow(`SELECT name, head_commit_digest FROM branches WHERE name = ?`, name)
	var b Branch
	var headStr sql.NullString
	err := row.Scan(&b.Name, &headStr)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.CodeUnknownBranch, name)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeCatalogError, "get branch", err)
	}
	if headStr.Valid {
		d, err := parseDigestCell(headStr.String)
		if err != nil {
			return nil, fmt.Errorf("catalog: corrupt branch head: %w", err)
		}
		b.Head = d
		b.HasHead = true
	}
	return &b, nil
}

// SetBranchHead re-points name's head (used by commit/amend and fast-forward
// pull).
func (c *Catalog) SetBranchHead(name string, head digest.Digest) error {
	res, err := c.db.Exec(`UPDATE branches SET head_commit_digest = ? WHERE name = ?`, head.String(), name)
	if err != nil {
		return apperr.Wrap(apperr.CodeCatalogError, "set branch head", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.CodeUnknownBranch, name)
	}
	return nil
}

// DeleteBranch removes a branch, refusing to delete the current one.
func (c *Catalog) DeleteBranch(name string) error {
	head, err := c.GetHead()
	if err != nil {
		return err
	}
	if head == name {
		return apperr.New(apperr.CodeDeleteCurrentBranch, name)
	}
	res, err := c.db.Exec(`DELETE FROM branches WHERE name = ?`, name)
	if err != nil {
		return apperr.Wrap(apperr.CodeCatalogError, "delete branch", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.CodeUnknownBranch, name)
	}
	return nil
}

// ListBranches returns every branch, ordered by name.
func (c *Catalog) ListBranches() ([]Branch, error) {
	rows, err := c.db.Query(`SELECT name, head_commit_digest FROM branches ORDER BY name`)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeCatalogError, "list branches", err)
	}
	defer rows.Close()

	var out []Branch
	for rows.Next() {
		var b Branch
		var headStr sql.NullString
		if err := rows.Scan(&b.Name, &headStr); err != nil {
			return nil, apperr.Wrap(apperr.CodeCatalogError, "scan branch", err)
		}
		if headStr.Valid {
			d, err := parseDigestCell(headStr.String)
			if err != nil {
				return nil, fmt.Errorf("catalog: corrupt branch head: %w", err)
			}
			b.Head = d
			b.HasHead = true
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetHead returns the name of the current branch.
func (c *Catalog) GetHead() (string, error) {
	var name string
	err := c.db.QueryRow(`SELECT branch_name FROM head WHERE id = 0`).Scan(&name)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeCatalogError, "get HEAD", err)
	}
	return name, nil
}

// SetHead points HEAD at an existing branch.
func (c *Catalog) SetHead(name string) error {
	if _, err := c.GetBranch(name); err != nil {
		return err
	}
	_, err := c.db.Exec(
		`INSERT INTO head (id, branch_name) VALUES (0, ?)
		 ON CONFLICT(id) DO UPDATE SET branch_name=excluded.branch_name`,
		name,
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeCatalogError, "set HEAD", err)
	}
	return nil
}

// InitHead creates the initial HEAD row pointing at the given branch,
// bypassing the existing-branch check (used during init before the branch
// row may even exist yet, to avoid ordering requirements between the two).
func (c *Catalog) InitHead(name string) error {
	_, err := c.db.Exec(
		`INSERT INTO head (id, branch_name) VALUES (0, ?)
		 ON CONFLICT(id) DO UPDATE SET branch_name=excluded.branch_name`,
		name,
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeCatalogError, "init HEAD", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations with this substring;
	// avoids importing its internal error type.
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
