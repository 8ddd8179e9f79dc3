package repo

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/catalog"
	"github.com/latchvc/latchvc/pkg/digest"
)

// canonicalCommitBytes builds the byte sequence a commit's digest is
// computed over (§4.E): message, RFC3339 timestamp, parent (or empty), and
// sorted "path:digest:size" lines, each field separated by 0x00 and file
// lines joined by 0x0A.
func canonicalCommitBytes(message string, ts time.Time, parent digest.Digest, hasParent bool, files []catalog.FileEntry) []byte {
	parentStr := ""
	if hasParent {
		parentStr = parent.String()
	}

	lines := make([]string, len(files))
	for i, f := range files {
		lines[i] = fmt.Sprintf("%s:%s:%d", f.Path, f.Digest, f.Size)
	}
	sort.Strings(lines)

	var b strings.Builder
	b.WriteString(message)
	b.WriteByte(0x00)
	b.WriteString(ts.UTC().Format(time.RFC3339))
	b.WriteByte(0x00)
	b.WriteString(parentStr)
	b.WriteByte(0x00)
	b.WriteString(strings.Join(lines, "\n"))
	return []byte(b.String())
}

// Commit snapshots staged entries into a new commit. Fails EmptyCommit if
// nothing is staged.
func (r *Repo) Commit(message string) (digest.Digest, error) {
	branchName, err := r.catalog.GetHead()
	if err != nil {
		return digest.Digest{}, err
	}
	b, err := r.catalog.GetBranch(branchName)
	if err != nil {
		return digest.Digest{}, err
	}

	staged, err := r.catalog.ListStaged()
	if err != nil {
		return digest.Digest{}, err
	}
	if len(staged) == 0 {
		return digest.Digest{}, apperr.New(apperr.CodeEmptyCommit, "")
	}

	files := make([]catalog.FileEntry, len(staged))
	for i, sf := range staged {
		files[i] = catalog.FileEntry{Path: sf.Path, Digest: sf.Digest, Size: sf.Size}
	}

	ts := time.Now().UTC()
	d := digest.Sum(canonicalCommitBytes(message, ts, b.Head, b.HasHead, files))

	cm := catalog.Commit{
		Digest:    d,
		Message:   message,
		Timestamp: ts,
		Parent:    b.Head,
		HasParent: b.HasHead,
		Files:     files,
	}
	if err := r.catalog.InsertCommit(cm); err != nil {
		return digest.Digest{}, err
	}
	if err := r.catalog.SetBranchHead(branchName, d); err != nil {
		return digest.Digest{}, err
	}
	if err := r.catalog.ClearStaged(); err != nil {
		return digest.Digest{}, err
	}
	return d, nil
}

// Log walks parent links from the current branch's head, newest-first.
func (r *Repo) Log() ([]catalog.Commit, error) {
	branchName, err := r.catalog.GetHead()
	if err != nil {
		return nil, err
	}
	b, err := r.catalog.GetBranch(branchName)
	if err != nil {
		return nil, err
	}
	return r.catalog.Log(b.Head, b.HasHead)
}

// Amend requires a current commit. It gathers the current commit's file
// set, overlays staged entries (staged entries override same paths, new
// paths add), keeps the original parent, recomputes the digest, and
// re-points the current branch. Fails NoCommit if the branch has no head.
func (r *Repo) Amend(message string) (digest.Digest, error) {
	branchName, err := r.catalog.GetHead()
	if err != nil {
		return digest.Digest{}, err
	}
	b, err := r.catalog.GetBranch(branchName)
	if err != nil {
		return digest.Digest{}, err
	}
	if !b.HasHead {
		return digest.Digest{}, apperr.New(apperr.CodeNoCommit, branchName)
	}

	cur, err := r.catalog.GetCommit(b.Head)
	if err != nil {
		return digest.Digest{}, err
	}
	if message == "" {
		message = cur.Message
	}

	staged, err := r.catalog.ListStaged()
	if err != nil {
		return digest.Digest{}, err
	}

	merged := make(map[string]catalog.FileEntry, len(cur.Files))
	for _, f := range cur.Files {
		merged[f.Path] = f
	}
	for _, sf := range staged {
		merged[sf.Path] = catalog.FileEntry{Path: sf.Path, Digest: sf.Digest, Size: sf.Size}
	}
	files := make([]catalog.FileEntry, 0, len(merged))
	for _, f := range merged {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	ts := time.Now().UTC()
	d := digest.Sum(canonicalCommitBytes(message, ts, cur.Parent, cur.HasParent, files))

	cm := catalog.Commit{
		Digest:    d,
		Message:   message,
		Timestamp: ts,
		Parent:    cur.Parent,
		HasParent: cur.HasParent,
		Files:     files,
	}
	if err := r.catalog.InsertCommit(cm); err != nil {
		return digest.Digest{}, err
	}
	if err := r.catalog.SetBranchHead(branchName, d); err != nil {
		return digest.Digest{}, err
	}
	if err := r.catalog.ClearStaged(); err != nil {
		return digest.Digest{}, err
	}
	return d, nil
}
