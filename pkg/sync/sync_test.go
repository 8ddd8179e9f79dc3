package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/latchvc/latchvc/pkg/catalog"
	"github.com/latchvc/latchvc/pkg/chunk"
	"github.com/latchvc/latchvc/pkg/digest"
	"github.com/latchvc/latchvc/pkg/store"
	"github.com/latchvc/latchvc/pkg/wire"
)

// newTestCatalog opens a fresh catalog in a temp dir, closing it on cleanup.
func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Open(t.TempDir())
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// fakePeer answers GetChunk/GetManifest/ListCommits/GetCommit requests out
// of an in-memory blob map, simulating a remote without any real transport.
type fakePeer struct {
	blobs     map[digest.Digest][]byte
	manifests map[digest.Digest]bool
	failCount map[digest.Digest]int // number of times to fail before succeeding
}

func newFakePeer() *fakePeer {
	return &fakePeer{
		blobs:     make(map[digest.Digest][]byte),
		manifests: make(map[digest.Digest]bool),
		failCount: make(map[digest.Digest]int),
	}
}

func (p *fakePeer) send(ctx context.Context, req *wire.Frame) (*wire.Frame, error) {
	switch body := req.Body.(type) {
	case *wire.GetChunkReq:
		if n := p.failCount[body.Digest]; n > 0 {
			p.failCount[body.Digest] = n - 1
			return nil, fmt.Errorf("simulated transient failure")
		}
		data, ok := p.blobs[body.Digest]
		return wire.NewChunkRespFrame("peer", req.ReqID, data, ok), nil
	case *wire.GetManifestReq:
		data, ok := p.blobs[body.Digest]
		found := ok && p.manifests[body.Digest]
		return wire.NewManifestRespFrame("peer", req.ReqID, data, found), nil
	default:
		return nil, fmt.Errorf("fakePeer: unsupported request type %T", body)
	}
}

func TestFetchObjectSingleChunk(t *testing.T) {
	peer := newFakePeer()
	data := []byte("small file contents")
	d := digest.Sum(data)
	peer.blobs[d] = data

	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	o := NewOrchestrator(s, nil, "local")

	state, err := o.FetchObject(context.Background(), peer.send, d)
	if err != nil {
		t.Fatalf("FetchObject: %v", err)
	}
	if state != StateDone {
		t.Fatalf("unexpected terminal state: %s", state)
	}
	if !s.Exists(d) {
		t.Fatal("expected chunk to be stored locally")
	}
}

func TestFetchObjectManifest(t *testing.T) {
	peer := newFakePeer()

	c1 := []byte("chunk-one-bytes")
	c2 := []byte("chunk-two-bytes")
	d1, d2 := digest.Sum(c1), digest.Sum(c2)
	peer.blobs[d1] = c1
	peer.blobs[d2] = c2

	m := &chunk.Manifest{
		TotalSize: uint64(len(c1) + len(c2)),
		Chunks: []chunk.Entry{
			{Index: 0, Digest: d1, Size: uint32(len(c1))},
			{Index: 1, Digest: d2, Size: uint32(len(c2))},
		},
	}
	mdata, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal manifest: %v", err)
	}
	md := digest.Sum(mdata)
	peer.blobs[md] = mdata
	peer.manifests[md] = true

	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	c := newTestCatalog(t)
	o := NewOrchestrator(s, c, "local")

	state, err := o.FetchObject(context.Background(), peer.send, md)
	if err != nil {
		t.Fatalf("FetchObject: %v", err)
	}
	if state != StateAssembling {
		t.Fatalf("unexpected terminal state: %s", state)
	}
	if !s.Exists(md) || !s.Exists(d1) || !s.Exists(d2) {
		t.Fatal("expected manifest and both chunks to be stored")
	}
	if has, err := c.HasManifest(md); err != nil || !has {
		t.Fatalf("expected manifest row in catalog, HasManifest=%v err=%v", has, err)
	}
	row, err := c.GetManifest(md)
	if err != nil {
		t.Fatalf("GetManifest: %v", err)
	}
	if row.TotalSize != m.TotalSize || len(row.Chunks) != len(m.Chunks) {
		t.Fatalf("unexpected manifest row: %+v", row)
	}
}

func TestFetchObjectAlreadyPresent(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	d, err := s.Put([]byte("already here"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	o := NewOrchestrator(s, nil, "local")

	state, err := o.FetchObject(context.Background(), func(ctx context.Context, f *wire.Frame) (*wire.Frame, error) {
		t.Fatal("network should not be contacted for an already-present object")
		return nil, nil
	}, d)
	if err != nil {
		t.Fatalf("FetchObject: %v", err)
	}
	if state != StateDone {
		t.Fatalf("expected StateDone, got %s", state)
	}
}

func TestFetchChunkRetriesThenSucceeds(t *testing.T) {
	peer := newFakePeer()
	data := []byte("retry me")
	d := digest.Sum(data)
	peer.blobs[d] = data
	peer.failCount[d] = 2 // fail twice, succeed on the third attempt

	s, _ := store.Open(t.TempDir())
	o := NewOrchestrator(s, nil, "local")

	state, err := o.FetchObject(context.Background(), peer.send, d)
	if err != nil {
		t.Fatalf("FetchObject: %v", err)
	}
	if state != StateDone {
		t.Fatalf("unexpected state: %s", state)
	}
}

func TestFetchChunkNotFoundIsTerminal(t *testing.T) {
	peer := newFakePeer()
	d := digest.Sum([]byte("never stored"))

	s, _ := store.Open(t.TempDir())
	o := NewOrchestrator(s, nil, "local")

	if _, err := o.FetchObject(context.Background(), peer.send, d); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestListCommitsAndFetchCommit(t *testing.T) {
	called := false
	send := func(ctx context.Context, req *wire.Frame) (*wire.Frame, error) {
		switch req.Body.(type) {
		case *wire.ListCommitsReq:
			called = true
			return wire.NewCommitListRespFrame("peer", req.ReqID, []wire.CommitSummary{
				{Digest: digest.Sum([]byte("c1")), Message: "first"},
			}), nil
		case *wire.GetCommitReq:
			return wire.NewCommitRespFrame("peer", req.ReqID, wire.CommitResp{Found: true, Message: "first"}), nil
		}
		return nil, fmt.Errorf("unexpected request")
	}

	s, _ := store.Open(t.TempDir())
	o := NewOrchestrator(s, nil, "local")

	commits, err := o.ListCommits(context.Background(), send)
	if err != nil {
		t.Fatalf("ListCommits: %v", err)
	}
	if !called || len(commits) != 1 {
		t.Fatalf("unexpected commits: %+v", commits)
	}

	resp, err := o.FetchCommit(context.Background(), send, commits[0].Digest)
	if err != nil {
		t.Fatalf("FetchCommit: %v", err)
	}
	if resp.Message != "first" {
		t.Fatalf("unexpected commit: %+v", resp)
	}
}
