package rpc

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/latchvc/latchvc/pkg/digest"
	"github.com/latchvc/latchvc/pkg/repo"
	"github.com/latchvc/latchvc/pkg/transport"
	"github.com/latchvc/latchvc/pkg/wire"
)

// pipeConn adapts a net.Conn (from net.Pipe) to transport.Conn, so Client
// and Server can be exercised without a real QUIC/TCP listener.
type pipeConn struct {
	net.Conn
}

func (p pipeConn) ConnectionState() tls.ConnectionState { return tls.ConnectionState{} }

func newPipe() (transport.Conn, transport.Conn) {
	a, b := net.Pipe()
	return pipeConn{a}, pipeConn{b}
}

func mustKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return pub, priv
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	_, priv := mustKeypair(t)
	f := wire.NewGetChunkFrame("latch:key:a", 1, digest.Sum([]byte("x")))
	if err := f.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	clientSide, serverSide := newPipe()
	done := make(chan error, 1)
	go func() {
		done <- WriteFrame(clientSide, f)
	}()

	got, err := ReadFrame(serverSide)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if got.Kind != f.Kind || got.ReqID != f.ReqID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func newTestRepo(t *testing.T) *repo.Repo {
	t.Helper()
	r, err := repo.Init(t.TempDir())
	if err != nil {
		t.Fatalf("repo.Init: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestServerHandleGetChunkNotFound(t *testing.T) {
	r := newTestRepo(t)
	_, priv := mustKeypair(t)
	srv := NewServer(r, "latch:key:server", priv)

	clientConn, serverConn := newPipe()
	go srv.handleConn(context.Background(), serverConn)
	defer clientConn.Close()

	_, clientPriv := mustKeypair(t)
	client := NewClient(clientConn, "latch:key:client", clientPriv)

	req := wire.NewGetChunkFrame(client.from, client.NewReqID(), digest.Sum([]byte("missing")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, req)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	body, ok := resp.Body.(*wire.ChunkResp)
	if !ok {
		t.Fatalf("got %T, want *wire.ChunkResp", resp.Body)
	}
	if body.Found {
		t.Fatal("expected Found=false for missing chunk")
	}
}

func TestServerHandlePutHeadReturnsAck(t *testing.T) {
	r := newTestRepo(t)
	_, priv := mustKeypair(t)
	srv := NewServer(r, "latch:key:server", priv)

	clientConn, serverConn := newPipe()
	go srv.handleConn(context.Background(), serverConn)
	defer clientConn.Close()

	_, clientPriv := mustKeypair(t)
	client := NewClient(clientConn, "latch:key:client", clientPriv)

	req := wire.NewPutHeadFrame(client.from, client.NewReqID(), "main", digest.Digest{}, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, req)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, ok := resp.Body.(*wire.Ack); !ok {
		t.Fatalf("got %T, want *wire.Ack", resp.Body)
	}
}

func TestServerHandleListCommitsEmpty(t *testing.T) {
	r := newTestRepo(t)
	_, priv := mustKeypair(t)
	srv := NewServer(r, "latch:key:server", priv)

	clientConn, serverConn := newPipe()
	go srv.handleConn(context.Background(), serverConn)
	defer clientConn.Close()

	_, clientPriv := mustKeypair(t)
	client := NewClient(clientConn, "latch:key:client", clientPriv)

	req := wire.NewListCommitsFrame(client.from, client.NewReqID())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, req)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	body, ok := resp.Body.(*wire.CommitListResp)
	if !ok {
		t.Fatalf("got %T, want *wire.CommitListResp", resp.Body)
	}
	if len(body.Commits) != 0 {
		t.Fatalf("expected no commits, got %d", len(body.Commits))
	}
}
