package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/catalog"
	"github.com/latchvc/latchvc/pkg/chunk"
	"github.com/latchvc/latchvc/pkg/digest"
	"github.com/latchvc/latchvc/pkg/identity"
	"github.com/latchvc/latchvc/pkg/peer"
	"github.com/latchvc/latchvc/pkg/repo"
	"github.com/latchvc/latchvc/pkg/rpc"
	"github.com/latchvc/latchvc/pkg/sync"
	"github.com/latchvc/latchvc/pkg/transport"
	"github.com/latchvc/latchvc/pkg/transport/quic"
	"github.com/latchvc/latchvc/pkg/transport/tcp"
)

const dialTimeout = 10 * time.Second

// newTransportRegistry registers every transport cmd/latch can select with
// --transport, so dialPeer/serveCommand never hardcode one (§8.1: QUIC is
// the default, TCP+TLS the fallback for networks that block UDP).
func newTransportRegistry() *transport.Registry {
	reg := transport.NewRegistry()
	reg.Register("quic", quic.New())
	reg.Register("tcp", tcp.New())
	return reg
}

func resolveTransport(name string) (transport.Transport, error) {
	tp, ok := newTransportRegistry().Get(name)
	if !ok {
		return nil, apperr.New(apperr.CodeProtocolError, fmt.Sprintf("unknown transport %q, want quic or tcp", name))
	}
	return tp, nil
}

// dialPeer resolves ref against the local peer table (falling back to
// treating it as a bare host:port), opens a connection over transportName,
// and — if the table has both of the peer's public keys on file — binds the
// connection to that peer with a Noise IK handshake (§4.F) before handing
// back an rpc.Client. An unknown or partially-known peer is dialed without
// that extra binding; the request/response layer still signs every frame
// with the local identity and encrypts over TLS.
func dialPeer(ctx context.Context, id *identity.Identity, root, ref, transportName string) (*rpc.Client, transport.Conn, error) {
	table, err := peer.Open(peersPath(root))
	if err != nil {
		return nil, nil, err
	}
	p, known := table.Get(ref)
	addr := ref
	if known && len(p.Addrs) > 0 {
		addr = p.Addrs[0]
	}

	tlsConfig, err := selfSignedTLSConfig()
	if err != nil {
		return nil, nil, err
	}
	tp, err := resolveTransport(transportName)
	if err != nil {
		return nil, nil, err
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := tp.Dial(dctx, addr, tlsConfig)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.CodePeerUnreachable, fmt.Sprintf("dial %s over %s", addr, tp.Name()), err)
	}

	if known && len(p.SigningKey) > 0 && len(p.KeyAgreementKey) > 0 {
		if _, err := rpc.EstablishClient(conn, id, ed25519.PublicKey(p.SigningKey), p.KeyAgreementKey); err != nil {
			conn.Close()
			return nil, nil, apperr.Wrap(apperr.CodeProtocolError, "handshake", err)
		}
	}

	return rpc.NewClient(conn, id.ID(), id.SigningPrivateKey), conn, nil
}

func serveCommand() error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	requireHandshake := fs.Bool("require-handshake", false, "reject connections from peers not in the peer table with known keys")
	transportName := fs.String("transport", "quic", "transport to listen on: quic or tcp")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return usageError{err.Error()}
	}

	root, err := repoRoot()
	if err != nil {
		return err
	}
	r, err := repo.Open(root)
	if err != nil {
		return err
	}
	defer r.Close()

	id, err := loadIdentity()
	if err != nil {
		return err
	}

	tlsConfig, err := selfSignedTLSConfig()
	if err != nil {
		return err
	}
	tp, err := resolveTransport(*transportName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", tp.DefaultPort())
	ln, err := tp.Listen(ctx, addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	fmt.Printf("PeerID: %s\n", id.ID())
	fmt.Printf("Listening on %s (%s)\n", ln.Addr(), tp.Name())
	fmt.Printf("Signing key:   %s\n", hex.EncodeToString(id.SigningPublicKey))
	fmt.Printf("Agreement key: %s\n", hex.EncodeToString(id.KeyAgreementPublicKey[:]))

	server := rpc.NewServer(r, id.ID(), id.SigningPrivateKey)
	if *requireHandshake {
		table, err := peer.Open(peersPath(root))
		if err != nil {
			return err
		}
		server.Identity = id
		server.LookupSigningKey = func(peerID string) (ed25519.PublicKey, bool) {
			p, ok := table.Get(peerID)
			if !ok || len(p.SigningKey) == 0 {
				return nil, false
			}
			return ed25519.PublicKey(p.SigningKey), true
		}
	}
	return server.Serve(ctx, ln)
}

func peersCommand() error {
	args := os.Args[2:]
	if len(args) > 0 && args[0] == "add" {
		return peersAddCommand(args[1:])
	}

	root, err := repoRoot()
	if err != nil {
		return err
	}
	table, err := peer.Open(peersPath(root))
	if err != nil {
		return err
	}
	peers := table.List()
	if len(peers) == 0 {
		fmt.Println("no known peers")
		return nil
	}
	for _, p := range peers {
		fmt.Printf("%s  %v  %s\n", p.ID, p.Addrs, p.Name)
	}
	return nil
}

// peersAddCommand registers a peer's address and, optionally, its long-term
// public keys, hex-encoded as printed by `latch serve`'s startup banner on
// the remote. Keys are required for fetch/clone/pull/push to
// run the Noise IK handshake against this peer, and for `serve
// --require-handshake` to accept connections claiming to be it.
func peersAddCommand(args []string) error {
	fs := flag.NewFlagSet("peers add", flag.ContinueOnError)
	name := fs.String("name", "", "display name")
	signingKeyHex := fs.String("signing-key", "", "hex-encoded Ed25519 signing public key")
	agreementKeyHex := fs.String("agreement-key", "", "hex-encoded X25519 key-agreement public key")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return usageError{"usage: latch peers add [--name NAME] [--signing-key HEX] [--agreement-key HEX] <peer-id> <addr>"}
	}

	root, err := repoRoot()
	if err != nil {
		return err
	}
	table, err := peer.Open(peersPath(root))
	if err != nil {
		return err
	}

	p := peer.Peer{ID: rest[0], Addrs: []string{rest[1]}, Name: *name}
	if *signingKeyHex != "" {
		key, err := hex.DecodeString(*signingKeyHex)
		if err != nil {
			return usageError{fmt.Sprintf("decode signing key: %v", err)}
		}
		p.SigningKey = key
	}
	if *agreementKeyHex != "" {
		key, err := hex.DecodeString(*agreementKeyHex)
		if err != nil {
			return usageError{fmt.Sprintf("decode agreement key: %v", err)}
		}
		p.KeyAgreementKey = key
	}
	if err := table.Add(p); err != nil {
		return err
	}
	fmt.Printf("added peer %s at %s\n", p.ID, rest[1])
	return nil
}

func fetchCommand() error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	transportName := fs.String("transport", "quic", "transport to dial over: quic or tcp")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return usageError{err.Error()}
	}
	args := fs.Args()
	if len(args) != 2 {
		return usageError{"usage: latch fetch [--transport quic|tcp] <peer> <digest>"}
	}
	d, err := digest.Parse(args[1])
	if err != nil {
		return apperr.Wrap(apperr.CodeNotFound, "parse digest", err)
	}

	root, err := repoRoot()
	if err != nil {
		return err
	}
	r, err := repo.Open(root)
	if err != nil {
		return err
	}
	defer r.Close()

	id, err := loadIdentity()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	client, conn, err := dialPeer(ctx, id, root, args[0], *transportName)
	if err != nil {
		return err
	}
	defer conn.Close()

	orch := sync.NewOrchestrator(r.Store(), r.Catalog(), id.ID())
	if _, err := orch.FetchObject(ctx, client.Request, d); err != nil {
		return err
	}

	outPath := fmt.Sprintf("fetched_%s.dat", d.String()[:8])
	if err := chunk.RetrieveFile(r.Store(), r.Catalog().HasManifest, d, outPath); err != nil {
		return err
	}
	fmt.Printf("fetched %s -> %s\n", d, outPath)
	return nil
}

// pullInto replicates every commit reachable from the remote's current
// branch head into r's catalog and store, newest-first as returned by
// ListCommits, then fast-forwards the local branch if the remote head is a
// descendant of it (§9 Open Question: pull resolution is fast-forward-only).
func pullInto(ctx context.Context, r *repo.Repo, orch *sync.Orchestrator, send sync.RequestFunc, branchName string) (digest.Digest, error) {
	commits, err := orch.ListCommits(ctx, send)
	if err != nil {
		return digest.Digest{}, err
	}
	if len(commits) == 0 {
		return digest.Digest{}, apperr.New(apperr.CodeNoCommit, "remote has no commits")
	}

	// Commits arrive newest-first; insert oldest-first so each one's parent
	// already exists when it is inserted.
	for i := len(commits) - 1; i >= 0; i-- {
		summary := commits[i]
		if _, err := r.Catalog().GetCommit(summary.Digest); err == nil {
			continue // already have it
		}
		resp, err := orch.FetchCommit(ctx, send, summary.Digest)
		if err != nil {
			return digest.Digest{}, err
		}
		for _, f := range resp.Files {
			if _, err := orch.FetchObject(ctx, send, f.Digest); err != nil {
				return digest.Digest{}, err
			}
		}
		files := make([]catalog.FileEntry, len(resp.Files))
		for i, f := range resp.Files {
			files[i] = catalog.FileEntry{Path: f.Path, Digest: f.Digest, Size: f.Size}
		}
		ts, _ := time.Parse(time.RFC3339, resp.Timestamp)
		cm := catalog.Commit{
			Digest:    summary.Digest,
			Message:   resp.Message,
			Timestamp: ts,
			Parent:    resp.Parent,
			HasParent: resp.HasParent,
			Files:     files,
		}
		if err := r.Catalog().InsertCommit(cm); err != nil {
			return digest.Digest{}, err
		}
	}

	remoteHead := commits[0].Digest
	b, err := r.Catalog().GetBranch(branchName)
	if err != nil {
		return digest.Digest{}, err
	}
	if b.HasHead && b.Head == remoteHead {
		return remoteHead, nil
	}
	if b.HasHead {
		ancestor, err := r.Catalog().IsAncestor(b.Head, remoteHead)
		if err != nil {
			return digest.Digest{}, err
		}
		if !ancestor {
			return digest.Digest{}, apperr.New(apperr.CodeProtocolError, "remote history diverges from local branch, fast-forward only")
		}
	}
	if err := r.Catalog().SetBranchHead(branchName, remoteHead); err != nil {
		return digest.Digest{}, err
	}
	return remoteHead, nil
}

func cloneCommand() error {
	fs := flag.NewFlagSet("clone", flag.ContinueOnError)
	transportName := fs.String("transport", "quic", "transport to dial over: quic or tcp")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return usageError{err.Error()}
	}
	args := fs.Args()
	if len(args) != 2 {
		return usageError{"usage: latch clone [--transport quic|tcp] <peer> <dir>"}
	}
	dir := args[1]
	r, err := repo.Init(dir)
	if err != nil {
		return err
	}
	defer r.Close()

	id, err := loadIdentity()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	client, conn, err := dialPeer(ctx, id, dir, args[0], *transportName)
	if err != nil {
		return err
	}
	defer conn.Close()

	orch := sync.NewOrchestrator(r.Store(), r.Catalog(), id.ID())
	head, err := pullInto(ctx, r, orch, client.Request, "main")
	if err != nil {
		return err
	}
	fmt.Printf("cloned into %s at %s\n", dir, head)
	return nil
}

func pullCommand() error {
	fs := flag.NewFlagSet("pull", flag.ContinueOnError)
	transportName := fs.String("transport", "quic", "transport to dial over: quic or tcp")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return usageError{err.Error()}
	}
	args := fs.Args()
	if len(args) != 1 {
		return usageError{"usage: latch pull [--transport quic|tcp] <peer>"}
	}
	root, err := repoRoot()
	if err != nil {
		return err
	}
	r, err := repo.Open(root)
	if err != nil {
		return err
	}
	defer r.Close()

	id, err := loadIdentity()
	if err != nil {
		return err
	}

	branchName, err := r.Catalog().GetHead()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	client, conn, err := dialPeer(ctx, id, root, args[0], *transportName)
	if err != nil {
		return err
	}
	defer conn.Close()

	orch := sync.NewOrchestrator(r.Store(), r.Catalog(), id.ID())
	head, err := pullInto(ctx, r, orch, client.Request, branchName)
	if err != nil {
		return err
	}
	fmt.Printf("pulled, %s now at %s\n", branchName, head)
	return nil
}

func pushCommand() error {
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	transportName := fs.String("transport", "quic", "transport to dial over: quic or tcp")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return usageError{err.Error()}
	}
	args := fs.Args()
	if len(args) != 1 {
		return usageError{"usage: latch push [--transport quic|tcp] <peer>"}
	}
	root, err := repoRoot()
	if err != nil {
		return err
	}
	r, err := repo.Open(root)
	if err != nil {
		return err
	}
	defer r.Close()

	id, err := loadIdentity()
	if err != nil {
		return err
	}

	st, err := r.Status()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	client, conn, err := dialPeer(ctx, id, root, args[0], *transportName)
	if err != nil {
		return err
	}
	defer conn.Close()

	orch := sync.NewOrchestrator(r.Store(), r.Catalog(), id.ID())
	if err := orch.NotifyHead(ctx, client.Request, st.Branch, st.Head, st.HasHead); err != nil {
		return err
	}
	fmt.Printf("notified %s of %s at %s\n", args[0], st.Branch, st.Head)
	return nil
}
