package rpc

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/constants"
	"github.com/latchvc/latchvc/pkg/identity"
	"github.com/latchvc/latchvc/pkg/repo"
	"github.com/latchvc/latchvc/pkg/transport"
	"github.com/latchvc/latchvc/pkg/wire"
)

// errWriter is where connection-handling errors are logged; libraries under
// pkg/ otherwise never print (§4.1), but a server loop running in its own
// goroutine has no caller to return an error to.
var errWriter = os.Stderr

// Server answers the four read-only request kinds §4.F defines, plus
// PutHead notifications, directly against a Repo's Store and Catalog — the
// same data a local Facade call would return.
type Server struct {
	Repo       *repo.Repo
	From       string // local PeerID, stamped on every response frame
	PrivateKey ed25519.PrivateKey

	// Identity and LookupSigningKey, when both set, make the server run a
	// Noise IK handshake (AcceptServer) before serving requests on a new
	// connection, binding it to whichever known peer the handshake
	// verifies. Left nil, connections are served unauthenticated beyond
	// the per-request Frame signature (§4.F: TLS alone proves key
	// possession; this is the extra binding to a specific PeerID).
	Identity         *identity.Identity
	LookupSigningKey func(peerID string) (ed25519.PublicKey, bool)
}

// NewServer builds a Server backed by r, signing every response with
// privateKey.
func NewServer(r *repo.Repo, from string, privateKey ed25519.PrivateKey) *Server {
	return &Server{Repo: r, From: from, PrivateKey: privateKey}
}

// Serve accepts connections from ln until ctx is canceled, handling each
// one in its own goroutine. The responder processes requests serially per
// connection (§4.F).
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rpc: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn transport.Conn) {
	defer conn.Close()

	if s.Identity != nil && s.LookupSigningKey != nil {
		if _, _, err := AcceptServer(conn, s.Identity, s.LookupSigningKey); err != nil {
			fmt.Fprintf(errWriter, "rpc: handshake failed: %v\n", err)
			return
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(constants.RequestTimeout))
		req, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintf(errWriter, "rpc: connection error: %v\n", err)
			}
			return
		}
		// Validate checks structure (version, signature presence, clock
		// skew) only; it does not verify the signature against req.From's
		// key. The connection is bound to a known peer only when the
		// Noise IK handshake above ran.
		if err := req.Validate(); err != nil {
			errResp := wire.ErrorFrame(s.From, req.ReqID, err.(*wire.Error))
			errResp.Sign(s.PrivateKey)
			_ = WriteFrame(conn, errResp)
			continue
		}
		resp := s.handle(req)
		if err := resp.Sign(s.PrivateKey); err != nil {
			fmt.Fprintf(errWriter, "rpc: sign response: %v\n", err)
			return
		}
		if err := WriteFrame(conn, resp); err != nil {
			fmt.Fprintf(errWriter, "rpc: write response: %v\n", err)
			return
		}
	}
}

func (s *Server) handle(req *wire.Frame) *wire.Frame {
	switch body := req.Body.(type) {
	case *wire.GetChunkReq:
		return s.handleGetChunk(req.ReqID, body)
	case *wire.GetManifestReq:
		return s.handleGetManifest(req.ReqID, body)
	case *wire.ListCommitsReq:
		return s.handleListCommits(req.ReqID)
	case *wire.GetCommitReq:
		return s.handleGetCommit(req.ReqID, body)
	case *wire.PutHeadNotify:
		return wire.NewAckFrame(s.From, req.ReqID)
	default:
		return wire.ErrorFrame(s.From, req.ReqID, wire.NewError(wire.ErrorNotFound, "unsupported request kind"))
	}
}

func (s *Server) handleGetChunk(reqID uint64, req *wire.GetChunkReq) *wire.Frame {
	data, err := s.Repo.Store().Get(req.Digest)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return wire.NewChunkRespFrame(s.From, reqID, nil, false)
		}
		return wire.ErrorFrame(s.From, reqID, wire.NewError(wire.ErrorCorrupt, err.Error()))
	}
	return wire.NewChunkRespFrame(s.From, reqID, data, true)
}

func (s *Server) handleGetManifest(reqID uint64, req *wire.GetManifestReq) *wire.Frame {
	isManifest, err := s.Repo.Catalog().HasManifest(req.Digest)
	if err != nil {
		return wire.ErrorFrame(s.From, reqID, wire.NewError(wire.ErrorCorrupt, err.Error()))
	}
	if !isManifest {
		return wire.NewManifestRespFrame(s.From, reqID, nil, false)
	}
	data, err := s.Repo.Store().Get(req.Digest)
	if err != nil {
		return wire.ErrorFrame(s.From, reqID, wire.NewError(wire.ErrorCorrupt, err.Error()))
	}
	return wire.NewManifestRespFrame(s.From, reqID, data, true)
}

func (s *Server) handleListCommits(reqID uint64) *wire.Frame {
	commits, err := s.Repo.Log()
	if err != nil {
		return wire.ErrorFrame(s.From, reqID, wire.NewError(wire.ErrorCorrupt, err.Error()))
	}
	summaries := make([]wire.CommitSummary, len(commits))
	for i, cm := range commits {
		summaries[i] = wire.CommitSummary{
			Digest:    cm.Digest,
			Message:   cm.Message,
			Timestamp: cm.Timestamp.UTC().Format(time.RFC3339),
			Parent:    cm.Parent,
			HasParent: cm.HasParent,
		}
	}
	return wire.NewCommitListRespFrame(s.From, reqID, summaries)
}

func (s *Server) handleGetCommit(reqID uint64, req *wire.GetCommitReq) *wire.Frame {
	cm, err := s.Repo.Catalog().GetCommit(req.Digest)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return wire.NewCommitRespFrame(s.From, reqID, wire.CommitResp{Found: false})
		}
		return wire.ErrorFrame(s.From, reqID, wire.NewError(wire.ErrorCorrupt, err.Error()))
	}
	files := make([]wire.CommitFileEntry, len(cm.Files))
	for i, f := range cm.Files {
		files[i] = wire.CommitFileEntry{Path: f.Path, Digest: f.Digest, Size: f.Size}
	}
	return wire.NewCommitRespFrame(s.From, reqID, wire.CommitResp{
		Found:     true,
		Message:   cm.Message,
		Timestamp: cm.Timestamp.UTC().Format(time.RFC3339),
		Parent:    cm.Parent,
		HasParent: cm.HasParent,
		Files:     files,
	})
}
