// Package wire implements the peer request/response framing (§4.F): every
// message travels as a signed, canonical-CBOR Frame carrying one of the
// four request/response pairs spec.md names, plus a PutHead notification
// used by the "notify, let the remote pull" push strategy.
package wire

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/latchvc/latchvc/pkg/cborcanon"
	"github.com/latchvc/latchvc/pkg/constants"
	"github.com/latchvc/latchvc/pkg/digest"
)

// Frame is the envelope every request and response travels in.
type Frame struct {
	V     uint16      `cbor:"v"`     // protocol version
	Kind  uint16      `cbor:"kind"`  // message kind, one of the Kind* constants
	From  string      `cbor:"from"`  // sender PeerID
	ReqID uint64      `cbor:"req_id"`
	TS    uint64      `cbor:"ts"` // timestamp, ms since Unix epoch
	Body  interface{} `cbor:"body"`
	Sig   []byte      `cbor:"sig"` // Ed25519 signature over canonical(v|kind|from|req_id|ts|body)
}

// NewFrame creates a Frame stamped with the current time.
func NewFrame(kind uint16, from string, reqID uint64, body interface{}) *Frame {
	return &Frame{
		V:     constants.ProtocolVersion,
		Kind:  kind,
		From:  from,
		ReqID: reqID,
		TS:    uint64(time.Now().UnixMilli()),
		Body:  body,
	}
}

// Sign signs the frame with the sender's Ed25519 private key.
func (f *Frame) Sign(privateKey ed25519.PrivateKey) error {
	sigData, err := cborcanon.EncodeForSigning(f, "sig")
	if err != nil {
		return fmt.Errorf("failed to encode frame for signing: %w", err)
	}
	f.Sig = ed25519.Sign(privateKey, sigData)
	return nil
}

// Verify verifies the frame's signature against the sender's public key.
func (f *Frame) Verify(publicKey ed25519.PublicKey) error {
	if len(f.Sig) == 0 {
		return fmt.Errorf("frame has no signature")
	}
	sigData, err := cborcanon.EncodeForSigning(f, "sig")
	if err != nil {
		return fmt.Errorf("failed to encode frame for verification: %w", err)
	}
	if !ed25519.Verify(publicKey, sigData, f.Sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// Marshal encodes the frame to canonical CBOR.
func (f *Frame) Marshal() ([]byte, error) {
	return cborcanon.Marshal(f)
}

// Unmarshal decodes canonical CBOR data into the frame.
func (f *Frame) Unmarshal(data []byte) error {
	return cborcanon.Unmarshal(data, f)
}

// Validate checks protocol version, signature presence, and clock skew.
func (f *Frame) Validate() error {
	if f.V != constants.ProtocolVersion {
		return NewError(ErrorVersionMismatch, fmt.Sprintf("unsupported protocol version: %d", f.V))
	}
	if f.From == "" {
		return NewError(ErrorInvalidSig, "missing sender PeerID")
	}
	if len(f.Sig) == 0 {
		return NewError(ErrorInvalidSig, "missing signature")
	}

	now := uint64(time.Now().UnixMilli())
	maxSkew := uint64(constants.MaxClockSkew.Milliseconds())
	if f.TS > now+maxSkew {
		return NewError(ErrorClockSkew, "timestamp too far in future")
	}
	if now > f.TS+maxSkew {
		return NewError(ErrorClockSkew, "timestamp too far in past")
	}
	return nil
}

// IsKind reports whether the frame carries the given message kind.
func (f *Frame) IsKind(kind uint16) bool {
	return f.Kind == kind
}

// GetTimestamp returns the frame's timestamp as a time.Time.
func (f *Frame) GetTimestamp() time.Time {
	return time.UnixMilli(int64(f.TS))
}

// --- Request bodies (§4.F) ---

// GetChunkReq requests a chunk by digest.
type GetChunkReq struct {
	Digest digest.Digest `cbor:"digest"`
}

// GetManifestReq requests a manifest by digest.
type GetManifestReq struct {
	Digest digest.Digest `cbor:"digest"`
}

// ListCommitsReq requests the remote's commit graph, newest-first from HEAD.
type ListCommitsReq struct{}

// GetCommitReq requests a single commit record plus its file list.
type GetCommitReq struct {
	Digest digest.Digest `cbor:"digest"`
}

// PutHeadNotify announces the sender's current branch and head commit,
// inducing the receiver to pull rather than pushing data directly (§9 Open
// Question: push-as-notification).
type PutHeadNotify struct {
	Branch        string        `cbor:"branch"`
	HeadCommit    digest.Digest `cbor:"head_commit"`
	HasHeadCommit bool          `cbor:"has_head_commit"`
}

// --- Response bodies ---

// ChunkResp answers GetChunkReq.
type ChunkResp struct {
	Found bool   `cbor:"found"`
	Data  []byte `cbor:"data,omitempty"`
}

// ManifestResp answers GetManifestReq with the manifest's canonical-CBOR
// encoding (decode with chunk.UnmarshalManifest).
type ManifestResp struct {
	Found bool   `cbor:"found"`
	Data  []byte `cbor:"data,omitempty"`
}

// CommitSummary is one entry of a CommitListResp.
type CommitSummary struct {
	Digest    digest.Digest `cbor:"digest"`
	Message   string        `cbor:"message"`
	Timestamp string        `cbor:"timestamp"`
	Parent    digest.Digest `cbor:"parent"`
	HasParent bool          `cbor:"has_parent"`
}

// CommitListResp answers ListCommitsReq.
type CommitListResp struct {
	Commits []CommitSummary `cbor:"commits"`
}

// CommitFileEntry is one file-set tuple of a CommitResp.
type CommitFileEntry struct {
	Path   string        `cbor:"path"`
	Digest digest.Digest `cbor:"digest"`
	Size   int64         `cbor:"size"`
}

// CommitResp answers GetCommitReq.
type CommitResp struct {
	Found     bool              `cbor:"found"`
	Message   string            `cbor:"message,omitempty"`
	Timestamp string            `cbor:"timestamp,omitempty"`
	Parent    digest.Digest     `cbor:"parent,omitempty"`
	HasParent bool              `cbor:"has_parent,omitempty"`
	Files     []CommitFileEntry `cbor:"files,omitempty"`
}

// Ack acknowledges a notification that carries no reply data of its own
// (currently just PutHeadNotify).
type Ack struct{}

func NewAckFrame(from string, reqID uint64) *Frame {
	return NewFrame(constants.KindAck, from, reqID, &Ack{})
}

// Helper constructors, one per request/response kind.

func NewGetChunkFrame(from string, reqID uint64, d digest.Digest) *Frame {
	return NewFrame(constants.KindGetChunk, from, reqID, &GetChunkReq{Digest: d})
}

func NewChunkRespFrame(from string, reqID uint64, data []byte, found bool) *Frame {
	return NewFrame(constants.KindChunkResp, from, reqID, &ChunkResp{Found: found, Data: data})
}

func NewGetManifestFrame(from string, reqID uint64, d digest.Digest) *Frame {
	return NewFrame(constants.KindGetManifest, from, reqID, &GetManifestReq{Digest: d})
}

func NewManifestRespFrame(from string, reqID uint64, data []byte, found bool) *Frame {
	return NewFrame(constants.KindManifestResp, from, reqID, &ManifestResp{Found: found, Data: data})
}

func NewListCommitsFrame(from string, reqID uint64) *Frame {
	return NewFrame(constants.KindListCommits, from, reqID, &ListCommitsReq{})
}

func NewCommitListRespFrame(from string, reqID uint64, commits []CommitSummary) *Frame {
	return NewFrame(constants.KindCommitListResp, from, reqID, &CommitListResp{Commits: commits})
}

func NewGetCommitFrame(from string, reqID uint64, d digest.Digest) *Frame {
	return NewFrame(constants.KindGetCommit, from, reqID, &GetCommitReq{Digest: d})
}

func NewCommitRespFrame(from string, reqID uint64, resp CommitResp) *Frame {
	return NewFrame(constants.KindCommitResp, from, reqID, &resp)
}

func NewPutHeadFrame(from string, reqID uint64, branch string, head digest.Digest, hasHead bool) *Frame {
	return NewFrame(constants.KindPutHead, from, reqID, &PutHeadNotify{
		Branch:        branch,
		HeadCommit:    head,
		HasHeadCommit: hasHead,
	})
}
