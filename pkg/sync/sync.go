// Package sync drives the peer-to-peer fetch protocol (§4.G): resolving a
// target digest to either a bare chunk or a manifest, then pulling its
// chunks with bounded parallelism and verifying every byte against its
// digest before it reaches local storage.
package sync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/catalog"
	"github.com/latchvc/latchvc/pkg/chunk"
	"github.com/latchvc/latchvc/pkg/constants"
	"github.com/latchvc/latchvc/pkg/digest"
	"github.com/latchvc/latchvc/pkg/store"
	"github.com/latchvc/latchvc/pkg/wire"
)

// RequestFunc sends a single signed request frame to a peer and returns its
// response frame. Implementations own transport dialing and session
// handshaking; the orchestrator only deals in frames.
type RequestFunc func(ctx context.Context, frame *wire.Frame) (*wire.Frame, error)

// State names the fetch state machine's steps (§8 P9).
type State string

const (
	StateIdle             State = "idle"
	StateResolvingTarget  State = "resolving_target"
	StateSingleChunk      State = "single_chunk"
	StateManifestKnown    State = "manifest_known"
	StateFetchingChunks   State = "fetching_chunks"
	StateAssembling       State = "assembling"
	StateDone             State = "done"
)

// Orchestrator fetches content from a single peer's RequestFunc into a
// local Store, with bounded-parallelism chunk fetches and retries. When a
// fetched object turns out to be a manifest, its row (and chunk list) is
// inserted into Catalog (§4.G step 3) the same way the Facade does for
// locally-added files — Catalog may be nil, in which case manifest metadata
// is stored as a blob only, matching the pre-Catalog-wiring behavior.
type Orchestrator struct {
	Store       *store.Store
	Catalog     *catalog.Catalog
	Concurrency int
	From        string // local PeerID, used to populate outgoing frames
	reqCounter  uint64
}

// NewOrchestrator creates an Orchestrator with the default concurrency
// (§4.G step 4), recording manifests it fetches into c.
func NewOrchestrator(s *store.Store, c *catalog.Catalog, from string) *Orchestrator {
	return &Orchestrator{Store: s, Catalog: c, Concurrency: constants.ConcurrentChunkFetch, From: from}
}

func (o *Orchestrator) nextReqID() uint64 {
	o.reqCounter++
	return o.reqCounter
}

// FetchObject resolves d to either a chunk or a manifest and pulls every
// byte it references into the local store, verifying digests as it goes.
func (o *Orchestrator) FetchObject(ctx context.Context, send RequestFunc, d digest.Digest) (State, error) {
	if o.Store.Exists(d) {
		return StateDone, nil
	}

	manifestResp, err := o.requestManifest(ctx, send, d)
	if err != nil {
		return StateResolvingTarget, err
	}

	if !manifestResp.Found {
		data, err := o.fetchChunkWithRetry(ctx, send, d)
		if err != nil {
			return StateSingleChunk, err
		}
		if err := o.Store.PutWithDigest(d, data); err != nil {
			return StateSingleChunk, err
		}
		return StateDone, nil
	}

	m, err := chunk.UnmarshalManifest(manifestResp.Data)
	if err != nil {
		return StateManifestKnown, apperr.Wrap(apperr.CodeCorruptTransfer, "unmarshal manifest", err)
	}
	if err := m.Verify(); err != nil {
		return StateManifestKnown, err
	}
	if err := o.Store.PutWithDigest(d, manifestResp.Data); err != nil {
		return StateManifestKnown, err
	}
	if o.Catalog != nil {
		if err := o.Catalog.InsertManifest(toManifestRow(d, m)); err != nil {
			return StateManifestKnown, err
		}
	}

	if err := o.fetchChunksBounded(ctx, send, m); err != nil {
		return StateFetchingChunks, err
	}

	return StateAssembling, nil
}

// toManifestRow converts a Chunker-produced Manifest, addressed by d, into
// the row shape the Catalog stores (mirrors pkg/repo's identical helper;
// both packages sit on either side of pkg/catalog without importing each
// other).
func toManifestRow(d digest.Digest, m *chunk.Manifest) catalog.ManifestRow {
	chunks := make([]catalog.ManifestChunk, len(m.Chunks))
	for i, c := range m.Chunks {
		chunks[i] = catalog.ManifestChunk{Index: c.Index, Digest: c.Digest, Size: c.Size}
	}
	return catalog.ManifestRow{
		Digest:     d,
		TotalSize:  m.TotalSize,
		ChunkCount: uint32(len(m.Chunks)),
		Chunks:     chunks,
	}
}

func (o *Orchestrator) requestManifest(ctx context.Context, send RequestFunc, d digest.Digest) (*wire.ManifestResp, error) {
	req := wire.NewGetManifestFrame(o.From, o.nextReqID(), d)
	resp, err := send(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePeerUnreachable, "request manifest", err)
	}
	body, ok := resp.Body.(*wire.ManifestResp)
	if !ok {
		return nil, fmt.Errorf("sync: unexpected response body for GetManifest")
	}
	return body, nil
}

// fetchChunksBounded fetches every chunk in m concurrently, bounded by
// o.Concurrency, retrying each with exponential backoff (§4.G).
func (o *Orchestrator) fetchChunksBounded(ctx context.Context, send RequestFunc, m *chunk.Manifest) error {
	sem := semaphore.NewWeighted(int64(o.Concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for _, entry := range m.Chunks {
		entry := entry
		if o.Store.Exists(entry.Digest) {
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			data, err := o.fetchChunkWithRetry(gctx, send, entry.Digest)
			if err != nil {
				return err
			}
			if uint32(len(data)) != entry.Size {
				return apperr.New(apperr.CodeCorruptTransfer,
					fmt.Sprintf("chunk %d size mismatch: got %d want %d", entry.Index, len(data), entry.Size))
			}
			return o.Store.PutWithDigest(entry.Digest, data)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) fetchChunkWithRetry(ctx context.Context, send RequestFunc, d digest.Digest) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= constants.FetchRetries; attempt++ {
		data, err := o.fetchChunkOnce(ctx, send, d)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil, err // not found is terminal, no point retrying
		}
		if apperr.Is(err, apperr.CodeCorruptTransfer) {
			return nil, err // a digest mismatch is fatal, never retried
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(constants.FetchBackoff(attempt)):
		}
	}
	return nil, apperr.Wrap(apperr.CodePeerUnreachable, fmt.Sprintf("fetch chunk %s after %d attempts", d, constants.FetchRetries), lastErr)
}

func (o *Orchestrator) fetchChunkOnce(ctx context.Context, send RequestFunc, d digest.Digest) ([]byte, error) {
	req := wire.NewGetChunkFrame(o.From, o.nextReqID(), d)
	resp, err := send(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePeerUnreachable, "request chunk", err)
	}
	body, ok := resp.Body.(*wire.ChunkResp)
	if !ok {
		return nil, fmt.Errorf("sync: unexpected response body for GetChunk")
	}
	if !body.Found {
		return nil, apperr.New(apperr.CodeNotFound, d.String())
	}
	got := digest.Sum(body.Data)
	if got != d {
		return nil, apperr.New(apperr.CodeCorruptTransfer, fmt.Sprintf("chunk %s: digest mismatch, got %s", d, got))
	}
	return body.Data, nil
}

// ListCommits requests the remote's full commit history.
func (o *Orchestrator) ListCommits(ctx context.Context, send RequestFunc) ([]wire.CommitSummary, error) {
	req := wire.NewListCommitsFrame(o.From, o.nextReqID())
	resp, err := send(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePeerUnreachable, "list commits", err)
	}
	body, ok := resp.Body.(*wire.CommitListResp)
	if !ok {
		return nil, fmt.Errorf("sync: unexpected response body for ListCommits")
	}
	return body.Commits, nil
}

// FetchCommit requests a single commit record.
func (o *Orchestrator) FetchCommit(ctx context.Context, send RequestFunc, d digest.Digest) (*wire.CommitResp, error) {
	req := wire.NewGetCommitFrame(o.From, o.nextReqID(), d)
	resp, err := send(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePeerUnreachable, "fetch commit", err)
	}
	body, ok := resp.Body.(*wire.CommitResp)
	if !ok {
		return nil, fmt.Errorf("sync: unexpected response body for GetCommit")
	}
	if !body.Found {
		return nil, apperr.New(apperr.CodeNotFound, d.String())
	}
	return body, nil
}

// NotifyHead sends a PutHead notification so the remote can decide to pull
// (§9 Open Question: push as notification).
func (o *Orchestrator) NotifyHead(ctx context.Context, send RequestFunc, branch string, head digest.Digest, hasHead bool) error {
	req := wire.NewPutHeadFrame(o.From, o.nextReqID(), branch, head, hasHead)
	_, err := send(ctx, req)
	if err != nil {
		return apperr.Wrap(apperr.CodePeerUnreachable, "notify head", err)
	}
	return nil
}
