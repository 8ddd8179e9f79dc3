package rpc

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/constants"
	"github.com/latchvc/latchvc/pkg/transport"
	"github.com/latchvc/latchvc/pkg/wire"
)

// Client issues requests over a single transport connection. The responder
// processes requests serially per connection (§4.F), so Client serializes
// its own Request calls with a mutex rather than multiplexing in-flight
// requests; callers wanting parallelism dial multiple connections.
type Client struct {
	conn       transport.Conn
	from       string
	privateKey ed25519.PrivateKey

	mu      sync.Mutex
	counter uint64
}

// NewClient wraps an already-established connection. from is the local
// PeerID stamped on outgoing frames, signed with privateKey.
func NewClient(conn transport.Conn, from string, privateKey ed25519.PrivateKey) *Client {
	return &Client{conn: conn, from: from, privateKey: privateKey}
}

// nextReqID derives a uint64 request id from a fresh UUID, collision-
// resistant across process restarts, falling back to a monotonic counter
// only if UUID generation somehow fails.
func (c *Client) nextReqID() uint64 {
	id, err := uuid.NewRandom()
	if err != nil {
		return atomic.AddUint64(&c.counter, 1)
	}
	b := id[:8]
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// Request sends frame and returns the next frame read back from the
// connection. It satisfies pkg/sync.RequestFunc.
func (c *Client) Request(ctx context.Context, frame *wire.Frame) (*wire.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(dl)
	} else {
		c.conn.SetDeadline(time.Now().Add(constants.RequestTimeout))
	}

	if err := frame.Sign(c.privateKey); err != nil {
		return nil, fmt.Errorf("rpc: sign request: %w", err)
	}
	if err := WriteFrame(c.conn, frame); err != nil {
		return nil, apperr.Wrap(apperr.CodePeerUnreachable, "send request", err)
	}
	resp, err := ReadFrame(c.conn)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePeerUnreachable, "read response", err)
	}
	if wire.IsErrorFrame(resp) {
		wireErr, _ := wire.ExtractError(resp)
		return nil, apperr.New(apperr.CodeProtocolError, fmt.Sprintf("peer error: %v", wireErr))
	}
	return resp, nil
}

// NewReqID exposes the id generator to callers that build request frames
// themselves (e.g. PutHead notifications sent outside an Orchestrator).
func (c *Client) NewReqID() uint64 {
	return c.nextReqID()
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
