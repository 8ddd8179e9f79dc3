// Package rpc wires pkg/wire's signed Frame envelopes onto a
// pkg/transport.Conn: a length-prefixed codec plus a request/response
// client and a serial responder, implementing the RPC channel §4.F
// describes ("request types ... Each outbound request MUST be given a
// unique identifier and awaited with a timeout").
package rpc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/latchvc/latchvc/pkg/wire"
)

// maxFrameSize bounds a single frame to guard against a corrupt or hostile
// length prefix causing an unbounded allocation.
const maxFrameSize = 64 * 1024 * 1024

// WriteFrame writes f to w as a 4-byte big-endian length prefix followed by
// its canonical-CBOR encoding.
func WriteFrame(w io.Writer, f *wire.Frame) error {
	data, err := f.Marshal()
	if err != nil {
		return fmt.Errorf("rpc: marshal frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("rpc: write frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("rpc: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r, decoding its body into
// the concrete type matching its Kind (see wire.DecodeFrame).
func ReadFrame(r io.Reader) (*wire.Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err // includes io.EOF, which callers treat as "peer closed"
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("rpc: frame of %d bytes exceeds maximum %d", n, maxFrameSize)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("rpc: read frame body: %w", err)
	}
	return wire.DecodeFrame(data)
}
