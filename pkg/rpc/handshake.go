package rpc

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/latchvc/latchvc/pkg/identity"
	"github.com/latchvc/latchvc/pkg/session"
	"github.com/latchvc/latchvc/pkg/transport"
)

// maxHelloSize bounds a single Hello message, mirroring maxFrameSize's
// guard against a hostile length prefix.
const maxHelloSize = 64 * 1024

func writeHello(w io.Writer, h *session.Hello) error {
	data, err := h.Marshal()
	if err != nil {
		return fmt.Errorf("rpc: marshal hello: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("rpc: write hello length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("rpc: write hello body: %w", err)
	}
	return nil
}

func readHello(r io.Reader) (*session.Hello, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxHelloSize {
		return nil, fmt.Errorf("rpc: hello of %d bytes exceeds maximum %d", n, maxHelloSize)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("rpc: read hello body: %w", err)
	}
	var h session.Hello
	if err := h.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("rpc: decode hello: %w", err)
	}
	return &h, nil
}

// EstablishClient runs the initiator side of the Noise IK handshake (§4.F)
// over conn, binding the connection to peerSigningKey/peerKeyAgreementKey —
// both learned out-of-band (the peer table's `peers add` entry). Requires
// knowing the responder's static key in advance, as IK's pattern demands.
func EstablishClient(conn transport.Conn, id *identity.Identity, peerSigningKey ed25519.PublicKey, peerKeyAgreementKey []byte) (*session.Handshake, error) {
	hs, err := session.NewInitiatorHandshake(id, peerKeyAgreementKey)
	if err != nil {
		return nil, err
	}
	hello, err := hs.CreateHello()
	if err != nil {
		return nil, err
	}
	if err := writeHello(conn, hello); err != nil {
		return nil, err
	}
	resp, err := readHello(conn)
	if err != nil {
		return nil, fmt.Errorf("rpc: read handshake response: %w", err)
	}
	if err := hs.ProcessResponse(resp, peerSigningKey); err != nil {
		return nil, err
	}
	return hs, nil
}

// AcceptServer runs the responder side of the Noise IK handshake over conn.
// lookupSigningKey resolves the claimed sender's signing key from the local
// peer table; an unknown sender fails the handshake, since its Hello
// signature cannot be verified. Returns the completed handshake and the
// caller's claimed PeerID.
func AcceptServer(conn transport.Conn, id *identity.Identity, lookupSigningKey func(peerID string) (ed25519.PublicKey, bool)) (*session.Handshake, string, error) {
	hello, err := readHello(conn)
	if err != nil {
		return nil, "", fmt.Errorf("rpc: read hello: %w", err)
	}
	signingKey, ok := lookupSigningKey(hello.From)
	if !ok {
		return nil, "", fmt.Errorf("rpc: unknown peer %s, cannot verify handshake", hello.From)
	}
	hs, err := session.NewResponderHandshake(id)
	if err != nil {
		return nil, "", err
	}
	resp, err := hs.ProcessHello(hello, signingKey)
	if err != nil {
		return nil, "", err
	}
	if err := writeHello(conn, resp); err != nil {
		return nil, "", err
	}
	return hs, hello.From, nil
}
