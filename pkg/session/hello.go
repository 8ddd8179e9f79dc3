// Package session binds a transport connection to a peer's identity using a
// Noise IK handshake (§4.F): the raw Noise handshake bytes travel inside a
// signed Hello envelope, so a session is authenticated both by the Noise
// static-key exchange and by an independent Ed25519 signature over the
// sender's claimed PeerID.
package session

import (
	"crypto/ed25519"
	"fmt"

	"github.com/latchvc/latchvc/pkg/cborcanon"
	"github.com/latchvc/latchvc/pkg/constants"
)

// Hello carries one leg of the Noise IK handshake, signed by the sender's
// long-term Ed25519 key.
type Hello struct {
	Version      uint16 `cbor:"v"`
	From         string `cbor:"from"` // sender PeerID
	Nonce        uint64 `cbor:"nonce"`
	NoiseMessage []byte `cbor:"noise_msg"`
	Proof        []byte `cbor:"proof"`
}

// NewHello builds an unsigned Hello for the current protocol version.
func NewHello(from string, nonce uint64, noiseMessage []byte) *Hello {
	return &Hello{
		Version:      constants.ProtocolVersion,
		From:         from,
		Nonce:        nonce,
		NoiseMessage: noiseMessage,
	}
}

// Sign signs the Hello (excluding Proof) with the sender's signing key.
func (h *Hello) Sign(priv ed25519.PrivateKey) error {
	sigData, err := cborcanon.EncodeForSigning(h, "proof")
	if err != nil {
		return fmt.Errorf("session: encode hello for signing: %w", err)
	}
	h.Proof = ed25519.Sign(priv, sigData)
	return nil
}

// Verify verifies the Hello's signature against the claimed sender's public
// key.
func (h *Hello) Verify(pub ed25519.PublicKey) error {
	if len(h.Proof) == 0 {
		return fmt.Errorf("session: hello has no proof")
	}
	sigData, err := cborcanon.EncodeForSigning(h, "proof")
	if err != nil {
		return fmt.Errorf("session: encode hello for verification: %w", err)
	}
	if !ed25519.Verify(pub, sigData, h.Proof) {
		return fmt.Errorf("session: hello signature verification failed")
	}
	return nil
}

// Marshal encodes the Hello to canonical CBOR.
func (h *Hello) Marshal() ([]byte, error) {
	return cborcanon.Marshal(h)
}

// Unmarshal decodes canonical CBOR data into the Hello.
func (h *Hello) Unmarshal(data []byte) error {
	return cborcanon.Unmarshal(data, h)
}
