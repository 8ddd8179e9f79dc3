package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/flynn/noise"

	"github.com/latchvc/latchvc/pkg/identity"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b)

// Handshake drives one side of a Noise IK exchange and, once complete,
// holds the derived send/receive ciphers for the session.
type Handshake struct {
	id          *identity.Identity
	nonce       uint64
	complete    bool
	isInitiator bool

	noiseState *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState

	peerStaticKey []byte // the peer's X25519 static key, confirmed by Noise

	Sequence *SequenceTracker
}

func freshNonce() uint64 {
	var b [8]byte
	rand.Read(b[:])
	n := uint64(time.Now().UnixNano())
	for i, v := range b {
		n ^= uint64(v) << (8 * i)
	}
	return n
}

// NewInitiatorHandshake starts a client-side handshake against a peer whose
// X25519 static key is already known (as IK requires).
func NewInitiatorHandshake(id *identity.Identity, peerStaticKey []byte) (*Handshake, error) {
	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   true,
		StaticKeypair: noise.DHKey{
			Private: id.KeyAgreementPrivateKey[:],
			Public:  id.KeyAgreementPublicKey[:],
		},
		PeerStatic: peerStaticKey,
	})
	if err != nil {
		return nil, fmt.Errorf("session: create initiator handshake: %w", err)
	}
	return &Handshake{
		id:            id,
		nonce:         freshNonce(),
		isInitiator:   true,
		noiseState:    state,
		peerStaticKey: peerStaticKey,
		Sequence:      NewSequenceTracker(),
	}, nil
}

// NewResponderHandshake starts a server-side handshake; the peer's static
// key is learned from the first handshake message.
func NewResponderHandshake(id *identity.Identity) (*Handshake, error) {
	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   false,
		StaticKeypair: noise.DHKey{
			Private: id.KeyAgreementPrivateKey[:],
			Public:  id.KeyAgreementPublicKey[:],
		},
	})
	if err != nil {
		return nil, fmt.Errorf("session: create responder handshake: %w", err)
	}
	return &Handshake{
		id:          id,
		nonce:       freshNonce(),
		isInitiator: false,
		noiseState:  state,
		Sequence:    NewSequenceTracker(),
	}, nil
}

// CreateHello produces the initiator's first, signed handshake message.
func (h *Handshake) CreateHello() (*Hello, error) {
	if !h.isInitiator {
		return nil, fmt.Errorf("session: CreateHello is for the initiator side")
	}
	msg, _, _, err := h.noiseState.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("session: write first handshake message: %w", err)
	}
	hello := NewHello(h.id.ID(), h.nonce, msg)
	if err := hello.Sign(h.id.SigningPrivateKey); err != nil {
		return nil, err
	}
	return hello, nil
}

// ProcessHello is the responder's step: it verifies the incoming Hello
// against the sender's known signing key, advances the Noise state, and
// returns the signed response Hello to send back. Completes the handshake.
func (h *Handshake) ProcessHello(incoming *Hello, peerSigningKey ed25519.PublicKey) (*Hello, error) {
	if h.isInitiator {
		return nil, fmt.Errorf("session: ProcessHello is for the responder side")
	}
	if err := incoming.Verify(peerSigningKey); err != nil {
		return nil, fmt.Errorf("session: verify incoming hello: %w", err)
	}

	if _, _, _, err := h.noiseState.ReadMessage(nil, incoming.NoiseMessage); err != nil {
		return nil, fmt.Errorf("session: read first handshake message: %w", err)
	}
	h.peerStaticKey = h.noiseState.PeerStatic()

	msg, cs1, cs2, err := h.noiseState.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("session: write second handshake message: %w", err)
	}
	// Responder: cs2 encrypts to the initiator, cs1 decrypts from it.
	h.sendCipher, h.recvCipher = cs2, cs1
	h.complete = true

	resp := NewHello(h.id.ID(), freshNonce(), msg)
	if err := resp.Sign(h.id.SigningPrivateKey); err != nil {
		return nil, err
	}
	return resp, nil
}

// ProcessResponse is the initiator's final step: it verifies and consumes
// the responder's Hello, completing the handshake.
func (h *Handshake) ProcessResponse(resp *Hello, peerSigningKey ed25519.PublicKey) error {
	if !h.isInitiator {
		return fmt.Errorf("session: ProcessResponse is for the initiator side")
	}
	if err := resp.Verify(peerSigningKey); err != nil {
		return fmt.Errorf("session: verify handshake response: %w", err)
	}
	_, cs1, cs2, err := h.noiseState.ReadMessage(nil, resp.NoiseMessage)
	if err != nil {
		return fmt.Errorf("session: read second handshake message: %w", err)
	}
	// Initiator: cs1 encrypts to the responder, cs2 decrypts from it.
	h.sendCipher, h.recvCipher = cs1, cs2
	h.complete = true
	return nil
}

// IsComplete reports whether the handshake has produced session ciphers.
func (h *Handshake) IsComplete() bool {
	return h.complete
}

// PeerStaticKey returns the peer's X25519 static key, confirmed by Noise.
func (h *Handshake) PeerStaticKey() []byte {
	return h.peerStaticKey
}

// Encrypt seals a session message with the derived send cipher.
func (h *Handshake) Encrypt(plaintext []byte) ([]byte, error) {
	if !h.complete {
		return nil, fmt.Errorf("session: handshake not complete")
	}
	return h.sendCipher.Encrypt(nil, nil, plaintext)
}

// Decrypt opens a session message with the derived receive cipher.
func (h *Handshake) Decrypt(ciphertext []byte) ([]byte, error) {
	if !h.complete {
		return nil, fmt.Errorf("session: handshake not complete")
	}
	return h.recvCipher.Decrypt(nil, nil, ciphertext)
}
