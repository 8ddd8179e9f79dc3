// Package identity manages the per-process cryptographic PeerID (§4.F): an
// Ed25519 signing keypair plus an X25519 key-agreement keypair, generated
// once at first start and persisted to disk.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"
	"lukechampine.com/blake3"
)

// Identity is a process's persistent cryptographic identity.
type Identity struct {
	SigningPublicKey  ed25519.PublicKey  `json:"signing_public_key"`
	SigningPrivateKey ed25519.PrivateKey `json:"signing_private_key"`

	KeyAgreementPublicKey  [32]byte `json:"key_agreement_public_key"`
	KeyAgreementPrivateKey [32]byte `json:"key_agreement_private_key"`

	id string // cached PeerID string
}

// Generate creates a fresh Identity with new signing and key-agreement keys.
func Generate() (*Identity, error) {
	sigPub, sigPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate ed25519 key: %w", err)
	}

	var kaPriv, kaPub [32]byte
	if _, err := rand.Read(kaPriv[:]); err != nil {
		return nil, fmt.Errorf("identity: generate x25519 key: %w", err)
	}
	curve25519.ScalarBaseMult(&kaPub, &kaPriv)

	id := &Identity{
		SigningPublicKey:       sigPub,
		SigningPrivateKey:      sigPriv,
		KeyAgreementPublicKey:  kaPub,
		KeyAgreementPrivateKey: kaPriv,
	}
	id.id = id.computeID()
	return id, nil
}

// ID returns the stable PeerID string derived from the signing public key.
func (id *Identity) ID() string {
	if id.id == "" {
		id.id = id.computeID()
	}
	return id.id
}

// computeID derives a display PeerID: a fixed prefix plus the BLAKE3
// fingerprint of the signing public key, truncated for readability. The
// full public key carried in the handshake (pkg/session) is the actual
// authenticator; this string is what a user types on the command line.
func (id *Identity) computeID() string {
	sum := blake3.Sum256(id.SigningPublicKey)
	return fmt.Sprintf("latch:key:%x", sum[:16])
}

// SaveToFile persists the identity as JSON with restrictive permissions.
func (id *Identity) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("identity: create directory: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("identity: write file: %w", err)
	}
	return nil
}

// LoadFromFile loads a persisted identity.
func LoadFromFile(filename string) (*Identity, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("identity: read file: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("identity: unmarshal: %w", err)
	}
	id.id = id.computeID()
	return &id, nil
}

// LoadOrCreate loads the identity at filename, generating and persisting a
// new one if it does not yet exist ("created at first start and persisted",
// §4.F).
func LoadOrCreate(filename string) (*Identity, error) {
	if _, err := os.Stat(filename); err == nil {
		return LoadFromFile(filename)
	}
	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := id.SaveToFile(filename); err != nil {
		return nil, err
	}
	return id, nil
}
