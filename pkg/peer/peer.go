// Package peer maintains the known-peer table (§4.F, §9): a flat,
// JSON-persisted set of peers, each identified by PeerID and a list of
// addresses to dial. Peers are added explicitly or discovered on the local
// link via multicast (discovery.go).
package peer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Peer is one entry of the peer table.
type Peer struct {
	ID    string   `json:"id"`    // PeerID, e.g. "latch:key:..."
	Addrs []string `json:"addrs"` // host:port addresses to dial, most-recent first
	Name  string   `json:"name,omitempty"`

	// SigningKey and KeyAgreementKey are the peer's long-term public keys,
	// learned out-of-band (e.g. via `peers add`). When both are known,
	// pkg/rpc binds the connection to this peer with a Noise IK handshake
	// (§4.F) before exchanging requests; when absent, the connection
	// proceeds without that extra binding.
	SigningKey      []byte `json:"signing_key,omitempty"`
	KeyAgreementKey []byte `json:"key_agreement_key,omitempty"`
}

// Table is a goroutine-safe, disk-persisted set of known peers.
type Table struct {
	mu    sync.RWMutex
	peers map[string]*Peer
	path  string
}

// Open loads the peer table from path, starting empty if it does not exist.
func Open(path string) (*Table, error) {
	t := &Table{peers: make(map[string]*Peer), path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("peer: read table: %w", err)
	}
	var list []*Peer
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("peer: parse table: %w", err)
	}
	for _, p := range list {
		t.peers[p.ID] = p
	}
	return t, nil
}

// Add inserts or updates a peer entry and persists the table.
func (t *Table) Add(p Peer) error {
	if p.ID == "" {
		return fmt.Errorf("peer: ID is required")
	}
	if len(p.Addrs) == 0 {
		return fmt.Errorf("peer: at least one address is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[p.ID] = &p
	return t.saveLocked()
}

// Remove deletes a peer by ID and persists the table.
func (t *Table) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[id]; !ok {
		return fmt.Errorf("peer: unknown peer %s", id)
	}
	delete(t.peers, id)
	return t.saveLocked()
}

// Get returns the peer with the given ID, if known.
func (t *Table) Get(id string) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// List returns every known peer.
func (t *Table) List() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

func (t *Table) saveLocked() error {
	list := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		list = append(list, p)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0700); err != nil {
		return fmt.Errorf("peer: create directory: %w", err)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("peer: marshal table: %w", err)
	}
	if err := os.WriteFile(t.path, data, 0600); err != nil {
		return fmt.Errorf("peer: write table: %w", err)
	}
	return nil
}
