package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// multicastGroup is the link-local multicast address peers announce
// themselves on. No third-party mDNS/zeroconf library in the reference
// corpus ships importable source for this; see DESIGN.md.
const multicastGroup = "239.17.8.1:28418"

const announceInterval = 10 * time.Second

type announcement struct {
	ID    string   `json:"id"`
	Addrs []string `json:"addrs"`
	Name  string   `json:"name,omitempty"`
}

// Announce periodically broadcasts self on the local link until ctx is
// canceled.
func Announce(ctx context.Context, self Peer) error {
	addr, err := net.ResolveUDPAddr("udp4", multicastGroup)
	if err != nil {
		return fmt.Errorf("peer: resolve multicast group: %w", err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("peer: dial multicast group: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(announcement{ID: self.ID, Addrs: self.Addrs, Name: self.Name})
	if err != nil {
		return fmt.Errorf("peer: marshal announcement: %w", err)
	}

	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("peer: send announcement: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := conn.Write(payload); err != nil {
				return fmt.Errorf("peer: send announcement: %w", err)
			}
		}
	}
}

// Listen listens for multicast announcements and invokes onPeer for each
// one discovered, until ctx is canceled. selfID is excluded from delivery.
func Listen(ctx context.Context, selfID string, onPeer func(Peer)) error {
	addr, err := net.ResolveUDPAddr("udp4", multicastGroup)
	if err != nil {
		return fmt.Errorf("peer: resolve multicast group: %w", err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("peer: listen on multicast group: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("peer: read announcement: %w", err)
		}
		var a announcement
		if err := json.Unmarshal(buf[:n], &a); err != nil {
			continue // ignore malformed announcements
		}
		if a.ID == "" || a.ID == selfID || len(a.Addrs) == 0 {
			continue
		}
		onPeer(Peer{ID: a.ID, Addrs: a.Addrs, Name: a.Name})
	}
}
