// Package transport abstracts the peer-to-peer transfer protocol's network
// layer (§4.F): callers dial and listen against a Transport without caring
// whether bytes move over QUIC (pkg/transport/quic, the default) or TCP+TLS
// (pkg/transport/tcp, the NAT-hostile-network fallback). pkg/rpc and
// pkg/session sit entirely on top of the Conn interface and never import
// either concrete implementation.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Transport dials or listens for connections over one concrete protocol.
type Transport interface {
	// Listen starts listening for incoming connections on the given address
	Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (Listener, error)

	// Dial establishes a connection to the given address
	Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error)

	// Name returns the transport name (e.g., "quic", "tcp")
	Name() string

	// DefaultPort returns the default port for this transport
	DefaultPort() int
}

// Listener represents a transport listener
type Listener interface {
	// Accept waits for and returns the next connection
	Accept(ctx context.Context) (Conn, error)

	// Close closes the listener
	Close() error

	// Addr returns the listener's network address
	Addr() net.Addr
}

// Conn represents a transport connection
type Conn interface {
	// Read reads data from the connection
	Read(b []byte) (n int, err error)

	// Write writes data to the connection
	Write(b []byte) (n int, err error)

	// Close closes the connection
	Close() error

	// LocalAddr returns the local network address
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address
	RemoteAddr() net.Addr

	// SetDeadline sets the read and write deadlines
	SetDeadline(t time.Time) error

	// SetReadDeadline sets the read deadline
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline sets the write deadline
	SetWriteDeadline(t time.Time) error

	// ConnectionState returns the TLS connection state
	ConnectionState() tls.ConnectionState
}

// Registry resolves a transport by the name a caller requests (`latch serve
// --transport tcp`, a peer-table address prefix, etc.), so cmd/latch's
// commands select a transport by name; pkg/transport/quic and
// pkg/transport/tcp are referenced only where the registry is filled.
type Registry struct {
	transports map[string]Transport
}

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register adds or replaces the transport known by name.
func (r *Registry) Register(name string, t Transport) {
	r.transports[name] = t
}

// Get returns the transport registered under name.
func (r *Registry) Get(name string) (Transport, bool) {
	t, ok := r.transports[name]
	return t, ok
}

// Names returns every registered transport name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	return names
}
