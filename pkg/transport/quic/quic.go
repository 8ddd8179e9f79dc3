// Package quic is latch's default pkg/transport.Transport: QUIC over
// TLS 1.3 with the latchvc ALPN (pkg/constants.ALPNProtocol), one stream
// per connection for the RPC request/response frames pkg/rpc exchanges.
package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/constants"
	"github.com/latchvc/latchvc/pkg/transport"
	"github.com/quic-go/quic-go"
)

// Transport implements the QUIC transport
type Transport struct{}

// New creates a new QUIC transport
func New() transport.Transport {
	return &Transport{}
}

// Name returns the transport name
func (t *Transport) Name() string {
	return "quic"
}

// DefaultPort returns the default QUIC port
func (t *Transport) DefaultPort() int {
	return constants.DefaultPort
}

// Listen starts listening for QUIC connections
func (t *Transport) Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (transport.Listener, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Parse the address
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeProtocolError, fmt.Sprintf("resolve udp address %s", addr), err)
	}

	// Configure TLS for QUIC
	quicTLSConfig := tlsConfig.Clone()
	if quicTLSConfig == nil {
		quicTLSConfig = &tls.Config{}
	}

	// Ensure ALPN protocols are set
	if len(quicTLSConfig.NextProtos) == 0 {
		quicTLSConfig.NextProtos = []string{constants.ALPNProtocol}
	}

	// Create QUIC listener
	listener, err := quic.ListenAddr(udpAddr.String(), quicTLSConfig, &quic.Config{
		MaxIdleTimeout:  5 * time.Minute,
		KeepAlivePeriod: 30 * time.Second,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeProtocolError, fmt.Sprintf("listen on %s", addr), err)
	}

	return &Listener{
		listener: listener,
	}, nil
}

// Dial establishes a QUIC connection
func (t *Transport) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (transport.Conn, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Configure TLS for QUIC
	quicTLSConfig := tlsConfig.Clone()
	if quicTLSConfig == nil {
		quicTLSConfig = &tls.Config{}
	}

	// Ensure ALPN protocols are set
	if len(quicTLSConfig.NextProtos) == 0 {
		quicTLSConfig.NextProtos = []string{constants.ALPNProtocol}
	}

	// Dial QUIC connection
	connection, err := quic.DialAddr(ctx, addr, quicTLSConfig, &quic.Config{
		MaxIdleTimeout:  5 * time.Minute,
		KeepAlivePeriod: 30 * time.Second,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePeerUnreachable, fmt.Sprintf("dial %s", addr), err)
	}

	// Open a stream for communication
	stream, err := connection.OpenStreamSync(ctx)
	if err != nil {
		connection.CloseWithError(0, "failed to open stream")
		return nil, apperr.Wrap(apperr.CodeProtocolError, "open stream", err)
	}

	return &Conn{
		connection: connection,
		stream:     stream,
	}, nil
}

// Listener wraps a QUIC listener
type Listener struct {
	listener *quic.Listener
}

// Accept waits for and returns the next connection
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	connection, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}

	// Accept a stream from the connection
	stream, err := connection.AcceptStream(ctx)
	if err != nil {
		connection.CloseWithError(0, "failed to accept stream")
		return nil, apperr.Wrap(apperr.CodeProtocolError, "accept stream", err)
	}

	return &Conn{
		connection: connection,
		stream:     stream,
	}, nil
}

// Close closes the listener
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Conn wraps a QUIC connection and stream
type Conn struct {
	connection *quic.Conn
	stream     *quic.Stream
}

// Read reads data from the stream
func (c *Conn) Read(b []byte) (n int, err error) {
	return c.stream.Read(b)
}

// Write writes data to the stream
func (c *Conn) Write(b []byte) (n int, err error) {
	return c.stream.Write(b)
}

// Close closes the connection
func (c *Conn) Close() error {
	// Close the stream first
	if err := c.stream.Close(); err != nil {
		// Still try to close the connection
		c.connection.CloseWithError(0, "stream close error")
		return err
	}

	// Close the connection
	return c.connection.CloseWithError(0, "normal close")
}

// LocalAddr returns the local network address
func (c *Conn) LocalAddr() net.Addr {
	return c.connection.LocalAddr()
}

// RemoteAddr returns the remote network address
func (c *Conn) RemoteAddr() net.Addr {
	return c.connection.RemoteAddr()
}

// SetDeadline sets the read and write deadlines
func (c *Conn) SetDeadline(t time.Time) error {
	return c.stream.SetDeadline(t)
}

// SetReadDeadline sets the read deadline
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

// ConnectionState returns the TLS connection state
func (c *Conn) ConnectionState() tls.ConnectionState {
	return c.connection.ConnectionState().TLS
}
