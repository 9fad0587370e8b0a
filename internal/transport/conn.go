// Package transport accepts client connections and frames the message
// protocol over them. It supports plain TCP (one JSON envelope per
// line) and WebSocket (one envelope per text frame) behind a shared
// Conn interface, so session handling is transport-agnostic.
package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/parlorchat/parlor/internal/protocol"
)

// Conn is one client connection carrying framed envelopes. Receive is
// only safe from a single goroutine (the connection's handler loop);
// Send is safe for concurrent use, since relays arrive from other
// connections' handlers.
type Conn interface {
	// Receive blocks until the next envelope arrives. Malformed frames
	// return an error satisfying protocol.IsProtocolError and leave the
	// connection readable; any other error is a transport failure and
	// is fatal to the connection.
	Receive() (protocol.Envelope, error)
	// Send writes one envelope to the peer.
	Send(env protocol.Envelope) error
	// Close tears down the underlying connection.
	Close() error
	// RemoteAddr returns the peer's network address.
	RemoteAddr() net.Addr
}

// SessionHandler processes a connected session. Implementations run the
// read-decode-dispatch loop for a single client.
type SessionHandler interface {
	HandleSession(ctx context.Context, conn Conn) error
}

// TCPConn frames envelopes over a raw TCP connection, one per line.
type TCPConn struct {
	raw net.Conn
	dec *protocol.Decoder

	writeMu sync.Mutex
	enc     *protocol.Encoder

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewTCPConn wraps a raw TCP connection for envelope exchange.
//
// Precondition: raw must be a valid, open network connection.
func NewTCPConn(raw net.Conn, readTimeout, writeTimeout time.Duration) *TCPConn {
	return &TCPConn{
		raw:          raw,
		dec:          protocol.NewDecoder(raw),
		enc:          protocol.NewEncoder(raw),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Receive reads the next envelope, bounding the wait with the
// configured read timeout so stalled peers cannot hold resources
// indefinitely.
func (c *TCPConn) Receive() (protocol.Envelope, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	return c.dec.Decode()
}

// Send writes one envelope. Safe for concurrent use.
func (c *TCPConn) Send(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.enc.Encode(env)
}

// Close closes the underlying TCP connection.
func (c *TCPConn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the remote network address of the client.
func (c *TCPConn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
