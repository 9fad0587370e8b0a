package testutil

import (
	"net"
	"testing"
	"time"

	"github.com/parlorchat/parlor/internal/protocol"
)

// LineClient is a framed-envelope test client for integration testing
// against a running chat listener.
type LineClient struct {
	conn net.Conn
	dec  *protocol.Decoder
	enc  *protocol.Encoder
	t    *testing.T
}

// NewLineClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected LineClient or fails the test.
func NewLineClient(t *testing.T, addr string) *LineClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	client := &LineClient{
		conn: conn,
		dec:  protocol.NewDecoder(conn),
		enc:  protocol.NewEncoder(conn),
		t:    t,
	}

	t.Logf("client connected to %s [%s]", addr, time.Since(start))
	return client
}

// Send writes one envelope as a newline-terminated JSON frame.
func (c *LineClient) Send(env protocol.Envelope) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.enc.Encode(env); err != nil {
		c.t.Fatalf("sending %s envelope: %v", env.Kind, err)
	}
}

// Receive reads the next envelope, failing the test on timeout.
func (c *LineClient) Receive(timeout time.Duration) protocol.Envelope {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	env, err := c.dec.Decode()
	if err != nil {
		c.t.Fatalf("receiving envelope: %v", err)
	}
	return env
}

// ReceiveKind reads envelopes until one of the wanted kind arrives.
// Out-of-band traffic such as presence notifications is skipped.
func (c *LineClient) ReceiveKind(kind protocol.Kind, timeout time.Duration) protocol.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no %s envelope before timeout", kind)
		}
		env := c.Receive(remaining)
		if env.Kind == kind {
			return env
		}
	}
}

// Close closes the underlying connection.
func (c *LineClient) Close() {
	c.conn.Close()
}
