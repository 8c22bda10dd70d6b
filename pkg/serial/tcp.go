package serial

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// Conn adapts a TCP connection to the same Read/Write/timeout contract as
// Port. It is used to talk to the device emulator (cmd/mock-device).
type Conn struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
	closed  bool
}

// OpenTCP connects to a device emulator at address ("host:port").
func OpenTCP(address string, timeout time.Duration) (*Conn, error) {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("serial: connect to %s: %w", address, err)
	}
	return &Conn{conn: conn, timeout: time.Second}, nil
}

// Read reads up to len(buf) bytes, waiting at most the configured read
// timeout. A timeout of zero or less returns only already-buffered data.
// Returns ErrTimeout when nothing arrives in time.
func (c *Conn) Read(buf []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	conn := c.conn
	timeout := c.timeout
	c.mu.Unlock()

	if timeout <= 0 {
		// A deadline already in the past fails the read before any
		// buffered bytes are returned; the shortest positive window
		// matches Port's non-blocking drain.
		timeout = time.Millisecond
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, ErrTimeout
		}
		if os.IsTimeout(err) {
			return n, ErrTimeout
		}
		return n, err
	}
	return n, nil
}

// Write writes buf to the connection.
func (c *Conn) Write(buf []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	conn := c.conn
	c.mu.Unlock()
	return conn.Write(buf)
}

// Close closes the connection. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Device returns the remote address.
func (c *Conn) Device() string {
	return c.conn.RemoteAddr().String()
}

// SetReadTimeout sets the timeout applied to subsequent Read calls.
func (c *Conn) SetReadTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}
