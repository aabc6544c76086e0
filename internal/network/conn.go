package network

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// TCPConn is an abstraction over a net.Conn that applies a fresh deadline before every read and
// write, so no single operation can block longer than its configured timeout.
type TCPConn struct {
	readTimeout  time.Duration
	writeTimeout time.Duration

	net.Conn
}

// NewTCPConn creates a TCPConn from a backing net.Conn.
func NewTCPConn(conn net.Conn, readTimeout time.Duration, writeTimeout time.Duration) *TCPConn {
	return &TCPConn{
		Conn:         conn,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Read sets a read deadline followed by reading from the backing connection.
func (c *TCPConn) Read(buf []byte) (n int, err error) {
	if c.readTimeout > 0 {
		if err := c.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}

	return c.Conn.Read(buf)
}

// Write sets a write deadline followed by writing to the backing connection.
func (c *TCPConn) Write(buf []byte) (n int, err error) {
	if c.writeTimeout > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}

	return c.Conn.Write(buf)
}

// ClientConn wraps a dialed connection with a callback that is invoked exactly once, on the first
// Close.
type ClientConn struct {
	closer func(conn net.Conn) error
	once   sync.Once
	err    error

	net.Conn
}

// NewClientConn wraps an existing net.Conn with the specified close callback.
func NewClientConn(conn net.Conn, closer func(conn net.Conn) error) *ClientConn {
	return &ClientConn{closer: closer, Conn: conn}
}

// Close invokes the close callback. Subsequent calls return the first result.
func (c *ClientConn) Close() error {
	c.once.Do(func() {
		c.err = c.closer(c.Conn)
	})

	return c.err
}

// String implements the Stringer interface for human-consumable representation.
func (c *ClientConn) String() string {
	return fmt.Sprintf("ClientConn{%s->%s}", c.LocalAddr(), c.RemoteAddr())
}
