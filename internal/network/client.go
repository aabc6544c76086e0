package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"lib.kevinlin.info/aperture/lib"

	"dnsroute/internal/metrics"
)

// Client defines the interface for a TCP network client.
type Client interface {
	// Conn dials a new connection. Connections are never reused across calls.
	Conn(ctx context.Context) (net.Conn, error)

	// Stats returns historical client stats.
	Stats() Stats
}

// Stats formalizes stats tracked per-client.
type Stats struct {
	// SuccessfulConnections is the number of connections that the client has successfully
	// provided.
	SuccessfulConnections int
	// FailedConnections is the number of times that the client has failed to provide a
	// connection.
	FailedConnections int
}

// TCPClient dials plain TCP connections to a single resolver endpoint.
type TCPClient struct {
	addr       string
	cxHook     metrics.ConnectionLifecycleHook
	opts       TCPClientOpts
	stats      Stats
	statsMutex sync.RWMutex
}

// TCPClientOpts formalizes TCP client configuration options.
type TCPClientOpts struct {
	// ConnectTimeout is the timeout associated with establishing a connection with the remote
	// server.
	ConnectTimeout time.Duration
	// ReadTimeout is the timeout associated with each read from a remote connection.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout associated with each write to a remote connection.
	WriteTimeout time.Duration
}

// NewTCPClient creates a TCPClient targeting the specified remote address. No connection is
// established until Conn is called.
func NewTCPClient(addr string, cxHook metrics.ConnectionLifecycleHook, opts TCPClientOpts) *TCPClient {
	return &TCPClient{
		addr:   addr,
		cxHook: cxHook,
		opts:   opts,
	}
}

// Conn dials a new connection to the remote address. The returned connection enforces the
// configured read and write timeouts on every operation.
func (c *TCPClient) Conn(ctx context.Context) (conn net.Conn, err error) {
	defer func() {
		c.statsMutex.Lock()
		defer c.statsMutex.Unlock()

		if err != nil {
			c.stats.FailedConnections++
		} else {
			c.stats.SuccessfulConnections++
		}
	}()

	dialer := &net.Dialer{Timeout: c.opts.ConnectTimeout}
	dialTimer := lib.NewStopwatch()

	raw, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		c.cxHook.EmitConnectionError()
		return nil, fmt.Errorf(
			"%w: client: error establishing connection: addr=%s err=%w",
			ErrNetwork,
			c.addr,
			err,
		)
	}

	c.cxHook.EmitConnectionOpen(dialTimer.Elapsed(), raw.RemoteAddr())

	return NewClientConn(
		NewTCPConn(raw, c.opts.ReadTimeout, c.opts.WriteTimeout),
		func(conn net.Conn) error {
			c.cxHook.EmitConnectionClose(conn.RemoteAddr())
			return conn.Close()
		},
	), nil
}

// Stats returns current client stats.
func (c *TCPClient) Stats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()

	return c.stats
}

// String returns a string representation of the client.
func (c *TCPClient) String() string {
	return fmt.Sprintf("TCPClient{addr: %s}", c.addr)
}
