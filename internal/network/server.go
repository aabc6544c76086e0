package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dnsroute/internal/metrics"
)

// contextKey is a type alias for context keys passed to server handlers.
type contextKey int

const (
	// ConnectionIDContextKey is the name of the context key carrying the server-assigned,
	// monotonically increasing id of the connection a handler is serving.
	ConnectionIDContextKey contextKey = iota
)

// ServerHandler is a common interface that wraps logic for handling incoming connections.
type ServerHandler interface {
	// Handle describes the routine to run when the server establishes a successful connection
	// with a client. The server closes conn once Handle returns.
	Handle(ctx context.Context, conn net.Conn) error

	// ConsumeError is a callback invoked when the server fails to accept a connection from a
	// client, or when the handler returns an error.
	ConsumeError(ctx context.Context, err error)
}

// TCPServer describes a server that listens on a TCP address and serves every accepted connection
// in its own goroutine.
type TCPServer struct {
	addr   string
	cxHook metrics.ConnectionLifecycleHook
	opts   TCPServerOpts

	listener net.Listener
	slots    chan struct{}
	nextID   uint64
	closed   atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mutex    sync.Mutex
}

// TCPServerOpts formalizes TCP server configuration options.
type TCPServerOpts struct {
	// ReadTimeout is the maximum amount of time the server will wait to read from a client
	// after it has established a connection with the server, after which the server will
	// consider the read to have failed.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum amount of time the server is allowed to take to write to a
	// client, after which the server will consider the write to have failed.
	WriteTimeout time.Duration
	// MaxConcurrentConnections bounds the number of connections served at once. A value of 1
	// serves connections strictly one at a time; non-positive values impose no bound.
	MaxConcurrentConnections int
}

// NewTCPServer creates a TCP server that will listen on the specified address.
func NewTCPServer(addr string, cxHook metrics.ConnectionLifecycleHook, opts TCPServerOpts) *TCPServer {
	s := &TCPServer{addr: addr, cxHook: cxHook, opts: opts}

	if opts.MaxConcurrentConnections > 0 {
		s.slots = make(chan struct{}, opts.MaxConcurrentConnections)
	}

	return s
}

// Listen binds the configured address without serving connections yet.
func (s *TCPServer) Listen() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: failed to listen on TCP socket: err=%w", err)
	}

	s.listener = ln

	return nil
}

// Addr returns the bound address, or nil if the server is not listening.
func (s *TCPServer) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// ListenAndServe starts listening on the TCP address with which the server was configured and
// serves connections using the specified handler until Close is called. It returns an error if it
// fails to bind to the initialized address.
func (s *TCPServer) ListenAndServe(handler ServerHandler) error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve(handler)
}

// Serve accepts connections on a listener previously bound with Listen. It returns nil after Close.
func (s *TCPServer) Serve(handler ServerHandler) error {
	s.mutex.Lock()
	ln := s.listener
	if ln == nil {
		s.mutex.Unlock()
		return fmt.Errorf("server: serve called before listen")
	}

	if s.closed.Load() {
		s.mutex.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// The accept loop holds its own reference, taken under the mutex so that it is either
	// counted before Close waits or never taken at all.
	s.wg.Add(1)
	s.mutex.Unlock()

	defer s.wg.Done()
	defer cancel()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}

			s.cxHook.EmitConnectionError()
			handler.ConsumeError(ctx, fmt.Errorf("server: error accepting connection: err=%w", err))

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}

			return err
		}

		if s.slots != nil {
			s.slots <- struct{}{}
		}

		id := atomic.AddUint64(&s.nextID, 1)
		tcpConn := NewTCPConn(conn, s.opts.ReadTimeout, s.opts.WriteTimeout)
		s.cxHook.EmitConnectionOpen(0, tcpConn.RemoteAddr())

		s.wg.Add(1)
		go s.serveConn(context.WithValue(ctx, ConnectionIDContextKey, id), tcpConn, handler)
	}
}

// serveConn runs the handler for a single connection. The connection is always closed, and a
// panicking handler only affects its own connection.
func (s *TCPServer) serveConn(ctx context.Context, conn *TCPConn, handler ServerHandler) {
	defer s.wg.Done()
	defer func() {
		if s.slots != nil {
			<-s.slots
		}
	}()
	defer func() {
		s.cxHook.EmitConnectionClose(conn.RemoteAddr())
		conn.Close()
	}()
	defer func() {
		if r := recover(); r != nil {
			handler.ConsumeError(ctx, fmt.Errorf("server: handler panic: remote=%v panic=%v", conn.RemoteAddr(), r))
		}
	}()

	if err := handler.Handle(ctx, conn); err != nil {
		handler.ConsumeError(ctx, err)
	}
}

// Close stops accepting connections and waits for in-flight handlers to finish.
func (s *TCPServer) Close() error {
	s.mutex.Lock()
	s.closed.Store(true)
	ln := s.listener
	cancel := s.cancel
	s.mutex.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}

	if cancel != nil {
		cancel()
	}

	s.wg.Wait()

	return err
}

// ConnectionID extracts the connection id from a handler context, or zero if absent.
func ConnectionID(ctx context.Context) uint64 {
	id, _ := ctx.Value(ConnectionIDContextKey).(uint64)
	return id
}
