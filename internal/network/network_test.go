package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"dnsroute/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoHandler writes back whatever it reads once, and records consumed errors.
type echoHandler struct {
	mutex  sync.Mutex
	errors []error
	ids    []uint64
	panics bool
}

func (h *echoHandler) Handle(ctx context.Context, conn net.Conn) error {
	h.mutex.Lock()
	h.ids = append(h.ids, ConnectionID(ctx))
	h.mutex.Unlock()

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		return err
	}

	if string(buf[:n]) == "panic" {
		panic("boom")
	}

	_, err = conn.Write(buf[:n])
	return err
}

func (h *echoHandler) ConsumeError(ctx context.Context, err error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.errors = append(h.errors, err)
}

func (h *echoHandler) consumed() []error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]error{}, h.errors...)
}

func startServer(t *testing.T, handler ServerHandler, opts TCPServerOpts) *TCPServer {
	t.Helper()

	server := NewTCPServer("127.0.0.1:0", metrics.NewNoopConnectionLifecycleHook(), opts)
	require.NoError(t, server.Listen())

	done := make(chan error, 1)
	go func() { done <- server.Serve(handler) }()

	t.Cleanup(func() {
		require.NoError(t, server.Close())
		require.NoError(t, <-done)
	})

	return server
}

func roundTrip(t *testing.T, addr string, payload string) (string, error) {
	t.Helper()

	client := NewTCPClient(addr, metrics.NewNoopConnectionLifecycleHook(), TCPClientOpts{
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   time.Second,
	})

	conn, err := client.Conn(context.Background())
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(payload)); err != nil {
		return "", err
	}

	resp, err := io.ReadAll(conn)
	return string(resp), err
}

func TestTCPServerServesConcurrentConnections(t *testing.T) {
	handler := &echoHandler{}
	server := startServer(t, handler, TCPServerOpts{ReadTimeout: time.Second, WriteTimeout: time.Second})

	const clients = 20

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			resp, err := roundTrip(t, server.Addr().String(), "ping")
			assert.NoError(t, err)
			assert.Equal(t, "ping", resp)
		}()
	}
	wg.Wait()

	handler.mutex.Lock()
	defer handler.mutex.Unlock()

	require.Len(t, handler.ids, clients)
	seen := make(map[uint64]bool)
	for _, id := range handler.ids {
		assert.NotZero(t, id)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestTCPServerIsolatesHandlerPanics(t *testing.T) {
	handler := &echoHandler{}
	server := startServer(t, handler, TCPServerOpts{ReadTimeout: time.Second, WriteTimeout: time.Second})

	resp, err := roundTrip(t, server.Addr().String(), "panic")
	require.NoError(t, err)
	assert.Empty(t, resp)

	resp, err = roundTrip(t, server.Addr().String(), "still alive")
	require.NoError(t, err)
	assert.Equal(t, "still alive", resp)

	require.Eventually(t, func() bool { return len(handler.consumed()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, handler.consumed()[0].Error(), "handler panic")
}

func TestTCPServerReadTimeout(t *testing.T) {
	handler := &echoHandler{}
	server := startServer(t, handler, TCPServerOpts{ReadTimeout: 50 * time.Millisecond})

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Never write; the server must give up and close the connection.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadAll(conn)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(handler.consumed()) == 1 }, time.Second, 10*time.Millisecond)

	var ne net.Error
	require.True(t, errors.As(handler.consumed()[0], &ne))
	assert.True(t, ne.Timeout())
}

func TestTCPServerSequentialMode(t *testing.T) {
	var active, peak int32

	handler := &funcHandler{
		handle: func(ctx context.Context, conn net.Conn) error {
			current := atomic.AddInt32(&active, 1)
			defer atomic.AddInt32(&active, -1)

			for {
				observed := atomic.LoadInt32(&peak)
				if current <= observed || atomic.CompareAndSwapInt32(&peak, observed, current) {
					break
				}
			}

			time.Sleep(20 * time.Millisecond)
			_, err := conn.Write([]byte("ok"))
			return err
		},
	}
	server := startServer(t, handler, TCPServerOpts{MaxConcurrentConnections: 1})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			conn, err := net.Dial("tcp", server.Addr().String())
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()

			resp, err := io.ReadAll(conn)
			assert.NoError(t, err)
			assert.Equal(t, "ok", string(resp))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestTCPServerServeBeforeListen(t *testing.T) {
	server := NewTCPServer("127.0.0.1:0", metrics.NewNoopConnectionLifecycleHook(), TCPServerOpts{})

	assert.Nil(t, server.Addr())
	assert.Error(t, server.Serve(&echoHandler{}))
}

func TestTCPServerCloseBeforeServe(t *testing.T) {
	server := NewTCPServer("127.0.0.1:0", metrics.NewNoopConnectionLifecycleHook(), TCPServerOpts{})
	require.NoError(t, server.Listen())
	require.NoError(t, server.Close())

	assert.NoError(t, server.Serve(&echoHandler{}))
}

func TestTCPServerConcurrentServeAndClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		server := NewTCPServer("127.0.0.1:0", metrics.NewNoopConnectionLifecycleHook(), TCPServerOpts{})
		require.NoError(t, server.Listen())

		done := make(chan error, 1)
		go func() { done <- server.Serve(&echoHandler{}) }()

		server.Close()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("serve did not return after close")
		}
	}
}

func TestTCPServerCloseWithSilentClient(t *testing.T) {
	server := NewTCPServer(
		"127.0.0.1:0",
		metrics.NewNoopConnectionLifecycleHook(),
		TCPServerOpts{ReadTimeout: 100 * time.Millisecond, WriteTimeout: 100 * time.Millisecond},
	)
	require.NoError(t, server.Listen())

	handler := &echoHandler{}
	done := make(chan error, 1)
	go func() { done <- server.Serve(handler) }()

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		handler.mutex.Lock()
		defer handler.mutex.Unlock()
		return len(handler.ids) == 1
	}, time.Second, 10*time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- server.Close() }()

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close blocked on a client that never sends")
	}

	assert.NoError(t, <-done)
}

func TestTCPServerListenFailure(t *testing.T) {
	server := NewTCPServer("127.0.0.1:99999", metrics.NewNoopConnectionLifecycleHook(), TCPServerOpts{})

	assert.Error(t, server.ListenAndServe(&echoHandler{}))
}

func TestTCPClientDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := NewTCPClient(addr, metrics.NewNoopConnectionLifecycleHook(), TCPClientOpts{ConnectTimeout: time.Second})

	_, err = client.Conn(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, Stats{FailedConnections: 1}, client.Stats())
}

func TestClientConnClosesOnce(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()

	calls := 0
	conn := NewClientConn(left, func(conn net.Conn) error {
		calls++
		return conn.Close()
	})

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.Equal(t, 1, calls)
}

// funcHandler adapts a function to ServerHandler.
type funcHandler struct {
	handle func(ctx context.Context, conn net.Conn) error
}

func (h *funcHandler) Handle(ctx context.Context, conn net.Conn) error {
	return h.handle(ctx, conn)
}

func (h *funcHandler) ConsumeError(ctx context.Context, err error) {}
