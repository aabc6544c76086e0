package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnsroute/internal/log"
	"dnsroute/internal/metrics"
	"dnsroute/internal/network"
	"dnsroute/internal/noise"
	"dnsroute/internal/report"
	"dnsroute/internal/routing"
)

// memorySink collects records in memory.
type memorySink struct {
	mutex   sync.Mutex
	records []report.Record
}

func (s *memorySink) Append(record report.Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.records = append(s.records, record)
	return nil
}

func (s *memorySink) snapshot() []report.Record {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]report.Record(nil), s.records...)
}

// lockedBuffer is a bytes.Buffer safe for concurrent writes and reads.
type lockedBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.buf.String()
}

// resolverFixture is a resolver served on a loopback port for the duration of a test.
type resolverFixture struct {
	addr string
	sink *memorySink
	logs *lockedBuffer
}

func newResolverFixture(t *testing.T) *resolverFixture {
	table, err := routing.NewTable([]routing.Rule{
		{Band: routing.Morning, IPPoolStart: 0, HashMod: 5},
		{Band: routing.Afternoon, IPPoolStart: 5, HashMod: 5},
		{Band: routing.Night, IPPoolStart: 10, HashMod: 5},
	}, routing.DefaultPool)
	require.NoError(t, err)

	fixture := &resolverFixture{sink: &memorySink{}, logs: &lockedBuffer{}}

	handler := &ResolverHandler{
		Engine:         routing.NewEngine(table),
		Filter:         noise.NewFilter(),
		Sink:           fixture.sink,
		ClientCxIOHook: metrics.NewNoopConnectionIOHook(),
		ResolverHook:   metrics.NewNoopResolverHook(),
		Logger:         log.NewWriterLogger(log.Debug, fixture.logs),
	}

	server := network.NewTCPServer(
		"127.0.0.1:0",
		metrics.NewNoopConnectionLifecycleHook(),
		network.TCPServerOpts{ReadTimeout: 2 * time.Second, WriteTimeout: 2 * time.Second},
	)
	require.NoError(t, server.Listen())

	done := make(chan error, 1)
	go func() { done <- server.Serve(handler) }()

	t.Cleanup(func() {
		assert.NoError(t, server.Close())
		assert.NoError(t, <-done)
	})

	fixture.addr = server.Addr().String()

	return fixture
}

func newTestSession(addr string) *Session {
	return &Session{
		Upstream: network.NewTCPClient(addr, metrics.NewNoopConnectionLifecycleHook(), network.TCPClientOpts{
			ConnectTimeout: time.Second,
			ReadTimeout:    2 * time.Second,
			WriteTimeout:   2 * time.Second,
		}),
		UpstreamCxIOHook: metrics.NewNoopConnectionIOHook(),
		SessionHook:      metrics.NewNoopSessionHook(),
	}
}

// rawExchange writes payload on a new connection and returns everything the resolver sends back.
func rawExchange(t *testing.T, addr string, payload string) string {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)

	return string(reply)
}

func morning(seq int) Query {
	return Query{
		Domain:     fmt.Sprintf("host%d.example.com", seq),
		OriginTime: time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local),
		SequenceID: seq,
	}
}

func TestExchangeResolved(t *testing.T) {
	fixture := newResolverFixture(t)
	session := newTestSession(fixture.addr)

	outcome := session.Exchange(context.Background(), morning(3))

	require.Equal(t, Resolved, outcome.Kind, "%v", outcome.Err)
	assert.Equal(t, Response{Header: "09000003", Domain: "host3.example.com", ResolvedIP: "192.168.1.4"}, outcome.Response)
	assert.Equal(t, "09000003", outcome.Header)
	assert.Positive(t, outcome.RTT)

	assert.Equal(t, []report.Record{
		{Header: "09000003", Domain: "host3.example.com", ResolvedIP: "192.168.1.4"},
	}, fixture.sink.snapshot())
}

func TestExchangeBands(t *testing.T) {
	fixture := newResolverFixture(t)
	session := newTestSession(fixture.addr)

	cases := []struct {
		hour     int
		seq      int
		expected string
	}{
		{hour: 6, seq: 0, expected: "192.168.1.1"},
		{hour: 11, seq: 7, expected: "192.168.1.3"},
		{hour: 12, seq: 4, expected: "192.168.1.10"},
		{hour: 17, seq: 99, expected: "192.168.1.10"},
		{hour: 20, seq: 1, expected: "192.168.1.12"},
		{hour: 0, seq: 13, expected: "192.168.1.14"},
		{hour: 3, seq: 105, expected: "192.168.1.11"},
	}

	for _, tc := range cases {
		query := Query{
			Domain:     "example.com",
			OriginTime: time.Date(2024, 3, 1, tc.hour, 15, 0, 0, time.Local),
			SequenceID: tc.seq,
		}

		outcome := session.Exchange(context.Background(), query)
		require.Equal(t, Resolved, outcome.Kind, "%v", outcome.Err)
		assert.Equal(t, tc.expected, outcome.Response.ResolvedIP, "hour=%d seq=%d", tc.hour, tc.seq)
	}
}

func TestExchangeNoiseRejected(t *testing.T) {
	fixture := newResolverFixture(t)
	session := newTestSession(fixture.addr)

	query := Query{Domain: "printer.local", OriginTime: time.Now(), SequenceID: 0}
	outcome := session.Exchange(context.Background(), query)

	assert.Equal(t, Rejected, outcome.Kind)
	assert.NoError(t, outcome.Err)
	assert.Equal(t, report.ErrorMarker, outcome.Record().ResolvedIP)
	assert.Empty(t, fixture.sink.snapshot())
	assert.Contains(t, fixture.logs.String(), "filtered noisy domain")
}

func TestResolverClosesOnMalformedRequests(t *testing.T) {
	fixture := newResolverFixture(t)

	assert.Empty(t, rawExchange(t, fixture.addr, "garbage"))
	assert.Empty(t, rawExchange(t, fixture.addr, "09000003|a|b"))
	assert.Empty(t, rawExchange(t, fixture.addr, "25000000|example.com"))
	assert.Empty(t, rawExchange(t, fixture.addr, "0900000x|example.com"))

	assert.Equal(t, "09000002|example.com|192.168.1.3", rawExchange(t, fixture.addr, "09000002|example.com"))

	assert.Len(t, fixture.sink.snapshot(), 1)
}

func TestResolverToleratesSilentClients(t *testing.T) {
	fixture := newResolverFixture(t)

	conn, err := net.DialTimeout("tcp", fixture.addr, time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	assert.Equal(t, "12000000|example.com|192.168.1.6", rawExchange(t, fixture.addr, "12000000|example.com"))
}

func TestExchangeDelimiterInDomain(t *testing.T) {
	session := newTestSession("127.0.0.1:1")

	outcome := session.Exchange(context.Background(), Query{Domain: "a|b.com", OriginTime: time.Now()})

	assert.Equal(t, Failed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrMalformedRequest)
	assert.Equal(t, report.ErrorMarker, outcome.Record().ResolvedIP)
}

func TestExchangeConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	outcome := newTestSession(addr).Exchange(context.Background(), morning(0))

	assert.Equal(t, Failed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, network.ErrNetwork)
}

func TestExchangeMalformedReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, MaxMessageSize)
		conn.Read(buf)
		conn.Write([]byte("not a reply"))
	}()

	outcome := newTestSession(ln.Addr().String()).Exchange(context.Background(), morning(0))

	assert.Equal(t, Failed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrMalformedResponse)
}

func TestDispatcherTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		// Hold the connection open without replying until the client gives up.
		io.Copy(io.Discard, conn)
	}()

	defer func() {
		ln.Close()
		wg.Wait()
	}()

	dispatcher := &Dispatcher{
		Session: newTestSession(ln.Addr().String()),
		Logger:  log.NewWriterLogger(log.Error, io.Discard),
		Opts:    DispatcherOpts{Concurrency: 1, Timeout: 100 * time.Millisecond},
	}

	start := time.Now()
	outcomes := dispatcher.Run(context.Background(), []Query{morning(0)})

	require.Len(t, outcomes, 1)
	assert.Equal(t, Failed, outcomes[0].Kind)
	assert.ErrorIs(t, outcomes[0].Err, network.ErrNetwork)
	assert.True(t, errors.Is(outcomes[0].Err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatcherPreservesOrder(t *testing.T) {
	fixture := newResolverFixture(t)
	logs := &lockedBuffer{}

	dispatcher := &Dispatcher{
		Session: newTestSession(fixture.addr),
		Logger:  log.NewWriterLogger(log.Info, logs),
		Opts:    DispatcherOpts{Concurrency: 8},
	}

	queries := make([]Query, 40)
	for i := range queries {
		queries[i] = morning(i)
	}
	queries[7].Domain = "speaker.local"

	outcomes := dispatcher.Run(context.Background(), queries)
	require.Len(t, outcomes, len(queries))

	for i, outcome := range outcomes {
		assert.Equal(t, queries[i], outcome.Query)
		assert.Equal(t, queries[i].Header(), outcome.Header)

		if i == 7 {
			assert.Equal(t, Rejected, outcome.Kind)
			continue
		}

		require.Equal(t, Resolved, outcome.Kind, "%v", outcome.Err)
		assert.Equal(t, queries[i].Domain, outcome.Response.Domain)
		assert.Equal(t, routing.DefaultPool[i%5], outcome.Response.ResolvedIP)
	}

	assert.Len(t, fixture.sink.snapshot(), len(queries)-1)
	assert.Contains(t, logs.String(), "client: rejected by resolver")
}

func TestDispatcherEmptyBatch(t *testing.T) {
	dispatcher := &Dispatcher{
		Session: newTestSession("127.0.0.1:1"),
		Logger:  log.NewWriterLogger(log.Error, io.Discard),
	}

	assert.Empty(t, dispatcher.Run(context.Background(), nil))
}

func TestResolverConcurrentClients(t *testing.T) {
	fixture := newResolverFixture(t)
	session := newTestSession(fixture.addr)

	const clients = 25

	var wg sync.WaitGroup
	outcomes := make([]Outcome, clients)

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = session.Exchange(context.Background(), morning(i))
		}(i)
	}

	wg.Wait()

	for i, outcome := range outcomes {
		require.Equal(t, Resolved, outcome.Kind, "%v", outcome.Err)
		assert.Equal(t, routing.DefaultPool[i%5], outcome.Response.ResolvedIP)
	}

	assert.Len(t, fixture.sink.snapshot(), clients)
}
