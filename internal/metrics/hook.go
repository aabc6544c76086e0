package metrics

import (
	"fmt"
	"net"
	"time"
)

// ConnectionLifecycleHook is a metrics hook interface for reporting events that occur during a TCP
// connection lifecycle.
type ConnectionLifecycleHook interface {
	// EmitConnectionOpen reports the event that a connection was successfully opened.
	EmitConnectionOpen(latency time.Duration, addr net.Addr)

	// EmitConnectionClose reports the event that a connection was closed.
	EmitConnectionClose(addr net.Addr)

	// EmitConnectionError reports occurrence of an error establishing a connection.
	EmitConnectionError()
}

// ConnectionIOHook is a metrics hook interface for reporting events related to I/O with an
// established connection.
type ConnectionIOHook interface {
	// EmitRead reports the latency of a successful read.
	EmitRead(latency time.Duration, addr net.Addr)

	// EmitReadError reports the event that a connection read failed.
	EmitReadError(addr net.Addr)

	// EmitWrite reports the latency of a successful write.
	EmitWrite(latency time.Duration, addr net.Addr)

	// EmitWriteError reports the event that a connection write failed.
	EmitWriteError(addr net.Addr)
}

// ResolverHook is a metrics hook interface for reporting server-side query outcomes.
type ResolverHook interface {
	// EmitRequestSize reports the size of a request on the wire.
	EmitRequestSize(bytes int64, client net.Addr)

	// EmitResolve reports a resolved query, the band it was routed by, and the end-to-end
	// latency of serving it.
	EmitResolve(band string, latency time.Duration, client net.Addr)

	// EmitReject reports a query dropped by the noise filter.
	EmitReject(client net.Addr)

	// EmitError reports a session that failed before a response could be written.
	EmitError()
}

// SessionHook is a metrics hook interface for reporting client-side query outcomes.
type SessionHook interface {
	// EmitOutcome reports the outcome of a single query session and its round trip time.
	EmitOutcome(outcome string, rtt time.Duration)
}

// AsyncStatsdConnectionLifecycleHook is an implementation of ConnectionLifecycleHook that outputs
// metrics asynchronously to statsd.
type AsyncStatsdConnectionLifecycleHook struct {
	client *StatsdClient
	source string
}

// AsyncStatsdConnectionIOHook is an implementation of ConnectionIOHook that outputs metrics
// asynchronously to statsd.
type AsyncStatsdConnectionIOHook struct {
	client *StatsdClient
	source string
}

// AsyncStatsdResolverHook is an implementation of ResolverHook that outputs metrics asynchronously
// to statsd.
type AsyncStatsdResolverHook struct {
	client *StatsdClient
}

// AsyncStatsdSessionHook is an implementation of SessionHook that outputs metrics asynchronously to
// statsd.
type AsyncStatsdSessionHook struct {
	client *StatsdClient
}

// NoopConnectionLifecycleHook implements the ConnectionLifecycleHook interface but noops on all
// emissions.
type NoopConnectionLifecycleHook struct{}

// NoopConnectionIOHook implements the ConnectionIOHook interface but noops on all emissions.
type NoopConnectionIOHook struct{}

// NoopResolverHook implements the ResolverHook interface but noops on all emissions.
type NoopResolverHook struct{}

// NoopSessionHook implements the SessionHook interface but noops on all emissions.
type NoopSessionHook struct{}

// NewAsyncStatsdConnectionLifecycleHook creates a new hook with the specified source, statsd
// address, and statsd sample rate. The source denotes the entity with whom the process is opening
// and closing TCP connections.
func NewAsyncStatsdConnectionLifecycleHook(source string, addr string, sampleRate float32, version string) (ConnectionLifecycleHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdConnectionLifecycleHook{
		client: client,
		source: source,
	}, nil
}

// EmitConnectionOpen statsd implementation
func (h *AsyncStatsdConnectionLifecycleHook) EmitConnectionOpen(latency time.Duration, addr net.Addr) {
	go func() {
		tags := map[string]string{
			"addr": ipFromAddr(addr),
		}

		h.client.Count(fmt.Sprintf("event.%s.cx_open", h.source), 1, tags)

		if latency > 0 {
			h.client.Timing(fmt.Sprintf("latency.%s.cx_open", h.source), latency, tags)
		}
	}()
}

// EmitConnectionClose statsd implementation
func (h *AsyncStatsdConnectionLifecycleHook) EmitConnectionClose(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.cx_close", h.source), 1, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitConnectionError statsd implementation
func (h *AsyncStatsdConnectionLifecycleHook) EmitConnectionError() {
	go h.client.Count(fmt.Sprintf("event.%s.cx_error", h.source), 1, nil)
}

// NewNoopConnectionLifecycleHook creates a noop implementation of ConnectionLifecycleHook.
func NewNoopConnectionLifecycleHook() ConnectionLifecycleHook {
	return &NoopConnectionLifecycleHook{}
}

// EmitConnectionOpen noops.
func (h *NoopConnectionLifecycleHook) EmitConnectionOpen(latency time.Duration, addr net.Addr) {}

// EmitConnectionClose noops.
func (h *NoopConnectionLifecycleHook) EmitConnectionClose(addr net.Addr) {}

// EmitConnectionError noops.
func (h *NoopConnectionLifecycleHook) EmitConnectionError() {}

// NewAsyncStatsdConnectionIOHook creates a new hook with the specified source, statsd address, and
// statsd sample rate. The source denotes the entity with whom the process is performing I/O.
func NewAsyncStatsdConnectionIOHook(source string, addr string, sampleRate float32, version string) (ConnectionIOHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdConnectionIOHook{
		client: client,
		source: source,
	}, nil
}

// EmitRead statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitRead(latency time.Duration, addr net.Addr) {
	go h.client.Timing(fmt.Sprintf("latency.%s.read", h.source), latency, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitReadError statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitReadError(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.read_error", h.source), 1, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitWrite statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitWrite(latency time.Duration, addr net.Addr) {
	go h.client.Timing(fmt.Sprintf("latency.%s.write", h.source), latency, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitWriteError statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitWriteError(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.write_error", h.source), 1, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// NewNoopConnectionIOHook creates a noop implementation of ConnectionIOHook.
func NewNoopConnectionIOHook() ConnectionIOHook {
	return &NoopConnectionIOHook{}
}

// EmitRead noops.
func (h *NoopConnectionIOHook) EmitRead(latency time.Duration, addr net.Addr) {}

// EmitReadError noops.
func (h *NoopConnectionIOHook) EmitReadError(addr net.Addr) {}

// EmitWrite noops.
func (h *NoopConnectionIOHook) EmitWrite(latency time.Duration, addr net.Addr) {}

// EmitWriteError noops.
func (h *NoopConnectionIOHook) EmitWriteError(addr net.Addr) {}

// NewAsyncStatsdResolverHook creates a new hook with the specified statsd address and sample rate.
func NewAsyncStatsdResolverHook(addr string, sampleRate float32, version string) (ResolverHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdResolverHook{client}, nil
}

// EmitRequestSize statsd implementation
func (h *AsyncStatsdResolverHook) EmitRequestSize(bytes int64, client net.Addr) {
	go h.client.Size("size.resolver.request", bytes, map[string]string{
		"addr": ipFromAddr(client),
	})
}

// EmitResolve statsd implementation
func (h *AsyncStatsdResolverHook) EmitResolve(band string, latency time.Duration, client net.Addr) {
	go func() {
		tags := map[string]string{
			"addr": ipFromAddr(client),
			"band": band,
		}

		h.client.Count("event.resolver.resolved", 1, tags)
		h.client.Timing("latency.resolver.tx_rtt", latency, tags)
	}()
}

// EmitReject statsd implementation
func (h *AsyncStatsdResolverHook) EmitReject(client net.Addr) {
	go h.client.Count("event.resolver.rejected", 1, map[string]string{
		"addr": ipFromAddr(client),
	})
}

// EmitError statsd implementation
func (h *AsyncStatsdResolverHook) EmitError() {
	go h.client.Count("event.resolver.error", 1, nil)
}

// NewNoopResolverHook creates a noop implementation of ResolverHook.
func NewNoopResolverHook() ResolverHook {
	return &NoopResolverHook{}
}

// EmitRequestSize noops.
func (h *NoopResolverHook) EmitRequestSize(bytes int64, client net.Addr) {}

// EmitResolve noops.
func (h *NoopResolverHook) EmitResolve(band string, latency time.Duration, client net.Addr) {}

// EmitReject noops.
func (h *NoopResolverHook) EmitReject(client net.Addr) {}

// EmitError noops.
func (h *NoopResolverHook) EmitError() {}

// NewAsyncStatsdSessionHook creates a new hook with the specified statsd address and sample rate.
func NewAsyncStatsdSessionHook(addr string, sampleRate float32, version string) (SessionHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdSessionHook{client}, nil
}

// EmitOutcome statsd implementation
func (h *AsyncStatsdSessionHook) EmitOutcome(outcome string, rtt time.Duration) {
	go func() {
		tags := map[string]string{"outcome": outcome}

		h.client.Count("event.session.outcome", 1, tags)
		h.client.Timing("latency.session.rtt", rtt, tags)
	}()
}

// NewNoopSessionHook creates a noop implementation of SessionHook.
func NewNoopSessionHook() SessionHook {
	return &NoopSessionHook{}
}

// EmitOutcome noops.
func (h *NoopSessionHook) EmitOutcome(outcome string, rtt time.Duration) {}

// ipFromAddr returns the IP address from a full net.Addr, or null if unavailable.
func ipFromAddr(addr net.Addr) string {
	switch networkAddr := addr.(type) {
	case *net.TCPAddr:
		return networkAddr.IP.String()
	case *net.UDPAddr:
		return networkAddr.IP.String()
	default:
		return "null"
	}
}
