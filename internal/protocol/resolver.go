package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/getsentry/raven-go"
	"lib.kevinlin.info/aperture/lib"

	"dnsroute/internal/log"
	"dnsroute/internal/metrics"
	"dnsroute/internal/network"
	"dnsroute/internal/noise"
	"dnsroute/internal/report"
	"dnsroute/internal/routing"
)

// ResolverHandler is the server handler that serves exactly one query per connection: it reads the
// request, drops noise silently, resolves everything else against the routing engine, replies, and
// records the result.
type ResolverHandler struct {
	Engine         *routing.Engine
	Filter         *noise.Filter
	Sink           report.Sink
	ClientCxIOHook metrics.ConnectionIOHook
	ResolverHook   metrics.ResolverHook
	Logger         log.Logger
	Opts           ResolverOpts
}

// ResolverOpts formalizes configuration options for the resolver handler.
type ResolverOpts struct {
	// ReportErrors forwards every consumed error to Sentry. It should only be enabled once a
	// DSN has been configured.
	ReportErrors bool
}

// ConsumeError logs a failed session and reports it.
func (h *ResolverHandler) ConsumeError(ctx context.Context, err error) {
	h.Logger.Error("%v", err)
	h.ResolverHook.EmitError()

	if h.Opts.ReportErrors {
		raven.CaptureError(err, map[string]string{
			"connection_id": strconv.FormatUint(network.ConnectionID(ctx), 10),
		})
	}
}

// Handle runs a single query session on the accepted connection. The caller closes the connection
// once Handle returns, on every path.
func (h *ResolverHandler) Handle(ctx context.Context, conn net.Conn) error {
	rttTimer := lib.NewStopwatch()
	id := network.ConnectionID(ctx)

	/* Read the request from the client */

	raw, err := h.clientRead(conn)
	if errors.Is(err, io.EOF) {
		h.Logger.Debug("resolver: client closed without sending a request: conn=%d", id)
		return nil
	}
	if err != nil {
		return err
	}

	h.ResolverHook.EmitRequestSize(int64(len(raw)), conn.RemoteAddr())

	req, err := ParseRequest(raw)
	if err != nil {
		return fmt.Errorf("resolver: rejecting request: conn=%d remote=%v err=%w", id, conn.RemoteAddr(), err)
	}

	/* Drop noise without replying */

	if h.Filter.IsNoise(req.Domain) {
		h.Logger.Info("resolver: filtered noisy domain: conn=%d domain=%s", id, req.Domain)
		h.ResolverHook.EmitReject(conn.RemoteAddr())
		return nil
	}

	/* Resolve, reply, and record */

	resolution, err := h.Engine.Resolve(req.Header, req.Domain)
	if err != nil {
		return fmt.Errorf(
			"resolver: error resolving request: conn=%d header=%q domain=%s err=%w",
			id,
			req.Header,
			req.Domain,
			err,
		)
	}

	resp := Response{Header: req.Header, Domain: req.Domain, ResolvedIP: resolution.Address}
	if err := h.clientWrite(conn, resp.Marshal()); err != nil {
		return err
	}

	if err := h.Sink.Append(report.Record{
		Header:     resp.Header,
		Domain:     resp.Domain,
		ResolvedIP: resp.ResolvedIP,
	}); err != nil {
		return fmt.Errorf("resolver: error recording resolution: conn=%d err=%w", id, err)
	}

	h.Logger.Info(
		"resolver: resolved: conn=%d domain=%s header=%s band=%s ip=%s",
		id,
		resp.Domain,
		resp.Header,
		resolution.Band,
		resp.ResolvedIP,
	)
	h.ResolverHook.EmitResolve(resolution.Band.String(), rttTimer.Elapsed(), conn.RemoteAddr())

	return nil
}

// clientRead reads a single buffered chunk from the client. An io.EOF is only returned when the
// client closed without sending anything.
func (h *ResolverHandler) clientRead(conn net.Conn) ([]byte, error) {
	clientReadTimer := lib.NewStopwatch()
	buf := make([]byte, MaxMessageSize)

	n, err := conn.Read(buf)
	if n > 0 {
		h.ClientCxIOHook.EmitRead(clientReadTimer.Elapsed(), conn.RemoteAddr())
		return buf[:n], nil
	}

	if err == nil || errors.Is(err, io.EOF) {
		return nil, io.EOF
	}

	h.ClientCxIOHook.EmitReadError(conn.RemoteAddr())

	return nil, fmt.Errorf("%w: resolver: error reading request from client: remote=%v err=%w", network.ErrNetwork, conn.RemoteAddr(), err)
}

// clientWrite writes the reply back to the client.
func (h *ResolverHandler) clientWrite(conn net.Conn, resp []byte) error {
	clientWriteTimer := lib.NewStopwatch()

	n, err := conn.Write(resp)
	if err != nil {
		h.ClientCxIOHook.EmitWriteError(conn.RemoteAddr())
		return fmt.Errorf("%w: resolver: error writing response to client: remote=%v err=%w", network.ErrNetwork, conn.RemoteAddr(), err)
	}

	if n != len(resp) {
		h.ClientCxIOHook.EmitWriteError(conn.RemoteAddr())
		return fmt.Errorf(
			"%w: resolver: failed writing response bytes to client: expected=%d actual=%d",
			network.ErrNetwork,
			len(resp),
			n,
		)
	}

	h.ClientCxIOHook.EmitWrite(clientWriteTimer.Elapsed(), conn.RemoteAddr())

	return nil
}
