package protocol

import (
	"context"
	"fmt"
	"io"
	"net"

	"lib.kevinlin.info/aperture/lib"

	"dnsroute/internal/metrics"
	"dnsroute/internal/network"
)

// Session performs single query exchanges against a resolver. A Session holds no per-query state
// and may be used by several goroutines at once.
type Session struct {
	Upstream         network.Client
	UpstreamCxIOHook metrics.ConnectionIOHook
	SessionHook      metrics.SessionHook
}

// Exchange sends one query over a fresh connection and classifies the reply. It never returns an
// error: every failure is folded into a Failed outcome so a batch can carry on.
func (s *Session) Exchange(ctx context.Context, query Query) (outcome Outcome) {
	rttTimer := lib.NewStopwatch()
	req := query.Request()

	outcome = Outcome{Query: query, Header: req.Header}

	defer func() {
		outcome.RTT = rttTimer.Elapsed()
		s.SessionHook.EmitOutcome(outcome.Kind.String(), outcome.RTT)
	}()

	fail := func(err error) Outcome {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: session: aborted: err=%w cause=%v", network.ErrNetwork, ctxErr, err)
		}

		outcome.Kind = Failed
		outcome.Err = err
		return outcome
	}

	if err := req.Validate(); err != nil {
		return fail(err)
	}

	/* Open a dedicated connection and bound its lifetime by the context */

	conn, err := s.Upstream.Conn(ctx)
	if err != nil {
		return fail(err)
	}
	defer conn.Close()

	// The connection applies its own per-operation deadlines, so expiry of the context is
	// enforced by closing the connection out from under any blocked read or write.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	/* Send the request and read until the resolver closes the connection */

	if err := s.upstreamWrite(conn, req.Marshal()); err != nil {
		return fail(err)
	}

	raw, err := s.upstreamRead(conn)
	if err != nil {
		return fail(err)
	}

	if len(raw) == 0 {
		outcome.Kind = Rejected
		return outcome
	}

	resp, err := ParseResponse(raw)
	if err != nil {
		return fail(err)
	}

	outcome.Kind = Resolved
	outcome.Response = resp

	return outcome
}

// upstreamWrite writes the full request to the resolver.
func (s *Session) upstreamWrite(conn net.Conn, req []byte) error {
	writeTimer := lib.NewStopwatch()

	n, err := conn.Write(req)
	if err != nil || n != len(req) {
		s.UpstreamCxIOHook.EmitWriteError(conn.RemoteAddr())
		return fmt.Errorf(
			"%w: session: error writing request: expected=%d actual=%d err=%v",
			network.ErrNetwork,
			len(req),
			n,
			err,
		)
	}

	s.UpstreamCxIOHook.EmitWrite(writeTimer.Elapsed(), conn.RemoteAddr())

	return nil
}

// upstreamRead reads the reply until the resolver closes the connection. An empty result means the
// resolver closed without replying.
func (s *Session) upstreamRead(conn net.Conn) ([]byte, error) {
	readTimer := lib.NewStopwatch()

	raw, err := io.ReadAll(io.LimitReader(conn, MaxMessageSize+1))
	if err != nil {
		s.UpstreamCxIOHook.EmitReadError(conn.RemoteAddr())
		return nil, fmt.Errorf("%w: session: error reading response: err=%w", network.ErrNetwork, err)
	}

	if len(raw) > MaxMessageSize {
		s.UpstreamCxIOHook.EmitReadError(conn.RemoteAddr())
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrMalformedResponse, MaxMessageSize)
	}

	s.UpstreamCxIOHook.EmitRead(readTimer.Elapsed(), conn.RemoteAddr())

	return raw, nil
}
