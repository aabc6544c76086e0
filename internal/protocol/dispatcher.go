package protocol

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"dnsroute/internal/log"
)

// Dispatcher runs a batch of query sessions.
type Dispatcher struct {
	Session *Session
	Logger  log.Logger
	Opts    DispatcherOpts
}

// DispatcherOpts formalizes configuration options for batch dispatch.
type DispatcherOpts struct {
	// Concurrency is the maximum number of sessions in flight. Values below 1 dispatch one
	// query at a time.
	Concurrency int
	// Timeout bounds each individual session, from dial to the final read. Zero leaves only
	// the per-operation connection timeouts in place.
	Timeout time.Duration
}

// Run dispatches every query and returns one outcome per query, indexed in the same order as
// queries regardless of completion order.
func (d *Dispatcher) Run(ctx context.Context, queries []Query) []Outcome {
	outcomes := make([]Outcome, len(queries))

	concurrency := d.Opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, query := range queries {
		i, query := i, query

		g.Go(func() error {
			outcomes[i] = d.exchange(ctx, query)
			return nil
		})
	}

	g.Wait()

	return outcomes
}

// exchange runs one bounded session and logs its outcome.
func (d *Dispatcher) exchange(ctx context.Context, query Query) Outcome {
	if d.Opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Opts.Timeout)
		defer cancel()
	}

	outcome := d.Session.Exchange(ctx, query)

	switch outcome.Kind {
	case Resolved:
		d.Logger.Info(
			"client: resolved: header=%s domain=%s ip=%s rtt=%v",
			outcome.Response.Header,
			outcome.Response.Domain,
			outcome.Response.ResolvedIP,
			outcome.RTT,
		)
	case Rejected:
		d.Logger.Warn("client: rejected by resolver: header=%s domain=%s", outcome.Header, query.Domain)
	default:
		d.Logger.Error("client: error sending query: header=%s domain=%s err=%v", outcome.Header, query.Domain, outcome.Err)
	}

	return outcome
}
