//go:generate go run golang.org/x/tools/cmd/stringer -type=OutcomeKind -linecomment=true

package protocol

import (
	"time"

	"dnsroute/internal/report"
)

// OutcomeKind classifies the result of a single query session.
type OutcomeKind int

const (
	// Resolved sessions received a well-formed reply.
	Resolved OutcomeKind = iota // resolved
	// Rejected sessions were closed by the resolver without a reply.
	Rejected // rejected
	// Failed sessions hit a network, timeout, or protocol error.
	Failed // error
)

// Outcome is the client-side result of one query session.
type Outcome struct {
	Kind     OutcomeKind
	Query    Query
	Header   string
	Response Response
	Err      error
	RTT      time.Duration
}

// Record converts the outcome into a report row. Unresolved queries keep their own header and
// domain and carry report.ErrorMarker in place of an address.
func (o Outcome) Record() report.Record {
	if o.Kind == Resolved {
		return report.Record{
			Header:     o.Response.Header,
			Domain:     o.Response.Domain,
			ResolvedIP: o.Response.ResolvedIP,
		}
	}

	return report.Record{
		Header:     o.Header,
		Domain:     o.Query.Domain,
		ResolvedIP: report.ErrorMarker,
	}
}

// Records converts outcomes into report rows, preserving order.
func Records(outcomes []Outcome) []report.Record {
	records := make([]report.Record, 0, len(outcomes))
	for _, outcome := range outcomes {
		records = append(records, outcome.Record())
	}

	return records
}
