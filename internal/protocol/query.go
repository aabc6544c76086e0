package protocol

import (
	"time"

	"dnsroute/internal/capture"
	"dnsroute/internal/header"
	"dnsroute/internal/noise"
)

// Query is a clean query ready to be sent, positioned by its sequence id among clean queries.
type Query struct {
	Domain     string
	OriginTime time.Time
	SequenceID int
}

// Header encodes the query's correlation header.
func (q Query) Header() string {
	return header.Encode(q.OriginTime, q.SequenceID)
}

// Request builds the wire request for the query.
func (q Query) Request() Request {
	return Request{Header: q.Header(), Domain: q.Domain}
}

// Sequence drops noise from observations and assigns 0-based sequence ids to the remaining queries
// in capture order. Noise never consumes a sequence id.
func Sequence(observations []capture.Observation, filter *noise.Filter) []Query {
	var queries []Query

	for _, observation := range observations {
		if filter.IsNoise(observation.Domain) {
			continue
		}

		queries = append(queries, Query{
			Domain:     observation.Domain,
			OriginTime: observation.Time,
			SequenceID: len(queries),
		})
	}

	return queries
}
