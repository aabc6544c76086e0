package routing

import (
	"fmt"

	"dnsroute/internal/header"
)

// Resolution is the outcome of resolving one header against the rule table.
type Resolution struct {
	Header  header.Header
	Band    Band
	Index   int
	Address string
}

// Engine computes deterministic pool addresses from correlation headers.
type Engine struct {
	table *Table
}

// NewEngine creates an engine over an already validated table.
func NewEngine(table *Table) *Engine {
	return &Engine{table}
}

// Resolve decodes the token, selects the rule for its hour, and returns the pool address at
// ip_pool_start + (sequence_id mod hash_mod). The domain does not participate in the computation.
func (e *Engine) Resolve(token string, domain string) (Resolution, error) {
	decoded, err := header.Decode(token)
	if err != nil {
		return Resolution{}, err
	}

	return e.ResolveHeader(decoded)
}

// ResolveHeader resolves an already decoded header.
func (e *Engine) ResolveHeader(h header.Header) (Resolution, error) {
	rule := e.table.Lookup(h.Hour)
	index := rule.IPPoolStart + h.SequenceID%rule.HashMod

	address, ok := e.table.Pool().At(index)
	if !ok {
		return Resolution{}, fmt.Errorf(
			"%w: band=%s index=%d pool_size=%d",
			ErrIndexOutOfRange,
			rule.Band,
			index,
			len(e.table.Pool()),
		)
	}

	return Resolution{
		Header:  h,
		Band:    rule.Band,
		Index:   index,
		Address: address,
	}, nil
}
