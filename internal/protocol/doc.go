// Package protocol implements the query session protocol spoken between the client and the
// resolver: one connection per query, a single pipe-delimited request, and either a single
// pipe-delimited reply or a silent close when the query is rejected as noise.
//
// The resolver side is ResolverHandler, a network.ServerHandler. The client side is Session, which
// performs one exchange, and Dispatcher, which runs a batch of exchanges with bounded parallelism
// while preserving capture order in its results.
package protocol
