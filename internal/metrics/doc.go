// Package metrics contains abstractions for emission of metrics generated by the resolver and the
// client. Currently, the only supported metrics output engine is statsd.
//
// Metrics are generated at various points throughout a single query session. The emissions in this
// package are structured around hooks: a hook interface defines methods that are invoked by the
// server and client logic while serving or sending a query, and implementations of those
// interfaces ship the metrics to a backend engine.
package metrics
