// Package routing contains the time-of-day rule table and the resolution engine that maps a
// correlation header onto a synthetic address from a fixed pool.
//
// A table is built once from validated rules and is read-only afterwards, so a single Engine may be
// shared by any number of concurrent connection handlers without synchronization.
package routing
