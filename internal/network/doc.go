// Package network contains abstractions for communicating with other machines over the network. It
// provides a TCP server that hands each accepted connection to an independent handler, and TCP
// clients that dial a fresh connection for every query, optionally sharded across several resolver
// endpoints.
package network
