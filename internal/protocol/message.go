package protocol

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxMessageSize is the largest request or response, in bytes, that either side will read.
	MaxMessageSize = 4096

	// Delimiter separates message fields on the wire.
	Delimiter = "|"
)

var (
	// ErrMalformedRequest is returned when a request does not split into exactly a header and a
	// domain. Domains that themselves contain the delimiter are indistinguishable from corrupt
	// requests and are reported the same way.
	ErrMalformedRequest = errors.New("protocol: malformed request")

	// ErrMalformedResponse is returned when a non-empty reply does not split into exactly a
	// header, a domain, and an address.
	ErrMalformedResponse = errors.New("protocol: malformed response")
)

// Request is the client to resolver message: "<header>|<domain>".
type Request struct {
	Header string
	Domain string
}

// Response is the resolver to client message: "<header>|<domain>|<resolved_ip>".
type Response struct {
	Header     string
	Domain     string
	ResolvedIP string
}

// Marshal serializes the request for the wire.
func (r Request) Marshal() []byte {
	return []byte(r.Header + Delimiter + r.Domain)
}

// Validate checks that the request will survive the resolver's split and size limit.
func (r Request) Validate() error {
	if strings.Contains(r.Header, Delimiter) || strings.Contains(r.Domain, Delimiter) {
		return fmt.Errorf("%w: field contains delimiter: domain=%q", ErrMalformedRequest, r.Domain)
	}

	if size := len(r.Header) + len(Delimiter) + len(r.Domain); size > MaxMessageSize {
		return fmt.Errorf("%w: request too large: bytes=%d max=%d", ErrMalformedRequest, size, MaxMessageSize)
	}

	return nil
}

// ParseRequest splits a raw request into its header and domain.
func ParseRequest(data []byte) (Request, error) {
	parts := strings.Split(string(data), Delimiter)
	if len(parts) != 2 {
		return Request{}, fmt.Errorf("%w: expected 2 fields: fields=%d", ErrMalformedRequest, len(parts))
	}

	return Request{Header: parts[0], Domain: parts[1]}, nil
}

// Marshal serializes the response for the wire.
func (r Response) Marshal() []byte {
	return []byte(strings.Join([]string{r.Header, r.Domain, r.ResolvedIP}, Delimiter))
}

// ParseResponse splits a raw reply into its header, domain, and address.
func ParseResponse(data []byte) (Response, error) {
	parts := strings.Split(string(data), Delimiter)
	if len(parts) != 3 {
		return Response{}, fmt.Errorf("%w: expected 3 fields: fields=%d", ErrMalformedResponse, len(parts))
	}

	return Response{Header: parts[0], Domain: parts[1], ResolvedIP: parts[2]}, nil
}
