// Package header implements the fixed-width correlation token (HHMMSSID) that carries the origin
// time of day and a wrapped sequence id from the client to the resolver.
package header

import (
	"errors"
	"fmt"
	"time"
)

// Length is the exact size of an encoded correlation header, in bytes.
const Length = 8

// SequenceWrap is the modulus applied to sequence ids before encoding.
const SequenceWrap = 100

// ErrMalformedHeader is returned when a token is not exactly eight ASCII digits or names an hour
// outside of 00-23.
var ErrMalformedHeader = errors.New("header: malformed correlation header")

// Header is the decoded form of a correlation token.
type Header struct {
	Hour       int
	Minute     int
	Second     int
	SequenceID int
}

// Encode builds the HHMMSSID token from the wall-clock time of origin, in the time's own location,
// and a non-negative sequence id. The sequence id wraps at SequenceWrap.
func Encode(origin time.Time, sequenceID int) string {
	return New(origin, sequenceID).String()
}

// New constructs a Header from an origin time and a sequence id, applying the sequence wrap.
func New(origin time.Time, sequenceID int) Header {
	seq := sequenceID % SequenceWrap
	if seq < 0 {
		seq += SequenceWrap
	}

	return Header{
		Hour:       origin.Hour(),
		Minute:     origin.Minute(),
		Second:     origin.Second(),
		SequenceID: seq,
	}
}

// String encodes the header as its eight-digit token.
func (h Header) String() string {
	return fmt.Sprintf("%02d%02d%02d%02d", h.Hour, h.Minute, h.Second, h.SequenceID)
}

// Decode parses an eight-digit token. Minute and second are carried through as transmitted; only
// the hour is range checked since it drives routing.
func Decode(token string) (Header, error) {
	if len(token) != Length {
		return Header{}, fmt.Errorf("%w: length=%d token=%q", ErrMalformedHeader, len(token), token)
	}

	var fields [4]int
	for i := 0; i < Length; i++ {
		c := token[i]
		if c < '0' || c > '9' {
			return Header{}, fmt.Errorf("%w: non-digit at offset %d: token=%q", ErrMalformedHeader, i, token)
		}

		fields[i/2] = fields[i/2]*10 + int(c-'0')
	}

	if fields[0] > 23 {
		return Header{}, fmt.Errorf("%w: hour out of range: hour=%d", ErrMalformedHeader, fields[0])
	}

	return Header{
		Hour:       fields[0],
		Minute:     fields[1],
		Second:     fields[2],
		SequenceID: fields[3],
	}, nil
}

// FromTimestamp converts fractional Unix seconds into a local wall-clock time.
func FromTimestamp(seconds float64) time.Time {
	whole := int64(seconds)
	nanos := int64((seconds - float64(whole)) * float64(time.Second))

	return time.Unix(whole, nanos).Local()
}
