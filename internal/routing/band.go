//go:generate go run golang.org/x/tools/cmd/stringer -type=Band -linecomment=true

package routing

import (
	"strings"
)

// Band is a time-of-day band used to select routing parameters.
type Band int

const (
	// Morning covers hours 04 through 11, inclusive.
	Morning Band = iota // morning
	// Afternoon covers hours 12 through 19, inclusive.
	Afternoon // afternoon
	// Night covers hours 20 through 03, inclusive.
	Night // night
)

// Bands lists every band in declaration order.
var Bands = []Band{Morning, Afternoon, Night}

// BandForHour selects the band containing an hour of day. Hours outside of the morning and
// afternoon ranges fall into the night band.
func BandForHour(hour int) Band {
	switch {
	case hour >= 4 && hour <= 11:
		return Morning
	case hour >= 12 && hour <= 19:
		return Afternoon
	default:
		return Night
	}
}

// ParseBand looks up a Band by its (case-insensitive) name.
func ParseBand(name string) (Band, bool) {
	for _, band := range Bands {
		if strings.EqualFold(name, band.String()) {
			return band, true
		}
	}

	return Night, false
}
