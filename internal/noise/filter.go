// Package noise classifies DNS query names that originate from local-network and IoT discovery
// traffic. The same keyword set is used on both sides of the resolution protocol so that the client
// pre-filter and the resolver's defensive filter never disagree.
package noise

import (
	"strings"
)

// DefaultKeywords is the shared set of case-insensitive substrings that mark a domain as noise.
var DefaultKeywords = []string{
	"local",
	"mdns",
	"apple",
	"brother",
	"pdl-datastream",
	"workstation",
	"airplay",
	"arpa",
	"in-addr",
	"localhost",
	"invalid",
}

// Filter is an immutable noise classifier. The zero value is not usable; construct with NewFilter.
type Filter struct {
	keywords []string
}

// NewFilter creates a Filter over DefaultKeywords, optionally extended with extra keywords. Extra
// keywords can only widen the noise policy; the default set is always included. Empty keywords
// are ignored, since they would match every domain.
func NewFilter(extra ...string) *Filter {
	seen := make(map[string]bool)
	var keywords []string

	for _, keyword := range append(append([]string{}, DefaultKeywords...), extra...) {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" || seen[normalized] {
			continue
		}

		seen[normalized] = true
		keywords = append(keywords, normalized)
	}

	return &Filter{keywords}
}

// IsNoise reports whether the domain contains any of the filter's keywords, ignoring case.
func (f *Filter) IsNoise(domain string) bool {
	normalized := strings.ToLower(domain)

	for _, keyword := range f.keywords {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}

	return false
}

// Keywords returns a copy of the keywords the filter matches against.
func (f *Filter) Keywords() []string {
	return append([]string{}, f.keywords...)
}

var defaultFilter = NewFilter()

// IsNoise classifies a domain against DefaultKeywords.
func IsNoise(domain string) bool {
	return defaultFilter.IsNoise(domain)
}
