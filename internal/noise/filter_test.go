package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNoise(t *testing.T) {
	noisy := []string{
		"Apple.local.",
		"apple.local",
		"_airplay._tcp.local",
		"1.0.168.192.in-addr.arpa",
		"BRWC8A3E8.brother.example",
		"_pdl-datastream._tcp",
		"MY-WORKSTATION.lan",
		"_services._dns-sd._udp.mdns",
		"localhost",
		"something.invalid",
	}
	for _, domain := range noisy {
		assert.True(t, IsNoise(domain), "domain=%s", domain)
	}

	clean := []string{
		"example.com",
		"www.google.com",
		"api.github.com",
		"",
	}
	for _, domain := range clean {
		assert.False(t, IsNoise(domain), "domain=%s", domain)
	}
}

func TestNewFilterExtendsDefaults(t *testing.T) {
	filter := NewFilter("Tracker", "", "  ", "local")

	assert.True(t, filter.IsNoise("ads.tracker.net"))
	assert.True(t, filter.IsNoise("printer.local"))
	assert.False(t, filter.IsNoise("example.com"))

	keywords := filter.Keywords()
	assert.Len(t, keywords, len(DefaultKeywords)+1)
	assert.Contains(t, keywords, "tracker")
}

func TestKeywordsReturnsCopy(t *testing.T) {
	filter := NewFilter()

	keywords := filter.Keywords()
	keywords[0] = "example"

	assert.False(t, filter.IsNoise("example.com"))
}
