package routing

// Pool is an ordered, read-only sequence of IPv4 literals that resolutions index into.
type Pool []string

// DefaultPool is the process-wide fifteen address pool.
var DefaultPool = Pool{
	"192.168.1.1", "192.168.1.2", "192.168.1.3", "192.168.1.4", "192.168.1.5",
	"192.168.1.6", "192.168.1.7", "192.168.1.8", "192.168.1.9", "192.168.1.10",
	"192.168.1.11", "192.168.1.12", "192.168.1.13", "192.168.1.14", "192.168.1.15",
}

// At returns the address at index, or false if the index is outside of the pool.
func (p Pool) At(index int) (string, bool) {
	if index < 0 || index >= len(p) {
		return "", false
	}

	return p[index], true
}
