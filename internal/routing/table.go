package routing

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when a rule set is incomplete or can index outside of the pool.
	ErrConfiguration = errors.New("routing: invalid routing configuration")

	// ErrIndexOutOfRange is returned when a computed pool index falls outside of the pool.
	ErrIndexOutOfRange = errors.New("routing: pool index out of range")
)

// Rule holds the routing parameters for a single time band.
type Rule struct {
	Band        Band
	IPPoolStart int
	HashMod     int
}

// Table maps every time band to its rule. It is immutable once constructed.
type Table struct {
	rules map[Band]Rule
	pool  Pool
}

// NewTable validates a rule set against a pool and builds a Table. Every band must be present, the
// hash modulus must be positive, and the span [ip_pool_start, ip_pool_start+hash_mod-1] must fit in
// the pool.
func NewTable(rules []Rule, pool Pool) (*Table, error) {
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: empty address pool", ErrConfiguration)
	}

	byBand := make(map[Band]Rule, len(Bands))
	for _, rule := range rules {
		if _, ok := byBand[rule.Band]; ok {
			return nil, fmt.Errorf("%w: duplicate rule: band=%s", ErrConfiguration, rule.Band)
		}

		if rule.HashMod <= 0 {
			return nil, fmt.Errorf(
				"%w: hash_mod must be positive: band=%s hash_mod=%d",
				ErrConfiguration,
				rule.Band,
				rule.HashMod,
			)
		}

		if rule.IPPoolStart < 0 || rule.IPPoolStart >= len(pool) || rule.HashMod > len(pool)-rule.IPPoolStart {
			return nil, fmt.Errorf(
				"%w: rule indexes outside of pool: band=%s ip_pool_start=%d hash_mod=%d pool_size=%d",
				ErrConfiguration,
				rule.Band,
				rule.IPPoolStart,
				rule.HashMod,
				len(pool),
			)
		}

		byBand[rule.Band] = rule
	}

	for _, band := range Bands {
		if _, ok := byBand[band]; !ok {
			return nil, fmt.Errorf("%w: missing rule: band=%s", ErrConfiguration, band)
		}
	}

	return &Table{rules: byBand, pool: append(Pool{}, pool...)}, nil
}

// Lookup returns the rule for the band containing hour.
func (t *Table) Lookup(hour int) Rule {
	return t.rules[BandForHour(hour)]
}

// Pool returns the table's address pool.
func (t *Table) Pool() Pool {
	return t.pool
}
