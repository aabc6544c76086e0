package meta

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dnsroute/internal/routing"
)

// RuleConfig is the routing parameters for one time band, as written in the rule document.
type RuleConfig struct {
	IPPoolStart *int `yaml:"ip_pool_start"`
	HashMod     *int `yaml:"hash_mod"`
}

// RulesConfig mirrors the rule document. JSON documents parse as well, since JSON is a subset of
// YAML.
type RulesConfig struct {
	TimestampRules *struct {
		TimeBasedRouting map[string]RuleConfig `yaml:"time_based_routing"`
	} `yaml:"timestamp_rules"`
}

// ParseRules reads the rule document at path and builds a table over the default pool.
func ParseRules(path string) (*routing.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: error reading rules: err=%w", err)
	}

	return DecodeRules(data, routing.DefaultPool)
}

// DecodeRules parses a rule document and validates it against pool. Every failure wraps
// routing.ErrConfiguration.
func DecodeRules(data []byte, pool routing.Pool) (*routing.Table, error) {
	var cfg RulesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: rules: error parsing rules: err=%v", routing.ErrConfiguration, err)
	}

	if cfg.TimestampRules == nil || cfg.TimestampRules.TimeBasedRouting == nil {
		return nil, fmt.Errorf("%w: rules: missing timestamp_rules.time_based_routing", routing.ErrConfiguration)
	}

	rules := make([]routing.Rule, 0, len(routing.Bands))

	for name, rule := range cfg.TimestampRules.TimeBasedRouting {
		band, ok := routing.ParseBand(name)
		if !ok {
			return nil, fmt.Errorf("%w: rules: unknown band: band=%s", routing.ErrConfiguration, name)
		}

		if rule.IPPoolStart == nil || rule.HashMod == nil {
			return nil, fmt.Errorf("%w: rules: band requires ip_pool_start and hash_mod: band=%s", routing.ErrConfiguration, name)
		}

		rules = append(rules, routing.Rule{
			Band:        band,
			IPPoolStart: *rule.IPPoolStart,
			HashMod:     *rule.HashMod,
		})
	}

	return routing.NewTable(rules, pool)
}
