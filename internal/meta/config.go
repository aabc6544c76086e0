package meta

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultListenAddress is the resolver listening address used when none is configured.
	DefaultListenAddress = "127.0.0.1:9999"

	// DefaultReportPath is the resolver's append-only log when none is configured.
	DefaultReportPath = "resolved_dns.csv"

	// DefaultIOTimeout bounds each listener read and write when no timeout is configured.
	DefaultIOTimeout = 5 * time.Second
)

// ApplicationConfig is a top-level block for application-level meta configuration.
type ApplicationConfig struct {
	SentryDSN string `yaml:"sentry_dsn"`
}

// MetricsConfig is a top-level block for metrics configuration.
type MetricsConfig struct {
	Statsd *struct {
		Address    string  `yaml:"addr"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"statsd"`
}

// ListenerConfig is a top-level block for server listener configuration.
type ListenerConfig struct {
	TCP *struct {
		Address                  string        `yaml:"addr"`
		MaxConcurrentConnections int           `yaml:"max_concurrent_connections"`
		ReadTimeout              time.Duration `yaml:"read_timeout"`
		WriteTimeout             time.Duration `yaml:"write_timeout"`
	} `yaml:"tcp"`
}

// RoutingConfig is a top-level block locating the rule document and tuning the noise filter.
type RoutingConfig struct {
	RulesPath     string   `yaml:"rules_path"`
	NoiseKeywords []string `yaml:"noise_keywords"`
}

// ReportConfig is a top-level block for the resolution log.
type ReportConfig struct {
	Path string `yaml:"path"`
}

// Config describes all resolver configuration options.
type Config struct {
	Application *ApplicationConfig `yaml:"application"`
	Metrics     *MetricsConfig     `yaml:"metrics"`
	Listener    *ListenerConfig    `yaml:"listener"`
	Routing     *RoutingConfig     `yaml:"routing"`
	Report      *ReportConfig      `yaml:"report"`
}

// ParseConfig parses a Config struct instance from a file specified as a path on disk.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: error reading config: err=%w", err)
	}

	var cfg *Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: error parsing config: err=%w", err)
	}

	if cfg == nil {
		return nil, fmt.Errorf("config: empty config: path=%s", path)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ListenAddress is the configured TCP listening address, or DefaultListenAddress.
func (c *Config) ListenAddress() string {
	if c.Listener == nil || c.Listener.TCP == nil || c.Listener.TCP.Address == "" {
		return DefaultListenAddress
	}

	return c.Listener.TCP.Address
}

// ReadTimeout is the configured per-read listener timeout, or DefaultIOTimeout.
func (c *Config) ReadTimeout() time.Duration {
	if c.Listener == nil || c.Listener.TCP == nil || c.Listener.TCP.ReadTimeout == 0 {
		return DefaultIOTimeout
	}

	return c.Listener.TCP.ReadTimeout
}

// WriteTimeout is the configured per-write listener timeout, or DefaultIOTimeout.
func (c *Config) WriteTimeout() time.Duration {
	if c.Listener == nil || c.Listener.TCP == nil || c.Listener.TCP.WriteTimeout == 0 {
		return DefaultIOTimeout
	}

	return c.Listener.TCP.WriteTimeout
}

// MaxConcurrentConnections is the configured listener concurrency bound; zero is unbounded.
func (c *Config) MaxConcurrentConnections() int {
	if c.Listener == nil || c.Listener.TCP == nil {
		return 0
	}

	return c.Listener.TCP.MaxConcurrentConnections
}

// ReportPath is the configured report path, or DefaultReportPath.
func (c *Config) ReportPath() string {
	if c.Report == nil || c.Report.Path == "" {
		return DefaultReportPath
	}

	return c.Report.Path
}

// validate the contents of the configuration. Returns an error if validation failed; nil otherwise.
func (c *Config) validate() error {
	/* Metrics */

	// Users can omit the metrics block entirely to disable metrics reporting.
	if c.Metrics != nil && c.Metrics.Statsd != nil {
		if c.Metrics.Statsd.Address == "" {
			return fmt.Errorf("config: missing metrics statsd address")
		}

		if c.Metrics.Statsd.SampleRate < 0 || c.Metrics.Statsd.SampleRate > 1 {
			return fmt.Errorf("config: statsd sample rate must be in range [0.0, 1.0]")
		}
	}

	/* Listener */

	if c.Listener != nil && c.Listener.TCP != nil {
		if c.Listener.TCP.ReadTimeout < 0 || c.Listener.TCP.WriteTimeout < 0 {
			return fmt.Errorf("config: TCP listener timeouts must not be negative")
		}

		if c.Listener.TCP.MaxConcurrentConnections < 0 {
			return fmt.Errorf("config: TCP listener concurrency must not be negative")
		}
	}

	/* Routing */

	if c.Routing == nil {
		return fmt.Errorf("config: missing top-level routing config key")
	}

	if c.Routing.RulesPath == "" {
		return fmt.Errorf("config: missing routing rules path")
	}

	return nil
}
