package xevent

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the construction-time configuration for a Bus.
// All fields are optional; zero values fall back to the documented defaults.
type Config struct {
	// Name identifies the bus in notifications and logs (default "xevent").
	Name            string            `koanf:"name"`
	Persistence     PersistenceConfig `koanf:"persistence"`
	DeadLetterQueue DLQSettings       `koanf:"dead_letter_queue"`
	// EnableMetrics maintains the latency/throughput counters behind Stats
	// (default true).
	EnableMetrics bool `koanf:"enable_metrics"`
	// EnableAudit attaches the default logging observer so lifecycle
	// notifications reach the log sink (default true).
	EnableAudit bool `koanf:"enable_audit"`
}

// PersistenceConfig selects and configures the envelope store.
type PersistenceConfig struct {
	Enabled bool `koanf:"enabled"`
	// Provider names a registered store factory: "memory" is built in,
	// adapters register "sqlite" and "redis" on import.
	Provider string         `koanf:"provider"`
	Options  map[string]any `koanf:"options"`
}

// DLQSettings configures the dead-letter queue.
type DLQSettings struct {
	Enabled    bool `koanf:"enabled"`
	MaxRetries int  `koanf:"max_retries"`
	// TTL accepts a duration string ("24h") or integer milliseconds.
	TTL            string `koanf:"ttl"`
	AlertThreshold int    `koanf:"alert_threshold"`
}

// LoadConfig loads configuration from defaults, an optional YAML file, and
// XEVENT_-prefixed environment variables (in that order of precedence,
// later layers overriding earlier ones).
func LoadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"name":                              "xevent",
		"persistence.enabled":               false,
		"persistence.provider":              "memory",
		"dead_letter_queue.enabled":         false,
		"dead_letter_queue.max_retries":     3,
		"dead_letter_queue.ttl":             "24h",
		"dead_letter_queue.alert_threshold": 0,
		"enable_metrics":                    true,
		"enable_audit":                      true,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("xevent: load config %s: %w", configPath, err)
		}
	}

	// XEVENT_DEAD_LETTER_QUEUE__MAX_RETRIES=5 -> dead_letter_queue.max_retries
	if err := k.Load(env.Provider("XEVENT_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "XEVENT_")
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("xevent: load env config: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("xevent: unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ParseTTL parses a DLQ TTL value: a Go duration string or bare milliseconds.
func ParseTTL(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("xevent: invalid ttl %q: %w", s, err)
	}
	return d, nil
}

// FromConfig builds a Bus from a Config, resolving the persistence provider
// through the store factory registry.
func FromConfig(cfg *Config, opts ...func(*BusBuilder)) (*Bus, error) {
	if cfg == nil {
		cfg = &Config{Name: "xevent", EnableMetrics: true, EnableAudit: true}
	}

	bb := NewBusBuilder().WithName(cfg.Name)

	if cfg.Persistence.Enabled {
		provider := cfg.Persistence.Provider
		if provider == "" {
			provider = "memory"
		}
		bb.WithStoreProvider(provider, cfg.Persistence.Options)
	}

	if cfg.DeadLetterQueue.Enabled {
		ttl, err := ParseTTL(cfg.DeadLetterQueue.TTL)
		if err != nil {
			return nil, err
		}
		bb.WithDLQ(DLQConfig{
			MaxRetries:     cfg.DeadLetterQueue.MaxRetries,
			TTL:            ttl,
			AlertThreshold: cfg.DeadLetterQueue.AlertThreshold,
		})
	}

	if !cfg.EnableAudit {
		bb.WithoutAudit()
	}
	if !cfg.EnableMetrics {
		bb.WithoutMetrics()
	}

	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}

	return bb.Build()
}
