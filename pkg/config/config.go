// Package config holds server configuration, assembled from an optional
// YAML file overridden by command-line flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chainsentry/chainsentry/pkg/duration"
	"github.com/chainsentry/chainsentry/pkg/store"
)

// Config holds all server configuration options.
type Config struct {
	// Listen addresses
	SubscribeAddr string `yaml:"subscribe_addr"` // TCP subscription transport
	APIAddr       string `yaml:"api_addr"`       // HTTP submission/query API
	MetricsAddr   string `yaml:"metrics_addr"`   // Prometheus endpoint, empty disables

	// Pipeline settings
	HistoryCap int           `yaml:"history_cap"`
	Workers    int           `yaml:"workers"`
	StageDelay time.Duration `yaml:"stage_delay"`

	// Demo data settings
	Seed int64 `yaml:"seed"` // 0 derives a seed from the clock

	// Connection housekeeping
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// Tracing
	TraceEndpoint string `yaml:"trace_endpoint"` // OTLP/gRPC, empty disables
	TraceInsecure bool   `yaml:"trace_insecure"`

	// Auth tokens, token → user id
	AuthTokens map[string]string `yaml:"auth_tokens"`

	// Output settings
	LogLevel string `yaml:"log_level"` // debug, info, warn, error
	NoColor  bool   `yaml:"no_color"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		SubscribeAddr:    ":8750",
		APIAddr:          ":8080",
		MetricsAddr:      ":9090",
		HistoryCap:       store.DefaultHistoryCap,
		Workers:          8,
		StageDelay:       duration.StageDelay,
		HeartbeatTimeout: duration.HeartbeatTimeout,
		AuthTokens:       map[string]string{"demo-token": "demo"},
		LogLevel:         "info",
	}
}

// ParseFlags builds a Config from defaults, an optional -config YAML file,
// and command-line flags, in that precedence order.
func ParseFlags(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("chainsentry", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")

	fs.StringVar(&cfg.SubscribeAddr, "subscribe-addr", cfg.SubscribeAddr, "Subscription transport listen address")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "HTTP API listen address")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus listen address (empty disables)")
	fs.IntVar(&cfg.HistoryCap, "history-cap", cfg.HistoryCap, "Maximum retained task records")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent task advancement workers")
	fs.DurationVar(&cfg.StageDelay, "stage-delay", cfg.StageDelay, "Simulated work interval between stages")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Demo data seed (0 = from clock)")
	fs.DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout", cfg.HeartbeatTimeout, "Idle connection eviction timeout")
	fs.StringVar(&cfg.TraceEndpoint, "trace-endpoint", cfg.TraceEndpoint, "OTLP/gRPC collector address (empty disables)")
	fs.BoolVar(&cfg.TraceInsecure, "trace-insecure", cfg.TraceInsecure, "Disable TLS on the trace exporter")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "Disable colored banner output")
	tokens := fs.String("auth-tokens", "", "Comma-separated token=user pairs (overrides file)")

	// First pass finds -config so file values sit under flag overrides.
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *configPath != "" {
		fileCfg := Default()
		if err := loadFile(*configPath, fileCfg); err != nil {
			return nil, err
		}
		cfg = fileCfg
		// Re-parse so explicit flags win over file values.
		fs2 := flag.NewFlagSet("chainsentry", flag.ContinueOnError)
		fs2.String("config", "", "")
		fs2.StringVar(&cfg.SubscribeAddr, "subscribe-addr", cfg.SubscribeAddr, "")
		fs2.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "")
		fs2.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "")
		fs2.IntVar(&cfg.HistoryCap, "history-cap", cfg.HistoryCap, "")
		fs2.IntVar(&cfg.Workers, "workers", cfg.Workers, "")
		fs2.DurationVar(&cfg.StageDelay, "stage-delay", cfg.StageDelay, "")
		fs2.Int64Var(&cfg.Seed, "seed", cfg.Seed, "")
		fs2.DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout", cfg.HeartbeatTimeout, "")
		fs2.StringVar(&cfg.TraceEndpoint, "trace-endpoint", cfg.TraceEndpoint, "")
		fs2.BoolVar(&cfg.TraceInsecure, "trace-insecure", cfg.TraceInsecure, "")
		fs2.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "")
		fs2.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "")
		tokens = fs2.String("auth-tokens", "", "")
		if err := fs2.Parse(args); err != nil {
			return nil, err
		}
	}

	if *tokens != "" {
		parsed, err := parseTokens(*tokens)
		if err != nil {
			return nil, err
		}
		cfg.AuthTokens = parsed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks semantic constraints flag parsing cannot.
func (c *Config) Validate() error {
	if c.SubscribeAddr == "" {
		return fmt.Errorf("%w: subscribe_addr", ErrMissingRequired)
	}
	if c.APIAddr == "" {
		return fmt.Errorf("%w: api_addr", ErrMissingRequired)
	}
	if c.HistoryCap <= 0 {
		return fmt.Errorf("%w: history_cap must be positive", ErrInvalidConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	return nil
}

func loadFile(path string, into *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func parseTokens(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		token, user, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("%w: auth token pair %q", ErrInvalidConfig, pair)
		}
		out[token] = user
	}
	return out, nil
}
