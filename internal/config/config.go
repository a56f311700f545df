// Package config defines all configuration for the matching-engine server.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via IVX_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Journal JournalConfig `mapstructure:"journal"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds the HTTP listener settings. AllowedOrigins applies to
// WebSocket upgrades; empty means same-origin only, "*" allows any.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig tunes the matching engine.
//
//   - SweepInterval: how often the expiry/retention sweep runs.
//   - TradeRingSize: engine-wide ring of most recent trades.
//   - PairHistoryMax: per-pair trade history cap.
//   - PairHistoryWindow: per-pair trade history age cap and statistics window.
//   - BookDepth: default aggregation depth for book queries and snapshots.
//   - BookUpdateInterval: minimum spacing of order_book_update events per pair.
//   - StatsUpdateInterval: minimum spacing of market_stats_update events per pair.
type EngineConfig struct {
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	TradeRingSize       int           `mapstructure:"trade_ring_size"`
	PairHistoryMax      int           `mapstructure:"pair_history_max"`
	PairHistoryWindow   time.Duration `mapstructure:"pair_history_window"`
	BookDepth           int           `mapstructure:"book_depth"`
	BookUpdateInterval  time.Duration `mapstructure:"book_update_interval"`
	StatsUpdateInterval time.Duration `mapstructure:"stats_update_interval"`
}

// StreamConfig controls the event fan-out layer. QueueSize bounds each
// subscriber's queue; a subscriber that falls this far behind is dropped.
type StreamConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// JournalConfig controls the write-behind journal for accepted orders and
// trades. Mode selects the backend: "off", "file" (append-only JSONL at
// Path) or "http" (batched POSTs to URL).
type JournalConfig struct {
	Mode          string        `mapstructure:"mode"`
	Path          string        `mapstructure:"path"`
	URL           string        `mapstructure:"url"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Buffer        int           `mapstructure:"buffer"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default returns the configuration used when the file omits a key.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Engine: EngineConfig{
			SweepInterval:       60 * time.Second,
			TradeRingSize:       1000,
			PairHistoryMax:      10000,
			PairHistoryWindow:   24 * time.Hour,
			BookDepth:           20,
			BookUpdateInterval:  50 * time.Millisecond,
			StatsUpdateInterval: time.Second,
		},
		Stream: StreamConfig{
			QueueSize: 256,
		},
		Journal: JournalConfig{
			Mode:          "off",
			FlushInterval: time.Second,
			Buffer:        1024,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads config from a YAML file with env var overrides. Keys missing
// from the file keep their Default() values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("IVX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override deployment-specific fields from env
	if addr := os.Getenv("IVX_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if url := os.Getenv("IVX_JOURNAL_URL"); url != "" {
		cfg.Journal.URL = url
	}

	return cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be one of: text, json")
	}
	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("engine.sweep_interval must be > 0")
	}
	if c.Engine.TradeRingSize <= 0 {
		return fmt.Errorf("engine.trade_ring_size must be > 0")
	}
	if c.Engine.PairHistoryMax <= 0 {
		return fmt.Errorf("engine.pair_history_max must be > 0")
	}
	if c.Engine.PairHistoryWindow <= 0 {
		return fmt.Errorf("engine.pair_history_window must be > 0")
	}
	if c.Engine.BookDepth <= 0 {
		return fmt.Errorf("engine.book_depth must be > 0")
	}
	if c.Engine.BookUpdateInterval <= 0 {
		return fmt.Errorf("engine.book_update_interval must be > 0")
	}
	if c.Engine.StatsUpdateInterval <= 0 {
		return fmt.Errorf("engine.stats_update_interval must be > 0")
	}
	if c.Stream.QueueSize <= 0 {
		return fmt.Errorf("stream.queue_size must be > 0")
	}
	switch c.Journal.Mode {
	case "off":
	case "file":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path is required when journal.mode is file")
		}
	case "http":
		if c.Journal.URL == "" {
			return fmt.Errorf("journal.url is required when journal.mode is http (set IVX_JOURNAL_URL)")
		}
	default:
		return fmt.Errorf("journal.mode must be one of: off, file, http")
	}
	if c.Journal.Mode != "off" {
		if c.Journal.FlushInterval <= 0 {
			return fmt.Errorf("journal.flush_interval must be > 0")
		}
		if c.Journal.Buffer <= 0 {
			return fmt.Errorf("journal.buffer must be > 0")
		}
	}
	return nil
}
