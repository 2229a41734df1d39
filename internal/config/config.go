// Package config defines the lobfeed configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Modes.
const (
	ModeLive    = "live"    // feed, strategy and order execution
	ModeMonitor = "monitor" // feed and sinks only, no decisions
	ModeReplay  = "replay"  // recorded snapshots through the strategy
)

// Storage backends for recordings.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by LOBFEED_* environment variables.
type Config struct {
	Alpaca    AlpacaConfig    `toml:"alpaca"`
	Feed      FeedConfig      `toml:"feed"`
	Book      BookConfig      `toml:"book"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Execution ExecutionConfig `toml:"execution"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Replay    ReplayConfig    `toml:"replay"`
	Recorder  RecorderConfig  `toml:"recorder"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// AlpacaConfig holds the market data stream and trading API settings. The
// secret may be given in plain text or as a file sealed with
// crypto.EncryptSecret.
type AlpacaConfig struct {
	StreamURL           string `toml:"stream_url"`
	TradingURL          string `toml:"trading_url"`
	APIKey              string `toml:"api_key"`
	APISecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
}

// FeedConfig drives the subscription cycle and reconnects.
type FeedConfig struct {
	Symbol           string   `toml:"symbol"`
	Cadence          Duration `toml:"cadence"`
	MaxWait          Duration `toml:"max_wait"`
	DuplicateBackoff Duration `toml:"duplicate_backoff"`
	PublishDeltas    bool     `toml:"publish_deltas"`
	ReconnectMin     Duration `toml:"reconnect_min"`
	ReconnectMax     Duration `toml:"reconnect_max"`
	MaxAttempts      int      `toml:"max_attempts"` // 0 = retry forever
	// SingleInstance takes a Redis lock per symbol so only one process
	// holds the upstream subscription. Requires redis.enabled.
	SingleInstance bool `toml:"single_instance"`
	// FollowLeader lets a monitor whose lock is held elsewhere relay the
	// holder's snapshots from the Redis bus instead of failing.
	FollowLeader bool `toml:"follow_leader"`
}

// BookConfig bounds the ladders and the published depth.
type BookConfig struct {
	MaxLevels int `toml:"max_levels"` // 0 disables trimming
	TrimEvery int `toml:"trim_every"`
	TopN      int `toml:"top_n"` // levels per side in snapshots; 0 = all
}

// PipelineConfig sizes the stage queues.
type PipelineConfig struct {
	QueueCapacity  int    `toml:"queue_capacity"` // 0 = unbounded
	OverflowPolicy string `toml:"overflow_policy"`
	SignalPolicy   string `toml:"signal_policy"`
}

// StrategyConfig selects and parameterises the decision stage.
type StrategyConfig struct {
	Name         string         `toml:"name"`
	BuyThreshold float64        `toml:"buy_threshold"`
	Quantity     float64        `toml:"quantity"`
	Params       map[string]any `toml:"params"`
}

// ExecutionConfig controls order placement.
type ExecutionConfig struct {
	DryRun      bool     `toml:"dry_run"`
	TickSize    float64  `toml:"tick_size"`
	QtyStep     float64  `toml:"qty_step"`
	TimeInForce string   `toml:"time_in_force"`
	DedupTTL    Duration `toml:"dedup_ttl"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ReplayConfig selects the recording replayed in replay mode.
type ReplayConfig struct {
	Storage string   `toml:"storage"`
	Dir     string   `toml:"dir"` // root for local storage
	Path    string   `toml:"path"`
	Delay   Duration `toml:"delay"`
}

// RecorderConfig controls the snapshot recorder sink.
type RecorderConfig struct {
	Enabled       bool     `toml:"enabled"`
	Storage       string   `toml:"storage"`
	Dir           string   `toml:"dir"`
	Path          string   `toml:"path"`
	FlushInterval Duration `toml:"flush_interval"`
	MaxRecords    int      `toml:"max_records"`
}

// ServerConfig holds the status server settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"` // empty disables auth
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Duration decodes TOML strings such as "1s" or "1500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with working defaults for a paper
// trading account.
func Defaults() Config {
	return Config{
		Alpaca: AlpacaConfig{
			StreamURL:  "wss://stream.data.alpaca.markets/v1beta3/crypto/us",
			TradingURL: "https://paper-api.alpaca.markets",
		},
		Feed: FeedConfig{
			Symbol:           "BTC/USD",
			Cadence:          Duration{time.Second},
			MaxWait:          Duration{1500 * time.Millisecond},
			DuplicateBackoff: Duration{200 * time.Millisecond},
			ReconnectMin:     Duration{2 * time.Second},
			ReconnectMax:     Duration{time.Minute},
		},
		Book: BookConfig{
			MaxLevels: 100,
			TrimEvery: 10,
			TopN:      20,
		},
		Pipeline: PipelineConfig{
			QueueCapacity:  1024,
			OverflowPolicy: "drop_oldest",
			SignalPolicy:   "block",
		},
		Strategy: StrategyConfig{
			Name:         "imbalance",
			BuyThreshold: 0.5995,
			Quantity:     0.001,
			Params:       map[string]any{},
		},
		Execution: ExecutionConfig{
			DryRun:      true,
			TickSize:    0.01,
			QtyStep:     0.000001,
			TimeInForce: "ioc",
			DedupTTL:    Duration{2 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "lobfeed:",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "lobfeed",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Replay: ReplayConfig{
			Storage: StorageLocal,
			Dir:     "data",
			Delay:   Duration{time.Second},
		},
		Recorder: RecorderConfig{
			Storage:       StorageLocal,
			Dir:           "data",
			Path:          "recordings/orderbook.json",
			FlushInterval: Duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"feed_fatal", "order_failed"},
		},
		Mode:     ModeLive,
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	ModeLive:    true,
	ModeMonitor: true,
	ModeReplay:  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPolicies = map[string]bool{
	"block":       true,
	"drop_oldest": true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[c.Mode] {
		add("unknown mode %q (valid: live, monitor, replay)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// The market data stream needs credentials in both streaming modes.
	if c.Mode == ModeLive || c.Mode == ModeMonitor {
		if c.Alpaca.StreamURL == "" {
			add("alpaca: stream_url must not be empty")
		}
		if c.Alpaca.APIKey == "" {
			add("alpaca: api_key is required for mode %s", c.Mode)
		}
		if c.Alpaca.APISecret == "" && c.Alpaca.EncryptedSecretPath == "" {
			add("alpaca: either api_secret or encrypted_secret_path must be set for mode %s", c.Mode)
		}
		if c.Alpaca.EncryptedSecretPath != "" && c.Alpaca.SecretPassword == "" {
			add("alpaca: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Mode == ModeLive && !c.Execution.DryRun && c.Alpaca.TradingURL == "" {
		add("alpaca: trading_url must not be empty when execution.dry_run is false")
	}

	if c.Feed.Symbol == "" {
		add("feed: symbol must not be empty")
	}
	if c.Feed.Cadence.Duration <= 0 {
		add("feed: cadence must be > 0")
	}
	if c.Feed.MaxWait.Duration <= 0 {
		add("feed: max_wait must be > 0")
	}
	if c.Feed.DuplicateBackoff.Duration < 0 {
		add("feed: duplicate_backoff must be >= 0")
	}
	if c.Feed.ReconnectMin.Duration <= 0 || c.Feed.ReconnectMax.Duration < c.Feed.ReconnectMin.Duration {
		add("feed: need 0 < reconnect_min <= reconnect_max")
	}
	if c.Feed.MaxAttempts < 0 {
		add("feed: max_attempts must be >= 0")
	}
	if c.Feed.SingleInstance && !c.Redis.Enabled {
		add("feed: single_instance requires redis.enabled")
	}
	if c.Feed.FollowLeader && !c.Feed.SingleInstance {
		add("feed: follow_leader requires single_instance")
	}
	if c.Feed.FollowLeader && c.Mode != ModeMonitor {
		add("feed: follow_leader is only supported in monitor mode")
	}

	if c.Book.MaxLevels < 0 {
		add("book: max_levels must be >= 0")
	}
	if c.Book.TrimEvery < 0 {
		add("book: trim_every must be >= 0")
	}
	if c.Book.MaxLevels > 0 && c.Book.TrimEvery == 0 {
		add("book: trim_every must be > 0 when max_levels is set")
	}
	if c.Book.TopN < 0 {
		add("book: top_n must be >= 0")
	}

	if c.Pipeline.QueueCapacity < 0 {
		add("pipeline: queue_capacity must be >= 0")
	}
	if !validPolicies[c.Pipeline.OverflowPolicy] {
		add("pipeline: unknown overflow_policy %q (valid: block, drop_oldest)", c.Pipeline.OverflowPolicy)
	}
	if !validPolicies[c.Pipeline.SignalPolicy] {
		add("pipeline: unknown signal_policy %q (valid: block, drop_oldest)", c.Pipeline.SignalPolicy)
	}

	if c.Mode != ModeMonitor {
		if c.Strategy.Name == "" {
			add("strategy: name must not be empty")
		}
		if c.Strategy.BuyThreshold <= 0.5 || c.Strategy.BuyThreshold >= 1 {
			add("strategy: buy_threshold must be in (0.5, 1), got %g", c.Strategy.BuyThreshold)
		}
		if c.Strategy.Quantity <= 0 {
			add("strategy: quantity must be > 0")
		}
	}

	if c.Execution.TickSize < 0 || c.Execution.QtyStep < 0 {
		add("execution: tick_size and qty_step must be >= 0")
	}
	switch c.Execution.TimeInForce {
	case "ioc", "gtc", "day", "fok":
	default:
		add("execution: unknown time_in_force %q", c.Execution.TimeInForce)
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: need 0 <= pool_min_conns <= pool_max_conns")
		}
	}

	if c.Mode == ModeReplay {
		if c.Replay.Path == "" {
			add("replay: path must not be empty in replay mode")
		}
		c.validateStorage("replay", c.Replay.Storage, add)
	}
	if c.Recorder.Enabled {
		if c.Recorder.Path == "" {
			add("recorder: path must not be empty")
		}
		if c.Recorder.FlushInterval.Duration <= 0 {
			add("recorder: flush_interval must be > 0")
		}
		c.validateStorage("recorder", c.Recorder.Storage, add)
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateStorage(section, storage string, add func(string, ...any)) {
	switch storage {
	case StorageLocal:
	case StorageS3:
		if c.S3.Bucket == "" {
			add("%s: s3 storage requires s3.bucket", section)
		}
		if c.S3.Region == "" {
			add("%s: s3 storage requires s3.region", section)
		}
	default:
		add("%s: unknown storage %q (valid: local, s3)", section, storage)
	}
}

// StrategyParams merges the typed strategy settings into the free-form
// params map handed to strategy constructors.
func (c *Config) StrategyParams() map[string]any {
	out := make(map[string]any, len(c.Strategy.Params)+1)
	for k, v := range c.Strategy.Params {
		out[k] = v
	}
	if _, ok := out["buy_threshold"]; !ok {
		out["buy_threshold"] = c.Strategy.BuyThreshold
	}
	return out
}
