package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every environment override.
const envPrefix = "LOBFEED_"

// Load merges the TOML file at path over Defaults, then applies .env and
// LOBFEED_* overrides. An empty path skips the file. The result is not
// validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-deploy settings
// without touching the TOML file. Unset or empty variables are ignored.
func applyEnvOverrides(cfg *Config) {
	// ── Alpaca ──
	setStr(&cfg.Alpaca.StreamURL, "ALPACA_STREAM_URL")
	setStr(&cfg.Alpaca.TradingURL, "ALPACA_TRADING_URL")
	setStr(&cfg.Alpaca.APIKey, "ALPACA_API_KEY")
	setStr(&cfg.Alpaca.APISecret, "ALPACA_API_SECRET")
	setStr(&cfg.Alpaca.EncryptedSecretPath, "ALPACA_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Alpaca.SecretPassword, "ALPACA_SECRET_PASSWORD")

	// ── Feed ──
	setStr(&cfg.Feed.Symbol, "FEED_SYMBOL")
	setDuration(&cfg.Feed.Cadence, "FEED_CADENCE")
	setDuration(&cfg.Feed.MaxWait, "FEED_MAX_WAIT")
	setDuration(&cfg.Feed.DuplicateBackoff, "FEED_DUPLICATE_BACKOFF")
	setBool(&cfg.Feed.PublishDeltas, "FEED_PUBLISH_DELTAS")
	setDuration(&cfg.Feed.ReconnectMin, "FEED_RECONNECT_MIN")
	setDuration(&cfg.Feed.ReconnectMax, "FEED_RECONNECT_MAX")
	setInt(&cfg.Feed.MaxAttempts, "FEED_MAX_ATTEMPTS")
	setBool(&cfg.Feed.SingleInstance, "FEED_SINGLE_INSTANCE")
	setBool(&cfg.Feed.FollowLeader, "FEED_FOLLOW_LEADER")

	// ── Book ──
	setInt(&cfg.Book.MaxLevels, "BOOK_MAX_LEVELS")
	setInt(&cfg.Book.TrimEvery, "BOOK_TRIM_EVERY")
	setInt(&cfg.Book.TopN, "BOOK_TOP_N")

	// ── Pipeline ──
	setInt(&cfg.Pipeline.QueueCapacity, "PIPELINE_QUEUE_CAPACITY")
	setStr(&cfg.Pipeline.OverflowPolicy, "PIPELINE_OVERFLOW_POLICY")
	setStr(&cfg.Pipeline.SignalPolicy, "PIPELINE_SIGNAL_POLICY")

	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "STRATEGY_NAME")
	setFloat64(&cfg.Strategy.BuyThreshold, "STRATEGY_BUY_THRESHOLD")
	setFloat64(&cfg.Strategy.Quantity, "STRATEGY_QUANTITY")

	// ── Execution ──
	setBool(&cfg.Execution.DryRun, "EXECUTION_DRY_RUN")
	setFloat64(&cfg.Execution.TickSize, "EXECUTION_TICK_SIZE")
	setFloat64(&cfg.Execution.QtyStep, "EXECUTION_QTY_STEP")
	setStr(&cfg.Execution.TimeInForce, "EXECUTION_TIME_IN_FORCE")
	setDuration(&cfg.Execution.DedupTTL, "EXECUTION_DEDUP_TTL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Replay / recorder ──
	setStr(&cfg.Replay.Storage, "REPLAY_STORAGE")
	setStr(&cfg.Replay.Dir, "REPLAY_DIR")
	setStr(&cfg.Replay.Path, "REPLAY_PATH")
	setDuration(&cfg.Replay.Delay, "REPLAY_DELAY")
	setBool(&cfg.Recorder.Enabled, "RECORDER_ENABLED")
	setStr(&cfg.Recorder.Storage, "RECORDER_STORAGE")
	setStr(&cfg.Recorder.Dir, "RECORDER_DIR")
	setStr(&cfg.Recorder.Path, "RECORDER_PATH")
	setDuration(&cfg.Recorder.FlushInterval, "RECORDER_FLUSH_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

func lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
