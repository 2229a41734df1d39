package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLive() Config {
	cfg := Defaults()
	cfg.Alpaca.APIKey = "key"
	cfg.Alpaca.APISecret = "secret"
	return cfg
}

func TestDefaults_NeedOnlyCredentials(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is required")

	cfg = validLive()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validLive()
	cfg.Mode = "paper"
	cfg.Feed.Symbol = ""
	cfg.Pipeline.OverflowPolicy = "spill"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "paper"`)
	assert.Contains(t, msg, "feed: symbol must not be empty")
	assert.Contains(t, msg, `unknown overflow_policy "spill"`)
}

func TestValidate_ReplayNeedsNoCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = ModeReplay
	cfg.Replay.Path = "recordings/orderbook.json"
	assert.NoError(t, cfg.Validate())

	cfg.Replay.Storage = StorageS3
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires s3.bucket")
}

func TestValidate_SingleInstanceNeedsRedis(t *testing.T) {
	cfg := validLive()
	cfg.Feed.SingleInstance = true
	require.Error(t, cfg.Validate())

	cfg.Redis.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestValidate_FollowLeader(t *testing.T) {
	cfg := validLive()
	cfg.Redis.Enabled = true
	cfg.Feed.FollowLeader = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "follow_leader requires single_instance")
	assert.Contains(t, err.Error(), "only supported in monitor mode")

	cfg.Feed.SingleInstance = true
	cfg.Mode = ModeMonitor
	assert.NoError(t, cfg.Validate())
}

func TestValidate_BuyThresholdRange(t *testing.T) {
	cfg := validLive()
	cfg.Strategy.BuyThreshold = 0.4
	require.Error(t, cfg.Validate())

	// Monitor mode makes no decisions.
	cfg.Mode = ModeMonitor
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lobfeed.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"

[feed]
symbol = "ETH/USD"
cadence = "250ms"

[strategy]
params = { lookback_window = "1m" }
`), 0o600))

	t.Setenv("LOBFEED_FEED_SYMBOL", "SOL/USD")
	t.Setenv("LOBFEED_BOOK_TOP_N", "5")
	t.Setenv("LOBFEED_NOTIFY_EVENTS", " feed_fatal , ")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeMonitor, cfg.Mode)
	assert.Equal(t, "SOL/USD", cfg.Feed.Symbol)
	assert.Equal(t, 250*time.Millisecond, cfg.Feed.Cadence.Duration)
	assert.Equal(t, 1500*time.Millisecond, cfg.Feed.MaxWait.Duration)
	assert.Equal(t, 5, cfg.Book.TopN)
	assert.Equal(t, []string{"feed_fatal"}, cfg.Notify.Events)
	assert.Equal(t, "1m", cfg.Strategy.Params["lookback_window"])
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Feed.Cadence, cfg.Feed.Cadence)
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[feed]\ncadence = \"soon\"\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestStrategyParams_TypedThresholdIsDefault(t *testing.T) {
	cfg := Defaults()
	cfg.Strategy.BuyThreshold = 0.7
	assert.Equal(t, 0.7, cfg.StrategyParams()["buy_threshold"])

	cfg.Strategy.Params = map[string]any{"buy_threshold": 0.8}
	assert.Equal(t, 0.8, cfg.StrategyParams()["buy_threshold"])
}

func TestRedacted(t *testing.T) {
	cfg := validLive()
	cfg.Postgres.Password = "pw"
	cfg.Notify.Events = []string{"feed_fatal"}

	out := Redacted(&cfg)
	assert.Equal(t, "***", out.Alpaca.APIKey)
	assert.Equal(t, "***", out.Alpaca.APISecret)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Empty(t, out.Redis.Password)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "feed_fatal", cfg.Notify.Events[0])
	assert.Equal(t, "key", cfg.Alpaca.APIKey)
}
