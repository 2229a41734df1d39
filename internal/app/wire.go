package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/lobfeed/internal/blob/local"
	s3blob "github.com/alanyoungcy/lobfeed/internal/blob/s3"
	"github.com/alanyoungcy/lobfeed/internal/cache/redis"
	"github.com/alanyoungcy/lobfeed/internal/config"
	"github.com/alanyoungcy/lobfeed/internal/domain"
	"github.com/alanyoungcy/lobfeed/internal/metrics"
	"github.com/alanyoungcy/lobfeed/internal/notify"
	"github.com/alanyoungcy/lobfeed/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes share. Optional
// backends are nil interfaces when disabled. It is constructed by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	Metrics *metrics.Metrics

	// Postgres
	SignalStore domain.SignalStore
	AuditStore  domain.AuditStore

	// Redis
	BookCache   domain.BookCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager

	// Blob storage for recordings, by configured backend
	RecorderBlobs domain.BlobWriter
	ReplayBlobs   domain.BlobReader

	Notifier *notify.Notifier
}

// Wire constructs the concrete infrastructure from cfg and returns it with a
// cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Metrics: metrics.New()}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.SignalStore = postgres.NewSignalStore(pgClient.Pool())
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BookCache = redis.NewBookCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- Blob storage (recorder output, replay input) ---
	var s3Client *s3blob.Client
	s3 := func() (*s3blob.Client, error) {
		if s3Client != nil {
			return s3Client, nil
		}
		c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		s3Client = c
		return c, nil
	}

	if cfg.Recorder.Enabled {
		switch cfg.Recorder.Storage {
		case config.StorageS3:
			c, err := s3()
			if err != nil {
				return fail("s3", err)
			}
			deps.RecorderBlobs = s3blob.NewWriter(c)
		default:
			deps.RecorderBlobs = local.New(cfg.Recorder.Dir)
		}
	}
	if cfg.Mode == config.ModeReplay {
		switch cfg.Replay.Storage {
		case config.StorageS3:
			c, err := s3()
			if err != nil {
				return fail("s3", err)
			}
			deps.ReplayBlobs = s3blob.NewReader(c)
		default:
			deps.ReplayBlobs = local.New(cfg.Replay.Dir)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
