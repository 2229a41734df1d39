package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/lobfeed/internal/book"
	"github.com/alanyoungcy/lobfeed/internal/domain"
	"github.com/alanyoungcy/lobfeed/internal/metrics"
)

// stableAfter is how long a connection must survive before the reconnect
// attempt counter resets.
const stableAfter = 30 * time.Second

// RunnerConfig controls reconnection.
type RunnerConfig struct {
	Session SessionConfig
	Backoff Backoff
	// MaxAttempts caps consecutive failed connections. Zero retries forever.
	MaxAttempts int
}

// Runner owns the feed connection: it dials, runs a Session until it fails,
// and reconnects with exponential backoff. The book outlives connections;
// snapshot deduplication state does not.
type Runner struct {
	cfg     RunnerConfig
	dial    Dialer
	dec     Decoder
	book    *book.Book
	pub     Publisher
	audit   domain.AuditStore
	metrics *metrics.Metrics
	logger  *slog.Logger

	current atomic.Pointer[Session]
}

// NewRunner creates a runner. audit may be nil.
func NewRunner(cfg RunnerConfig, dial Dialer, dec Decoder, b *book.Book, pub Publisher, audit domain.AuditStore, m *metrics.Metrics, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		dial:    dial,
		dec:     dec,
		book:    b,
		pub:     pub,
		audit:   audit,
		metrics: m,
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled or the feed fails permanently. Auth
// failures and exhausted retries publish a fatal event before returning.
func (r *Runner) Run(ctx context.Context) error {
	log := r.logger.With(slog.String("component", "feed_runner"))
	attempt := 0
	for {
		started := time.Now()
		err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}

		if time.Since(started) > stableAfter {
			attempt = 0
		}
		attempt++
		r.auditLog(ctx, "feed_disconnected", map[string]any{"error": err.Error(), "attempt": attempt})

		if errors.Is(err, domain.ErrAuthFailed) || (r.cfg.MaxAttempts > 0 && attempt >= r.cfg.MaxAttempts) {
			log.Error("feed failed permanently", slog.String("error", err.Error()), slog.Int("attempt", attempt))
			r.auditLog(ctx, "feed_fatal", map[string]any{"error": err.Error()})
			if perr := r.pub.PublishFatal(ctx, err); perr != nil {
				log.Warn("publish fatal event failed", slog.String("error", perr.Error()))
			}
			return err
		}

		wait := r.cfg.Backoff.Next(attempt)
		log.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
		)
		r.metrics.Reconnect()
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) error {
	conn, err := r.dial(ctx)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	r.auditLog(ctx, "feed_connected", map[string]any{"symbol": r.cfg.Session.Symbol})
	r.logger.Info("feed connected", slog.String("component", "feed_runner"), slog.String("symbol", r.cfg.Session.Symbol))

	s := NewSession(r.cfg.Session, conn, r.dec, r.book, r.pub, r.metrics, r.logger)
	r.current.Store(s)
	defer r.current.Store(nil)

	return s.Run(ctx)
}

// Session returns the live session, or nil between connections.
func (r *Runner) Session() *Session {
	return r.current.Load()
}

func (r *Runner) auditLog(ctx context.Context, event string, detail map[string]any) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Log(ctx, event, detail); err != nil {
		r.logger.Debug("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
