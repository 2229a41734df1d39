package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// BookPublisher receives relayed snapshots (pipeline.Orchestrator).
type BookPublisher interface {
	PublishBook(ctx context.Context, snap domain.BookSnapshot) error
}

// BookRelay republishes the snapshots another process mirrors to the bus,
// so a follower serves the leader's book without an upstream connection.
type BookRelay struct {
	bus    domain.SignalBus
	symbol string
	pub    BookPublisher
	logger *slog.Logger
}

func NewBookRelay(bus domain.SignalBus, symbol string, pub BookPublisher, logger *slog.Logger) *BookRelay {
	return &BookRelay{
		bus:    bus,
		symbol: symbol,
		pub:    pub,
		logger: logger.With(slog.String("component", "book_relay"), slog.String("symbol", symbol)),
	}
}

// Run blocks until ctx is done or the subscription ends. Payloads that do
// not decode to a snapshot of the tracked symbol are skipped.
func (r *BookRelay) Run(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx, BookChannel(r.symbol))
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "relaying book from bus")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("redis: book relay subscription closed: %w", domain.ErrTransport)
			}
			var snap domain.BookSnapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				r.logger.Warn("skipping undecodable snapshot", slog.String("error", err.Error()))
				continue
			}
			if snap.Symbol != r.symbol {
				continue
			}
			if err := r.pub.PublishBook(ctx, snap); err != nil {
				return err
			}
		}
	}
}

// SignalTailConfig controls a SignalTail.
type SignalTailConfig struct {
	Interval time.Duration // poll period, default 1s
	Batch    int           // entries per read, default 100
	Keep     int           // signals held for RecentSignals, default 500
}

// SignalTail follows the durable signal stream written by the process that
// runs the strategy. It keeps the latest signals for the status API and
// forwards new ones as they arrive. The backlog present at start is loaded
// without forwarding.
type SignalTail struct {
	bus     domain.SignalBus
	cfg     SignalTailConfig
	forward func(context.Context, domain.Signal)
	logger  *slog.Logger
	lastID  string

	mu     sync.Mutex
	recent []domain.Signal
}

// NewSignalTail creates a tail. forward may be nil.
func NewSignalTail(bus domain.SignalBus, cfg SignalTailConfig, forward func(context.Context, domain.Signal), logger *slog.Logger) *SignalTail {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 500
	}
	return &SignalTail{
		bus:     bus,
		cfg:     cfg,
		forward: forward,
		logger:  logger.With(slog.String("component", "signal_tail")),
		lastID:  "0",
	}
}

// Run polls the stream until ctx is done. Read errors are logged and
// retried on the next tick.
func (t *SignalTail) Run(ctx context.Context) error {
	if err := t.poll(ctx, false); err != nil && ctx.Err() == nil {
		t.logger.Warn("signal backlog read failed", slog.String("error", err.Error()))
	}
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.poll(ctx, true); err != nil && ctx.Err() == nil {
				t.logger.Warn("signal stream read failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (t *SignalTail) poll(ctx context.Context, forward bool) error {
	for {
		msgs, err := t.bus.StreamRead(ctx, SignalStream, t.lastID, t.cfg.Batch)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			t.lastID = m.ID
			var sig domain.Signal
			if err := json.Unmarshal(m.Payload, &sig); err != nil {
				t.logger.Warn("skipping undecodable signal", slog.String("id", m.ID), slog.String("error", err.Error()))
				continue
			}
			t.remember(sig)
			if forward && t.forward != nil {
				t.forward(ctx, sig)
			}
		}
		if len(msgs) < t.cfg.Batch {
			return nil
		}
	}
}

func (t *SignalTail) remember(sig domain.Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recent = append(t.recent, sig)
	if len(t.recent) >= 2*t.cfg.Keep {
		t.recent = append([]domain.Signal(nil), t.recent[len(t.recent)-t.cfg.Keep:]...)
	}
}

// RecentSignals returns up to limit signals, newest first.
func (t *SignalTail) RecentSignals(limit int) []domain.Signal {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := min(len(t.recent), t.cfg.Keep)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Signal, 0, n)
	for i := len(t.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, t.recent[i])
	}
	return out
}
