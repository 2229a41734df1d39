package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// Engine runs the active strategy against each published snapshot. It
// stamps and validates the resulting signals and keeps a short history of
// them for the status server.
type Engine struct {
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	active        Strategy
	recentSignals []domain.Signal
	recentLimit   int
}

// NewEngine creates an Engine with no active strategy.
func NewEngine(registry *Registry, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    registry,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		now:         time.Now,
		recentLimit: 500,
	}
}

// SetActive switches to the strategy registered under name and initialises
// it. The previous strategy, if any, is closed.
func (e *Engine) SetActive(ctx context.Context, name string) error {
	s, err := e.registry.Get(name)
	if err != nil {
		return fmt.Errorf("set active strategy: %w", err)
	}
	if err := s.Init(ctx); err != nil {
		return fmt.Errorf("strategy %s init: %w", name, err)
	}

	e.mu.Lock()
	prev := e.active
	e.active = s
	e.mu.Unlock()

	if prev != nil && prev != s {
		_ = prev.Close()
	}
	e.logger.Info("active strategy changed", slog.String("strategy", name))
	return nil
}

// ActiveName returns the active strategy name, or "" if none is set.
func (e *Engine) ActiveName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return ""
	}
	return e.active.Name()
}

// ListNames returns the names of all registered strategies in sorted order.
func (e *Engine) ListNames() []string {
	return e.registry.List()
}

// Decide feeds snap to the active strategy. Signals that fail validation are
// dropped and logged; the rest are returned with ID, source, sequence and
// timestamps filled in.
func (e *Engine) Decide(ctx context.Context, snap domain.BookSnapshot) ([]domain.Signal, error) {
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()

	if active == nil {
		return nil, fmt.Errorf("no active strategy set")
	}
	signals, err := active.OnBookUpdate(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("strategy %s OnBookUpdate: %w", active.Name(), err)
	}
	if len(signals) == 0 {
		return nil, nil
	}

	out := make([]domain.Signal, 0, len(signals))
	for _, sig := range signals {
		if sig.ID == "" {
			sig.ID = uuid.NewString()
		}
		if sig.Source == "" {
			sig.Source = active.Name()
		}
		if sig.Symbol == "" {
			sig.Symbol = snap.Symbol
		}
		if sig.Sequence == 0 {
			sig.Sequence = snap.Sequence
		}
		if sig.CreatedAt.IsZero() {
			sig.CreatedAt = e.now()
		}
		if err := sig.Validate(); err != nil {
			e.logger.Warn("dropping invalid signal",
				slog.String("strategy", active.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.rememberSignal(sig)
		e.logger.Debug("signal emitted",
			slog.String("signal_id", sig.ID),
			slog.String("source", sig.Source),
			slog.String("action", string(sig.Action)),
		)
		out = append(out, sig)
	}
	return out, nil
}

// RecentSignals returns up to limit most recent emitted signals, newest first.
func (e *Engine) RecentSignals(limit int) []domain.Signal {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recentSignals)
	if limit > n {
		limit = n
	}
	out := make([]domain.Signal, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recentSignals[i])
	}
	return out
}

// Close closes the active strategy.
func (e *Engine) Close() error {
	e.mu.Lock()
	active := e.active
	e.active = nil
	e.mu.Unlock()
	if active == nil {
		return nil
	}
	return active.Close()
}

func (e *Engine) rememberSignal(sig domain.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentSignals = append(e.recentSignals, sig)
	if overflow := len(e.recentSignals) - e.recentLimit; overflow > 0 {
		e.recentSignals = append([]domain.Signal(nil), e.recentSignals[overflow:]...)
	}
}
