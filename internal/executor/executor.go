// Package executor is the execution stage: it turns validated signals into
// limit orders and records what happened.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lobfeed/internal/domain"
	"github.com/alanyoungcy/lobfeed/internal/metrics"
)

// Order outcomes reported to metrics.
const (
	OutcomePlaced   = "placed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
)

// Skip reasons recorded on executions that sent no order.
const (
	SkipDuplicate = "duplicate"
	SkipFlat      = "flat"
	SkipTooSmall  = "quantity below step"
)

// NotifyOrderFailed is the notifier event type for failed orders.
const NotifyOrderFailed = "order_failed"

// OrderPlacer submits orders and reports positions. It is implemented by
// the Alpaca REST client and by DryRunPlacer.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	GetPosition(ctx context.Context, symbol string) (domain.Position, error)
}

// Alerter is notified when an order fails.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds execution settings.
type Config struct {
	TickSize    float64
	QtyStep     float64
	TimeInForce string
	DedupTTL    time.Duration
}

// Executor implements the pipeline execution stage. Store, alerter and
// metrics are optional.
type Executor struct {
	cfg     Config
	placer  OrderPlacer
	store   domain.SignalStore
	alert   Alerter
	dedup   *Dedup
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Executor.
func New(cfg Config, placer OrderPlacer, store domain.SignalStore, alert Alerter, m *metrics.Metrics, logger *slog.Logger) *Executor {
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = "ioc"
	}
	if cfg.DedupTTL == 0 {
		cfg.DedupTTL = 2 * time.Minute
	}
	return &Executor{
		cfg:     cfg,
		placer:  placer,
		store:   store,
		alert:   alert,
		dedup:   NewDedup(cfg.DedupTTL),
		metrics: m,
		logger:  logger.With(slog.String("component", "executor")),
		now:     time.Now,
	}
}

// Execute acts on one signal. Buy and sell become limit orders at the
// signal's price; close looks up the open position and sends the opposite
// side for its absolute quantity. The returned error is informational: the
// pipeline logs it and moves on to the next signal.
func (e *Executor) Execute(ctx context.Context, sig domain.Signal) error {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("action", string(sig.Action)),
		slog.String("symbol", sig.Symbol),
	)

	exec := domain.Execution{
		SignalID:  sig.ID,
		Action:    sig.Action,
		Symbol:    sig.Symbol,
		CreatedAt: e.now().UTC(),
	}

	if e.dedup.Seen(sig.ID) {
		log.Debug("duplicate signal skipped")
		e.metrics.Order(OutcomeSkipped)
		return nil
	}
	if err := sig.Validate(); err != nil {
		e.metrics.Order(OutcomeRejected)
		exec.Err = err.Error()
		e.record(ctx, exec)
		return fmt.Errorf("executor: %w", err)
	}

	req, skip, err := e.buildRequest(ctx, sig)
	if err != nil {
		e.metrics.Order(OutcomeFailed)
		exec.Err = err.Error()
		e.record(ctx, exec)
		e.notifyFailure(ctx, sig, err)
		return err
	}
	if skip != "" {
		log.Info("no order sent", slog.String("reason", skip))
		e.metrics.Order(OutcomeSkipped)
		exec.Skipped = skip
		e.record(ctx, exec)
		return nil
	}

	res, err := e.placer.PlaceOrder(ctx, req)
	if err != nil {
		outcome := OutcomeFailed
		if errors.Is(err, domain.ErrOrderRejected) {
			outcome = OutcomeRejected
		}
		e.metrics.Order(outcome)
		exec.Err = err.Error()
		e.record(ctx, exec)
		e.notifyFailure(ctx, sig, err)
		return fmt.Errorf("executor: place order: %w", err)
	}

	e.metrics.Order(OutcomePlaced)
	exec.Result = &res
	e.record(ctx, exec)
	log.Info("order placed",
		slog.String("order_id", res.OrderID),
		slog.String("side", string(req.Side)),
		slog.String("qty", req.Quantity),
		slog.String("limit", req.LimitPrice),
		slog.String("status", res.Status),
	)
	return nil
}

// Cleanup expires old dedup entries.
func (e *Executor) Cleanup() {
	if n := e.dedup.Cleanup(); n > 0 {
		e.logger.Debug("dedup entries expired", slog.Int("count", n))
	}
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (e *Executor) RunCleanup(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Cleanup()
		}
	}
}

// buildRequest returns the order for sig, or a non-empty skip reason when no
// order should be sent.
func (e *Executor) buildRequest(ctx context.Context, sig domain.Signal) (domain.OrderRequest, string, error) {
	req := domain.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        sig.Symbol,
		TimeInForce:   e.cfg.TimeInForce,
	}

	qty := sig.Quantity
	switch sig.Action {
	case domain.ActionBuy:
		req.Side = domain.OrderSideBuy
	case domain.ActionSell:
		req.Side = domain.OrderSideSell
	case domain.ActionClose:
		pos, err := e.placer.GetPosition(ctx, sig.Symbol)
		if errors.Is(err, domain.ErrNotFound) {
			return req, SkipFlat, nil
		}
		if err != nil {
			return req, "", fmt.Errorf("executor: get position: %w", err)
		}
		if pos.Quantity == 0 {
			return req, SkipFlat, nil
		}
		req.Side = domain.OrderSideSell
		if pos.Side == "short" || pos.Quantity < 0 {
			req.Side = domain.OrderSideBuy
		}
		qty = math.Abs(pos.Quantity)
	}

	q := RoundDown(decimal.NewFromFloat(qty), e.cfg.QtyStep)
	if !q.IsPositive() {
		return req, SkipTooSmall, nil
	}
	req.Quantity = q.String()
	req.LimitPrice = RoundNearest(decimal.NewFromFloat(sig.LimitPrice), e.cfg.TickSize).String()
	return req, "", nil
}

func (e *Executor) record(ctx context.Context, exec domain.Execution) {
	if e.store == nil {
		return
	}
	if err := e.store.InsertExecution(ctx, exec); err != nil {
		e.logger.Warn("record execution failed",
			slog.String("signal_id", exec.SignalID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) notifyFailure(ctx context.Context, sig domain.Signal, err error) {
	if e.alert == nil {
		return
	}
	msg := fmt.Sprintf("%s %s @ %g: %v", sig.Action, sig.Symbol, sig.LimitPrice, err)
	if nerr := e.alert.Notify(ctx, NotifyOrderFailed, "Order failed", msg); nerr != nil {
		e.logger.Warn("notify failed", slog.String("error", nerr.Error()))
	}
}

// RoundDown truncates v to a multiple of step. A step <= 0 leaves v unchanged.
func RoundDown(v decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return v.Div(s).Floor().Mul(s)
}

// RoundNearest rounds v to the nearest multiple of tick. A tick <= 0 leaves v
// unchanged.
func RoundNearest(v decimal.Decimal, tick float64) decimal.Decimal {
	if tick <= 0 {
		return v
	}
	t := decimal.NewFromFloat(tick)
	return v.Div(t).Round(0).Mul(t)
}
