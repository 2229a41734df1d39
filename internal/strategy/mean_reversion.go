package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

const (
	defaultStdDevThreshold = 2.0
	defaultLookbackWindow  = "5m"
	defaultMinSamples      = 20
)

// MeanReversion buys when the mid price is significantly below its trailing
// mean and sells when it is significantly above. "Significantly" is measured
// in multiples of the trailing standard deviation.
type MeanReversion struct {
	symbol     string
	quantity   float64
	threshold  float64
	minSamples int
	tracker    *PriceTracker
	logger     *slog.Logger
}

// NewMeanReversion reads these keys from cfg.Params:
//
//   - "lookback_window" (string, parseable by time.ParseDuration), default "5m".
//   - "std_dev_threshold" (float64), default 2.0.
//   - "min_samples" (int), default 20.
func NewMeanReversion(cfg Config, logger *slog.Logger) *MeanReversion {
	window, err := time.ParseDuration(cfg.stringParam("lookback_window", defaultLookbackWindow))
	if err != nil || window <= 0 {
		window = 5 * time.Minute
	}
	qty := cfg.Quantity
	if qty <= 0 {
		qty = defaultQuantity
	}
	return &MeanReversion{
		symbol:     cfg.Symbol,
		quantity:   qty,
		threshold:  cfg.floatParam("std_dev_threshold", defaultStdDevThreshold),
		minSamples: int(cfg.floatParam("min_samples", defaultMinSamples)),
		tracker:    NewPriceTracker(window),
		logger:     logger.With(slog.String("strategy", "mean_reversion")),
	}
}

// Name returns the strategy identifier.
func (mr *MeanReversion) Name() string { return "mean_reversion" }

// Init is a no-op.
func (mr *MeanReversion) Init(_ context.Context) error { return nil }

// Close is a no-op.
func (mr *MeanReversion) Close() error { return nil }

// OnBookUpdate records the mid price and compares it to the window.
func (mr *MeanReversion) OnBookUpdate(_ context.Context, snap domain.BookSnapshot) ([]domain.Signal, error) {
	if !snap.HasBBO() {
		return nil, nil
	}
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	mr.tracker.Track(snap.Symbol, snap.MidPrice, ts)
	if mr.tracker.Len(snap.Symbol) < mr.minSamples {
		return nil, nil
	}

	avg, vol := mr.tracker.Stats(snap.Symbol)
	if vol == 0 {
		return nil, nil
	}
	deviation := (snap.MidPrice - avg) / vol

	symbol := mr.symbol
	if symbol == "" {
		symbol = snap.Symbol
	}
	sig := domain.Signal{
		Symbol:   symbol,
		Quantity: mr.quantity,
		BestBid:  snap.BestBid.Price,
		BestAsk:  snap.BestAsk.Price,
	}
	switch {
	case deviation <= -mr.threshold:
		sig.Action = domain.ActionBuy
		sig.LimitPrice = snap.BestAsk.Price
	case deviation >= mr.threshold:
		sig.Action = domain.ActionSell
		sig.LimitPrice = snap.BestBid.Price
	default:
		return nil, nil
	}

	mr.logger.Info("mean reversion signal",
		slog.String("action", string(sig.Action)),
		slog.Float64("mid", snap.MidPrice),
		slog.Float64("avg", avg),
		slog.Float64("deviation", deviation),
	)
	return []domain.Signal{sig}, nil
}
