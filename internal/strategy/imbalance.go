package strategy

import (
	"context"
	"log/slog"
	"math"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

const (
	defaultBuyThreshold = 0.5995
	defaultQuantity     = 0.001
)

// Imbalance trades the proximity-weighted volume imbalance of the book.
// Each level counts size * (1 - |price-mid|/mid), so levels near the mid
// dominate. A bid share above the buy threshold buys at the best ask, a
// share below 1-threshold sells at the best bid, and anything in between
// closes the open position.
type Imbalance struct {
	symbol       string
	quantity     float64
	buyThreshold float64
	logger       *slog.Logger
}

// NewImbalance reads "buy_threshold" from cfg.Params (default 0.5995).
func NewImbalance(cfg Config, logger *slog.Logger) *Imbalance {
	qty := cfg.Quantity
	if qty <= 0 {
		qty = defaultQuantity
	}
	return &Imbalance{
		symbol:       cfg.Symbol,
		quantity:     qty,
		buyThreshold: cfg.floatParam("buy_threshold", defaultBuyThreshold),
		logger:       logger.With(slog.String("strategy", "imbalance")),
	}
}

// Name returns the strategy identifier.
func (s *Imbalance) Name() string { return "imbalance" }

// Init is a no-op.
func (s *Imbalance) Init(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Imbalance) Close() error { return nil }

// BidShare returns the weighted bid proportion of the snapshot and false if
// it is undefined (no BBO or no weighted volume).
func BidShare(snap domain.BookSnapshot) (float64, bool) {
	if !snap.HasBBO() || snap.MidPrice <= 0 {
		return 0, false
	}
	bidVol := weightedVolume(snap.Bids, snap.MidPrice)
	askVol := weightedVolume(snap.Asks, snap.MidPrice)
	total := bidVol + askVol
	if total == 0 {
		return 0, false
	}
	return bidVol / total, true
}

func weightedVolume(levels []domain.PriceLevel, mid float64) float64 {
	var v float64
	for _, l := range levels {
		v += l.Size * (1 - math.Abs(l.Price-mid)/mid)
	}
	return v
}

// OnBookUpdate emits exactly one signal per snapshot with a defined share.
func (s *Imbalance) OnBookUpdate(_ context.Context, snap domain.BookSnapshot) ([]domain.Signal, error) {
	share, ok := BidShare(snap)
	if !ok {
		return nil, nil
	}

	symbol := s.symbol
	if symbol == "" {
		symbol = snap.Symbol
	}
	sig := domain.Signal{
		Symbol:  symbol,
		BestBid: snap.BestBid.Price,
		BestAsk: snap.BestAsk.Price,
	}

	switch {
	case share > s.buyThreshold:
		sig.Action = domain.ActionBuy
		sig.LimitPrice = snap.BestAsk.Price
		sig.Quantity = s.quantity
	case share < 1-s.buyThreshold:
		sig.Action = domain.ActionSell
		sig.LimitPrice = snap.BestBid.Price
		sig.Quantity = s.quantity
	default:
		// Quantity is resolved from the open position at execution time.
		sig.Action = domain.ActionClose
		sig.LimitPrice = snap.BestAsk.Price
	}

	s.logger.Debug("imbalance signal",
		slog.String("action", string(sig.Action)),
		slog.Float64("bid_share", share),
		slog.Float64("mid", snap.MidPrice),
	)
	return []domain.Signal{sig}, nil
}
