package executor

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// DryRunPlacer logs orders instead of sending them. It tracks a simulated
// position per symbol, filling every order in full, so close signals behave
// as they would against a real account.
type DryRunPlacer struct {
	logger    *slog.Logger
	mu        sync.Mutex
	positions map[string]float64 // signed quantity
}

// NewDryRunPlacer creates a DryRunPlacer with no open positions.
func NewDryRunPlacer(logger *slog.Logger) *DryRunPlacer {
	return &DryRunPlacer{
		logger:    logger.With(slog.String("component", "dry_run_placer")),
		positions: make(map[string]float64),
	}
}

// PlaceOrder logs req and updates the simulated position.
func (p *DryRunPlacer) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	qty, err := strconv.ParseFloat(req.Quantity, 64)
	if err != nil {
		return domain.OrderResult{}, err
	}
	p.mu.Lock()
	if req.Side == domain.OrderSideSell {
		qty = -qty
	}
	p.positions[req.Symbol] += qty
	p.mu.Unlock()

	p.logger.Info("dry run order",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("qty", req.Quantity),
		slog.String("limit", req.LimitPrice),
		slog.String("tif", req.TimeInForce),
	)
	return domain.OrderResult{
		OrderID:       "dry-" + uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Status:        "filled",
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		LimitPrice:    req.LimitPrice,
		SubmittedAt:   time.Now().UTC(),
	}, nil
}

// GetPosition returns the simulated position, or domain.ErrNotFound when
// flat.
func (p *DryRunPlacer) GetPosition(_ context.Context, symbol string) (domain.Position, error) {
	p.mu.Lock()
	qty := p.positions[symbol]
	p.mu.Unlock()

	if qty == 0 {
		return domain.Position{}, domain.ErrNotFound
	}
	side := "long"
	if qty < 0 {
		side = "short"
	}
	return domain.Position{Symbol: symbol, Side: side, Quantity: qty}, nil
}
