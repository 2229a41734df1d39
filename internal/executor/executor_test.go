package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePlacer struct {
	mu       sync.Mutex
	orders   []domain.OrderRequest
	position domain.Position
	posErr   error
	placeErr error
}

func (f *fakePlacer) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return domain.OrderResult{}, f.placeErr
	}
	f.orders = append(f.orders, req)
	return domain.OrderResult{OrderID: fmt.Sprintf("o%d", len(f.orders)), Status: "accepted", Side: req.Side}, nil
}

func (f *fakePlacer) GetPosition(_ context.Context, symbol string) (domain.Position, error) {
	if f.posErr != nil {
		return domain.Position{}, f.posErr
	}
	p := f.position
	p.Symbol = symbol
	return p, nil
}

type memStore struct {
	mu    sync.Mutex
	execs []domain.Execution
}

func (s *memStore) InsertSignal(context.Context, domain.Signal) error { return nil }
func (s *memStore) ListRecent(context.Context, string, int) ([]domain.Signal, error) {
	return nil, nil
}
func (s *memStore) InsertExecution(_ context.Context, e domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, e)
	return nil
}

type recordingAlerter struct{ events []string }

func (a *recordingAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.events = append(a.events, event)
	return nil
}

func signal(id string, action domain.Action, price, qty float64) domain.Signal {
	return domain.Signal{ID: id, Source: "test", Action: action, Symbol: "BTC/USD", LimitPrice: price, Quantity: qty}
}

func TestExecute_BuyRoundsToTickAndStep(t *testing.T) {
	placer := &fakePlacer{}
	store := &memStore{}
	ex := New(Config{TickSize: 0.5, QtyStep: 0.001}, placer, store, nil, nil, discardLogger())

	require.NoError(t, ex.Execute(context.Background(), signal("s1", domain.ActionBuy, 100.26, 0.0019)))

	require.Len(t, placer.orders, 1)
	req := placer.orders[0]
	assert.Equal(t, domain.OrderSideBuy, req.Side)
	assert.Equal(t, "100.5", req.LimitPrice)
	assert.Equal(t, "0.001", req.Quantity)
	assert.Equal(t, "ioc", req.TimeInForce)
	assert.NotEmpty(t, req.ClientOrderID)

	require.Len(t, store.execs, 1)
	require.NotNil(t, store.execs[0].Result)
	assert.Equal(t, "o1", store.execs[0].Result.OrderID)
}

func TestExecute_SellUsesBidSide(t *testing.T) {
	placer := &fakePlacer{}
	ex := New(Config{}, placer, nil, nil, nil, discardLogger())

	require.NoError(t, ex.Execute(context.Background(), signal("s1", domain.ActionSell, 99.9, 0.001)))
	require.Len(t, placer.orders, 1)
	assert.Equal(t, domain.OrderSideSell, placer.orders[0].Side)
	assert.Equal(t, "99.9", placer.orders[0].LimitPrice)
}

func TestExecute_CloseLongSellsAbsQuantity(t *testing.T) {
	placer := &fakePlacer{position: domain.Position{Side: "long", Quantity: 0.003}}
	ex := New(Config{}, placer, nil, nil, nil, discardLogger())

	require.NoError(t, ex.Execute(context.Background(), signal("s1", domain.ActionClose, 100.1, 0)))
	require.Len(t, placer.orders, 1)
	assert.Equal(t, domain.OrderSideSell, placer.orders[0].Side)
	assert.Equal(t, "0.003", placer.orders[0].Quantity)
}

func TestExecute_CloseShortBuys(t *testing.T) {
	placer := &fakePlacer{position: domain.Position{Side: "short", Quantity: -0.002}}
	ex := New(Config{}, placer, nil, nil, nil, discardLogger())

	require.NoError(t, ex.Execute(context.Background(), signal("s1", domain.ActionClose, 100.1, 0)))
	require.Len(t, placer.orders, 1)
	assert.Equal(t, domain.OrderSideBuy, placer.orders[0].Side)
	assert.Equal(t, "0.002", placer.orders[0].Quantity)
}

func TestExecute_CloseWhenFlatIsNoop(t *testing.T) {
	placer := &fakePlacer{posErr: domain.ErrNotFound}
	store := &memStore{}
	ex := New(Config{}, placer, store, nil, nil, discardLogger())

	require.NoError(t, ex.Execute(context.Background(), signal("s1", domain.ActionClose, 100.1, 0)))
	assert.Empty(t, placer.orders)
	require.Len(t, store.execs, 1)
	assert.Equal(t, SkipFlat, store.execs[0].Skipped)
}

func TestExecute_DuplicateSignalIgnored(t *testing.T) {
	placer := &fakePlacer{}
	ex := New(Config{}, placer, nil, nil, nil, discardLogger())

	sig := signal("same", domain.ActionBuy, 100, 1)
	require.NoError(t, ex.Execute(context.Background(), sig))
	require.NoError(t, ex.Execute(context.Background(), sig))
	assert.Len(t, placer.orders, 1)
}

func TestExecute_QuantityBelowStepSkipped(t *testing.T) {
	placer := &fakePlacer{}
	ex := New(Config{QtyStep: 0.01}, placer, nil, nil, nil, discardLogger())

	require.NoError(t, ex.Execute(context.Background(), signal("s1", domain.ActionBuy, 100, 0.001)))
	assert.Empty(t, placer.orders)
}

func TestExecute_FailureNotifiesAndRecords(t *testing.T) {
	placer := &fakePlacer{placeErr: fmt.Errorf("wrap: %w", domain.ErrOrderRejected)}
	store := &memStore{}
	alert := &recordingAlerter{}
	ex := New(Config{}, placer, store, alert, nil, discardLogger())

	err := ex.Execute(context.Background(), signal("s1", domain.ActionBuy, 100, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOrderRejected))
	assert.Equal(t, []string{NotifyOrderFailed}, alert.events)
	require.Len(t, store.execs, 1)
	assert.NotEmpty(t, store.execs[0].Err)
}

func TestExecute_InvalidSignal(t *testing.T) {
	placer := &fakePlacer{}
	ex := New(Config{}, placer, nil, nil, nil, discardLogger())

	err := ex.Execute(context.Background(), signal("s1", domain.ActionBuy, 0, 1))
	assert.ErrorIs(t, err, domain.ErrInvalidSignal)
	assert.Empty(t, placer.orders)
}

func TestDedup_Expiry(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	assert.False(t, d.Seen("a"))
	assert.True(t, d.Seen("a"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, d.Cleanup())
	assert.Equal(t, 0, d.Len())
	assert.False(t, d.Seen("a"))
}

func TestRounding(t *testing.T) {
	assert.Equal(t, "0.123", RoundDown(decimal.RequireFromString("0.12399"), 0.001).String())
	assert.Equal(t, "0.12399", RoundDown(decimal.RequireFromString("0.12399"), 0).String())
	assert.Equal(t, "100.25", RoundNearest(decimal.RequireFromString("100.26"), 0.05).String())
}

func TestDryRunPlacer_TracksPosition(t *testing.T) {
	p := NewDryRunPlacer(discardLogger())
	ctx := context.Background()

	_, err := p.GetPosition(ctx, "BTC/USD")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ex := New(Config{}, p, nil, nil, nil, discardLogger())
	require.NoError(t, ex.Execute(ctx, signal("b1", domain.ActionBuy, 100, 0.002)))

	pos, err := p.GetPosition(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, "long", pos.Side)
	assert.InDelta(t, 0.002, pos.Quantity, 1e-12)

	require.NoError(t, ex.Execute(ctx, signal("c1", domain.ActionClose, 100, 0)))
	_, err = p.GetPosition(ctx, "BTC/USD")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
