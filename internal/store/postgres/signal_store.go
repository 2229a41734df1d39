package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// SignalStore implements domain.SignalStore.
type SignalStore struct {
	pool *pgxpool.Pool
}

func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// InsertSignal stores sig. Re-inserting the same id is a no-op.
func (s *SignalStore) InsertSignal(ctx context.Context, sig domain.Signal) error {
	const query = `
		INSERT INTO signals (
			id, source, action, symbol, limit_price, quantity,
			best_bid, best_ask, book_seq, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		sig.ID, sig.Source, string(sig.Action), sig.Symbol,
		sig.LimitPrice, sig.Quantity, sig.BestBid, sig.BestAsk,
		int64(sig.Sequence), sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert signal %s: %w", sig.ID, err)
	}
	return nil
}

// InsertExecution appends an execution row.
func (s *SignalStore) InsertExecution(ctx context.Context, e domain.Execution) error {
	var orderID, clientID, status, side, qty, price *string
	if r := e.Result; r != nil {
		orderID, clientID, status = &r.OrderID, &r.ClientOrderID, &r.Status
		sd := string(r.Side)
		side, qty, price = &sd, &r.Quantity, &r.LimitPrice
	}

	const query = `
		INSERT INTO executions (
			signal_id, action, symbol, order_id, client_order_id, status,
			side, quantity, limit_price, skipped, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12)`

	_, err := s.pool.Exec(ctx, query,
		e.SignalID, string(e.Action), e.Symbol,
		orderID, clientID, status, side, qty, price,
		e.Skipped, e.Err, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution for %s: %w", e.SignalID, err)
	}
	return nil
}

// ListRecent returns the newest signals for symbol, or for every symbol when
// symbol is empty.
func (s *SignalStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, source, action, symbol, limit_price, quantity,
		       best_bid, best_ask, book_seq, created_at
		FROM signals
		WHERE $1::text = '' OR symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	sigs, err := pgx.CollectRows(rows, scanSignal)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	return sigs, nil
}

func scanSignal(row pgx.CollectableRow) (domain.Signal, error) {
	var (
		sig    domain.Signal
		action string
		seq    int64
	)
	err := row.Scan(&sig.ID, &sig.Source, &action, &sig.Symbol,
		&sig.LimitPrice, &sig.Quantity, &sig.BestBid, &sig.BestAsk,
		&seq, &sig.CreatedAt)
	sig.Action = domain.Action(action)
	sig.Sequence = uint64(seq)
	return sig, err
}

var _ domain.SignalStore = (*SignalStore)(nil)
