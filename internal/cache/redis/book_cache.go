package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// BookCache implements domain.BookCache.
//
// Key schema (under the client prefix):
//
//	book:{symbol}       - JSON-encoded BookSnapshot
//	book:{symbol}:bbo   - hash with bid, ask, mid, spread, seq
type BookCache struct {
	c *Client
}

func NewBookCache(c *Client) *BookCache {
	return &BookCache{c: c}
}

func (bc *BookCache) snapKey(symbol string) string { return bc.c.Key("book:" + symbol) }
func (bc *BookCache) bboKey(symbol string) string  { return bc.c.Key("book:" + symbol + ":bbo") }

// SetSnapshot replaces the cached snapshot and BBO hash in one transaction.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode snapshot %s: %w", snap.Symbol, err)
	}

	pipe := bc.c.rdb.TxPipeline()
	pipe.Set(ctx, bc.snapKey(snap.Symbol), raw, 0)
	pipe.Del(ctx, bc.bboKey(snap.Symbol))
	pipe.HSet(ctx, bc.bboKey(snap.Symbol), bboFields(snap))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Symbol, err)
	}
	return nil
}

// GetSnapshot returns the cached snapshot or domain.ErrNotFound.
func (bc *BookCache) GetSnapshot(ctx context.Context, symbol string) (domain.BookSnapshot, error) {
	raw, err := bc.c.rdb.Get(ctx, bc.snapKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", symbol, err)
	}
	var snap domain.BookSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: decode snapshot %s: %w", symbol, err)
	}
	return snap, nil
}

// bboFields flattens the top of book for readers that do not want JSON.
func bboFields(snap domain.BookSnapshot) map[string]any {
	f := map[string]any{
		"seq": strconv.FormatUint(snap.Sequence, 10),
	}
	if snap.HasBid {
		f["bid"] = formatFloat(snap.BestBid.Price)
	}
	if snap.HasAsk {
		f["ask"] = formatFloat(snap.BestAsk.Price)
	}
	if snap.HasBBO() {
		f["mid"] = formatFloat(snap.MidPrice)
		f["spread"] = formatFloat(snap.Spread)
	}
	return f
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var _ domain.BookCache = (*BookCache)(nil)
