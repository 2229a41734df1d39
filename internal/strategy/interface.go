package strategy

import (
	"context"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// Strategy turns order-book snapshots into trading signals. Snapshots are
// immutable copies; a strategy may retain them.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	OnBookUpdate(ctx context.Context, snap domain.BookSnapshot) ([]domain.Signal, error)
	Close() error
}

// Config holds strategy configuration.
type Config struct {
	Name     string
	Symbol   string
	Quantity float64
	Params   map[string]any
}

// floatParam reads a numeric parameter, accepting the integer types TOML
// decoding may produce.
func (c Config) floatParam(key string, def float64) float64 {
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return def
	}
}

// stringParam reads a string parameter such as a "5m" duration.
func (c Config) stringParam(key, def string) string {
	if s, ok := c.Params[key].(string); ok && s != "" {
		return s
	}
	return def
}
