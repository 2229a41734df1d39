package domain

import (
	"context"
	"time"
)

// BookCache stores the most recently published snapshot per symbol.
type BookCache interface {
	SetSnapshot(ctx context.Context, snap BookSnapshot) error
	GetSnapshot(ctx context.Context, symbol string) (BookSnapshot, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for fan-out to other
// processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager hands out exclusive, expiring locks shared between processes.
// Acquire returns ErrLockHeld when another holder owns key. The lost channel
// is closed if ownership lapses before unlock is called.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (lost <-chan struct{}, unlock func(), err error)
}
