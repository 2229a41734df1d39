package domain

import (
	"context"
	"time"
)

// SignalStore keeps an audit trail of emitted signals and their executions.
type SignalStore interface {
	InsertSignal(ctx context.Context, sig Signal) error
	InsertExecution(ctx context.Context, exec Execution) error
	ListRecent(ctx context.Context, symbol string, limit int) ([]Signal, error)
}

// AuditEntry is one row of the feed lifecycle audit log.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore records feed lifecycle events (connects, disconnects, fatal
// errors).
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}
