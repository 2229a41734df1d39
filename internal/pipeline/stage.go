package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// Handler processes one queued item. A returned error is logged and the
// stage moves on to the next item.
type Handler[T any] func(ctx context.Context, item T) error

// RunStage consumes in until ctx is cancelled or the queue is closed and
// drained. Closing the queue is a clean stop and returns nil.
func RunStage[T any](ctx context.Context, name string, in *Queue[T], h Handler[T], logger *slog.Logger) error {
	for {
		item, err := in.Get(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrQueueClosed) {
				return nil
			}
			return err
		}
		if err := h(ctx, item); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("stage item failed",
				slog.String("stage", name),
				slog.String("error", err.Error()),
			)
		}
	}
}
