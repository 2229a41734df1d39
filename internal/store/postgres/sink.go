package postgres

import (
	"context"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// Sink records every emitted signal in the signal store and every fatal
// event in the audit log. Book updates are ignored.
type Sink struct {
	signals domain.SignalStore
	audit   domain.AuditStore
}

// NewSink creates a Sink. audit may be nil.
func NewSink(signals domain.SignalStore, audit domain.AuditStore) *Sink {
	return &Sink{signals: signals, audit: audit}
}

func (s *Sink) Name() string { return "postgres" }

func (s *Sink) Handle(ctx context.Context, ev domain.Event) error {
	switch ev.Kind {
	case domain.EventSignal:
		return s.signals.InsertSignal(ctx, ev.Signal)
	case domain.EventFatal:
		if s.audit == nil {
			return nil
		}
		detail := map[string]any{}
		if ev.Err != nil {
			detail["error"] = ev.Err.Error()
		}
		return s.audit.Log(ctx, "pipeline_fatal", detail)
	}
	return nil
}
