package notify

import (
	"context"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// Sink is a pipeline tap that alerts on fatal feed events and ignores
// everything else.
type Sink struct {
	n *Notifier
}

func NewSink(n *Notifier) *Sink { return &Sink{n: n} }

func (s *Sink) Name() string { return "notify" }

func (s *Sink) Handle(ctx context.Context, ev domain.Event) error {
	if ev.Kind != domain.EventFatal {
		return nil
	}
	msg := "feed stopped"
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	return s.n.Notify(ctx, EventFeedFatal, "Feed fatal error", msg)
}
