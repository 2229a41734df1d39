package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// Channel and stream names, relative to the client prefix.
const (
	SignalChannel = "signals"
	SignalStream  = "signals"
	FatalChannel  = "fatal"
)

// BookChannel is the pub/sub channel carrying snapshots for symbol.
func BookChannel(symbol string) string { return "book:" + symbol }

// Sink mirrors pipeline events into Redis: snapshots go to the book cache
// and the symbol's channel, signals to the signal channel and stream.
type Sink struct {
	cache domain.BookCache
	bus   domain.SignalBus
}

func NewSink(cache domain.BookCache, bus domain.SignalBus) *Sink {
	return &Sink{cache: cache, bus: bus}
}

func (s *Sink) Name() string { return "redis" }

func (s *Sink) Handle(ctx context.Context, ev domain.Event) error {
	switch ev.Kind {
	case domain.EventBookUpdate:
		if err := s.cache.SetSnapshot(ctx, ev.Book); err != nil {
			return err
		}
		raw, err := json.Marshal(ev.Book)
		if err != nil {
			return fmt.Errorf("redis: encode snapshot: %w", err)
		}
		return s.bus.Publish(ctx, BookChannel(ev.Book.Symbol), raw)

	case domain.EventSignal:
		raw, err := json.Marshal(ev.Signal)
		if err != nil {
			return fmt.Errorf("redis: encode signal: %w", err)
		}
		if err := s.bus.StreamAppend(ctx, SignalStream, raw); err != nil {
			return err
		}
		return s.bus.Publish(ctx, SignalChannel, raw)

	case domain.EventFatal:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return s.bus.Publish(ctx, FatalChannel, []byte(msg))
	}
	return nil
}
