package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lobfeed/internal/domain"
	"github.com/alanyoungcy/lobfeed/internal/metrics"
)

// Config sizes the pipeline queues.
type Config struct {
	// Capacity bounds every queue; zero means unbounded.
	Capacity     int
	BookPolicy   OverflowPolicy
	SignalPolicy OverflowPolicy
	SinkPolicy   OverflowPolicy
}

// DefaultConfig keeps the newest book state under pressure but never drops
// a trading signal.
func DefaultConfig() Config {
	return Config{
		Capacity:     1024,
		BookPolicy:   PolicyDropOldest,
		SignalPolicy: PolicyBlock,
		SinkPolicy:   PolicyDropOldest,
	}
}

// Orchestrator wires the ingestion source, the decision stage, the
// execution stage and the sink tap together through FIFO queues:
//
//	source -> books -> decision -> signals -> execution
//	                      \-> taps -> sinks
//
// It implements feed.Publisher for the source.
type Orchestrator struct {
	books   *Queue[domain.Event]
	signals *Queue[domain.Event]
	taps    *Queue[domain.Event]

	decider  Decider
	executor Executor
	sinks    []Sink
	metrics  *metrics.Metrics
	logger   *slog.Logger

	latest atomic.Pointer[domain.BookSnapshot]
}

// NewOrchestrator creates a pipeline. decider and executor may be nil, in
// which case book events only reach the sinks.
func NewOrchestrator(cfg Config, decider Decider, executor Executor, sinks []Sink, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		books:    NewQueue[domain.Event]("books", cfg.Capacity, cfg.BookPolicy, m),
		signals:  NewQueue[domain.Event]("signals", cfg.Capacity, cfg.SignalPolicy, m),
		taps:     NewQueue[domain.Event]("sinks", cfg.Capacity, cfg.SinkPolicy, m),
		decider:  decider,
		executor: executor,
		sinks:    sinks,
		metrics:  m,
		logger:   logger.With(slog.String("component", "pipeline")),
	}
}

// PublishBook enqueues a snapshot for the decision stage. The snapshot must
// not be shared with a live book.
func (o *Orchestrator) PublishBook(ctx context.Context, snap domain.BookSnapshot) error {
	o.latest.Store(&snap)
	return o.books.Put(ctx, domain.NewBookEvent(snap))
}

// PublishFatal forwards an unrecoverable source failure downstream.
func (o *Orchestrator) PublishFatal(ctx context.Context, err error) error {
	return o.books.Put(ctx, domain.NewFatalEvent(err))
}

// Latest returns a copy of the most recently published snapshot.
func (o *Orchestrator) Latest() (domain.BookSnapshot, bool) {
	p := o.latest.Load()
	if p == nil {
		return domain.BookSnapshot{}, false
	}
	return p.Clone(), true
}

// Dropped reports evictions per queue.
func (o *Orchestrator) Dropped() map[string]uint64 {
	return map[string]uint64{
		o.books.Name():   o.books.Dropped(),
		o.signals.Name(): o.signals.Dropped(),
		o.taps.Name():    o.taps.Dropped(),
	}
}

// Run starts every stage and the source in an errgroup. A source that
// returns nil closes the queues in order so each stage drains before it
// stops. Any stage error cancels the rest.
func (o *Orchestrator) Run(ctx context.Context, src Source) error {
	o.logger.Info("pipeline starting", slog.Int("sinks", len(o.sinks)))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := src.Run(ctx)
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		o.books.Close()
		return nil
	})

	g.Go(func() error {
		defer o.signals.Close()
		defer o.taps.Close()
		return RunStage(ctx, "decision", o.books, o.decide, o.logger)
	})

	g.Go(func() error {
		return RunStage(ctx, "execution", o.signals, o.execute, o.logger)
	})

	g.Go(func() error {
		return RunStage(ctx, "sinks", o.taps, o.fanOut, o.logger)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped")
	return err
}

func (o *Orchestrator) decide(ctx context.Context, ev domain.Event) error {
	o.tap(ev)

	switch ev.Kind {
	case domain.EventFatal:
		o.logger.Error("source reported fatal error", slog.String("error", errString(ev.Err)))
		return o.signals.Put(ctx, ev)
	case domain.EventBookUpdate:
	default:
		return nil
	}

	if o.decider == nil {
		return nil
	}
	sigs, err := o.decider.Decide(ctx, ev.Book)
	if err != nil {
		return fmt.Errorf("decide: %w", err)
	}
	for _, sig := range sigs {
		o.metrics.Signal(string(sig.Action))
		sev := domain.NewSignalEvent(sig)
		o.tap(sev)
		if err := o.signals.Put(ctx, sev); err != nil {
			return fmt.Errorf("enqueue signal: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, ev domain.Event) error {
	if ev.Kind != domain.EventSignal || o.executor == nil {
		return nil
	}
	return o.executor.Execute(ctx, ev.Signal)
}

// tap copies an event to the sink queue. It never blocks the decision
// stage: a full block-policy tap queue drops the event.
func (o *Orchestrator) tap(ev domain.Event) {
	if len(o.sinks) == 0 {
		return
	}
	if err := o.taps.TryPut(ev); err != nil {
		o.logger.Debug("sink queue rejected event", slog.String("kind", ev.Kind.String()), slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) fanOut(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, s := range o.sinks {
		if err := s.Handle(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
