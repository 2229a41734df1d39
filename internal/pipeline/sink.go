package pipeline

import (
	"context"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// Sink observes pipeline events off the critical path: caches, audit
// stores, recorders, notifiers. Book events carry detached snapshots, so a
// sink may keep them.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev domain.Event) error
}

// Decider is the decision stage: it turns a snapshot into zero or more
// signals.
type Decider interface {
	Decide(ctx context.Context, snap domain.BookSnapshot) ([]domain.Signal, error)
}

// Executor is the execution stage.
type Executor interface {
	Execute(ctx context.Context, sig domain.Signal) error
}

// Source produces book events by calling the orchestrator's Publish
// methods. Returning nil means the source is exhausted and the pipeline
// should drain and stop.
type Source interface {
	Run(ctx context.Context) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) error

func (f SourceFunc) Run(ctx context.Context) error { return f(ctx) }
