package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lobfeed/internal/book"
	"github.com/alanyoungcy/lobfeed/internal/cache/redis"
	"github.com/alanyoungcy/lobfeed/internal/domain"
	"github.com/alanyoungcy/lobfeed/internal/executor"
	"github.com/alanyoungcy/lobfeed/internal/feed"
	"github.com/alanyoungcy/lobfeed/internal/notify"
	"github.com/alanyoungcy/lobfeed/internal/pipeline"
	"github.com/alanyoungcy/lobfeed/internal/platform/alpaca"
	"github.com/alanyoungcy/lobfeed/internal/replay"
	"github.com/alanyoungcy/lobfeed/internal/server"
	"github.com/alanyoungcy/lobfeed/internal/server/handler"
	"github.com/alanyoungcy/lobfeed/internal/server/ws"
	"github.com/alanyoungcy/lobfeed/internal/store/postgres"
	"github.com/alanyoungcy/lobfeed/internal/strategy"
)

const (
	// feedLockTTL is refreshed by the lock keep-alive while the feed runs.
	feedLockTTL = 30 * time.Second

	dedupCleanupInterval = time.Minute
)

// LiveMode streams the configured symbol, runs the strategy and places
// orders (or logs them when execution.dry_run is set).
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode",
		slog.String("symbol", a.cfg.Feed.Symbol),
		slog.Bool("dry_run", a.cfg.Execution.DryRun),
	)

	engine, err := a.buildEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	var placer executor.OrderPlacer
	if a.cfg.Execution.DryRun {
		placer = executor.NewDryRunPlacer(a.logger)
	} else {
		placer = alpaca.NewTradingClient(a.cfg.Alpaca.TradingURL, a.cfg.Alpaca.APIKey, a.secret)
	}
	exec := a.buildExecutor(deps, placer)

	b := a.newBook()
	return a.runPipeline(ctx, deps, pipelineRun{
		engine: engine,
		exec:   exec,
		newSource: func(o *pipeline.Orchestrator) source {
			return a.newFeedSource(deps, b, o)
		},
	})
}

// MonitorMode streams and publishes the book without making decisions.
// Signals written to the Redis stream by a live process are tailed into the
// status API. With feed.follow_leader, a monitor that finds the feed lock
// taken relays the holder's snapshots from the bus instead.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode", slog.String("symbol", a.cfg.Feed.Symbol))

	b := a.newBook()
	run := pipelineRun{
		tailSignals: true,
		newSource: func(o *pipeline.Orchestrator) source {
			return a.newFeedSource(deps, b, o)
		},
	}
	if !a.cfg.Feed.FollowLeader || deps.LockManager == nil || deps.SignalBus == nil {
		return a.runPipeline(ctx, deps, run)
	}

	lost, unlock, err := deps.LockManager.Acquire(ctx, feedLockKey(a.cfg.Feed.Symbol), feedLockTTL)
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		a.logger.InfoContext(ctx, "feed lock held elsewhere, following its book stream")
		run.following = true
		run.newSource = func(o *pipeline.Orchestrator) source {
			return plainSource{redis.NewBookRelay(deps.SignalBus, a.cfg.Feed.Symbol, o, a.logger)}
		}
	case err != nil:
		return fmt.Errorf("feed lock: %w", err)
	default:
		defer unlock()
		run.newSource = func(o *pipeline.Orchestrator) source {
			fs := a.newFeedSource(deps, b, o)
			fs.lease = &feedLease{lost: lost, unlock: unlock}
			return fs
		}
	}
	return a.runPipeline(ctx, deps, run)
}

// ReplayMode feeds a recording through the strategy. Orders always go to
// the dry-run placer.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode",
		slog.String("path", a.cfg.Replay.Path),
		slog.String("storage", a.cfg.Replay.Storage),
	)

	engine, err := a.buildEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()
	exec := a.buildExecutor(deps, executor.NewDryRunPlacer(a.logger))

	b := a.newBook()
	return a.runPipeline(ctx, deps, pipelineRun{
		engine: engine,
		exec:   exec,
		newSource: func(o *pipeline.Orchestrator) source {
			src := replay.NewSource(replay.SourceConfig{
				Path:  a.cfg.Replay.Path,
				Delay: a.cfg.Replay.Delay.Duration,
				TopN:  a.cfg.Book.TopN,
			}, deps.ReplayBlobs, b, o, a.logger)
			return plainSource{src}
		},
	})
}

// source is a pipeline source that may report a failure after letting the
// pipeline drain.
type source interface {
	pipeline.Source
	Err() error
}

type plainSource struct{ pipeline.Source }

func (plainSource) Err() error { return nil }

// feedSource runs the feed under an optional single-instance lock. A
// permanent feed failure has already been published as a fatal event, so
// the source returns nil to let that event drain to the sinks and keeps the
// failure for Err. Losing the lock stops the feed with domain.ErrLockHeld.
type feedSource struct {
	runner  *feed.Runner
	locks   domain.LockManager // nil unless feed.single_instance
	lockKey string
	lease   *feedLease // taken before Run; overrides locks
	logger  *slog.Logger
	err     error
}

type feedLease struct {
	lost   <-chan struct{}
	unlock func()
}

func feedLockKey(symbol string) string { return "feed:" + symbol }

func (a *App) newFeedSource(deps *Dependencies, b *book.Book, pub feed.Publisher) *feedSource {
	streamCfg := alpaca.StreamConfig{
		URL:       a.cfg.Alpaca.StreamURL,
		APIKey:    a.cfg.Alpaca.APIKey,
		APISecret: a.secret,
	}
	dial := func(ctx context.Context) (feed.Conn, error) {
		s, err := alpaca.Dial(ctx, streamCfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	backoff := feed.DefaultBackoff()
	backoff.Min = a.cfg.Feed.ReconnectMin.Duration
	backoff.Max = a.cfg.Feed.ReconnectMax.Duration

	runner := feed.NewRunner(feed.RunnerConfig{
		Session: feed.SessionConfig{
			Symbol:           a.cfg.Feed.Symbol,
			Cadence:          a.cfg.Feed.Cadence.Duration,
			MaxWait:          a.cfg.Feed.MaxWait.Duration,
			DuplicateBackoff: a.cfg.Feed.DuplicateBackoff.Duration,
			PublishDeltas:    a.cfg.Feed.PublishDeltas,
			TopN:             a.cfg.Book.TopN,
		},
		Backoff:     backoff,
		MaxAttempts: a.cfg.Feed.MaxAttempts,
	}, dial, alpaca.NewDecoder(), b, pub, deps.AuditStore, deps.Metrics, a.logger)

	fs := &feedSource{runner: runner, lockKey: feedLockKey(a.cfg.Feed.Symbol), logger: a.logger}
	if a.cfg.Feed.SingleInstance {
		fs.locks = deps.LockManager
	}
	return fs
}

func (s *feedSource) acquire(ctx context.Context) (*feedLease, error) {
	if s.lease != nil {
		return s.lease, nil
	}
	if s.locks == nil {
		return nil, nil
	}
	lost, unlock, err := s.locks.Acquire(ctx, s.lockKey, feedLockTTL)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "feed lock acquired", slog.String("key", s.lockKey))
	return &feedLease{lost: lost, unlock: unlock}, nil
}

func (s *feedSource) Run(ctx context.Context) error {
	lease, err := s.acquire(ctx)
	if err != nil {
		return fmt.Errorf("feed lock: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var lockLost atomic.Bool
	if lease != nil {
		defer lease.unlock()
		if lease.lost != nil {
			go func() {
				select {
				case <-lease.lost:
					lockLost.Store(true)
					cancel()
				case <-runCtx.Done():
				}
			}()
		}
	}

	err = s.runner.Run(runCtx)
	if lockLost.Load() {
		s.logger.ErrorContext(ctx, "feed lock lost, stopping feed", slog.String("key", s.lockKey))
		return fmt.Errorf("feed lock lost: %w", domain.ErrLockHeld)
	}
	if err != nil && ctx.Err() == nil {
		s.err = err
		return nil
	}
	return err
}

func (s *feedSource) Err() error { return s.err }

// FeedStatus reports the current session, if connected.
func (s *feedSource) FeedStatus() handler.FeedStatus {
	sess := s.runner.Session()
	if sess == nil {
		return handler.FeedStatus{}
	}
	st := sess.Stats()
	return handler.FeedStatus{
		Connected:  true,
		State:      sess.State().String(),
		Cycles:     st.Cycles,
		Accepted:   st.Accepted,
		Duplicates: st.Duplicates,
		Late:       st.Late,
		Timeouts:   st.Timeouts,
		Rejected:   st.Rejected,
	}
}

// pipelineRun selects the stages of one run. engine and exec are nil in
// monitor mode.
type pipelineRun struct {
	engine      *strategy.Engine
	exec        *executor.Executor
	tailSignals bool // follow the Redis signal stream when no engine runs
	following   bool // snapshots come from the bus, so are not mirrored back
	newSource   func(*pipeline.Orchestrator) source
}

// runPipeline builds the sinks and the orchestrator, then runs it together
// with the recorder, dedup cleanup, WebSocket hub and status server. When
// the pipeline stops the rest of the group is cancelled.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies, run pipelineRun) error {
	engine, exec := run.engine, run.exec
	pipeCfg, err := a.pipelineConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var sinks []pipeline.Sink
	if deps.BookCache != nil && deps.SignalBus != nil && !run.following {
		sinks = append(sinks, redis.NewSink(deps.BookCache, deps.SignalBus))
	}
	if deps.SignalStore != nil && deps.AuditStore != nil {
		sinks = append(sinks, postgres.NewSink(deps.SignalStore, deps.AuditStore))
	}
	if deps.Notifier.Enabled() {
		sinks = append(sinks, notify.NewSink(deps.Notifier))
	}

	var recorder *replay.Recorder
	if a.cfg.Recorder.Enabled && deps.RecorderBlobs != nil {
		recorder = replay.NewRecorder(replay.RecorderConfig{
			Path:          a.cfg.Recorder.Path,
			FlushInterval: a.cfg.Recorder.FlushInterval.Duration,
			MaxRecords:    a.cfg.Recorder.MaxRecords,
		}, deps.RecorderBlobs, a.logger)
		sinks = append(sinks, recorder)
	}

	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		strategyName := ""
		if engine != nil {
			strategyName = engine.ActiveName()
		}
		hub = ws.NewHub(a.logger, ws.Config{Mode: a.cfg.Mode, StrategyName: strategyName})
		sinks = append(sinks, hub)
	}

	// Nil pointers must not reach the orchestrator as non-nil interfaces.
	var decider pipeline.Decider
	if engine != nil {
		decider = engine
	}
	var execStage pipeline.Executor
	if exec != nil {
		execStage = exec
	}
	orch := pipeline.NewOrchestrator(pipeCfg, decider, execStage, sinks, deps.Metrics, a.logger)
	src := run.newSource(orch)

	var tail *redis.SignalTail
	if run.tailSignals && engine == nil && deps.SignalBus != nil {
		var forward func(context.Context, domain.Signal)
		if hub != nil {
			forward = func(ctx context.Context, sig domain.Signal) {
				_ = hub.Handle(ctx, domain.NewSignalEvent(sig))
			}
		}
		tail = redis.NewSignalTail(deps.SignalBus, redis.SignalTailConfig{}, forward, a.logger)
		g.Go(func() error {
			return tail.Run(ctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return orch.Run(ctx, src)
	})
	if recorder != nil {
		g.Go(func() error {
			return recorder.Run(ctx)
		})
	}
	if exec != nil {
		g.Go(func() error {
			return exec.RunCleanup(ctx, dedupCleanupInterval)
		})
	}
	if hub != nil {
		srv := a.buildServer(deps, orch, engine, hub, src, tail)
		g.Go(func() error {
			return hub.Run(ctx)
		})
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		return err
	}
	if ferr := src.Err(); ferr != nil {
		return fmt.Errorf("app: feed stopped: %w", ferr)
	}
	return nil
}

func (a *App) pipelineConfig() (pipeline.Config, error) {
	bookPolicy, err := pipeline.ParsePolicy(a.cfg.Pipeline.OverflowPolicy)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("app: %w", err)
	}
	signalPolicy, err := pipeline.ParsePolicy(a.cfg.Pipeline.SignalPolicy)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("app: %w", err)
	}
	return pipeline.Config{
		Capacity:     a.cfg.Pipeline.QueueCapacity,
		BookPolicy:   bookPolicy,
		SignalPolicy: signalPolicy,
		SinkPolicy:   pipeline.PolicyDropOldest,
	}, nil
}

func (a *App) newBook() *book.Book {
	return book.New(book.Config{
		Symbol:    a.cfg.Feed.Symbol,
		MaxLevels: a.cfg.Book.MaxLevels,
		TrimEvery: a.cfg.Book.TrimEvery,
	})
}

func (a *App) buildEngine(ctx context.Context) (*strategy.Engine, error) {
	reg := strategy.DefaultRegistry(strategy.Config{
		Name:     a.cfg.Strategy.Name,
		Symbol:   a.cfg.Feed.Symbol,
		Quantity: a.cfg.Strategy.Quantity,
		Params:   a.cfg.StrategyParams(),
	}, a.logger)
	engine := strategy.NewEngine(reg, a.logger)
	if err := engine.SetActive(ctx, a.cfg.Strategy.Name); err != nil {
		return nil, fmt.Errorf("app: strategy %q: %w", a.cfg.Strategy.Name, err)
	}
	return engine, nil
}

func (a *App) buildExecutor(deps *Dependencies, placer executor.OrderPlacer) *executor.Executor {
	var alert executor.Alerter
	if deps.Notifier.Enabled() {
		alert = deps.Notifier
	}
	return executor.New(executor.Config{
		TickSize:    a.cfg.Execution.TickSize,
		QtyStep:     a.cfg.Execution.QtyStep,
		TimeInForce: a.cfg.Execution.TimeInForce,
		DedupTTL:    a.cfg.Execution.DedupTTL.Duration,
	}, placer, deps.SignalStore, alert, deps.Metrics, a.logger)
}

func (a *App) buildServer(
	deps *Dependencies,
	orch *pipeline.Orchestrator,
	engine *strategy.Engine,
	hub *ws.Hub,
	src source,
	tail *redis.SignalTail,
) *server.Server {
	var feedStatus handler.FeedReporter
	if fs, ok := src.(*feedSource); ok {
		feedStatus = fs
	}
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, orch, feedStatus),
		Book:    handler.NewBookHandler(orch, deps.BookCache, a.cfg.Feed.Symbol, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	switch {
	case engine != nil:
		handlers.Signals = handler.NewSignalHandler(engine, deps.SignalStore, a.logger)
		handlers.Strategy = handler.NewStrategyHandler(engine, hub, a.logger)
	case tail != nil:
		handlers.Signals = handler.NewSignalHandler(tail, deps.SignalStore, a.logger)
	case deps.SignalStore != nil:
		handlers.Signals = handler.NewSignalHandler(nil, deps.SignalStore, a.logger)
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)
}
