package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lobfeed/internal/book"
	"github.com/alanyoungcy/lobfeed/internal/domain"
	"github.com/alanyoungcy/lobfeed/internal/metrics"
)

// Default protocol timings.
const (
	DefaultCadence          = time.Second
	DefaultMaxWait          = 1500 * time.Millisecond
	DefaultDuplicateBackoff = 200 * time.Millisecond
)

// State is the phase of the current subscription cycle.
type State int32

const (
	StateIdle State = iota
	StateWaitingSnapshot
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingSnapshot:
		return "waiting_snapshot"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// SessionConfig controls the resubscription protocol of one symbol.
type SessionConfig struct {
	Symbol           string
	Cadence          time.Duration
	MaxWait          time.Duration
	DuplicateBackoff time.Duration
	// PublishDeltas publishes a snapshot after every delta frame, not only
	// after accepted resets.
	PublishDeltas bool
	// TopN bounds the levels per side copied into published snapshots.
	// Zero copies the whole ladder.
	TopN int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Cadence <= 0 {
		c.Cadence = DefaultCadence
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.DuplicateBackoff <= 0 {
		c.DuplicateBackoff = DefaultDuplicateBackoff
	}
	return c
}

// SessionStats are counters for a single session.
type SessionStats struct {
	Payloads   uint64
	Rejected   uint64
	Ignored    uint64
	Deltas     uint64
	Accepted   uint64
	Duplicates uint64
	Late       uint64
	Timeouts   uint64
	Cycles     uint64
}

// Session runs the feed protocol over one connection: a reader that drains
// every inbound payload and is the only writer of the book, and a driver
// that subscribes on a fixed cadence to pull a fresh snapshot, then
// unsubscribes.
type Session struct {
	cfg     SessionConfig
	conn    Conn
	dec     Decoder
	book    *book.Book
	pub     Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu            sync.Mutex
	state         State
	lastAccepted  string
	hasAccepted   bool
	duplicateSeen bool

	// notify wakes the driver; one outstanding signal at most.
	notify chan struct{}

	payloads, rejected, ignored, deltas       atomic.Uint64
	accepted, duplicates, late, timeouts, cyc atomic.Uint64
}

// NewSession creates a session. The book is owned by the session's reader
// for as long as Run executes.
func NewSession(cfg SessionConfig, conn Conn, dec Decoder, b *book.Book, pub Publisher, m *metrics.Metrics, logger *slog.Logger) *Session {
	return &Session{
		cfg:     cfg.withDefaults(),
		conn:    conn,
		dec:     dec,
		book:    b,
		pub:     pub,
		metrics: m,
		logger:  logger.With(slog.String("component", "feed_session"), slog.String("symbol", cfg.Symbol)),
		notify:  make(chan struct{}, 1),
	}
}

// Run starts the reader and the driver and blocks until either fails or ctx
// is cancelled. Transport failures are returned wrapped; the caller decides
// whether to reconnect.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.driveLoop(gctx) })
	return g.Wait()
}

// State returns the current cycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a copy of the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Payloads:   s.payloads.Load(),
		Rejected:   s.rejected.Load(),
		Ignored:    s.ignored.Load(),
		Deltas:     s.deltas.Load(),
		Accepted:   s.accepted.Load(),
		Duplicates: s.duplicates.Load(),
		Late:       s.late.Load(),
		Timeouts:   s.timeouts.Load(),
		Cycles:     s.cyc.Load(),
	}
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

func (s *Session) readLoop(ctx context.Context) error {
	for {
		raw, err := s.conn.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		s.payloads.Add(1)
		s.metrics.Frame()

		batch, err := s.dec.Decode(raw)
		if batch.Rejected > 0 {
			s.rejected.Add(uint64(batch.Rejected))
			s.metrics.Rejected(batch.Rejected)
		}
		if err != nil {
			s.logger.Debug("skipping undecodable payload",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(raw)),
			)
			continue
		}
		for _, n := range batch.Notices {
			s.logger.Warn("feed server notice", slog.String("notice", n))
		}
		for _, f := range batch.Frames {
			if err := s.handleFrame(ctx, f); err != nil {
				return err
			}
		}
	}
}

// handleFrame applies deltas immediately and routes resets through the
// waiting state machine. Only context cancellation is returned.
func (s *Session) handleFrame(ctx context.Context, f domain.BookFrame) error {
	if !f.IsBookUpdate() || f.Symbol != s.cfg.Symbol {
		s.ignored.Add(1)
		s.metrics.Ignored()
		return nil
	}

	if !f.Reset {
		s.book.Update(f)
		s.deltas.Add(1)
		if s.cfg.PublishDeltas {
			return s.publish(ctx)
		}
		return nil
	}

	s.mu.Lock()
	switch {
	case s.state != StateWaitingSnapshot:
		s.mu.Unlock()
		s.late.Add(1)
		s.metrics.Snapshot(metrics.SnapshotLate)
		s.logger.Debug("dropping reset outside wait window", slog.String("snapshot_id", f.Timestamp))
		return nil
	case s.hasAccepted && f.Timestamp == s.lastAccepted:
		s.duplicateSeen = true
		s.mu.Unlock()
		s.duplicates.Add(1)
		s.metrics.Snapshot(metrics.SnapshotDuplicate)
		s.logger.Debug("duplicate snapshot", slog.String("snapshot_id", f.Timestamp))
		s.wake()
		return nil
	}
	// Applied under the lock so the driver cannot time the cycle out between
	// the state check and the book mutation.
	s.book.Update(f)
	s.lastAccepted = f.Timestamp
	s.hasAccepted = true
	s.state = StateActive
	s.mu.Unlock()

	s.accepted.Add(1)
	s.metrics.Snapshot(metrics.SnapshotAccepted)
	s.wake()
	return s.publish(ctx)
}

func (s *Session) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) publish(ctx context.Context) error {
	snap := s.book.Snapshot(s.cfg.TopN)
	if snap.HasBBO() {
		s.metrics.Quote(snap.Spread, snap.MidPrice)
	}
	if err := s.pub.PublishBook(ctx, snap); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("publish book update failed", slog.String("error", err.Error()))
	}
	return nil
}

// --------------------------------------------------------------------------
// Driver
// --------------------------------------------------------------------------

func (s *Session) driveLoop(ctx context.Context) error {
	for {
		start := time.Now()
		if err := s.cycle(ctx); err != nil {
			return err
		}
		s.cyc.Add(1)
		s.metrics.Cycle(time.Since(start).Seconds())

		if err := sleepCtx(ctx, s.cfg.Cadence-time.Since(start)); err != nil {
			return err
		}
	}
}

// cycle performs Idle -> WaitingSnapshot -> (Active | timeout) -> Idle.
func (s *Session) cycle(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateWaitingSnapshot
	s.duplicateSeen = false
	s.mu.Unlock()
	// A stale wake-up from the previous window must not end this one early.
	select {
	case <-s.notify:
	default:
	}

	if err := s.conn.Subscribe(ctx, s.cfg.Symbol); err != nil {
		s.setIdle()
		return fmt.Errorf("feed: subscribe: %w", err)
	}

	deadline := time.Now().Add(s.cfg.MaxWait)
	if err := s.awaitSnapshot(ctx, deadline); err != nil {
		s.setIdle()
		return err
	}

	if accepted := s.setIdle() == StateActive; !accepted {
		s.timeouts.Add(1)
		s.metrics.Snapshot(metrics.SnapshotTimeout)
		s.logger.Debug("no snapshot before deadline", slog.Duration("max_wait", s.cfg.MaxWait))
	}

	if err := s.conn.Unsubscribe(ctx, s.cfg.Symbol); err != nil {
		return fmt.Errorf("feed: unsubscribe: %w", err)
	}
	return nil
}

// awaitSnapshot returns when a reset has been accepted or the deadline has
// passed. A duplicate delays the next check by the backoff, bounded by the
// time left; the deadline itself never moves.
func (s *Session) awaitSnapshot(ctx context.Context, deadline time.Time) error {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-s.notify:
			s.mu.Lock()
			active := s.state == StateActive
			dup := s.duplicateSeen
			s.duplicateSeen = false
			s.mu.Unlock()

			if active {
				return nil
			}
			if dup {
				wait := min(s.cfg.DuplicateBackoff, time.Until(deadline))
				if err := sleepCtx(ctx, wait); err != nil {
					return err
				}
			}
		}
	}
}

// setIdle ends the wait window and reports the phase it replaced.
func (s *Session) setIdle() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = StateIdle
	return prev
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
