package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lobfeed/internal/book"
	"github.com/alanyoungcy/lobfeed/internal/domain"
)

const sym = "BTC/USD"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// jsonDecoder decodes payloads that are a single JSON-encoded BookFrame.
type jsonDecoder struct{}

func (jsonDecoder) Decode(raw []byte) (domain.FrameBatch, error) {
	var f domain.BookFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return domain.FrameBatch{Rejected: 1}, domain.ErrInvalidFrame
	}
	return domain.FrameBatch{Frames: []domain.BookFrame{f}}, nil
}

func encode(t *testing.T, f domain.BookFrame) []byte {
	t.Helper()
	raw, err := json.Marshal(f)
	require.NoError(t, err)
	return raw
}

func reset(id string, bid, ask float64) domain.BookFrame {
	return domain.BookFrame{
		Type: domain.BookUpdateType, Symbol: sym, Timestamp: id, Reset: true,
		Bids: []domain.PriceLevel{{Price: bid, Size: 1}},
		Asks: []domain.PriceLevel{{Price: ask, Size: 1}},
	}
}

// fakeConn delivers queued payloads and lets tests react to subscriptions.
type fakeConn struct {
	in chan []byte

	mu          sync.Mutex
	subscribes  int
	unsubs      int
	onSubscribe func(n int, push func([]byte))
	closed      bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64)}
}

func (c *fakeConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw, ok := <-c.in:
		if !ok {
			return nil, domain.ErrTransport
		}
		return raw, nil
	}
}

func (c *fakeConn) Subscribe(_ context.Context, _ string) error {
	c.mu.Lock()
	c.subscribes++
	n, hook := c.subscribes, c.onSubscribe
	c.mu.Unlock()
	if hook != nil {
		hook(n, func(raw []byte) { c.in <- raw })
	}
	return nil
}

func (c *fakeConn) Unsubscribe(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubs++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes, c.unsubs
}

type recordingPublisher struct {
	mu     sync.Mutex
	snaps  []domain.BookSnapshot
	fatals []error
}

func (p *recordingPublisher) PublishBook(_ context.Context, snap domain.BookSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
	return nil
}

func (p *recordingPublisher) PublishFatal(_ context.Context, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fatals = append(p.fatals, err)
	return nil
}

func (p *recordingPublisher) books() []domain.BookSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.BookSnapshot(nil), p.snaps...)
}

func fastConfig() SessionConfig {
	return SessionConfig{
		Symbol:           sym,
		Cadence:          40 * time.Millisecond,
		MaxWait:          60 * time.Millisecond,
		DuplicateBackoff: 10 * time.Millisecond,
	}
}

func runUntil(t *testing.T, s *Session, cond func() bool) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not stop after cancel")
		return nil
	}
}

func TestSession_DuplicateInOneWindowResetsOnce(t *testing.T) {
	conn := newFakeConn()
	conn.onSubscribe = func(n int, push func([]byte)) {
		if n == 1 {
			push(encode(t, reset("snap-1", 100, 101)))
			push(encode(t, reset("snap-1", 100, 101)))
		}
	}
	b := book.New(book.Config{Symbol: sym})
	pub := &recordingPublisher{}
	s := NewSession(fastConfig(), conn, jsonDecoder{}, b, pub, nil, discardLogger())

	err := runUntil(t, s, func() bool { return s.Stats().Cycles >= 2 })
	assert.ErrorIs(t, err, context.Canceled)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Accepted)
	assert.Equal(t, uint64(1), st.Duplicates+st.Late)
	assert.Equal(t, uint64(1), b.Stats().Resets)
	assert.Len(t, pub.books(), 1)
}

func TestSession_DuplicateThenFreshSnapshot(t *testing.T) {
	conn := newFakeConn()
	conn.onSubscribe = func(n int, push func([]byte)) {
		switch n {
		case 1:
			push(encode(t, reset("snap-1", 100, 101)))
		case 2:
			// the server replays the previous snapshot first
			push(encode(t, reset("snap-1", 100, 101)))
			push(encode(t, reset("snap-2", 200, 201)))
		}
	}
	b := book.New(book.Config{Symbol: sym})
	pub := &recordingPublisher{}
	s := NewSession(fastConfig(), conn, jsonDecoder{}, b, pub, nil, discardLogger())

	_ = runUntil(t, s, func() bool { return s.Stats().Accepted >= 2 })

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Duplicates)
	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 200.0, bid.Price)

	books := pub.books()
	require.Len(t, books, 2)
	assert.Less(t, books[0].Sequence, books[1].Sequence)
}

func TestSession_TimeoutLeavesBookUnchanged(t *testing.T) {
	conn := newFakeConn()
	conn.onSubscribe = func(n int, push func([]byte)) {
		if n == 1 {
			push(encode(t, reset("snap-1", 100, 101)))
			return
		}
		// stale replay only: must time out without touching the book
		push(encode(t, reset("snap-1", 100, 101)))
	}
	b := book.New(book.Config{Symbol: sym})
	pub := &recordingPublisher{}
	s := NewSession(fastConfig(), conn, jsonDecoder{}, b, pub, nil, discardLogger())

	_ = runUntil(t, s, func() bool { return s.Stats().Timeouts >= 2 })

	assert.Equal(t, uint64(1), b.Stats().Resets)
	assert.Equal(t, uint64(1), b.Sequence())
	assert.Len(t, pub.books(), 1)

	subs, unsubs := conn.counts()
	assert.GreaterOrEqual(t, subs, 3)
	assert.GreaterOrEqual(t, unsubs, subs-1)
}

func TestSession_DeltasApplyInAnyPhase(t *testing.T) {
	conn := newFakeConn()
	conn.in <- encode(t, domain.BookFrame{
		Type: domain.BookUpdateType, Symbol: sym, Timestamp: "d1",
		Bids: []domain.PriceLevel{{Price: 99, Size: 3}},
	})
	b := book.New(book.Config{Symbol: sym})
	pub := &recordingPublisher{}
	cfg := fastConfig()
	cfg.PublishDeltas = true
	s := NewSession(cfg, conn, jsonDecoder{}, b, pub, nil, discardLogger())

	_ = runUntil(t, s, func() bool { return s.Stats().Deltas >= 1 })

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, domain.PriceLevel{Price: 99, Size: 3}, bid)
	require.Len(t, pub.books(), 1)
	assert.False(t, pub.books()[0].HasAsk)
}

func TestSession_BadPayloadIsSkipped(t *testing.T) {
	conn := newFakeConn()
	conn.in <- []byte("{garbage")
	other := reset("x", 1, 2)
	other.Symbol = "ETH/USD"
	conn.in <- encode(t, other)
	conn.onSubscribe = func(n int, push func([]byte)) {
		if n == 1 {
			push(encode(t, reset("snap-1", 100, 101)))
		}
	}
	b := book.New(book.Config{Symbol: sym})
	s := NewSession(fastConfig(), conn, jsonDecoder{}, b, &recordingPublisher{}, nil, discardLogger())

	_ = runUntil(t, s, func() bool { return s.Stats().Accepted >= 1 })

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Rejected)
	assert.Equal(t, uint64(1), st.Ignored)
}

func TestSession_TransportErrorPropagates(t *testing.T) {
	conn := newFakeConn()
	close(conn.in)
	s := NewSession(fastConfig(), conn, jsonDecoder{}, book.New(book.Config{Symbol: sym}), &recordingPublisher{}, nil, discardLogger())

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTransport)
	case <-time.After(3 * time.Second):
		t.Fatal("transport error was not propagated")
	}
}

func TestSession_ResetOutsideWindowIsDropped(t *testing.T) {
	b := book.New(book.Config{Symbol: sym})
	s := NewSession(fastConfig(), newFakeConn(), jsonDecoder{}, b, &recordingPublisher{}, nil, discardLogger())

	require.NoError(t, s.handleFrame(context.Background(), reset("snap-1", 100, 101)))
	assert.Equal(t, uint64(0), b.Sequence())
	assert.Equal(t, uint64(1), s.Stats().Late)
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_WindowAcceptsThenDeduplicates(t *testing.T) {
	b := book.New(book.Config{Symbol: sym})
	pub := &recordingPublisher{}
	s := NewSession(fastConfig(), newFakeConn(), jsonDecoder{}, b, pub, nil, discardLogger())
	ctx := context.Background()

	s.state = StateWaitingSnapshot
	require.NoError(t, s.handleFrame(ctx, reset("snap-1", 100, 101)))
	assert.Equal(t, StateActive, s.State())

	s.state = StateWaitingSnapshot
	require.NoError(t, s.handleFrame(ctx, reset("snap-1", 150, 151)))
	assert.Equal(t, StateWaitingSnapshot, s.State())
	assert.True(t, s.duplicateSeen)

	bid, _ := b.BestBid()
	assert.Equal(t, 100.0, bid.Price)
	assert.Equal(t, uint64(1), s.Stats().Duplicates)
	assert.Len(t, pub.books(), 1)
}

func TestSession_AwaitHonoursDeadlineAfterDuplicate(t *testing.T) {
	s := NewSession(fastConfig(), newFakeConn(), jsonDecoder{}, book.New(book.Config{Symbol: sym}), &recordingPublisher{}, nil, discardLogger())
	s.state = StateWaitingSnapshot
	s.duplicateSeen = true
	s.wake()

	start := time.Now()
	deadline := start.Add(30 * time.Millisecond)
	require.NoError(t, s.awaitSnapshot(context.Background(), deadline))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSession_ConfigDefaults(t *testing.T) {
	cfg := SessionConfig{Symbol: sym}.withDefaults()
	assert.Equal(t, time.Second, cfg.Cadence)
	assert.Equal(t, 1500*time.Millisecond, cfg.MaxWait)
	assert.Equal(t, 200*time.Millisecond, cfg.DuplicateBackoff)
}
