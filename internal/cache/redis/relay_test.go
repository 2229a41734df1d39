package redis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type bookCollector struct {
	mu    sync.Mutex
	snaps []domain.BookSnapshot
}

func (c *bookCollector) PublishBook(_ context.Context, snap domain.BookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, snap)
	return nil
}

func (c *bookCollector) sequences() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []uint64
	for _, s := range c.snaps {
		out = append(out, s.Sequence)
	}
	return out
}

func TestBookRelay_RepublishesLeaderSnapshots(t *testing.T) {
	bus := newMemBus()
	pub := &bookCollector{}
	relay := NewBookRelay(bus, "BTC/USD", pub, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	// The leader side mirrors snapshots through the same sink.
	sink := NewSink(&memCache{snaps: map[string]domain.BookSnapshot{}}, bus)
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return bus.subs[BookChannel("BTC/USD")] != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, BookChannel("BTC/USD"), []byte("{not json")))
	require.NoError(t, sink.Handle(ctx, domain.NewBookEvent(domain.BookSnapshot{Symbol: "BTC/USD", Sequence: 1})))
	require.NoError(t, sink.Handle(ctx, domain.NewBookEvent(domain.BookSnapshot{Symbol: "BTC/USD", Sequence: 2})))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]uint64{1, 2}, pub.sequences())
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBookRelay_ClosedSubscriptionIsTransportError(t *testing.T) {
	bus := newMemBus()
	relay := NewBookRelay(bus, "BTC/USD", &bookCollector{}, discardLogger())

	done := make(chan error, 1)
	go func() { done <- relay.Run(context.Background()) }()
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return bus.subs[BookChannel("BTC/USD")] != nil
	}, time.Second, 5*time.Millisecond)

	bus.closeSub(BookChannel("BTC/USD"))
	err := <-done
	assert.True(t, errors.Is(err, domain.ErrTransport))
}

func appendSignal(t *testing.T, bus *memBus, id string) {
	t.Helper()
	raw, err := json.Marshal(domain.Signal{ID: id, Action: domain.ActionBuy, Symbol: "BTC/USD"})
	require.NoError(t, err)
	require.NoError(t, bus.StreamAppend(context.Background(), SignalStream, raw))
}

func TestSignalTail_BacklogThenForward(t *testing.T) {
	bus := newMemBus()
	for _, id := range []string{"s1", "s2", "s3"} {
		appendSignal(t, bus, id)
	}
	require.NoError(t, bus.StreamAppend(context.Background(), SignalStream, []byte("garbage")))

	var (
		mu        sync.Mutex
		forwarded []string
	)
	forward := func(_ context.Context, sig domain.Signal) {
		mu.Lock()
		defer mu.Unlock()
		forwarded = append(forwarded, sig.ID)
	}
	tail := NewSignalTail(bus, SignalTailConfig{Interval: 5 * time.Millisecond, Batch: 2}, forward, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tail.Run(ctx) }()

	require.Eventually(t, func() bool { return len(tail.RecentSignals(10)) == 3 }, time.Second, 5*time.Millisecond)
	appendSignal(t, bus, "s4")
	require.Eventually(t, func() bool { return len(tail.RecentSignals(10)) == 4 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	assert.Equal(t, []string{"s4"}, forwarded)
	mu.Unlock()

	recent := tail.RecentSignals(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "s4", recent[0].ID)
	assert.Equal(t, "s3", recent[1].ID)
}

func TestSignalTail_KeepsBoundedHistory(t *testing.T) {
	tail := NewSignalTail(newMemBus(), SignalTailConfig{Keep: 3}, nil, discardLogger())
	for i := 0; i < 10; i++ {
		tail.remember(domain.Signal{ID: string(rune('a' + i))})
	}
	recent := tail.RecentSignals(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "j", recent[0].ID)
	assert.Equal(t, "h", recent[2].ID)
}
