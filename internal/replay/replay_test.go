package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lobfeed/internal/blob/local"
	"github.com/alanyoungcy/lobfeed/internal/book"
	"github.com/alanyoungcy/lobfeed/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collectingPublisher struct {
	mu    sync.Mutex
	snaps []domain.BookSnapshot
}

func (p *collectingPublisher) PublishBook(_ context.Context, snap domain.BookSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
	return nil
}

const recording = `[
  {"asset": "BTC/USD", "time": "t1", "data": {"bids": [{"price": 100, "size": 1}, {"price": 99, "size": 2}], "asks": [{"price": 101, "size": 1}]}},
  {"asset": "ETH/USD", "time": "t2", "data": {"bids": [{"price": 5, "size": 1}], "asks": []}},
  {"asset": "BTC/USD", "time": "t3", "data": {"bids": [{"price": 100.5, "size": 3}], "asks": [{"price": 101.5, "size": 2}]}}
]`

func TestSource_ReplaysAsResets(t *testing.T) {
	store := local.New(t.TempDir())
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "rec.json", strings.NewReader(recording), ""))

	b := book.New(book.Config{Symbol: "BTC/USD"})
	pub := &collectingPublisher{}
	src := NewSource(SourceConfig{Path: "rec.json"}, store, b, pub, discardLogger())

	require.NoError(t, src.Run(ctx))
	require.Len(t, pub.snaps, 2)

	first := pub.snaps[0]
	assert.Equal(t, "t1", first.Source)
	assert.Equal(t, []domain.PriceLevel{{Price: 100, Size: 1}, {Price: 99, Size: 2}}, first.Bids)

	last := pub.snaps[1]
	assert.Equal(t, "t3", last.Source)
	assert.Equal(t, []domain.PriceLevel{{Price: 100.5, Size: 3}}, last.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 101.5, Size: 2}}, last.Asks)
	assert.InDelta(t, 101.0, last.MidPrice, 1e-9)
}

func TestSource_MissingRecording(t *testing.T) {
	b := book.New(book.Config{Symbol: "BTC/USD"})
	src := NewSource(SourceConfig{Path: "nope.json"}, local.New(t.TempDir()), b, &collectingPublisher{}, discardLogger())
	assert.ErrorIs(t, src.Run(context.Background()), domain.ErrNotFound)
}

func TestSource_CancelDuringDelay(t *testing.T) {
	store := local.New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, store.Put(ctx, "rec.json", strings.NewReader(recording), ""))

	b := book.New(book.Config{Symbol: "BTC/USD"})
	pub := &collectingPublisher{}
	src := NewSource(SourceConfig{Path: "rec.json", Delay: time.Hour}, store, b, pub, discardLogger())

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()
	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.snaps) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRecorder_RoundTrip(t *testing.T) {
	store := local.New(t.TempDir())
	ctx := context.Background()
	rec := NewRecorder(RecorderConfig{Path: "out/rec.json"}, store, discardLogger())

	snap := domain.BookSnapshot{
		Symbol: "BTC/USD",
		Source: "2026-01-01T00:00:00Z",
		Bids:   []domain.PriceLevel{{Price: 100, Size: 1}},
		Asks:   []domain.PriceLevel{{Price: 101, Size: 2}},
	}
	require.NoError(t, rec.Handle(ctx, domain.NewBookEvent(snap)))
	require.NoError(t, rec.Handle(ctx, domain.NewSignalEvent(domain.Signal{ID: "x"})))
	assert.Equal(t, 1, rec.Len())
	require.NoError(t, rec.Flush(ctx))

	rc, err := store.Get(ctx, "out/rec.json")
	require.NoError(t, err)
	defer rc.Close()
	recs, err := Decode(rc)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "BTC/USD", recs[0].Asset)
	assert.Equal(t, "2026-01-01T00:00:00Z", recs[0].Time)
	assert.Equal(t, snap.Bids, recs[0].Data.Bids)
	assert.Equal(t, snap.Asks, recs[0].Data.Asks)
}

func TestRecorder_MaxRecords(t *testing.T) {
	store := local.New(t.TempDir())
	ctx := context.Background()
	rec := NewRecorder(RecorderConfig{Path: "r.json", MaxRecords: 3}, store, discardLogger())
	for i := 0; i < 20; i++ {
		require.NoError(t, rec.Handle(ctx, domain.NewBookEvent(domain.BookSnapshot{Source: fmt.Sprintf("t%02d", i)})))
		assert.LessOrEqual(t, rec.Len(), 3)
		assert.Less(t, len(rec.records), 6, "buffer is trimmed in batches")
	}
	require.NoError(t, rec.Flush(ctx))

	rc, err := store.Get(ctx, "r.json")
	require.NoError(t, err)
	defer rc.Close()
	recs, err := Decode(rc)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "t17", recs[0].Time)
	assert.Equal(t, "t19", recs[2].Time)
}

func TestRecorder_RunFlushesOnShutdown(t *testing.T) {
	store := local.New(t.TempDir())
	rec := NewRecorder(RecorderConfig{Path: "r.json", FlushInterval: time.Hour}, store, discardLogger())
	require.NoError(t, rec.Handle(context.Background(), domain.NewBookEvent(domain.BookSnapshot{Symbol: "BTC/USD", Source: "t"})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, rec.Run(ctx))

	rc, err := store.Get(context.Background(), "r.json")
	require.NoError(t, err)
	rc.Close()
}
