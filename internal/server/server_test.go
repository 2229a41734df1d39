package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lobfeed/internal/domain"
	"github.com/alanyoungcy/lobfeed/internal/metrics"
	"github.com/alanyoungcy/lobfeed/internal/server/handler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLatest struct {
	snap domain.BookSnapshot
	ok   bool
}

func (f *fakeLatest) Latest() (domain.BookSnapshot, bool) { return f.snap, f.ok }

type fakeRecent struct{ signals []domain.Signal }

func (f *fakeRecent) RecentSignals(limit int) []domain.Signal {
	if limit < len(f.signals) {
		return f.signals[:limit]
	}
	return f.signals
}

type fakeController struct {
	active string
	names  []string
}

func (f *fakeController) ActiveName() string  { return f.active }
func (f *fakeController) ListNames() []string { return f.names }
func (f *fakeController) SetActive(_ context.Context, name string) error {
	for _, n := range f.names {
		if n == name {
			f.active = name
			return nil
		}
	}
	return errors.New("unknown strategy " + name)
}

type fakeCache struct{ snap *domain.BookSnapshot }

func (f *fakeCache) SetSnapshot(context.Context, domain.BookSnapshot) error { return nil }
func (f *fakeCache) GetSnapshot(_ context.Context, _ string) (domain.BookSnapshot, error) {
	if f.snap == nil {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	return *f.snap, nil
}

type fakeFeed struct{}

func (fakeFeed) FeedStatus() handler.FeedStatus {
	return handler.FeedStatus{Connected: true, State: "waiting_snapshot", Cycles: 4, Accepted: 3, Timeouts: 1}
}

func newTestServer(latest *fakeLatest, apiKey string) (*Server, *fakeController) {
	logger := discardLogger()
	ctrl := &fakeController{active: "imbalance", names: []string{"imbalance", "mean_reversion"}}
	recent := &fakeRecent{signals: []domain.Signal{
		{ID: "b", Symbol: "ETH/USD", Action: domain.ActionSell},
		{ID: "a", Symbol: "BTC/USD", Action: domain.ActionBuy},
	}}
	s := NewServer(Config{APIKey: apiKey}, Handlers{
		Health:   handler.NewHealthHandler("live", nil, fakeFeed{}),
		Book:     handler.NewBookHandler(latest, nil, "BTC/USD", logger),
		Signals:  handler.NewSignalHandler(recent, nil, logger),
		Strategy: handler.NewStrategyHandler(ctrl, nil, logger),
		Metrics:  metrics.New().Handler(),
	}, nil, logger)
	return s, ctrl
}

func do(t *testing.T, h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func snapshot() domain.BookSnapshot {
	return domain.BookSnapshot{
		Symbol:   "BTC/USD",
		Sequence: 7,
		Bids:     []domain.PriceLevel{{Price: 100, Size: 1}, {Price: 99, Size: 2}},
		Asks:     []domain.PriceLevel{{Price: 101, Size: 1}, {Price: 102, Size: 3}},
		HasBid:   true,
		HasAsk:   true,
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(&fakeLatest{}, "")
	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "live", body["mode"])

	feed, ok := body["feed"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, feed["connected"])
	assert.Equal(t, "waiting_snapshot", feed["state"])
	assert.Equal(t, float64(3), feed["accepted"])
}

func TestBook_NotYetPublished(t *testing.T) {
	s, _ := newTestServer(&fakeLatest{}, "")
	rec := do(t, s.Handler(), http.MethodGet, "/book", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBook_DepthTruncates(t *testing.T) {
	s, _ := newTestServer(&fakeLatest{snap: snapshot(), ok: true}, "")
	rec := do(t, s.Handler(), http.MethodGet, "/book?depth=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.BookSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(7), got.Sequence)
	assert.Equal(t, []domain.PriceLevel{{Price: 100, Size: 1}}, got.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 101, Size: 1}}, got.Asks)

	rec = do(t, s.Handler(), http.MethodGet, "/book?depth=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBook_FallsBackToCache(t *testing.T) {
	snap := snapshot()
	h := handler.NewBookHandler(&fakeLatest{}, &fakeCache{snap: &snap}, "BTC/USD", discardLogger())
	rec := httptest.NewRecorder()
	h.GetBook(rec, httptest.NewRequest(http.MethodGet, "/book", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignals_FilterBySymbol(t *testing.T) {
	s, _ := newTestServer(&fakeLatest{}, "")
	rec := do(t, s.Handler(), http.MethodGet, "/signals?symbol=BTC/USD", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Source  string          `json:"source"`
		Signals []domain.Signal `json:"signals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "memory", body.Source)
	require.Len(t, body.Signals, 1)
	assert.Equal(t, "a", body.Signals[0].ID)
}

func TestStrategy_Switch(t *testing.T) {
	s, ctrl := newTestServer(&fakeLatest{}, "")

	rec := do(t, s.Handler(), http.MethodPost, "/strategy/active", `{"name":"mean_reversion"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mean_reversion", ctrl.active)

	rec = do(t, s.Handler(), http.MethodPost, "/strategy/active", `{"name":"nope"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), http.MethodGet, "/strategy", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active":"mean_reversion"`)
}

func TestAuth(t *testing.T) {
	s, _ := newTestServer(&fakeLatest{snap: snapshot(), ok: true}, "secret")

	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s.Handler(), http.MethodGet, "/book", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s.Handler(), http.MethodGet, "/book", "",
		http.Header{"X-Api-Key": {"wrong"}}).Code)
	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/book", "",
		http.Header{"Authorization": {"Bearer secret"}}).Code)
}

func TestMetricsExposed(t *testing.T) {
	s, _ := newTestServer(&fakeLatest{}, "")
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lobfeed_")
}
