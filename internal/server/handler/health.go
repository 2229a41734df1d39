package handler

import (
	"net/http"
	"time"
)

// DropCounter reports per-queue evictions (pipeline.Orchestrator).
type DropCounter interface {
	Dropped() map[string]uint64
}

// FeedStatus describes the upstream connection.
type FeedStatus struct {
	Connected  bool   `json:"connected"`
	State      string `json:"state,omitempty"`
	Cycles     uint64 `json:"cycles"`
	Accepted   uint64 `json:"accepted"`
	Duplicates uint64 `json:"duplicates"`
	Late       uint64 `json:"late"`
	Timeouts   uint64 `json:"timeouts"`
	Rejected   uint64 `json:"rejected"`
}

// FeedReporter reports the live feed session.
type FeedReporter interface {
	FeedStatus() FeedStatus
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	drops     DropCounter
	feed      FeedReporter
}

// NewHealthHandler creates a HealthHandler. drops and feed may be nil.
func NewHealthHandler(mode string, drops DropCounter, feed FeedReporter) *HealthHandler {
	return &HealthHandler{mode: mode, startedAt: time.Now().UTC(), drops: drops, feed: feed}
}

// HealthCheck responds with the run mode, uptime, queue drop counts and,
// when streaming, the feed session state.
// GET /healthz
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if h.drops != nil {
		body["dropped"] = h.drops.Dropped()
	}
	if h.feed != nil {
		body["feed"] = h.feed.FeedStatus()
	}
	writeJSON(w, http.StatusOK, body)
}
