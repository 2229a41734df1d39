package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// RecentSignals is the in-memory signal history (strategy.Engine).
type RecentSignals interface {
	RecentSignals(limit int) []domain.Signal
}

// SignalHandler lists recent trading signals, from the signal store when one
// is configured and from process memory otherwise.
type SignalHandler struct {
	recent RecentSignals
	store  domain.SignalStore
	logger *slog.Logger
}

// NewSignalHandler creates a SignalHandler. Either argument may be nil.
func NewSignalHandler(recent RecentSignals, store domain.SignalStore, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{recent: recent, store: store, logger: logHandler(logger, "signals")}
}

// ListRecent returns signals newest first.
// GET /signals?symbol=BTC/USD&limit=50
func (h *SignalHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	symbol := r.URL.Query().Get("symbol")

	var (
		signals []domain.Signal
		source  string
	)
	switch {
	case h.store != nil:
		var err error
		signals, err = h.store.ListRecent(r.Context(), symbol, limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list signals failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list signals")
			return
		}
		source = "store"
	case h.recent != nil:
		for _, s := range h.recent.RecentSignals(500) {
			if symbol != "" && s.Symbol != symbol {
				continue
			}
			signals = append(signals, s)
			if len(signals) == limit {
				break
			}
		}
		source = "memory"
	default:
		writeError(w, http.StatusNotImplemented, "signals not available in this mode")
		return
	}

	if signals == nil {
		signals = []domain.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":  source,
		"signals": signals,
	})
}
