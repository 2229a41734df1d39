package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// LatestBook exposes the most recently published snapshot.
type LatestBook interface {
	Latest() (domain.BookSnapshot, bool)
}

// BookHandler serves the latest published order book. It never touches the
// live book, only published copies.
type BookHandler struct {
	latest LatestBook
	cache  domain.BookCache // optional fallback, e.g. another process's feed
	symbol string
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler. cache may be nil.
func NewBookHandler(latest LatestBook, cache domain.BookCache, symbol string, logger *slog.Logger) *BookHandler {
	return &BookHandler{
		latest: latest,
		cache:  cache,
		symbol: symbol,
		logger: logHandler(logger, "book"),
	}
}

// GetBook returns the latest snapshot, truncated to ?depth= levels per side.
// GET /book
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.latest.Latest()
	if !ok && h.cache != nil {
		cached, err := h.cache.GetSnapshot(r.Context(), h.symbol)
		switch {
		case err == nil:
			snap, ok = cached, true
		case !errors.Is(err, domain.ErrNotFound):
			h.logger.WarnContext(r.Context(), "book cache lookup failed", slog.String("error", err.Error()))
		}
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no snapshot published yet")
		return
	}

	if v := r.URL.Query().Get("depth"); v != "" {
		depth, err := strconv.Atoi(v)
		if err != nil || depth < 0 {
			writeError(w, http.StatusBadRequest, "depth must be a non-negative integer")
			return
		}
		if depth < len(snap.Bids) {
			snap.Bids = snap.Bids[:depth]
		}
		if depth < len(snap.Asks) {
			snap.Asks = snap.Asks[:depth]
		}
	}
	writeJSON(w, http.StatusOK, snap)
}
