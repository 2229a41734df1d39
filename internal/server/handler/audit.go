package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// AuditHandler lists feed lifecycle events.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logHandler(logger, "audit")}
}

// List returns the newest audit entries.
// GET /audit?limit=100
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List(r.Context(), parseLimit(r, 100))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit log failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
