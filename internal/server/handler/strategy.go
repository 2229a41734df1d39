package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// StrategyController gets and sets the active strategy at runtime
// (strategy.Engine).
type StrategyController interface {
	ActiveName() string
	ListNames() []string
	SetActive(ctx context.Context, name string) error
}

// StrategyNameListener is told when the active strategy changes so the
// WebSocket hub can report the new name in its status message.
type StrategyNameListener interface {
	SetStrategyName(name string)
}

// StrategyHandler serves GET /strategy and POST /strategy/active. When ctrl
// is nil (monitor mode), requests return 501.
type StrategyHandler struct {
	ctrl     StrategyController
	listener StrategyNameListener // optional
	logger   *slog.Logger
}

// NewStrategyHandler creates a handler. ctrl and listener may be nil.
func NewStrategyHandler(ctrl StrategyController, listener StrategyNameListener, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{ctrl: ctrl, listener: listener, logger: logHandler(logger, "strategy")}
}

// Get returns the active strategy and every registered name.
// GET /strategy
func (h *StrategyHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.ctrl == nil {
		writeError(w, http.StatusNotImplemented, "strategy runtime not available in this mode")
		return
	}
	names := h.ctrl.ListNames()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":     h.ctrl.ActiveName(),
		"strategies": names,
	})
}

// SetActiveRequest is the JSON body for POST /strategy/active.
type SetActiveRequest struct {
	Name string `json:"name"`
}

// SetActive switches the active strategy.
// POST /strategy/active
func (h *StrategyHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	if h.ctrl == nil {
		writeError(w, http.StatusNotImplemented, "strategy runtime not available in this mode")
		return
	}
	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := h.ctrl.SetActive(r.Context(), name); err != nil {
		h.logger.WarnContext(r.Context(), "set active strategy failed",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.listener != nil {
		h.listener.SetStrategyName(name)
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": name})
}
