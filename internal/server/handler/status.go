package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bitbondlabs/bitbondd/internal/domain"
)

// StatusHandler reports what the process is running and where the chain is.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	heights   domain.HeightSource
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, startedAt time.Time, heights domain.HeightSource, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		heights:   heights,
		logger:    logger,
	}
}

// GetStatus returns the run mode, uptime, and current chain height.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":       h.mode,
		"started_at": h.startedAt.UTC().Format(time.RFC3339),
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
	}
	if height, err := h.heights.Height(r.Context()); err == nil {
		resp["height"] = height
	}
	writeJSON(w, http.StatusOK, resp)
}
