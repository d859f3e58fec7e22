package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"papertrader/internal/service"
)

// AdminHandler serves destructive administrative operations.
type AdminHandler struct {
	stats  *service.StatsService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(stats *service.StatsService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{stats: stats, logger: logger}
}

// resetRequest guards the reset endpoint against accidental invocation.
type resetRequest struct {
	Confirm string `json:"confirm"`
}

// Reset discards the entire tracked portfolio and starts fresh. The body must
// carry the literal confirmation token.
// POST /api/reset
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if err := h.stats.Reset(r.Context(), req.Confirm); err != nil {
		h.logger.Warn("reset rejected", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
