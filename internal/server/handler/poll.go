package handler

import (
	"log/slog"
	"net/http"

	"papertrader/internal/poller"
)

// PollHandler exposes the on-demand position check.
type PollHandler struct {
	coordinator *poller.Coordinator
	logger      *slog.Logger
}

// NewPollHandler creates a PollHandler.
func NewPollHandler(coordinator *poller.Coordinator, logger *slog.Logger) *PollHandler {
	return &PollHandler{coordinator: coordinator, logger: logger}
}

// TriggerPoll runs one full polling invocation synchronously and returns its
// report.
// POST /api/poll/trigger
func (h *PollHandler) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	report, err := h.coordinator.Run(r.Context())
	if err != nil {
		h.logger.Error("manual poll failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
