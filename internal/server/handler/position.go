package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"papertrader/internal/engine"
	"papertrader/internal/service"
)

// PositionHandler serves signal intake and portfolio stats.
type PositionHandler struct {
	intake *service.IntakeService
	stats  *service.StatsService
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(intake *service.IntakeService, stats *service.StatsService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{intake: intake, stats: stats, logger: logger}
}

// signalRequest is the intake payload for a new token signal.
type signalRequest struct {
	Address         string  `json:"tokenAddress"`
	Chain           string  `json:"chain"`
	Symbol          string  `json:"symbol"`
	EntryPrice      float64 `json:"entryPrice"`
	Score           float64 `json:"score"`
	SignalMessageID string  `json:"signalMsgId"`
}

// ProcessSignal accepts a token signal and attempts to open a paper position.
// A rejected signal (already tracked, score below minimum) returns 200 with
// opened=false; a newly opened position returns 201.
// POST /api/positions
func (h *PositionHandler) ProcessSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	res, err := h.intake.ProcessSignal(r.Context(), engine.OpenRequest{
		Address:         req.Address,
		Chain:           req.Chain,
		Symbol:          req.Symbol,
		EntryPrice:      req.EntryPrice,
		Score:           req.Score,
		SignalMessageID: req.SignalMessageID,
	})
	if err != nil {
		h.logger.Error("signal intake failed",
			slog.String("address", req.Address),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	if !res.Opened {
		writeJSON(w, http.StatusOK, map[string]any{
			"opened": false,
			"reason": res.Reason,
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"opened":   true,
		"position": res.Position,
	})
}

// GetStats returns the aggregate portfolio report. With ?notify=true the
// summary is also pushed to the chat channels.
// GET /api/stats
func (h *PositionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	recent := queryInt(r, "recent", 10)
	push := r.URL.Query().Get("notify") == "true"

	report, err := h.stats.Report(r.Context(), recent, push)
	if err != nil {
		h.logger.Error("stats report failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
