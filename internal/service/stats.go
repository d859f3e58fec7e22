package service

import (
	"context"
	"fmt"
	"log/slog"

	"papertrader/internal/engine"
	"papertrader/internal/notify"
	"papertrader/internal/store"
)

// StatsService serves portfolio reports and handles the reset operation.
type StatsService struct {
	gateway  *store.Gateway
	engine   *engine.Engine
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewStatsService creates a StatsService. notifier may be nil.
func NewStatsService(gateway *store.Gateway, eng *engine.Engine, notifier *notify.Notifier, logger *slog.Logger) *StatsService {
	return &StatsService{
		gateway:  gateway,
		engine:   eng,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "stats")),
	}
}

// Report loads the portfolio and computes the aggregate report, including up
// to recent most recently closed trades. When push is true the summary is
// also delivered to the chat channels.
func (s *StatsService) Report(ctx context.Context, recent int, push bool) (engine.StatsReport, error) {
	doc, _, err := s.gateway.Load(ctx)
	if err != nil {
		return engine.StatsReport{}, fmt.Errorf("service: stats load: %w", err)
	}

	report := s.engine.Report(doc, recent)

	if push && s.notifier != nil {
		s.notifier.Send(ctx, "Portfolio stats", formatSummary(report))
	}
	return report, nil
}

// Reset discards the tracked portfolio and starts a fresh document. confirm
// must match the expected confirmation token.
func (s *StatsService) Reset(ctx context.Context, confirm string) error {
	doc, err := s.gateway.Reset(ctx, confirm)
	if err != nil {
		return err
	}

	s.logger.Info("portfolio reset", slog.String("version", doc.Version))
	if s.notifier != nil {
		s.notifier.Send(ctx, "Portfolio reset", "Tracking state discarded; starting fresh.")
	}
	return nil
}

// formatSummary renders a chat-friendly one-glance portfolio summary.
func formatSummary(r engine.StatsReport) string {
	return fmt.Sprintf(
		"Open %d · closed %d · win rate %.0f%%\nRealized %+.2f · unrealized %+.2f · combined %+.2f USD",
		r.Stats.OpenPositions, r.Stats.ClosedPositions, r.WinRate*100,
		r.Stats.TotalPnl, r.UnrealizedPnl, r.CombinedPnl,
	)
}
