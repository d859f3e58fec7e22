// Package service composes the engine, the store gateway, the price oracle,
// and the notification sinks into the operations the HTTP surface exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/engine"
	"papertrader/internal/notify"
	"papertrader/internal/store"
)

// openRetries bounds how many times an intake retries after losing an
// optimistic-save race against the poller.
const openRetries = 3

// IntakeService turns incoming token signals into opened positions.
type IntakeService struct {
	gateway  *store.Gateway
	prices   domain.PriceSource
	engine   *engine.Engine
	notifier *notify.Notifier
	sink     domain.EventSink
	logger   *slog.Logger
}

// NewIntakeService creates an IntakeService. notifier and sink may be nil.
func NewIntakeService(gateway *store.Gateway, prices domain.PriceSource, eng *engine.Engine, notifier *notify.Notifier, sink domain.EventSink, logger *slog.Logger) *IntakeService {
	return &IntakeService{
		gateway:  gateway,
		prices:   prices,
		engine:   eng,
		notifier: notifier,
		sink:     sink,
		logger:   logger.With(slog.String("component", "intake")),
	}
}

// ProcessSignal attempts to open a position for the signal. A rejected signal
// (already tracked, score below minimum) returns Opened=false with a reason
// and no error; the document is not written. A save conflict with the poller
// reloads and retries the open against the winner's state.
func (s *IntakeService) ProcessSignal(ctx context.Context, req engine.OpenRequest) (engine.OpenResult, error) {
	quote := s.lookupQuote(ctx, req)

	var lastErr error
	for attempt := 0; attempt < openRetries; attempt++ {
		doc, snap, err := s.gateway.Load(ctx)
		if err != nil {
			return engine.OpenResult{}, fmt.Errorf("service: intake load: %w", err)
		}

		res, err := s.engine.Open(doc, req, quote, time.Now().UTC())
		if err != nil {
			return engine.OpenResult{}, err
		}
		if !res.Opened {
			return res, nil
		}

		if _, err := s.gateway.Save(ctx, doc, snap); err != nil {
			if errors.Is(err, domain.ErrRevisionConflict) {
				lastErr = err
				s.logger.Warn("intake save conflict, retrying",
					slog.String("address", req.Address),
					slog.Int("attempt", attempt+1),
				)
				continue
			}
			return engine.OpenResult{}, fmt.Errorf("service: intake save: %w", err)
		}

		s.emit(ctx, res.Events)
		return res, nil
	}
	return engine.OpenResult{}, fmt.Errorf("service: intake open %s: %w", req.Address, lastErr)
}

// lookupQuote resolves a live entry quote for the signal token. A lookup
// failure is not fatal; the engine falls back to the signal price.
func (s *IntakeService) lookupQuote(ctx context.Context, req engine.OpenRequest) *domain.Quote {
	refs := []domain.TokenRef{{Chain: req.Chain, Address: req.Address}}
	quotes, err := s.prices.Prices(ctx, refs)
	if err != nil {
		s.logger.Warn("entry quote lookup failed, using signal price",
			slog.String("address", req.Address),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if q, ok := quotes[domain.NormalizeAddress(req.Address)]; ok {
		return &q
	}
	return nil
}

func (s *IntakeService) emit(ctx context.Context, events []domain.Event) {
	for _, evt := range events {
		if s.sink != nil {
			s.sink.Publish(evt)
		}
		if s.notifier != nil {
			s.notifier.Event(ctx, evt)
		}
	}
}
