// Package poller orchestrates position-check invocations: repeated
// reload → price fetch → reload → update → save cycles within a single run.
// The double reload (the "reload sandwich") shrinks the window in which a
// concurrent writer — the signal intake opening new positions against the
// same remote document — could be clobbered while slow price lookups are in
// flight. No lock is held; conflicts surface at save time and the cycle is
// simply skipped, the persisted document being the only source of truth.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/engine"
	"papertrader/internal/notify"
	"papertrader/internal/store"
)

// Coordinator drives the engine from oracle prices and persists through the
// store gateway. Notifier, journal, and sink are optional.
type Coordinator struct {
	gateway  *store.Gateway
	prices   domain.PriceSource
	engine   *engine.Engine
	notifier *notify.Notifier
	journal  domain.TradeJournal
	sink     domain.EventSink

	iterations int
	cycleDelay time.Duration
	logger     *slog.Logger
}

// Config bounds one polling invocation.
type Config struct {
	// Iterations is how many reload/fetch/update/save cycles one
	// invocation performs.
	Iterations int

	// CycleDelay spaces the cycles to spread out rate-limited provider
	// calls.
	CycleDelay time.Duration
}

// Report summarizes one polling invocation.
type Report struct {
	Cycles  int `json:"cycles"`
	Checked int `json:"checked"`
	Closed  int `json:"closed"`
}

// New creates a Coordinator. notifier, journal, and sink may be nil.
func New(gateway *store.Gateway, prices domain.PriceSource, eng *engine.Engine, notifier *notify.Notifier, journal domain.TradeJournal, sink domain.EventSink, cfg Config, logger *slog.Logger) *Coordinator {
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 1
	}
	return &Coordinator{
		gateway:    gateway,
		prices:     prices,
		engine:     eng,
		notifier:   notifier,
		journal:    journal,
		sink:       sink,
		iterations: iterations,
		cycleDelay: cfg.CycleDelay,
		logger:     logger.With(slog.String("component", "poller")),
	}
}

// Run performs one polling invocation: the configured number of cycles,
// spaced by the cycle delay. Data-integrity failures (foreign or corrupted
// persisted document) abort the run; everything else degrades to a skipped
// cycle or a skipped token.
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	var report Report

	for i := 0; i < c.iterations; i++ {
		if i > 0 && c.cycleDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(c.cycleDelay):
			}
		}

		checked, closed, err := c.runCycle(ctx)
		if err != nil {
			if isIntegrityError(err) {
				return report, fmt.Errorf("poller: cycle %d: %w", i+1, err)
			}
			c.logger.Warn("cycle failed, skipping",
				slog.Int("cycle", i+1),
				slog.String("error", err.Error()),
			)
			continue
		}

		report.Cycles++
		report.Checked += checked
		report.Closed += closed
	}

	c.logger.Info("polling run complete",
		slog.Int("cycles", report.Cycles),
		slog.Int("checked", report.Checked),
		slog.Int("closed", report.Closed),
	)
	return report, nil
}

// runCycle performs one reload-sandwich cycle.
func (c *Coordinator) runCycle(ctx context.Context) (checked, closed int, err error) {
	// First reload: the freshest view of which positions need checking,
	// including any the intake path opened since the last cycle.
	snapshot, _, err := c.gateway.Load(ctx)
	if err != nil {
		return 0, 0, err
	}

	refs := snapshot.OpenRefs()
	if len(refs) == 0 {
		return 0, 0, nil
	}

	// Slow, rate-limited lookups run against the snapshot only.
	quotes, err := c.prices.Prices(ctx, refs)
	if err != nil {
		return 0, 0, fmt.Errorf("price lookup: %w", err)
	}

	// Second reload immediately before applying updates: a concurrent
	// writer may have changed the document while prices were in flight.
	doc, snap, err := c.gateway.Load(ctx)
	if err != nil {
		return 0, 0, err
	}

	addresses := make([]string, 0, len(doc.Positions))
	for addr := range doc.Positions {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	var (
		changed bool
		events  []domain.Event
		records []domain.TradeRecord
	)
	now := time.Now().UTC()

	for _, addr := range addresses {
		pos := doc.Positions[addr]
		if !pos.Open() {
			continue
		}
		quote, ok := quotes[addr]
		if !ok {
			// No registered price this cycle; the position stays untouched.
			continue
		}

		res, err := c.engine.Apply(doc, addr, quote, now)
		if err != nil {
			return checked, closed, fmt.Errorf("apply %s: %w", addr, err)
		}

		checked++
		if res.Changed {
			changed = true
		}
		if res.Closed {
			closed++
		}
		events = append(events, res.Events...)
		if res.Record != nil {
			records = append(records, *res.Record)
		}
	}

	if !changed {
		return checked, closed, nil
	}

	if _, err := c.gateway.Save(ctx, doc, snap); err != nil {
		if errors.Is(err, domain.ErrRevisionConflict) {
			// An overlapping save won the race. The next successful cycle
			// recomputes against the winner's state, so nothing is emitted
			// for updates that were never persisted.
			c.logger.Warn("save conflict, skipping cycle", slog.String("error", err.Error()))
			return checked, 0, nil
		}
		return checked, closed, fmt.Errorf("save: %w", err)
	}

	c.emit(ctx, events, records)
	return checked, closed, nil
}

// emit forwards persisted-cycle outcomes to the sinks, all best-effort.
func (c *Coordinator) emit(ctx context.Context, events []domain.Event, records []domain.TradeRecord) {
	for _, evt := range events {
		if c.sink != nil {
			c.sink.Publish(evt)
		}
		if c.notifier != nil {
			c.notifier.Event(ctx, evt)
		}
	}
	if c.journal != nil {
		for _, rec := range records {
			if err := c.journal.Record(ctx, rec); err != nil {
				c.logger.Warn("journal write failed",
					slog.String("address", rec.Address),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func isIntegrityError(err error) bool {
	return errors.Is(err, domain.ErrForeignDocument) || errors.Is(err, domain.ErrCorruptedDocument)
}
