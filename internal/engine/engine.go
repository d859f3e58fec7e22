// Package engine implements the position lifecycle state machine and the
// portfolio statistics bookkeeping. It is pure logic over an in-memory
// PortfolioDocument: no I/O happens here, and every mutation keeps the
// running stats and the positions map consistent within a single call, so a
// document is always safe to persist between engine operations.
package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"papertrader/internal/domain"
)

// Engine owns the per-position update algorithm and the aggregate stats
// recomputation. It is stateless; all state lives in the document.
type Engine struct {
	logger *slog.Logger
}

// New creates an Engine.
func New(logger *slog.Logger) *Engine {
	return &Engine{logger: logger.With(slog.String("component", "engine"))}
}

// OpenRequest is a new-signal intake, as received from the external signal
// source.
type OpenRequest struct {
	Address         string
	Chain           string
	Symbol          string
	EntryPrice      float64 // signal-supplied price, used when no live quote resolves
	Score           float64
	SignalMessageID string
}

// OpenResult reports the outcome of an open attempt. A rejected open
// (already-tracked address, score below minimum) is not an error: the
// document is left unchanged and Opened is false.
type OpenResult struct {
	Opened   bool
	Reason   string
	Position *domain.Position
	Events   []domain.Event
}

// Open opens a new position at the engine's configured size. The entry fill
// is the oracle's live price when a quote resolves (adjusted for market
// impact when liquidity is known), else the supplied signal price.
//
// Opening is rejected idempotently if the address already exists in the
// positions map — active, trailing, or exited — or appears in history: no
// re-entry into a token ever occurs once touched.
func (e *Engine) Open(doc *domain.PortfolioDocument, req OpenRequest, quote *domain.Quote, now time.Time) (OpenResult, error) {
	if req.Address == "" || req.Chain == "" {
		return OpenResult{}, fmt.Errorf("engine: open: address and chain required: %w", domain.ErrInvalidSignal)
	}
	if req.EntryPrice <= 0 {
		return OpenResult{}, fmt.Errorf("engine: open %s: entry price must be positive: %w", req.Address, domain.ErrInvalidSignal)
	}

	if doc.Touched(req.Address) {
		e.logger.Info("open rejected, address already tracked",
			slog.String("address", req.Address),
			slog.String("symbol", req.Symbol),
		)
		return OpenResult{Reason: "address already tracked"}, nil
	}

	if req.Score < doc.Config.MinScore {
		return OpenResult{Reason: fmt.Sprintf("score %.2f below minimum %.2f", req.Score, doc.Config.MinScore)}, nil
	}

	size := doc.Config.PositionSize

	entry := req.EntryPrice
	if quote != nil && quote.Available() {
		entry = quote.PriceUSD
		if quote.LiquidityUSD > 0 {
			// Buying pushes the price against us.
			entry *= 1 + SlippageFraction(size, quote.LiquidityUSD)
		}
	}

	pos := &domain.Position{
		Address:         req.Address,
		Chain:           req.Chain,
		Symbol:          req.Symbol,
		EntryPrice:      entry,
		SignalPrice:     req.EntryPrice,
		Size:            size,
		Score:           req.Score,
		SignalMessageID: req.SignalMessageID,
		Status:          domain.StatusActive,
		PeakPrice:       entry,
		PeakTime:        now,
		OpenedAt:        now,
	}
	doc.Positions[domain.NormalizeAddress(req.Address)] = pos

	doc.Stats.TotalTrades++
	doc.Stats.OpenPositions++
	doc.Stats.CapitalDeployed += size

	e.logger.Info("position opened",
		slog.String("address", req.Address),
		slog.String("symbol", req.Symbol),
		slog.Float64("entry_price", entry),
		slog.Float64("size", size),
	)

	return OpenResult{
		Opened:   true,
		Position: pos,
		Events: []domain.Event{{
			Type:     domain.EventPositionOpened,
			Position: *pos,
			Price:    entry,
			At:       now,
		}},
	}, nil
}

// UpdateResult reports what a price update did to a position.
type UpdateResult struct {
	Changed bool
	Closed  bool
	Record  *domain.TradeRecord
	Events  []domain.Event
}

// Apply runs one price update through the exit-trigger state machine.
//
// The stop-loss check always runs first, regardless of current status: it is
// a hard floor the trail mechanism cannot override. Then the peak is raised,
// trailing is activated once the price multiple reaches the activation
// threshold, and while trailing the stop is recomputed from the peak (it
// rises monotonically, never falls). A price at or below the trail stop
// closes the position at the stop.
//
// An exited position is never mutated; the call is an idempotent no-op. An
// unavailable quote likewise leaves the position untouched — a missing price
// is never treated as a zero market price.
func (e *Engine) Apply(doc *domain.PortfolioDocument, address string, quote domain.Quote, now time.Time) (UpdateResult, error) {
	pos, ok := doc.Positions[domain.NormalizeAddress(address)]
	if !ok {
		return UpdateResult{}, fmt.Errorf("engine: apply %s: %w", address, domain.ErrNotFound)
	}
	if !pos.Open() {
		return UpdateResult{}, nil
	}
	if !quote.Available() {
		return UpdateResult{}, nil
	}

	cfg := doc.Config
	price := quote.PriceUSD
	mult := price / pos.EntryPrice

	var res UpdateResult

	// Hard stop-loss takes precedence over everything, including an armed
	// trail stop.
	if mult <= 1-cfg.StopLoss {
		rec := e.close(doc, pos, pos.EntryPrice*(1-cfg.StopLoss), domain.ExitReasonStopLoss, quote, now)
		res.Changed = true
		res.Closed = true
		res.Record = rec
		res.Events = append(res.Events, domain.Event{
			Type:     domain.EventPositionClosed,
			Position: *pos,
			Price:    price,
			At:       now,
		})
		return res, nil
	}

	if price > pos.PeakPrice {
		pos.PeakPrice = price
		pos.PeakTime = now
		res.Changed = true
	}

	if pos.Status == domain.StatusActive && mult >= cfg.TrailActivation {
		pos.Status = domain.StatusTrailing
		trail := pos.PeakPrice * (1 - cfg.TrailDistance)
		pos.TrailPrice = &trail
		res.Changed = true
		res.Events = append(res.Events, domain.Event{
			Type:     domain.EventTrailingActivated,
			Position: *pos,
			Price:    price,
			At:       now,
		})
		e.logger.Info("trailing activated",
			slog.String("address", pos.Address),
			slog.String("symbol", pos.Symbol),
			slog.Float64("trail_price", trail),
		)
	}

	if pos.Status == domain.StatusTrailing {
		trail := pos.PeakPrice * (1 - cfg.TrailDistance)
		pos.TrailPrice = &trail

		if price <= trail {
			rec := e.close(doc, pos, trail, domain.ExitReasonTrail, quote, now)
			res.Changed = true
			res.Closed = true
			res.Record = rec
			res.Events = append(res.Events, domain.Event{
				Type:     domain.EventPositionClosed,
				Position: *pos,
				Price:    price,
				At:       now,
			})
			return res, nil
		}
	}

	unrealized := (mult - 1) * pos.Size
	if unrealized != pos.UnrealizedPnl {
		pos.UnrealizedPnl = unrealized
		res.Changed = true
	}

	return res, nil
}

// close marks the position exited at the quoted exit price, adjusted for
// market impact when liquidity is known, and folds the realized pnl into the
// running stats. The slippage-corrected pnl is the only figure that ever
// reaches Stats.TotalPnl, so the aggregate and the per-position records
// cannot drift apart, even if a save lands mid-cycle.
func (e *Engine) close(doc *domain.PortfolioDocument, pos *domain.Position, quotedExit float64, reason domain.ExitReason, quote domain.Quote, now time.Time) *domain.TradeRecord {
	exit := quotedExit
	if quote.LiquidityUSD > 0 {
		exit = quotedExit * (1 - SlippageFraction(pos.Size, quote.LiquidityUSD))
	}

	pnl := (exit/pos.EntryPrice - 1) * pos.Size

	pos.Status = domain.StatusExited
	pos.ExitPrice = exit
	exitTime := now
	pos.ExitTime = &exitTime
	pos.ExitReason = reason
	pos.Pnl = pnl
	pos.UnrealizedPnl = 0
	if reason == domain.ExitReasonStopLoss {
		// TrailPrice stays set only for positions that exited via trail.
		pos.TrailPrice = nil
	}

	doc.Stats.OpenPositions--
	doc.Stats.ClosedPositions++
	if pnl > 0 {
		doc.Stats.WinCount++
	} else {
		doc.Stats.LossCount++
	}
	doc.Stats.TotalPnl += pnl
	doc.Stats.CapitalDeployed -= pos.Size

	rec := domain.TradeRecord{
		Address:    pos.Address,
		Chain:      pos.Chain,
		Symbol:     pos.Symbol,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exit,
		Size:       pos.Size,
		Pnl:        pnl,
		Reason:     reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   now,
	}
	doc.History = append(doc.History, rec)
	if limit := doc.Config.HistoryLimit; limit > 0 && len(doc.History) > limit {
		doc.History = doc.History[len(doc.History)-limit:]
	}

	e.logger.Info("position closed",
		slog.String("address", pos.Address),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", string(reason)),
		slog.Float64("exit_price", exit),
		slog.Float64("pnl", pnl),
	)

	return &rec
}

// StatsReport is the aggregate view returned by the stats query: stored
// cumulative counters plus the unrealized pnl of everything currently open.
type StatsReport struct {
	Stats         domain.Stats         `json:"stats"`
	UnrealizedPnl float64              `json:"unrealizedPnl"`
	CombinedPnl   float64              `json:"combinedPnl"`
	WinRate       float64              `json:"winRate"`
	Open          []domain.Position    `json:"open"`
	RecentClosed  []domain.TradeRecord `json:"recentClosed"`
}

// Report computes the aggregate stats view. recent bounds how many closed
// trades are included, newest first; 0 means all retained history.
func (e *Engine) Report(doc *domain.PortfolioDocument, recent int) StatsReport {
	rep := StatsReport{Stats: doc.Stats}

	for _, pos := range doc.Positions {
		if pos.Open() {
			rep.UnrealizedPnl += pos.UnrealizedPnl
			rep.Open = append(rep.Open, *pos)
		}
	}
	sort.Slice(rep.Open, func(i, j int) bool {
		return rep.Open[i].OpenedAt.Before(rep.Open[j].OpenedAt)
	})

	rep.CombinedPnl = doc.Stats.TotalPnl + rep.UnrealizedPnl

	if doc.Stats.ClosedPositions > 0 {
		rep.WinRate = float64(doc.Stats.WinCount) / float64(doc.Stats.ClosedPositions)
	}

	n := len(doc.History)
	take := n
	if recent > 0 && recent < n {
		take = recent
	}
	for i := n - 1; i >= n-take; i-- {
		rep.RecentClosed = append(rep.RecentClosed, doc.History[i])
	}

	return rep
}
