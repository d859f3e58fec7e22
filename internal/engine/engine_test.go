package engine

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/domain"
)

func testEngine() *Engine {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testDoc() *domain.PortfolioDocument {
	return domain.NewPortfolioDocument(domain.PortfolioConfig{
		PositionSize:    250,
		TrailActivation: 1.5,
		TrailDistance:   0.10,
		StopLoss:        0.15,
		HistoryLimit:    50,
	})
}

func quote(price float64) domain.Quote {
	return domain.Quote{PriceUSD: price}
}

func open(t *testing.T, e *Engine, doc *domain.PortfolioDocument, addr string, entry float64) *domain.Position {
	t.Helper()
	res, err := e.Open(doc, OpenRequest{
		Address:    addr,
		Chain:      "solana",
		Symbol:     "TEST",
		EntryPrice: entry,
	}, nil, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, res.Opened)
	return res.Position
}

func TestOpenRejectsInvalidSignal(t *testing.T) {
	e := testEngine()
	doc := testDoc()

	_, err := e.Open(doc, OpenRequest{Chain: "solana", EntryPrice: 1}, nil, time.Now())
	require.ErrorIs(t, err, domain.ErrInvalidSignal)

	_, err = e.Open(doc, OpenRequest{Address: "abc", Chain: "solana", EntryPrice: 0}, nil, time.Now())
	require.ErrorIs(t, err, domain.ErrInvalidSignal)

	assert.Empty(t, doc.Positions)
	assert.Zero(t, doc.Stats.TotalTrades)
}

func TestOpenNoReentry(t *testing.T) {
	e := testEngine()
	doc := testDoc()
	now := time.Now().UTC()

	open(t, e, doc, "So1111", 1.0)

	// Same address again, any case.
	res, err := e.Open(doc, OpenRequest{Address: "SO1111", Chain: "solana", Symbol: "T", EntryPrice: 2.0}, nil, now)
	require.NoError(t, err)
	assert.False(t, res.Opened)
	assert.Equal(t, 1, doc.Stats.TotalTrades)

	// Close it, then try again: history still blocks re-entry.
	_, err = e.Apply(doc, "So1111", quote(0.5), now)
	require.NoError(t, err)
	require.Equal(t, 1, doc.Stats.ClosedPositions)

	delete(doc.Positions, domain.NormalizeAddress("So1111"))
	res, err = e.Open(doc, OpenRequest{Address: "So1111", Chain: "solana", Symbol: "T", EntryPrice: 2.0}, nil, now)
	require.NoError(t, err)
	assert.False(t, res.Opened)
}

func TestOpenScoreFilter(t *testing.T) {
	e := testEngine()
	doc := testDoc()
	doc.Config.MinScore = 70

	res, err := e.Open(doc, OpenRequest{Address: "abc", Chain: "solana", EntryPrice: 1, Score: 50}, nil, time.Now())
	require.NoError(t, err)
	assert.False(t, res.Opened)
	assert.Empty(t, doc.Positions)
}

func TestOpenUsesLiveQuoteWithEntryImpact(t *testing.T) {
	e := testEngine()
	doc := testDoc()

	q := &domain.Quote{PriceUSD: 2.0, LiquidityUSD: 25000}
	res, err := e.Open(doc, OpenRequest{Address: "abc", Chain: "solana", EntryPrice: 1.9}, q, time.Now())
	require.NoError(t, err)
	require.True(t, res.Opened)

	// 250/25000 = 1% impact against the buyer.
	assert.InDelta(t, 2.0*1.01, res.Position.EntryPrice, 1e-9)
	assert.Equal(t, 1.9, res.Position.SignalPrice)
	assert.Equal(t, res.Position.EntryPrice, res.Position.PeakPrice)
}

func TestTrailScenario(t *testing.T) {
	// Entry $1.00, size $250, activation 1.5, distance 0.10, stop 0.15.
	// Path 1.00 -> 1.60 -> 1.40.
	e := testEngine()
	doc := testDoc()
	pos := open(t, e, doc, "abc", 1.00)
	now := time.Now().UTC()

	res, err := e.Apply(doc, "abc", quote(1.60), now)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.Closed)
	require.Equal(t, domain.StatusTrailing, pos.Status)
	require.NotNil(t, pos.TrailPrice)
	assert.InDelta(t, 1.44, *pos.TrailPrice, 1e-9)

	res, err = e.Apply(doc, "abc", quote(1.40), now)
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, domain.StatusExited, pos.Status)
	assert.Equal(t, domain.ExitReasonTrail, pos.ExitReason)
	assert.InDelta(t, 1.44, pos.ExitPrice, 1e-9)
	assert.InDelta(t, 110.00, pos.Pnl, 1e-9)
	assert.InDelta(t, 110.00, doc.Stats.TotalPnl, 1e-9)
	assert.Equal(t, 1, doc.Stats.WinCount)
}

func TestStopLossScenario(t *testing.T) {
	// Entry $1.00, size $250, stop 0.15; drop to 0.80 closes at 0.85.
	e := testEngine()
	doc := testDoc()
	pos := open(t, e, doc, "abc", 1.00)

	res, err := e.Apply(doc, "abc", quote(0.80), time.Now())
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, domain.ExitReasonStopLoss, pos.ExitReason)
	assert.InDelta(t, 0.85, pos.ExitPrice, 1e-9)
	assert.InDelta(t, -37.50, pos.Pnl, 1e-9)
	assert.Nil(t, pos.TrailPrice)
	assert.Equal(t, 1, doc.Stats.LossCount)
}

func TestStopLossPrecedesTrail(t *testing.T) {
	// A drop breaching both the trail stop and the stop-loss threshold must
	// close with reason stop_loss.
	e := testEngine()
	doc := testDoc()
	pos := open(t, e, doc, "abc", 1.00)
	now := time.Now()

	_, err := e.Apply(doc, "abc", quote(1.60), now)
	require.NoError(t, err)
	require.Equal(t, domain.StatusTrailing, pos.Status)

	res, err := e.Apply(doc, "abc", quote(0.70), now)
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, domain.ExitReasonStopLoss, pos.ExitReason)
	assert.InDelta(t, 0.85, pos.ExitPrice, 1e-9)
}

func TestPeakMonotonic(t *testing.T) {
	e := testEngine()
	doc := testDoc()
	pos := open(t, e, doc, "abc", 1.00)

	prev := pos.PeakPrice
	for _, p := range []float64{1.10, 1.05, 1.30, 1.20, 1.30, 1.45} {
		_, err := e.Apply(doc, "abc", quote(p), time.Now())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pos.PeakPrice, prev)
		assert.GreaterOrEqual(t, pos.PeakPrice, pos.EntryPrice)
		prev = pos.PeakPrice
	}
	assert.InDelta(t, 1.45, pos.PeakPrice, 1e-9)
}

func TestTrailStopNeverDecreases(t *testing.T) {
	e := testEngine()
	doc := testDoc()
	pos := open(t, e, doc, "abc", 1.00)

	var prevTrail float64
	for _, p := range []float64{1.50, 1.70, 1.65, 1.90, 1.85} {
		_, err := e.Apply(doc, "abc", quote(p), time.Now())
		require.NoError(t, err)
		require.NotNil(t, pos.TrailPrice)
		assert.GreaterOrEqual(t, *pos.TrailPrice, prevTrail)
		prevTrail = *pos.TrailPrice
	}
	assert.InDelta(t, 1.90*0.90, prevTrail, 1e-9)
}

func TestExitedIsImmutable(t *testing.T) {
	e := testEngine()
	doc := testDoc()
	pos := open(t, e, doc, "abc", 1.00)

	_, err := e.Apply(doc, "abc", quote(0.10), time.Now())
	require.NoError(t, err)
	require.Equal(t, domain.StatusExited, pos.Status)

	frozen := *pos
	stats := doc.Stats

	res, err := e.Apply(doc, "abc", quote(5.00), time.Now())
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, frozen, *pos)
	assert.Equal(t, stats, doc.Stats)
}

func TestUnavailablePriceLeavesPositionUntouched(t *testing.T) {
	e := testEngine()
	doc := testDoc()
	pos := open(t, e, doc, "abc", 1.00)

	before := *pos
	res, err := e.Apply(doc, "abc", domain.Quote{}, time.Now())
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, before, *pos)
}

func TestTotalPnlMatchesClosedSum(t *testing.T) {
	e := testEngine()
	doc := testDoc()
	now := time.Now().UTC()

	open(t, e, doc, "a1", 1.00)
	open(t, e, doc, "a2", 2.00)
	open(t, e, doc, "a3", 1.00)

	// a1: stop-loss. a2: trail win with slippage. a3: stays open.
	_, err := e.Apply(doc, "a1", quote(0.50), now)
	require.NoError(t, err)

	_, err = e.Apply(doc, "a2", quote(3.20), now)
	require.NoError(t, err)
	_, err = e.Apply(doc, "a2", domain.Quote{PriceUSD: 2.80, LiquidityUSD: 2500}, now)
	require.NoError(t, err)

	_, err = e.Apply(doc, "a3", quote(1.10), now)
	require.NoError(t, err)

	var sum float64
	for _, rec := range doc.History {
		sum += rec.Pnl
	}
	assert.InDelta(t, sum, doc.Stats.TotalPnl, 1e-9)
	assert.Equal(t, 2, doc.Stats.ClosedPositions)
	assert.Equal(t, 1, doc.Stats.OpenPositions)
}

func TestSlippageCorrectedExit(t *testing.T) {
	// Trail close quoted at 1.44 with size 250 against 2500 liquidity: 10%
	// impact gives realized exit 1.296, and only the corrected pnl reaches
	// the aggregate.
	e := testEngine()
	doc := testDoc()
	pos := open(t, e, doc, "abc", 1.00)
	now := time.Now()

	_, err := e.Apply(doc, "abc", quote(1.60), now)
	require.NoError(t, err)

	res, err := e.Apply(doc, "abc", domain.Quote{PriceUSD: 1.40, LiquidityUSD: 2500}, now)
	require.NoError(t, err)
	require.True(t, res.Closed)

	assert.InDelta(t, 1.296, pos.ExitPrice, 1e-9)
	wantPnl := (1.296 - 1.00) * 250
	assert.InDelta(t, wantPnl, pos.Pnl, 1e-9)
	assert.InDelta(t, wantPnl, doc.Stats.TotalPnl, 1e-9)
	require.Len(t, doc.History, 1)
	assert.InDelta(t, wantPnl, doc.History[0].Pnl, 1e-9)
}

func TestHistoryBounded(t *testing.T) {
	e := testEngine()
	doc := testDoc()
	doc.Config.HistoryLimit = 3
	now := time.Now().UTC()

	for _, addr := range []string{"a1", "a2", "a3", "a4", "a5"} {
		open(t, e, doc, addr, 1.00)
		_, err := e.Apply(doc, addr, quote(0.50), now)
		require.NoError(t, err)
	}

	require.Len(t, doc.History, 3)
	// Oldest dropped first.
	assert.Equal(t, "a3", doc.History[0].Address)
	assert.Equal(t, "a5", doc.History[2].Address)
	assert.Equal(t, 5, doc.Stats.ClosedPositions)
}

func TestReport(t *testing.T) {
	e := testEngine()
	doc := testDoc()
	now := time.Now().UTC()

	open(t, e, doc, "a1", 1.00)
	open(t, e, doc, "a2", 1.00)

	_, err := e.Apply(doc, "a1", quote(1.20), now)
	require.NoError(t, err)
	_, err = e.Apply(doc, "a2", quote(0.50), now)
	require.NoError(t, err)

	rep := e.Report(doc, 10)
	assert.Len(t, rep.Open, 1)
	assert.Len(t, rep.RecentClosed, 1)
	assert.InDelta(t, 50.0, rep.UnrealizedPnl, 1e-9) // (1.2-1)*250
	assert.InDelta(t, doc.Stats.TotalPnl+50.0, rep.CombinedPnl, 1e-9)
	assert.Equal(t, 0.0, rep.WinRate) // one close, a loss

	// No closes at all: win rate defined as 0.
	fresh := testDoc()
	assert.Equal(t, 0.0, e.Report(fresh, 0).WinRate)
}
