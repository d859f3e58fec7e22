package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/domain"
	"papertrader/internal/engine"
	"papertrader/internal/store"
	"papertrader/internal/store/storetest"
)

// stubSource is a scriptable domain.PriceSource.
type stubSource struct {
	fn    func(ctx context.Context, refs []domain.TokenRef) (map[string]domain.Quote, error)
	calls int
}

func (s *stubSource) Prices(ctx context.Context, refs []domain.TokenRef) (map[string]domain.Quote, error) {
	s.calls++
	return s.fn(ctx, refs)
}

type recordingJournal struct {
	records []domain.TradeRecord
}

func (r *recordingJournal) Record(_ context.Context, rec domain.TradeRecord) error {
	r.records = append(r.records, rec)
	return nil
}

type recordingSink struct {
	events []domain.Event
}

func (r *recordingSink) Publish(evt domain.Event) {
	r.events = append(r.events, evt)
}

const testPointerKey = "portfolio/current"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(blob domain.DocumentBlob) *store.Gateway {
	cfg := domain.PortfolioConfig{
		PositionSize:    100,
		TrailActivation: 1.5,
		TrailDistance:   0.10,
		StopLoss:        0.15,
		HistoryLimit:    50,
	}
	return store.NewGateway(blob, testPointerKey, "portfolio/", cfg, testLogger())
}

// seedPosition opens a position through the engine and persists it.
func seedPosition(t *testing.T, g *store.Gateway, eng *engine.Engine, address, symbol string, entry float64) {
	t.Helper()
	ctx := context.Background()

	doc, snap, err := g.Load(ctx)
	require.NoError(t, err)

	res, err := eng.Open(doc, engine.OpenRequest{
		Address:    address,
		Chain:      "ethereum",
		Symbol:     symbol,
		EntryPrice: entry,
		Score:      10,
	}, nil, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, res.Opened)

	_, err = g.Save(ctx, doc, snap)
	require.NoError(t, err)
}

func newCoordinator(g *store.Gateway, src domain.PriceSource, eng *engine.Engine, journal domain.TradeJournal, sink domain.EventSink, cfg Config) *Coordinator {
	return New(g, src, eng, nil, journal, sink, cfg, testLogger())
}

func TestRunClosesStoppedOutPosition(t *testing.T) {
	blob := storetest.NewMemBlob()
	g := newTestGateway(blob)
	eng := engine.New(testLogger())
	seedPosition(t, g, eng, "0xaaa", "AAA", 1.00)

	src := &stubSource{fn: func(_ context.Context, refs []domain.TokenRef) (map[string]domain.Quote, error) {
		require.Len(t, refs, 1)
		return map[string]domain.Quote{"0xaaa": {PriceUSD: 0.80}}, nil
	}}
	journal := &recordingJournal{}
	sink := &recordingSink{}

	c := newCoordinator(g, src, eng, journal, sink, Config{Iterations: 1})
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Cycles: 1, Checked: 1, Closed: 1}, report)

	doc, _, err := g.Load(context.Background())
	require.NoError(t, err)
	pos := doc.Positions["0xaaa"]
	require.NotNil(t, pos)
	assert.Equal(t, domain.StatusExited, pos.Status)
	// Stop-loss exits fill at the configured floor, not the observed print.
	assert.InDelta(t, 0.85, pos.ExitPrice, 1e-9)
	assert.InDelta(t, -15.0, pos.Pnl, 1e-9)
	require.Len(t, doc.History, 1)

	require.Len(t, journal.records, 1)
	assert.Equal(t, "0xaaa", journal.records[0].Address)

	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.EventPositionClosed, sink.events[0].Type)
}

func TestRunSecondReloadPicksUpConcurrentOpen(t *testing.T) {
	blob := storetest.NewMemBlob()
	g := newTestGateway(blob)
	eng := engine.New(testLogger())
	seedPosition(t, g, eng, "0xaaa", "AAA", 1.00)

	// While prices are "in flight", a concurrent intake opens a second
	// position against the same stored document.
	src := &stubSource{fn: func(_ context.Context, _ []domain.TokenRef) (map[string]domain.Quote, error) {
		other := newTestGateway(blob)
		seedPosition(t, other, eng, "0xbbb", "BBB", 2.00)
		return map[string]domain.Quote{"0xaaa": {PriceUSD: 0.80}}, nil
	}}

	c := newCoordinator(g, src, eng, nil, nil, Config{Iterations: 1})
	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)

	// The save must not clobber the concurrently opened position.
	doc, _, err := g.Load(context.Background())
	require.NoError(t, err)

	closed := doc.Positions["0xaaa"]
	require.NotNil(t, closed)
	assert.Equal(t, domain.StatusExited, closed.Status)

	survivor := doc.Positions["0xbbb"]
	require.NotNil(t, survivor)
	assert.Equal(t, domain.StatusActive, survivor.Status)
	assert.InDelta(t, 2.00, survivor.EntryPrice, 1e-9)
}

func TestRunMissingPriceLeavesPositionUntouched(t *testing.T) {
	blob := storetest.NewMemBlob()
	g := newTestGateway(blob)
	eng := engine.New(testLogger())
	seedPosition(t, g, eng, "0xaaa", "AAA", 1.00)

	src := &stubSource{fn: func(_ context.Context, _ []domain.TokenRef) (map[string]domain.Quote, error) {
		return map[string]domain.Quote{}, nil
	}}

	putsBefore := blob.PutCount()
	c := newCoordinator(g, src, eng, nil, nil, Config{Iterations: 1})
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Cycles: 1}, report)
	// Nothing changed, so nothing was written.
	assert.Equal(t, putsBefore, blob.PutCount())

	doc, _, err := g.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, doc.Positions["0xaaa"].Status)
}

func TestRunSkipsLookupWithNoOpenPositions(t *testing.T) {
	blob := storetest.NewMemBlob()
	g := newTestGateway(blob)
	eng := engine.New(testLogger())

	src := &stubSource{fn: func(_ context.Context, _ []domain.TokenRef) (map[string]domain.Quote, error) {
		return nil, nil
	}}

	c := newCoordinator(g, src, eng, nil, nil, Config{Iterations: 2})
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Cycles: 2}, report)
	assert.Zero(t, src.calls)
}

func TestRunMultipleCyclesAccumulates(t *testing.T) {
	blob := storetest.NewMemBlob()
	g := newTestGateway(blob)
	eng := engine.New(testLogger())
	seedPosition(t, g, eng, "0xaaa", "AAA", 1.00)

	src := &stubSource{fn: func(_ context.Context, _ []domain.TokenRef) (map[string]domain.Quote, error) {
		return map[string]domain.Quote{"0xaaa": {PriceUSD: 1.05}}, nil
	}}

	c := newCoordinator(g, src, eng, nil, nil, Config{Iterations: 3})
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Cycles: 3, Checked: 3}, report)
	assert.Equal(t, 3, src.calls)

	doc, _, err := g.Load(context.Background())
	require.NoError(t, err)
	pos := doc.Positions["0xaaa"]
	assert.Equal(t, domain.StatusActive, pos.Status)
	assert.InDelta(t, 1.05, pos.PeakPrice, 1e-9)
}

func TestRunSkipsCycleOnProviderOutage(t *testing.T) {
	blob := storetest.NewMemBlob()
	g := newTestGateway(blob)
	eng := engine.New(testLogger())
	seedPosition(t, g, eng, "0xaaa", "AAA", 1.00)

	src := &stubSource{fn: func(_ context.Context, _ []domain.TokenRef) (map[string]domain.Quote, error) {
		return nil, fmt.Errorf("provider down")
	}}

	c := newCoordinator(g, src, eng, nil, nil, Config{Iterations: 2})
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	// Failed cycles are skipped, not fatal, and do not count.
	assert.Equal(t, Report{}, report)
	assert.Equal(t, 2, src.calls)
}

func TestRunAbortsOnForeignDocument(t *testing.T) {
	blob := storetest.NewMemBlob()
	g := newTestGateway(blob)
	eng := engine.New(testLogger())
	seedPosition(t, g, eng, "0xaaa", "AAA", 1.00)

	require.NoError(t, blob.OverwriteDocument(testPointerKey, []byte(`{"someoneElses":"state"}`)))

	src := &stubSource{fn: func(_ context.Context, _ []domain.TokenRef) (map[string]domain.Quote, error) {
		return nil, nil
	}}

	c := newCoordinator(g, src, eng, nil, nil, Config{Iterations: 3})
	_, err := c.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrForeignDocument)
}

func TestRunAbortsOnCorruptedDocument(t *testing.T) {
	blob := storetest.NewMemBlob()
	g := newTestGateway(blob)
	eng := engine.New(testLogger())
	seedPosition(t, g, eng, "0xaaa", "AAA", 1.00)

	require.NoError(t, blob.OverwriteDocument(testPointerKey, []byte(`{not json`)))

	src := &stubSource{fn: func(_ context.Context, _ []domain.TokenRef) (map[string]domain.Quote, error) {
		return nil, nil
	}}

	c := newCoordinator(g, src, eng, nil, nil, Config{Iterations: 1})
	_, err := c.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrCorruptedDocument)
}
