package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/domain"
	"papertrader/internal/engine"
	"papertrader/internal/poller"
	"papertrader/internal/service"
	"papertrader/internal/store"
	"papertrader/internal/store/storetest"
)

// stubSource serves whatever quotes the test currently wants.
type stubSource struct {
	quotes map[string]domain.Quote
}

func (s *stubSource) Prices(_ context.Context, _ []domain.TokenRef) (map[string]domain.Quote, error) {
	return s.quotes, nil
}

type fixture struct {
	mux     *http.ServeMux
	blob    *storetest.MemBlob
	source  *stubSource
	gateway *store.Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	blob := storetest.NewMemBlob()
	cfg := domain.PortfolioConfig{
		PositionSize:    100,
		TrailActivation: 1.5,
		TrailDistance:   0.10,
		StopLoss:        0.15,
		HistoryLimit:    50,
	}
	gateway := store.NewGateway(blob, "portfolio/current", "portfolio/", cfg, logger)

	source := &stubSource{quotes: map[string]domain.Quote{}}
	eng := engine.New(logger)

	intake := service.NewIntakeService(gateway, source, eng, nil, nil, logger)
	stats := service.NewStatsService(gateway, eng, nil, logger)
	coordinator := poller.New(gateway, source, eng, nil, nil, nil, poller.Config{Iterations: 1}, logger)

	positions := NewPositionHandler(intake, stats, logger)
	poll := NewPollHandler(coordinator, logger)
	admin := NewAdminHandler(stats, logger)
	health := NewHealthHandler(nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", health.HealthCheck)
	mux.HandleFunc("POST /api/positions", positions.ProcessSignal)
	mux.HandleFunc("GET /api/stats", positions.GetStats)
	mux.HandleFunc("POST /api/poll/trigger", poll.TriggerPoll)
	mux.HandleFunc("POST /api/reset", admin.Reset)

	return &fixture{mux: mux, blob: blob, source: source, gateway: gateway}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestProcessSignalOpensPosition(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/positions",
		`{"tokenAddress":"0xAAA","chain":"ethereum","symbol":"AAA","entryPrice":1.25,"score":9.1}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["opened"])
	pos := body["position"].(map[string]any)
	// No live quote resolved, so the signal price is the fill.
	assert.InDelta(t, 1.25, pos["entryPrice"].(float64), 1e-9)
	assert.Equal(t, string(domain.StatusActive), pos["status"])

	doc, _, err := f.gateway.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, doc.Positions, 1)
}

func TestProcessSignalRejectsDuplicate(t *testing.T) {
	f := newFixture(t)

	first := f.do(t, http.MethodPost, "/api/positions",
		`{"tokenAddress":"0xaaa","chain":"ethereum","symbol":"AAA","entryPrice":1.0,"score":9}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := f.do(t, http.MethodPost, "/api/positions",
		`{"tokenAddress":"0xAAA","chain":"ethereum","symbol":"AAA","entryPrice":1.1,"score":9}`)
	require.Equal(t, http.StatusOK, second.Code)

	body := decode(t, second)
	assert.Equal(t, false, body["opened"])
	assert.NotEmpty(t, body["reason"])
}

func TestProcessSignalValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/positions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/positions",
		`{"chain":"ethereum","symbol":"AAA","entryPrice":1.0,"score":9}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPollTriggerClosesStoppedOutPosition(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/positions",
		`{"tokenAddress":"0xaaa","chain":"ethereum","symbol":"AAA","entryPrice":1.0,"score":9}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	f.source.quotes = map[string]domain.Quote{"0xaaa": {PriceUSD: 0.50}}

	rec = f.do(t, http.MethodPost, "/api/poll/trigger", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["checked"])
	assert.EqualValues(t, 1, body["closed"])
}

func TestGetStats(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/positions",
		`{"tokenAddress":"0xaaa","chain":"ethereum","symbol":"AAA","entryPrice":1.0,"score":9}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["totalTrades"])
	assert.EqualValues(t, 1, stats["openPositions"])
}

func TestResetRequiresConfirmation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/reset", `{"confirm":"no"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/positions",
		`{"tokenAddress":"0xaaa","chain":"ethereum","symbol":"AAA","entryPrice":1.0,"score":9}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/reset", `{"confirm":"RESET"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	doc, _, err := f.gateway.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc.Positions)
	assert.Zero(t, doc.Stats.TotalTrades)
}
