package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marginsim/internal/config"
	"github.com/alanyoungcy/marginsim/internal/domain"
)

type fakeRuns struct {
	started  []config.Run
	existing bool
	startErr error
	stopped  []string
	runs     map[string]domain.Run
	opts     domain.ListOpts
}

func (f *fakeRuns) Start(_ context.Context, req config.Run) (domain.Run, bool, error) {
	if f.startErr != nil {
		return domain.Run{}, false, f.startErr
	}
	f.started = append(f.started, req)
	return domain.Run{ID: "r1", Name: req.Name, Status: domain.RunStatusPending, Symbols: req.Symbols}, f.existing, nil
}

func (f *fakeRuns) Stop(id string) error {
	if _, ok := f.runs[id]; !ok {
		return fmt.Errorf("service: stop %s: %w", id, domain.ErrNotFound)
	}
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeRuns) Get(_ context.Context, id string) (domain.Run, error) {
	run, ok := f.runs[id]
	if !ok {
		return domain.Run{}, domain.ErrNotFound
	}
	return run, nil
}

func (f *fakeRuns) List(_ context.Context, opts domain.ListOpts) ([]domain.Run, error) {
	f.opts = opts
	out := make([]domain.Run, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRuns) Trades(_ context.Context, id string, opts domain.ListOpts) ([]domain.Trade, error) {
	f.opts = opts
	if _, ok := f.runs[id]; !ok {
		return nil, domain.ErrNotFound
	}
	return nil, nil
}

func (f *fakeRuns) Equity(_ context.Context, id string, opts domain.ListOpts) ([]domain.EquityPoint, error) {
	f.opts = opts
	return []domain.EquityPoint{{TotalEquity: 10_000}}, nil
}

func newRunHandler(f *fakeRuns) *RunHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunHandler(context.Background(), f, config.DefaultRun(), logger)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCreateDecodesOverDefaults(t *testing.T) {
	f := &fakeRuns{}
	h := newRunHandler(f)

	body := `{"name":"btc","symbols":["BTCUSDT"],"leverage":5,"fees":{"commission_rate":0.001}}`
	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, false, decode(t, rec)["existing"])
	require.Len(t, f.started, 1)
	req := f.started[0]
	assert.Equal(t, 5.0, req.Leverage)
	assert.Equal(t, 10_000.0, req.InitialCapital)
	assert.Equal(t, "ema_cross", req.Strategy.Name)
	require.NotNil(t, req.Fees.CommissionRate)
	assert.Equal(t, 0.001, *req.Fees.CommissionRate)

	// The shared defaults stay untouched.
	assert.Nil(t, h.defaults.Fees.CommissionRate)
	assert.Empty(t, h.defaults.Symbols)
}

func TestCreateReturnsExistingRun(t *testing.T) {
	f := &fakeRuns{existing: true}
	rec := httptest.NewRecorder()
	newRunHandler(f).Create(rec, httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"symbols":["ETHUSDT"]}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["existing"])
}

func TestCreateRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed", `{"symbols":`, nil, http.StatusBadRequest},
		{"unknown field", `{"symbol":"BTCUSDT"}`, nil, http.StatusBadRequest},
		{"invalid config", `{}`, fmt.Errorf("config: %w", domain.ErrInvalidConfig), http.StatusBadRequest},
		{"locked", `{}`, domain.ErrLockHeld, http.StatusConflict},
		{"internal", `{}`, fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newRunHandler(&fakeRuns{startErr: tt.err}).Create(rec, httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decode(t, rec), "error")
		})
	}
}

func TestGetIncludesConfig(t *testing.T) {
	f := &fakeRuns{runs: map[string]domain.Run{
		"r1": {ID: "r1", Status: domain.RunStatusCompleted, Config: []byte(`{"leverage":3}`)},
	}}
	h := newRunHandler(f)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs/{id}", h.Get)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/r1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, map[string]any{"leverage": 3.0}, body["config"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "run not found", decode(t, rec)["error"])
}

func TestListOptsFromQuery(t *testing.T) {
	f := &fakeRuns{runs: map[string]domain.Run{"r1": {ID: "r1"}}}
	h := newRunHandler(f)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/runs?limit=900&offset=2&since=2024-01-01T00:00:00Z", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, f.opts.Limit)
	assert.Equal(t, 2, f.opts.Offset)
	require.NotNil(t, f.opts.Since)
	assert.True(t, f.opts.Since.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	for _, q := range []string{"limit=0", "offset=-1", "until=yesterday"} {
		rec = httptest.NewRecorder()
		h.List(rec, httptest.NewRequest(http.MethodGet, "/api/runs?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestTradesAndEquity(t *testing.T) {
	f := &fakeRuns{runs: map[string]domain.Run{"r1": {ID: "r1"}}}
	h := newRunHandler(f)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs/{id}/trades", h.Trades)
	mux.HandleFunc("GET /api/runs/{id}/equity", h.Equity)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/r1/trades", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["trades"])
	assert.Equal(t, 1_000, f.opts.Limit)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/r1/equity", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["equity"], 1)
	assert.Equal(t, 10_000, f.opts.Limit)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/zz/trades", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStop(t *testing.T) {
	f := &fakeRuns{runs: map[string]domain.Run{"r1": {ID: "r1"}}}
	h := newRunHandler(f)
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/runs/{id}", h.Stop)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/runs/r1", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"r1"}, f.stopped)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/runs/r2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
	})
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	h = NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return fmt.Errorf("dial tcp: refused") },
	})
	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"postgres": "ok", "redis": "down: dial tcp: refused"}, body["components"])
}
