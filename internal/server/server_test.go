package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/marginsim/internal/config"
	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/server/handler"
)

type stubRuns struct{}

func (stubRuns) Start(context.Context, config.Run) (domain.Run, bool, error) {
	return domain.Run{ID: "r1", Status: domain.RunStatusPending}, false, nil
}
func (stubRuns) Stop(string) error { return domain.ErrNotFound }
func (stubRuns) Get(context.Context, string) (domain.Run, error) {
	return domain.Run{}, domain.ErrNotFound
}
func (stubRuns) List(context.Context, domain.ListOpts) ([]domain.Run, error) { return nil, nil }
func (stubRuns) Trades(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}
func (stubRuns) Equity(context.Context, string, domain.ListOpts) ([]domain.EquityPoint, error) {
	return nil, nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func newTestServer(opts Options) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := Handlers{
		Health: handler.NewHealthHandler(nil),
		Runs:   handler.NewRunHandler(context.Background(), stubRuns{}, config.DefaultRun(), logger),
	}
	cfg := Config{Port: 0, APIKey: "k", RateLimit: 1, RateWindow: time.Minute}
	return NewServer(cfg, handlers, opts, logger).Handler()
}

func serve(h http.Handler, method, path, key string) int {
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(`{"symbols":["BTCUSDT"]}`)
	}
	req := httptest.NewRequest(method, path, body)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRoutesRequireKeyExceptHealth(t *testing.T) {
	h := newTestServer(Options{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
	})

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/health", ""))
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/metrics", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/api/runs", ""))
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/runs", "k"))
	assert.Equal(t, http.StatusAccepted, serve(h, http.MethodPost, "/api/runs", "k"))
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/runs/r9", "k"))
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodDelete, "/api/runs/r9", "k"))
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodPut, "/api/runs/r9", "k"))
}

func TestRateLimitOnlyGuardsSubmission(t *testing.T) {
	h := newTestServer(Options{Limiter: denyAll{}})

	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodPost, "/api/runs", "k"))
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/runs", "k"))
}
