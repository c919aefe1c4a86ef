package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRunLifecycle(t *testing.T) {
	m := New()
	m.RunStarted("ema_cross")
	m.RunStarted("ema_cross")
	assert.Contains(t, scrape(t, m), "marginsim_active_runs 2")

	m.RunFinished("ema_cross", domain.RunStatusCompleted, 2*time.Second)
	out := scrape(t, m)
	assert.Contains(t, out, "marginsim_active_runs 1")
	assert.Contains(t, out, `marginsim_runs_finished_total{status="completed",strategy="ema_cross"} 1`)
	assert.Contains(t, out, `marginsim_run_duration_seconds_count{strategy="ema_cross"} 1`)
}

func TestTradesAndTicks(t *testing.T) {
	m := New()
	m.Ticks(100, 3)
	m.Trades([]domain.Trade{
		{Action: domain.TradeOpen},
		{Action: domain.TradeClose, Reason: domain.ReasonStopLoss},
		{Action: domain.TradeClose, Reason: domain.ReasonStopLoss},
	}, []domain.LiquidationEvent{{Mode: domain.MarginIsolated}})
	m.Return("hold", 1.5)

	out := scrape(t, m)
	assert.Contains(t, out, `marginsim_ticks_total{outcome="processed"} 100`)
	assert.Contains(t, out, `marginsim_ticks_total{outcome="skipped"} 3`)
	assert.Contains(t, out, `marginsim_trades_total{action="close",reason="stop_loss"} 2`)
	assert.Contains(t, out, `marginsim_liquidations_total{mode="isolated"} 1`)
	assert.Contains(t, out, `marginsim_last_run_return_pct{strategy="hold"} 1.5`)
}
