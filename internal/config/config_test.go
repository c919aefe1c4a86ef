package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

const sample = `
mode = "sweep"
log_level = "debug"

[run]
name = "btc-2024"
symbols = ["BTCUSDT", "ETHUSDT"]
start = "2024-01-01"
end = "2024-03-31"
initial_capital = 5000
leverage = 3
margin_mode = "isolated"

[run.fees]
preset = "vip2"
slippage_rate = 0.001

[[run.fees.tiers]]
max_notional = 100000
rate = 0.005

[[run.fees.tiers]]
rate = 0.02

[run.engine]
min_hold = "90m"
equity_stride = 4

[run.strategy]
name = "ema_cross"
[run.strategy.params]
fast = 12
slow = 26

[sweep]
grid = "grid.yaml"
parallelism = 4

[redis]
lock_ttl = "10m"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "marginsim.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "sweep", cfg.Mode)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Run.Symbols)
	assert.Equal(t, 3.0, cfg.Run.Leverage)
	assert.Equal(t, 90*time.Minute, cfg.Run.Engine.MinHold.Duration)
	assert.Equal(t, 4, cfg.Run.Engine.EquityStride)
	assert.Equal(t, 10*time.Minute, cfg.Redis.LockTTL.Duration)
	assert.EqualValues(t, 12, cfg.Run.Strategy.Params["fast"])

	// Untouched fields keep their defaults.
	assert.Equal(t, 1, cfg.Run.Engine.Step)
	assert.Equal(t, SourceFile, cfg.Run.Source)
	assert.Equal(t, 8080, cfg.Server.Port)

	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MARGINSIM_RUN_LEVERAGE", "10")
	t.Setenv("MARGINSIM_RUN_SYMBOLS", " SOLUSDT , ,XRPUSDT")
	t.Setenv("MARGINSIM_RUN_FEES_COMMISSION_RATE", "0.0001")
	t.Setenv("MARGINSIM_REDIS_PASSWORD", "hunter2")
	t.Setenv("MARGINSIM_RUN_ENGINE_STEP", "not-a-number")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 10.0, cfg.Run.Leverage)
	assert.Equal(t, []string{"SOLUSDT", "XRPUSDT"}, cfg.Run.Symbols)
	require.NotNil(t, cfg.Run.Fees.CommissionRate)
	assert.Equal(t, 0.0001, *cfg.Run.Fees.CommissionRate)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Run.Engine.Step)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.ErrorContains(t, err, "config: decode")
}

func TestValidateCollectsViolations(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	cfg.Run.InitialCapital = 0
	cfg.Run.Leverage = 200
	cfg.Run.MarginMode = "portfolio"
	cfg.Run.Fees.SlippageRate = 2
	cfg.Run.Engine.Step = 0
	cfg.Run.Engine.StopLossPct = 150
	cfg.Run.Source = "kafka"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
	for _, want := range []string{
		`mode must be backtest, sweep or serve, got "live"`,
		"run.symbols must not be empty",
		`run.source must be file, s3 or postgres, got "kafka"`,
		"initial capital must be positive",
		"leverage must be in [1, 125], got 200",
		"slippage rate must be in [0, 1], got 2",
		`margin mode must be cross or isolated, got "portfolio"`,
		"step must be at least 1, got 0",
		"stop loss pct must be in [0, 100], got 150",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateInfraDependencies(t *testing.T) {
	cfg := Defaults()
	cfg.Run.Symbols = []string{"BTCUSDT"}
	cfg.Run.Source = SourceS3
	cfg.Data.Cache = true
	cfg.Mode = "sweep"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run.source s3 requires s3.enabled")
	assert.Contains(t, err.Error(), "data.cache requires redis.enabled")
	assert.Contains(t, err.Error(), "sweep.grid is required in sweep mode")
}

func TestLedgerConfigFees(t *testing.T) {
	r := DefaultRun()
	r.Fees.Preset = "bnb"
	lc, err := r.LedgerConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.0003, lc.Fees.CommissionRate)
	assert.Equal(t, 0.005, lc.Fees.LiquidationFeeRate)
	assert.Len(t, lc.Fees.Tiers, 6)

	rate, zero := 0.0007, 0.0
	r.Fees.CommissionRate = &rate
	r.Fees.LiquidationFeeRate = &zero
	r.Fees.Tiers = []Tier{{MaxNotional: 1000, Rate: 0.01}, {Rate: 0.05}}
	lc, err = r.LedgerConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.0007, lc.Fees.CommissionRate)
	assert.Equal(t, 0.0, lc.Fees.LiquidationFeeRate)
	require.Len(t, lc.Fees.Tiers, 2)
	assert.True(t, lc.Fees.Tiers[1].MaxNotional > 1e300)

	r.Fees.Preset = "vip9"
	_, err = r.LedgerConfig()
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestWindow(t *testing.T) {
	r := Run{Start: "2024-01-01", End: "2024-01-31"}
	from, to, err := r.Window()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC), to)

	r = Run{Start: "2024-02-01T08:00:00Z"}
	from, to, err = r.Window()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC), from)
	assert.True(t, to.IsZero())

	_, _, err = Run{Start: "2024-02-01", End: "2024-01-01"}.Window()
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, _, err = Run{Start: "yesterday"}.Window()
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestRunJSONRoundTripKeepsDurations(t *testing.T) {
	var r Run
	require.NoError(t, json.Unmarshal([]byte(`{"symbols":["BTCUSDT"],"engine":{"min_hold":"45m"}}`), &r))
	assert.Equal(t, 45*time.Minute, r.Engine.MinHold.Duration)

	out, err := json.Marshal(r.Engine)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"min_hold":"45m0s"`)
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "sk"
	cfg.Server.APIKey = "key"
	cfg.Run.Strategy.Params = map[string]any{"fast": 5}

	red := cfg.Redacted()
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "", red.Redis.Password)

	red.Run.Strategy.Params["fast"] = 9
	red.Notify.Events[0] = "changed"
	assert.Equal(t, 5, cfg.Run.Strategy.Params["fast"])
	assert.Equal(t, "run.completed", cfg.Notify.Events[0])
	assert.Equal(t, "pw", cfg.Postgres.Password)
}
