package ledger

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

func TestMaintenanceRateTiers(t *testing.T) {
	m := FeeModel{Tiers: DefaultTiers()}
	cases := []struct {
		notional float64
		want     float64
	}{
		{0, 0.004},
		{50_000, 0.004},
		{50_000.01, 0.005},
		{250_000, 0.005},
		{999_999, 0.01},
		{4_000_000, 0.025},
		{20_000_000, 0.05},
		{1e12, 0.1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, m.MaintenanceRate(tc.notional), "notional %g", tc.notional)
	}
}

func TestValidateTiers(t *testing.T) {
	tiers, err := ValidateTiers([]Tier{{MaxNotional: 1000, Rate: 0.01}, {MaxNotional: 5000, Rate: 0.02}})
	require.NoError(t, err)
	assert.True(t, math.IsInf(tiers[1].MaxNotional, 1))

	_, err = ValidateTiers([]Tier{{MaxNotional: 5000, Rate: 0.01}, {MaxNotional: 1000, Rate: 0.02}})
	assert.Error(t, err)

	_, err = ValidateTiers([]Tier{{MaxNotional: 1000, Rate: 0}})
	assert.Error(t, err)
}

func TestFillIsAdverse(t *testing.T) {
	m := FeeModel{SlippageRate: 0.002}
	buy, impact := m.Fill(100, true)
	assert.InDelta(t, 100.2, buy, 1e-12)
	assert.InDelta(t, 0.2, impact, 1e-12)
	sell, _ := m.Fill(100, false)
	assert.InDelta(t, 99.8, sell, 1e-12)
}

func TestPresets(t *testing.T) {
	f, ok := Preset("VIP0")
	require.True(t, ok)
	assert.Equal(t, 0.0004, f.Rate(false))
	assert.Equal(t, 0.0002, f.Rate(true))
	_, ok = Preset("vip9")
	assert.False(t, ok)
}

func TestInversePnL(t *testing.T) {
	pos := domain.Position{
		Side:         domain.SideLong,
		Quantity:     10,
		EntryPrice:   50_000,
		ContractType: domain.ContractInverse,
		ContractSize: 100,
	}
	// (1/50000 - 1/55000) * 10 * 100 BTC, valued at 55000.
	assert.InDelta(t, 100.0, pos.UnrealizedPnL(55_000), 1e-9)
	assert.InDelta(t, 1000.0, pos.Notional(55_000), 1e-12)
	assert.InDelta(t, 10.0, pos.PnLPct(55_000), 1e-9)

	pos.Side = domain.SideShort
	assert.InDelta(t, -100.0, pos.UnrealizedPnL(55_000), 1e-9)

	// (1/50000 - 1/40000) * 1000 = -0.005 BTC, valued at 40000.
	pos.Side = domain.SideLong
	assert.InDelta(t, -200.0, pos.UnrealizedPnL(40_000), 1e-9)
}

func TestInversePortfolioRoundTrip(t *testing.T) {
	p := newTestPortfolio(t, func(c *Config) {
		c.ContractType = domain.ContractInverse
		c.ContractSize = 100
		c.Leverage = 5
		c.Fees.CommissionRate = 0.0005
	})
	tr := open(t, p, "BTCUSD_PERP", domain.SideLong, 10, 50_000)
	// Notional is contracts times face value.
	assert.InDelta(t, 0.5, tr.Commission, 1e-12)
	assert.InDelta(t, 10_000-200-0.5, p.Cash(), 1e-9)

	closeTr, rej := p.Close("BTCUSD_PERP", 55_000, t0, domain.ReasonSignal)
	require.Equal(t, Accepted, rej)
	assert.InDelta(t, 100.0, closeTr.PnL, 1e-9)
	assert.InDelta(t, 10_000-0.5+100-0.5, p.Cash(), 1e-9)
}

func TestCheckStopsPriority(t *testing.T) {
	p := newTestPortfolio(t, nil)
	_, rej := p.Open(OpenRequest{
		Symbol: "BTCUSDT", Side: domain.SideLong, Quantity: 0.1, Price: 50_000, Time: t0,
		StopLossPct: 1, TakeProfitPct: 2,
	})
	require.Equal(t, Accepted, rej)
	pos, _ := p.Position("BTCUSDT")
	assert.InDelta(t, 49_500.0, *pos.StopLoss, 1e-9)
	assert.InDelta(t, 51_000.0, *pos.TakeProfit, 1e-9)

	assert.Empty(t, p.CheckStops(map[string]float64{"BTCUSDT": 50_500}, t0))

	trades := p.CheckStops(map[string]float64{"BTCUSDT": 51_100}, t0.Add(time.Minute))
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ReasonTakeProfit, trades[0].Reason)
	assert.False(t, p.HasPosition("BTCUSDT"))
}

func TestCheckStopsShortStopLoss(t *testing.T) {
	p := newTestPortfolio(t, nil)
	_, rej := p.Open(OpenRequest{
		Symbol: "ETHUSDT", Side: domain.SideShort, Quantity: 1, Price: 3_000, Time: t0,
		StopLossPct: 2, TakeProfitPct: 4,
	})
	require.Equal(t, Accepted, rej)

	trades := p.CheckStops(map[string]float64{"ETHUSDT": 3_070}, t0)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ReasonStopLoss, trades[0].Reason)
	assert.InDelta(t, -70.0, trades[0].PnL, 1e-9)
}

func TestTrailingStopUsesUpdatedWatermark(t *testing.T) {
	p := newTestPortfolio(t, nil)
	_, rej := p.Open(OpenRequest{
		Symbol: "BTCUSDT", Side: domain.SideLong, Quantity: 0.1, Price: 50_000, Time: t0,
		TrailingStopPct: 1,
	})
	require.Equal(t, Accepted, rej)

	// A new high moves the watermark before the trailing check runs.
	assert.Empty(t, p.CheckStops(map[string]float64{"BTCUSDT": 52_000}, t0))
	pos, _ := p.Position("BTCUSDT")
	assert.Equal(t, 52_000.0, pos.HighestPrice)

	assert.Empty(t, p.CheckStops(map[string]float64{"BTCUSDT": 51_500}, t0))

	trades := p.CheckStops(map[string]float64{"BTCUSDT": 51_470}, t0)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ReasonTrailingStop, trades[0].Reason)
}

func TestTrailingStopShort(t *testing.T) {
	p := newTestPortfolio(t, nil)
	_, rej := p.Open(OpenRequest{
		Symbol: "BTCUSDT", Side: domain.SideShort, Quantity: 0.1, Price: 50_000, Time: t0,
		TrailingStopPct: 2,
	})
	require.Equal(t, Accepted, rej)

	assert.Empty(t, p.CheckStops(map[string]float64{"BTCUSDT": 45_000}, t0))
	assert.Empty(t, p.CheckStops(map[string]float64{"BTCUSDT": 45_800}, t0))
	trades := p.CheckStops(map[string]float64{"BTCUSDT": 45_950}, t0)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ReasonTrailingStop, trades[0].Reason)
}

func TestCrossLiquidationClosesEveryPosition(t *testing.T) {
	p := newTestPortfolio(t, func(c *Config) { c.Leverage = 20 })
	open(t, p, "BTCUSDT", domain.SideLong, 1, 50_000)
	open(t, p, "ETHUSDT", domain.SideLong, 2, 3_000)
	require.InDelta(t, 7_200.0, p.Cash(), 1e-9)

	healthy := map[string]float64{"BTCUSDT": 49_000, "ETHUSDT": 3_000}
	assert.Empty(t, p.CheckLiquidation(healthy, t0))

	crash := map[string]float64{"BTCUSDT": 43_000, "ETHUSDT": 2_900}
	liquidated := p.CheckLiquidation(crash, t0.Add(time.Hour))
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, liquidated)
	assert.Empty(t, p.Positions())
	assert.GreaterOrEqual(t, p.Cash(), 0.0)
	assert.Equal(t, 2, p.Counters().Liquidations)

	var liqTrades int
	for _, tr := range p.Trades() {
		if tr.Action == domain.TradeLiquidation {
			liqTrades++
			assert.Equal(t, domain.ReasonLiquidation, tr.Reason)
		}
	}
	assert.Equal(t, 2, liqTrades)
	require.Len(t, p.LiquidationHistory(), 2)
	assert.Equal(t, domain.MarginCross, p.LiquidationHistory()[0].Mode)
}

func TestCrossLiquidationFloorsCashAtZero(t *testing.T) {
	p := newTestPortfolio(t, func(c *Config) { c.Leverage = 50 })
	open(t, p, "BTCUSDT", domain.SideLong, 9, 50_000)

	liquidated := p.CheckLiquidation(map[string]float64{"BTCUSDT": 40_000}, t0)
	require.Equal(t, []string{"BTCUSDT"}, liquidated)
	assert.Equal(t, 0.0, p.Cash())
}

func TestIsolatedLiquidationOnlyHitsBreachedPosition(t *testing.T) {
	p := newTestPortfolio(t, func(c *Config) {
		c.Leverage = 20
		c.MarginMode = domain.MarginIsolated
	})
	open(t, p, "BTCUSDT", domain.SideLong, 1, 50_000)
	open(t, p, "ETHUSDT", domain.SideLong, 2, 3_000)

	liquidated := p.CheckLiquidation(map[string]float64{"BTCUSDT": 47_600, "ETHUSDT": 3_000}, t0)
	assert.Equal(t, []string{"BTCUSDT"}, liquidated)
	assert.True(t, p.HasPosition("ETHUSDT"))
	assert.False(t, p.HasPosition("BTCUSDT"))
	// Margin 2500 and loss 2400 settle into cash less the 238 fee.
	assert.InDelta(t, 7_200.0+2_500-2_400-238, p.Cash(), 1e-9)
}

func TestLiquidationMonotoneInRate(t *testing.T) {
	prices := map[string]float64{"BTCUSDT": 46_000, "ETHUSDT": 2_750}
	rates := []float64{0.2, 0.1, 0.05, 0.01, 0.004, 0.001}
	for _, mode := range []domain.MarginMode{domain.MarginCross, domain.MarginIsolated} {
		var prev map[string]bool
		for _, rate := range rates {
			p := newTestPortfolio(t, func(c *Config) {
				c.Leverage = 20
				c.MarginMode = mode
				c.Fees.Tiers = []Tier{{MaxNotional: math.Inf(1), Rate: rate}}
			})
			open(t, p, "BTCUSDT", domain.SideLong, 1, 50_000)
			open(t, p, "ETHUSDT", domain.SideLong, 2, 3_000)

			got := make(map[string]bool)
			for _, sym := range p.CheckLiquidation(prices, t0) {
				got[sym] = true
			}
			if prev != nil {
				for sym := range got {
					assert.True(t, prev[sym], "%s: %s liquidated at rate %g but not at a higher rate", mode, sym, rate)
				}
			}
			prev = got
		}
	}
}
