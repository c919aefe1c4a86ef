package ledger

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPortfolio(t *testing.T, mutate func(*Config)) *Portfolio {
	t.Helper()
	cfg := Config{
		InitialCapital: 10_000,
		Leverage:       10,
		MarginMode:     domain.MarginCross,
		ContractType:   domain.ContractLinear,
		Fees: FeeModel{
			LiquidationFeeRate: DefaultLiquidationFee,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewPortfolio(cfg, quietLogger())
	require.NoError(t, err)
	return p
}

func open(t *testing.T, p *Portfolio, symbol string, side domain.Side, qty, price float64) domain.Trade {
	t.Helper()
	tr, rej := p.Open(OpenRequest{Symbol: symbol, Side: side, Quantity: qty, Price: price, Time: t0})
	require.Equal(t, Accepted, rej)
	require.NotNil(t, tr)
	return *tr
}

func TestNewPortfolioRejectsBadConfig(t *testing.T) {
	_, err := NewPortfolio(Config{
		InitialCapital: 0,
		Leverage:       200,
		MarginMode:     "hedge",
		ContractType:   domain.ContractLinear,
		Fees:           FeeModel{SlippageRate: 2},
	}, quietLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "initial capital")
	assert.Contains(t, err.Error(), "leverage")
	assert.Contains(t, err.Error(), "slippage")
	assert.Contains(t, err.Error(), "margin mode")
}

func TestOpenWithSlippageAndCommission(t *testing.T) {
	p := newTestPortfolio(t, func(c *Config) {
		c.Fees.SlippageRate = 0.001
		c.Fees.CommissionRate = 0.0004
	})

	tr := open(t, p, "BTCUSDT", domain.SideLong, 0.01, 50_000)

	assert.InDelta(t, 50_050.0, tr.Price, 1e-9)
	// 500.5 notional at 4bp. Hand-worked figures of 0.02 and 9949.93 drop a digit.
	assert.InDelta(t, 0.2002, tr.Commission, 1e-9)
	assert.InDelta(t, 0.5, tr.Slippage, 1e-9)
	assert.InDelta(t, 9949.7498, p.Cash(), 1e-6)
	require.Len(t, p.Trades(), 1)
	assert.Equal(t, domain.TradeOpen, p.Trades()[0].Action)
	assert.Equal(t, int64(1), p.Trades()[0].ID)

	pos, ok := p.Position("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 50.05, pos.Margin, 1e-9)

	closeTr, rej := p.Close("BTCUSDT", 51_000, t0.Add(time.Hour), domain.ReasonSignal)
	require.Equal(t, Accepted, rej)
	assert.InDelta(t, 50_949.0, closeTr.Price, 1e-9)
	assert.InDelta(t, 8.99, closeTr.PnL, 1e-9)
	assert.InDelta(t, 0.203796, closeTr.Commission, 1e-9)
	assert.Equal(t, time.Hour, closeTr.HoldingTime)
	assert.Equal(t, 50_050.0, closeTr.EntryPrice)
	assert.InDelta(t, 9949.7498+50.05+8.99-0.203796, p.Cash(), 1e-6)
	assert.False(t, p.HasPosition("BTCUSDT"))
	assert.Equal(t, int64(2), closeTr.ID)
}

func TestOpenCloseMarginRoundTrip(t *testing.T) {
	p := newTestPortfolio(t, func(c *Config) { c.Fees.CommissionRate = 0.0004 })

	open(t, p, "BTCUSDT", domain.SideLong, 1, 50_000)
	assert.InDelta(t, 4980.0, p.Cash(), 1e-9)

	_, rej := p.Close("BTCUSDT", 51_000, t0, domain.ReasonSignal)
	require.Equal(t, Accepted, rej)
	assert.InDelta(t, 4980.0+5000+1000-20.4, p.Cash(), 1e-9)
}

func TestOpenRejections(t *testing.T) {
	p := newTestPortfolio(t, nil)
	open(t, p, "BTCUSDT", domain.SideLong, 0.1, 50_000)
	cash := p.Cash()

	_, rej := p.Open(OpenRequest{Symbol: "BTCUSDT", Side: domain.SideShort, Quantity: 0.1, Price: 50_000, Time: t0})
	assert.Equal(t, RejectDuplicate, rej)

	_, rej = p.Open(OpenRequest{Symbol: "ETHUSDT", Side: domain.SideLong, Quantity: 1000, Price: 3_000, Time: t0})
	assert.Equal(t, RejectNoCash, rej)

	_, rej = p.Open(OpenRequest{Symbol: "ETHUSDT", Side: domain.SideLong, Quantity: 0, Price: 3_000, Time: t0})
	assert.Equal(t, RejectInvalid, rej)

	assert.Equal(t, cash, p.Cash())
	assert.Len(t, p.Trades(), 1)
	assert.Len(t, p.Positions(), 1)
	assert.Equal(t, 1, p.Counters().RejectedOpens)
}

func TestCloseWithoutPositionIsNoop(t *testing.T) {
	p := newTestPortfolio(t, nil)
	tr, rej := p.Close("BTCUSDT", 50_000, t0, domain.ReasonSignal)
	assert.Nil(t, tr)
	assert.Equal(t, RejectNoPosition, rej)
	assert.Equal(t, 10_000.0, p.Cash())
	assert.Empty(t, p.Trades())
}

func TestPartialClose(t *testing.T) {
	p := newTestPortfolio(t, nil)
	open(t, p, "BTCUSDT", domain.SideLong, 1, 50_000)
	require.InDelta(t, 5000.0, p.Cash(), 1e-9)

	tr, rej := p.CloseQuantity("BTCUSDT", 0.4, 51_000, t0, domain.ReasonSignal)
	require.Equal(t, Accepted, rej)
	assert.InDelta(t, 0.4, tr.Quantity, 1e-12)
	assert.InDelta(t, 400.0, tr.PnL, 1e-9)
	assert.InDelta(t, 7400.0, p.Cash(), 1e-9)

	pos, ok := p.Position("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 0.6, pos.Quantity, 1e-12)
	assert.InDelta(t, 3000.0, pos.Margin, 1e-9)

	_, rej = p.CloseQuantity("BTCUSDT", 5, 51_000, t0, domain.ReasonSignal)
	require.Equal(t, Accepted, rej)
	assert.False(t, p.HasPosition("BTCUSDT"))
	assert.InDelta(t, 10_000.0+1000, p.Cash(), 1e-9)
}

func TestIncreaseAveragesEntry(t *testing.T) {
	p := newTestPortfolio(t, nil)
	open(t, p, "BTCUSDT", domain.SideLong, 0.5, 50_000)

	tr, rej := p.Increase(OpenRequest{Symbol: "BTCUSDT", Side: domain.SideLong, Quantity: 0.5, Price: 52_000, Time: t0})
	require.Equal(t, Accepted, rej)
	assert.Equal(t, domain.TradeOpen, tr.Action)
	assert.InDelta(t, 0.5, tr.Quantity, 1e-12)

	pos, _ := p.Position("BTCUSDT")
	assert.InDelta(t, 1.0, pos.Quantity, 1e-12)
	assert.InDelta(t, 51_000.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 5_100.0, pos.Margin, 1e-9)
	assert.InDelta(t, 4_900.0, p.Cash(), 1e-9)
	assert.Len(t, p.Trades(), 2)

	_, rej = p.Increase(OpenRequest{Symbol: "BTCUSDT", Side: domain.SideShort, Quantity: 1, Price: 52_000, Time: t0})
	assert.Equal(t, RejectSideMismatch, rej)
}

func TestPnLSymmetryAtEntry(t *testing.T) {
	for _, side := range []domain.Side{domain.SideLong, domain.SideShort} {
		t.Run(string(side), func(t *testing.T) {
			p := newTestPortfolio(t, func(c *Config) { c.Fees.CommissionRate = 0.0004 })
			openTr := open(t, p, "BTCUSDT", side, 0.5, 40_000)
			closeTr, rej := p.Close("BTCUSDT", 40_000, t0, domain.ReasonSignal)
			require.Equal(t, Accepted, rej)

			assert.Equal(t, 0.0, closeTr.PnL)
			net := p.Cash() - 10_000
			assert.InDelta(t, -(openTr.Commission + closeTr.Commission), net, 1e-9)
		})
	}
}

func TestCashConservationWithoutCosts(t *testing.T) {
	p := newTestPortfolio(t, func(c *Config) { c.Leverage = 5 })
	steps := []struct {
		symbol string
		side   domain.Side
		qty    float64
		in     float64
		out    float64
	}{
		{"BTCUSDT", domain.SideLong, 0.2, 40_000, 41_500},
		{"ETHUSDT", domain.SideShort, 3, 2_500, 2_300},
		{"SOLUSDT", domain.SideLong, 20, 100, 90},
	}
	for _, s := range steps {
		open(t, p, s.symbol, s.side, s.qty, s.in)
	}
	// Keep SOL open, close the others.
	var realized float64
	for _, s := range steps[:2] {
		tr, rej := p.Close(s.symbol, s.out, t0, domain.ReasonSignal)
		require.Equal(t, Accepted, rej)
		realized += tr.PnL
	}
	assert.InDelta(t, 10_000+realized, p.Cash()+p.UsedMargin(), 1e-9)
}

func TestFundingSignRules(t *testing.T) {
	cases := []struct {
		name string
		side domain.Side
		rate float64
		want float64
	}{
		{"long pays positive", domain.SideLong, 0.0001, -5},
		{"long receives negative", domain.SideLong, -0.0001, 5},
		{"short receives positive", domain.SideShort, 0.0001, 5},
		{"short pays negative", domain.SideShort, -0.0001, -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPortfolio(t, nil)
			open(t, p, "BTCUSDT", tc.side, 1, 50_000)
			before := p.Cash()
			pos, _ := p.Position("BTCUSDT")

			got := p.ApplyFunding("BTCUSDT", tc.rate, 50_000, t0)
			assert.InDelta(t, tc.want, got, 1e-9)
			assert.InDelta(t, before+tc.want, p.Cash(), 1e-9)
			assert.InDelta(t, -tc.want, p.Counters().FundingPaid, 1e-9)

			after, _ := p.Position("BTCUSDT")
			assert.Equal(t, pos.EntryPrice, after.EntryPrice)
			require.Len(t, p.FundingHistory(), 1)
		})
	}

	p := newTestPortfolio(t, nil)
	assert.Equal(t, 0.0, p.ApplyFunding("BTCUSDT", 0.01, 50_000, t0))
	assert.Empty(t, p.FundingHistory())
}

func TestRecordEquityDrawdown(t *testing.T) {
	p := newTestPortfolio(t, nil)
	open(t, p, "BTCUSDT", domain.SideLong, 1, 50_000)

	pt := p.RecordEquity(t0, map[string]float64{"BTCUSDT": 51_000})
	assert.InDelta(t, 11_000.0, pt.TotalEquity, 1e-9)
	assert.InDelta(t, 5000.0, pt.Cash, 1e-9)
	assert.InDelta(t, 6000.0, pt.PositionValue, 1e-9)
	assert.Equal(t, 0.0, pt.Drawdown)

	pt = p.RecordEquity(t0.Add(time.Hour), map[string]float64{"BTCUSDT": 49_900})
	assert.InDelta(t, 9_900.0, pt.TotalEquity, 1e-9)
	assert.InDelta(t, 1_100.0, pt.Drawdown, 1e-9)
	assert.InDelta(t, 10.0, pt.DrawdownPct, 1e-9)
	assert.InDelta(t, 11_000.0, p.PeakEquity(), 1e-9)

	for _, e := range p.EquityCurve() {
		assert.GreaterOrEqual(t, e.Drawdown, 0.0)
	}
}

func TestRecordEquityPeakStartsAtCapital(t *testing.T) {
	p := newTestPortfolio(t, func(c *Config) { c.Fees.CommissionRate = 0.001 })
	open(t, p, "BTCUSDT", domain.SideLong, 0.1, 50_000)

	pt := p.RecordEquity(t0, map[string]float64{"BTCUSDT": 50_000})
	assert.InDelta(t, 5.0, pt.Drawdown, 1e-9)
	assert.Equal(t, 10_000.0, p.PeakEquity())
}
