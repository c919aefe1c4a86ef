package sweep

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const gridYAML = `
name: leverage-vs-fast
parallelism: 2
params:
  engine.leverage: [3, 5]
  strategy.params.fast: [10, 20, 30]
`

func TestLoadGrid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(gridYAML), 0o644))

	g, err := LoadGrid(path)
	require.NoError(t, err)
	assert.Equal(t, "leverage-vs-fast", g.Name)
	assert.Equal(t, 2, g.Parallelism)
	assert.Equal(t, 6, g.Size())
}

func TestParseGridValidation(t *testing.T) {
	_, err := ParseGrid([]byte("name: empty\n"))
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = ParseGrid([]byte("params:\n  engine.leverage: []\n  .bad: [1]\n"))
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.ErrorContains(t, err, `param "engine.leverage" has no values`)
	assert.ErrorContains(t, err, `invalid param path ".bad"`)
}

func TestExpandCartesianOrder(t *testing.T) {
	g, err := ParseGrid([]byte(gridYAML))
	require.NoError(t, err)

	base := map[string]any{
		"engine":   map[string]any{"leverage": 1, "step": 1},
		"strategy": map[string]any{"name": "ema_cross"},
	}
	vs := g.Expand(base)
	require.Len(t, vs, 6)

	assert.Equal(t, "engine.leverage=3,strategy.params.fast=10", vs[0].Label)
	assert.Equal(t, "engine.leverage=3,strategy.params.fast=20", vs[1].Label)
	assert.Equal(t, "engine.leverage=5,strategy.params.fast=10", vs[3].Label)

	last := vs[5].Params
	assert.Equal(t, 5, last["engine"].(map[string]any)["leverage"])
	assert.Equal(t, 1, last["engine"].(map[string]any)["step"])
	assert.Equal(t, 30, last["strategy"].(map[string]any)["params"].(map[string]any)["fast"])

	// base is untouched
	assert.Equal(t, 1, base["engine"].(map[string]any)["leverage"])
	assert.NotContains(t, base["strategy"].(map[string]any), "params")
}

func TestRunCollectsOutcomesInOrder(t *testing.T) {
	g, err := ParseGrid([]byte(gridYAML))
	require.NoError(t, err)
	vs := g.Expand(nil)

	var inFlight, peak atomic.Int32
	fn := func(_ context.Context, v Variant) (map[string]string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		if v.Index == 4 {
			return nil, errors.New("boom")
		}
		return map[string]string{"total_return_pct": []string{"1.5", "-2.0", "inf", "0.3", "", "4.0"}[v.Index]}, nil
	}

	out, err := Run(context.Background(), vs, 2, fn, quietLogger())
	require.NoError(t, err)
	require.Len(t, out, 6)
	for i, o := range out {
		assert.Equal(t, i, o.Variant.Index)
	}
	assert.EqualError(t, out[4].Err, "boom")
	assert.LessOrEqual(t, peak.Load(), int32(2))

	ranked := Rank(out, "total_return_pct")
	require.Len(t, ranked, 5)
	assert.Equal(t, []int{2, 5, 0, 3, 1}, []int{
		ranked[0].Variant.Index, ranked[1].Variant.Index, ranked[2].Variant.Index,
		ranked[3].Variant.Index, ranked[4].Variant.Index,
	})
}

func TestRunCancelled(t *testing.T) {
	vs := Grid{Params: map[string][]any{"a": {1, 2, 3}}}.Expand(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := Run(ctx, vs, 1, func(context.Context, Variant) (map[string]string, error) {
		t.Fatal("variant should not start")
		return nil, nil
	}, quietLogger())
	assert.ErrorIs(t, err, context.Canceled)
	for _, o := range out {
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
}

func TestSummarizeRanksAndListsFailures(t *testing.T) {
	outcomes := []Outcome{
		{Variant: Variant{Label: "leverage=1", Values: map[string]any{"leverage": 1}}, Metrics: map[string]string{"sharpe_ratio": "0.5"}},
		{Variant: Variant{Label: "leverage=3", Values: map[string]any{"leverage": 3}}, Metrics: map[string]string{"sharpe_ratio": "1.2"}},
		{Variant: Variant{Label: "leverage=9", Values: map[string]any{"leverage": 9}}, Err: errors.New("liquidated")},
	}
	s := Summarize(Grid{Name: "lev"}, outcomes, "sharpe_ratio")

	require.Len(t, s.Ranked, 2)
	assert.Equal(t, "leverage=3", s.Ranked[0].Label)
	assert.Equal(t, 1, s.Ranked[0].Rank)
	require.Len(t, s.Failed, 1)
	assert.Equal(t, "liquidated", s.Failed[0].Error)
	assert.Equal(t, 3, s.Total)

	var buf bytes.Buffer
	require.NoError(t, s.WriteYAML(&buf))
	assert.Contains(t, buf.String(), "rank_by: sharpe_ratio")
	assert.Contains(t, buf.String(), "label: leverage=3")
}
