package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRunLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, domain.Run{ID: "a", Fingerprint: "fp", Status: domain.RunStatusPending, CreatedAt: t0}))
	assert.ErrorIs(t, s.Create(ctx, domain.Run{ID: "a"}), domain.ErrAlreadyExists)

	_, err := s.GetByFingerprint(ctx, "fp")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.MarkRunning(ctx, "a", t0.Add(time.Second)))
	require.NoError(t, s.Finish(ctx, domain.Run{ID: "a", Status: domain.RunStatusCompleted, Metrics: map[string]string{"k": "v"}}))

	run, err := s.GetByFingerprint(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.FinishedAt)

	run.Metrics["k"] = "changed"
	again, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v", again.Metrics["k"])

	assert.ErrorIs(t, s.MarkRunning(ctx, "missing", t0), domain.ErrNotFound)
}

func TestListNewestFirstWithPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Create(ctx, domain.Run{ID: id, CreatedAt: t0.Add(time.Duration(i) * time.Hour)}))
	}

	runs, err := s.List(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	runs, err = s.List(ctx, domain.ListOpts{Offset: 2})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].ID)

	since := t0.Add(90 * time.Minute)
	runs, err = s.List(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "c", runs[0].ID)
}

func TestTradeAndEquityViews(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Trades().InsertBatch(ctx, "a", []domain.Trade{
		{ID: 1, Timestamp: t0}, {ID: 2, Timestamp: t0.Add(time.Hour)},
	}))
	require.NoError(t, s.Equity().InsertBatch(ctx, "a", []domain.EquityPoint{{Timestamp: t0, TotalEquity: 100}}))

	until := t0
	trades, err := s.Trades().ListByRun(ctx, "a", domain.ListOpts{Until: &until})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(1), trades[0].ID)

	points, err := s.Equity().ListByRun(ctx, "a", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, points, 1)

	none, err := s.Trades().ListByRun(ctx, "b", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, none)
}
