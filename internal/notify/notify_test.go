package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventRunFailed}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventRunCompleted, "done", ""))
	require.NoError(t, n.Notify(context.Background(), EventRunFailed, "failed", ""))
	assert.Equal(t, []string{"failed"}, s.titles)
}

func TestNotifierContinuesAfterFailure(t *testing.T) {
	bad := &recordSender{name: "bad", err: errors.New("down")}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), EventRunCompleted, "t", "m")
	assert.ErrorContains(t, err, "bad: down")
	assert.Len(t, good.titles, 1)
}

func TestRunMessage(t *testing.T) {
	last := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	event, title, msg := RunMessage(domain.Run{
		ID: "r1", Strategy: "ema_cross", Symbols: []string{"BTCUSDT"},
		Status: domain.RunStatusFailed, Error: "feed: broken", LastGood: &last,
	})
	assert.Equal(t, EventRunFailed, event)
	assert.Equal(t, "Backtest failed: r1", title)
	assert.Contains(t, msg, "error: feed: broken")
	assert.Contains(t, msg, "last good tick: 2024-03-01 08:00")

	event, title, msg = RunMessage(domain.Run{
		ID: "r2", Name: "nightly", Strategy: "hold", Status: domain.RunStatusCompleted,
		Metrics:    map[string]string{"total_return_pct": "3.21", "unrelated": "x"},
		ReportPath: "runs/r2/",
	})
	assert.Equal(t, EventRunCompleted, event)
	assert.Equal(t, "Backtest finished: nightly", title)
	assert.Contains(t, msg, "total_return_pct: 3.21")
	assert.NotContains(t, msg, "unrelated")
	assert.Contains(t, msg, "report: runs/r2/")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad webhook"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	assert.ErrorContains(t, err, "discord: unexpected status 400: bad webhook")
}
