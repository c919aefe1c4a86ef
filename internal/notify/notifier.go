// Package notify tells operators when a backtest run finishes. Messages go to
// every configured sender and can be filtered by event type.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// Run lifecycle events.
const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
	EventRunCancelled = "run.cancelled"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a message out to its senders. When events is non-empty only
// those event types are delivered.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify delivers one message if event passes the filter. A failing sender
// does not stop delivery to the others.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notify: event filtered", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// NotifyRun reports a run that reached a terminal state.
func (n *Notifier) NotifyRun(ctx context.Context, run domain.Run) error {
	event, title, message := RunMessage(run)
	return n.Notify(ctx, event, title, message)
}

// RunMessage formats the notification for a terminal run.
func RunMessage(run domain.Run) (event, title, message string) {
	name := run.Name
	if name == "" {
		name = run.ID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "strategy %s on %s\n", run.Strategy, strings.Join(run.Symbols, ", "))

	switch run.Status {
	case domain.RunStatusFailed:
		event, title = EventRunFailed, "Backtest failed: "+name
		fmt.Fprintf(&b, "error: %s", run.Error)
		if run.LastGood != nil {
			fmt.Fprintf(&b, "\nlast good tick: %s", run.LastGood.UTC().Format("2006-01-02 15:04"))
		}
		return event, title, b.String()
	case domain.RunStatusCancelled:
		event, title = EventRunCancelled, "Backtest cancelled: "+name
	default:
		event, title = EventRunCompleted, "Backtest finished: "+name
	}

	for _, k := range []string{"total_return_pct", "max_drawdown_pct", "sharpe_ratio", "total_trades", "win_rate_pct", "liquidation_count"} {
		if v, ok := run.Metrics[k]; ok {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	if run.ReportPath != "" {
		fmt.Fprintf(&b, "report: %s", run.ReportPath)
	}
	return event, title, strings.TrimRight(b.String(), "\n")
}

// postJSON sends payload and treats any 2xx as success.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
