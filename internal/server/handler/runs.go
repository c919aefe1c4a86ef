package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/alanyoungcy/marginsim/internal/config"
	"github.com/alanyoungcy/marginsim/internal/domain"
)

// maxBody bounds a run request body.
const maxBody = 1 << 20

// RunService is what the run endpoints need from the service layer.
type RunService interface {
	Start(ctx context.Context, req config.Run) (domain.Run, bool, error)
	Stop(id string) error
	Get(ctx context.Context, id string) (domain.Run, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Run, error)
	Trades(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Trade, error)
	Equity(ctx context.Context, id string, opts domain.ListOpts) ([]domain.EquityPoint, error)
}

// RunHandler serves /api/runs.
type RunHandler struct {
	runs     RunService
	defaults config.Run
	// base outlives the request: background runs are started under it.
	base   context.Context
	logger *slog.Logger
}

// NewRunHandler creates a RunHandler. Request bodies are decoded over
// defaults, and runs started through it live as long as base.
func NewRunHandler(base context.Context, runs RunService, defaults config.Run, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		runs:     runs,
		defaults: defaults,
		base:     base,
		logger:   logger.With(slog.String("handler", "runs")),
	}
}

// runView is the wire form of a run header.
type runView struct {
	ID          string            `json:"id"`
	Fingerprint string            `json:"fingerprint"`
	Name        string            `json:"name,omitempty"`
	Strategy    string            `json:"strategy"`
	Symbols     []string          `json:"symbols"`
	Status      domain.RunStatus  `json:"status"`
	Config      json.RawMessage   `json:"config,omitempty"`
	Metrics     map[string]string `json:"metrics,omitempty"`
	ReportPath  string            `json:"report_path,omitempty"`
	Error       string            `json:"error,omitempty"`
	LastGood    *time.Time        `json:"last_good,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
}

func toView(r domain.Run, withConfig bool) runView {
	v := runView{
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		Name:        r.Name,
		Strategy:    r.Strategy,
		Symbols:     r.Symbols,
		Status:      r.Status,
		Metrics:     r.Metrics,
		ReportPath:  r.ReportPath,
		Error:       r.Error,
		LastGood:    r.LastGood,
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	if withConfig && len(r.Config) > 0 {
		v.Config = json.RawMessage(r.Config)
	}
	return v
}

// Create starts a run from the JSON body. It answers 202 for a new run and
// 200 when an identical completed run is returned instead.
// POST /api/runs
func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
	req := h.defaults
	// Decoding writes through pointers and reuses slice storage.
	req.Symbols = nil
	req.Strategy.Params = nil
	req.Fees.Tiers = slices.Clone(req.Fees.Tiers)
	req.Fees.CommissionRate = clonePtr(req.Fees.CommissionRate)
	req.Fees.LiquidationFeeRate = clonePtr(req.Fees.LiquidationFeeRate)

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	run, existing, err := h.runs.Start(h.base, req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: start run failed", slog.String("error", err.Error()))
			writeError(w, status, "failed to start run")
			return
		}
		writeError(w, status, err.Error())
		return
	}
	if existing {
		writeJSON(w, http.StatusOK, map[string]any{"run": toView(run, false), "existing": true})
		return
	}
	h.logger.InfoContext(r.Context(), "handler: run accepted", slog.String("run_id", run.ID))
	writeJSON(w, http.StatusAccepted, map[string]any{"run": toView(run, false), "existing": false})
}

// List returns run headers, newest first.
// GET /api/runs?limit=50&offset=0
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r, 50, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := h.runs.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list runs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, toView(run, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}

// Get returns one run with its configuration.
// GET /api/runs/{id}
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get run", id, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(run, true))
}

// Trades returns the trade log of a run.
// GET /api/runs/{id}/trades
func (h *RunHandler) Trades(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	opts, err := parseListOpts(r, 1_000, 10_000)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.runs.Trades(r.Context(), id, opts)
	if err != nil {
		h.fail(w, r, "list trades", id, err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "trades": trades})
}

// Equity returns the sampled equity curve of a run.
// GET /api/runs/{id}/equity
func (h *RunHandler) Equity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	opts, err := parseListOpts(r, 10_000, 100_000)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	points, err := h.runs.Equity(r.Context(), id, opts)
	if err != nil {
		h.fail(w, r, "list equity", id, err)
		return
	}
	if points == nil {
		points = []domain.EquityPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "equity": points})
}

// Stop asks an active run to close out and finish as cancelled.
// DELETE /api/runs/{id}
func (h *RunHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.runs.Stop(id); err != nil {
		h.fail(w, r, "stop run", id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping", "run_id": id})
}

func (h *RunHandler) fail(w http.ResponseWriter, r *http.Request, op, id string, err error) {
	status := statusFor(err)
	if status == http.StatusNotFound {
		writeError(w, status, "run not found")
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("run_id", id),
		slog.String("error", err.Error()),
	)
	writeError(w, status, op+" failed")
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
