// Package memory keeps run headers, trade logs and equity curves in process
// memory. It backs serve and sweep modes when Postgres is disabled.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// Store implements domain.RunStore. Trades and Equity return the companion
// stores sharing the same lock.
type Store struct {
	mu     sync.RWMutex
	runs   map[string]domain.Run
	trades map[string][]domain.Trade
	equity map[string][]domain.EquityPoint
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		runs:   make(map[string]domain.Run),
		trades: make(map[string][]domain.Trade),
		equity: make(map[string][]domain.EquityPoint),
	}
}

var (
	_ domain.RunStore    = (*Store)(nil)
	_ domain.TradeStore  = tradeStore{}
	_ domain.EquityStore = equityStore{}
)

func (s *Store) Create(_ context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("memory: run %s: %w", run.ID, domain.ErrAlreadyExists)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *Store) MarkRunning(_ context.Context, id string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("memory: run %s: %w", id, domain.ErrNotFound)
	}
	run.Status = domain.RunStatusRunning
	run.StartedAt = &startedAt
	s.runs[id] = run
	return nil
}

func (s *Store) Finish(_ context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("memory: run %s: %w", run.ID, domain.ErrNotFound)
	}
	cur.Status = run.Status
	cur.Metrics = run.Metrics
	cur.ReportPath = run.ReportPath
	cur.Error = run.Error
	cur.LastGood = run.LastGood
	cur.FinishedAt = run.FinishedAt
	if cur.FinishedAt == nil {
		now := time.Now().UTC()
		cur.FinishedAt = &now
	}
	s.runs[run.ID] = cloneRun(cur)
	return nil
}

func (s *Store) GetByID(_ context.Context, id string) (domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, fmt.Errorf("memory: run %s: %w", id, domain.ErrNotFound)
	}
	return cloneRun(run), nil
}

// GetByFingerprint returns the latest completed run with the fingerprint.
func (s *Store) GetByFingerprint(_ context.Context, fingerprint string) (domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  domain.Run
		found bool
	)
	for _, run := range s.runs {
		if run.Fingerprint != fingerprint || run.Status != domain.RunStatusCompleted {
			continue
		}
		if !found || run.CreatedAt.After(best.CreatedAt) {
			best, found = run, true
		}
	}
	if !found {
		return domain.Run{}, fmt.Errorf("memory: fingerprint %s: %w", fingerprint, domain.ErrNotFound)
	}
	return cloneRun(best), nil
}

// List returns runs newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.Run, error) {
	s.mu.RLock()
	out := make([]domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if !within(run.CreatedAt, opts) {
			continue
		}
		out = append(out, cloneRun(run))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts), nil
}

// Trades returns the trade store view.
func (s *Store) Trades() domain.TradeStore { return tradeStore{s} }

// Equity returns the equity store view.
func (s *Store) Equity() domain.EquityStore { return equityStore{s} }

type tradeStore struct{ s *Store }

func (t tradeStore) InsertBatch(_ context.Context, runID string, trades []domain.Trade) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.trades[runID] = append(t.s.trades[runID], trades...)
	return nil
}

func (t tradeStore) ListByRun(_ context.Context, runID string, opts domain.ListOpts) ([]domain.Trade, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []domain.Trade
	for _, tr := range t.s.trades[runID] {
		if within(tr.Timestamp, opts) {
			out = append(out, tr)
		}
	}
	return paginate(out, opts), nil
}

type equityStore struct{ s *Store }

func (e equityStore) InsertBatch(_ context.Context, runID string, points []domain.EquityPoint) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	e.s.equity[runID] = append(e.s.equity[runID], points...)
	return nil
}

func (e equityStore) ListByRun(_ context.Context, runID string, opts domain.ListOpts) ([]domain.EquityPoint, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	var out []domain.EquityPoint
	for _, p := range e.s.equity[runID] {
		if within(p.Timestamp, opts) {
			out = append(out, p)
		}
	}
	return paginate(out, opts), nil
}

func within(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func cloneRun(r domain.Run) domain.Run {
	r.Symbols = slices.Clone(r.Symbols)
	r.Config = slices.Clone(r.Config)
	r.Metrics = maps.Clone(r.Metrics)
	return r
}
