package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const runSelectCols = `id, fingerprint, name, strategy, symbols, status, config,
	metrics, report_path, error, last_good, created_at, started_at, finished_at`

func scanRun(row pgx.Row) (domain.Run, error) {
	var (
		r           domain.Run
		status      string
		metricsJSON []byte
	)
	if err := row.Scan(
		&r.ID, &r.Fingerprint, &r.Name, &r.Strategy, &r.Symbols, &status, &r.Config,
		&metricsJSON, &r.ReportPath, &r.Error, &r.LastGood, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	); err != nil {
		return domain.Run{}, err
	}
	r.Status = domain.RunStatus(status)
	if metricsJSON != nil {
		if err := json.Unmarshal(metricsJSON, &r.Metrics); err != nil {
			return domain.Run{}, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	return r, nil
}

// Create inserts a new run header.
func (s *RunStore) Create(ctx context.Context, run domain.Run) error {
	const query = `
		INSERT INTO runs (id, fingerprint, name, strategy, symbols, status, config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, query,
		run.ID, run.Fingerprint, run.Name, run.Strategy, run.Symbols,
		string(run.Status), run.Config, created,
	); err != nil {
		return fmt.Errorf("postgres: create run %s: %w", run.ID, err)
	}
	return nil
}

// MarkRunning moves a pending run to running.
func (s *RunStore) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, started_at = $3 WHERE id = $1`,
		id, string(domain.RunStatusRunning), startedAt)
	if err != nil {
		return fmt.Errorf("postgres: mark run %s running: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark run %s running: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Finish records the terminal state of a run.
func (s *RunStore) Finish(ctx context.Context, run domain.Run) error {
	metricsJSON, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("postgres: marshal run metrics: %w", err)
	}
	const query = `
		UPDATE runs SET
			status      = $2,
			metrics     = $3,
			report_path = $4,
			error       = $5,
			last_good   = $6,
			finished_at = $7
		WHERE id = $1`
	finished := run.FinishedAt
	if finished == nil {
		now := time.Now().UTC()
		finished = &now
	}
	tag, err := s.pool.Exec(ctx, query,
		run.ID, string(run.Status), metricsJSON, run.ReportPath, run.Error, run.LastGood, finished)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: finish run %s: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a run by id.
func (s *RunStore) GetByID(ctx context.Context, id string) (domain.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runSelectCols+` FROM runs WHERE id = $1`, id))
	if err != nil {
		if notFound(err) {
			return domain.Run{}, domain.ErrNotFound
		}
		return domain.Run{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return r, nil
}

// GetByFingerprint returns the most recent completed run with the given
// configuration fingerprint.
func (s *RunStore) GetByFingerprint(ctx context.Context, fingerprint string) (domain.Run, error) {
	const query = `SELECT ` + runSelectCols + ` FROM runs
		WHERE fingerprint = $1 AND status = $2
		ORDER BY created_at DESC LIMIT 1`
	r, err := scanRun(s.pool.QueryRow(ctx, query, fingerprint, string(domain.RunStatusCompleted)))
	if err != nil {
		if notFound(err) {
			return domain.Run{}, domain.ErrNotFound
		}
		return domain.Run{}, fmt.Errorf("postgres: get run by fingerprint: %w", err)
	}
	return r, nil
}

// List returns run headers, newest first.
func (s *RunStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Run, error) {
	query, args := page(`SELECT `+runSelectCols+` FROM runs WHERE 1=1`, nil, "created_at", "DESC", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list runs rows: %w", err)
	}
	return runs, nil
}
