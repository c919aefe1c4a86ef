package domain

import "time"

// RunStatus tracks the lifecycle of a backtest run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is the persisted header of one backtest.
type Run struct {
	ID          string
	Fingerprint string
	Name        string
	Strategy    string
	Symbols     []string
	Status      RunStatus
	Config      []byte // canonical JSON of the run configuration
	Metrics     map[string]string
	ReportPath  string
	Error       string
	LastGood    *time.Time
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// Terminal reports whether the run has stopped for good.
func (r Run) Terminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}
