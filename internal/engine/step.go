package engine

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// Step is one stage of a tick. Steps always run in tickSequence order.
type Step int

const (
	StepSnapshot Step = iota
	StepFunding
	StepLiquidation
	StepStops
	StepDecide
	StepExecute
	StepSample
)

var tickSequence = []Step{
	StepSnapshot,
	StepFunding,
	StepLiquidation,
	StepStops,
	StepDecide,
	StepExecute,
	StepSample,
}

// TickSequence returns the fixed order of steps within one tick.
func TickSequence() []Step {
	return append([]Step(nil), tickSequence...)
}

func (s Step) String() string {
	switch s {
	case StepSnapshot:
		return "snapshot"
	case StepFunding:
		return "funding"
	case StepLiquidation:
		return "liquidation"
	case StepStops:
		return "stops"
	case StepDecide:
		return "decide"
	case StepExecute:
		return "execute"
	case StepSample:
		return "sample"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// tick carries the state threaded through the steps of one timestamp.
type tick struct {
	ts         time.Time
	index      int
	last       bool
	snap       domain.Snapshot
	liquidated map[string]bool
	decisions  []domain.Decision
	lastAction domain.ActionKind
	acted      bool // any non-hold decision was seen
}

func newTick(ts time.Time, index int, last bool) *tick {
	return &tick{
		ts:         ts,
		index:      index,
		last:       last,
		liquidated: make(map[string]bool),
		lastAction: domain.ActionHold,
	}
}

// RunError reports a fatal failure. It names the timestamp that failed and
// the last timestamp that completed cleanly.
type RunError struct {
	At       time.Time
	LastGood time.Time
	Step     Step
	Err      error
}

func (e *RunError) Error() string {
	last := "none"
	if !e.LastGood.IsZero() {
		last = e.LastGood.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("engine: run aborted at %s during %s (last good %s): %v",
		e.At.UTC().Format(time.RFC3339), e.Step, last, e.Err)
}

// Unwrap exposes both domain.ErrRunAborted and the cause.
func (e *RunError) Unwrap() []error {
	return []error{domain.ErrRunAborted, e.Err}
}

// stepError tags an error with the step that produced it.
type stepError struct {
	step Step
	err  error
}

func (e *stepError) Error() string { return e.step.String() + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }
