package pipeline

import (
	"fmt"
	"time"
)

// StageInputMissingError reports a stage whose required predecessor output is
// absent or empty. Stage-fatal: the run transitions to failed rather than
// proceeding with placeholder data.
type StageInputMissingError struct {
	Stage   string
	Missing string
}

func (e *StageInputMissingError) Error() string {
	return fmt.Sprintf("stage %s: required input missing: %s", e.Stage, e.Missing)
}

// CompletionTimeoutError reports an exhausted completion commit. The record
// is left processing at full progress; the reconciliation sweep converges it
// later. The computed metrics are never discarded.
type CompletionTimeoutError struct {
	AnalysisID string
	Attempts   int
	Elapsed    time.Duration
	LastErr    error
}

func (e *CompletionTimeoutError) Error() string {
	return fmt.Sprintf("completion commit for %s exhausted after %d attempts in %s: %v",
		e.AnalysisID, e.Attempts, e.Elapsed.Round(time.Millisecond), e.LastErr)
}

func (e *CompletionTimeoutError) Unwrap() error { return e.LastErr }
