// Package heartbeat maintains the liveness signal for an in-flight pipeline
// run. The beat loop is supervised: if it dies it is restarted with
// exponential backoff, and only after the restart budget is exhausted does the
// monitor report failure to the orchestrator.
package heartbeat

import (
	"context"
	"fmt"
	"log"
	"time"

	"gait-pipeline/internal/recordsync"
	"gait-pipeline/internal/telemetry"
)

// Config tunes the beat interval and the supervisor's restart policy.
type Config struct {
	Interval    time.Duration
	MaxRestarts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    2 * time.Second,
		MaxRestarts: 5,
		BackoffBase: 250 * time.Millisecond,
		BackoffMax:  5 * time.Second,
	}
}

// TaskFailure reports a liveness task that died and could not be restarted
// within the budget. The owning run must be marked failed, never left
// silently un-monitored.
type TaskFailure struct {
	AnalysisID string
	Restarts   int
	Err        error
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("heartbeat task for %s failed after %d restarts: %v", e.AnalysisID, e.Restarts, e.Err)
}

func (e *TaskFailure) Unwrap() error { return e.Err }

// BeatFunc advances the liveness timestamp for one record.
type BeatFunc func(ctx context.Context, id string) error

// Monitor supervises one beat loop per call to Run.
type Monitor struct {
	cfg  Config
	beat BeatFunc
}

// NewMonitor builds a monitor whose beats go through the synchronizer's
// conflict-checked write path.
func NewMonitor(sync *recordsync.Synchronizer, cfg Config) *Monitor {
	return &Monitor{cfg: cfg, beat: sync.Touch}
}

// NewMonitorWithBeat allows injecting the beat function (tests, fault drills).
func NewMonitorWithBeat(beat BeatFunc, cfg Config) *Monitor {
	return &Monitor{cfg: cfg, beat: beat}
}

// Run drives the supervised beat loop until ctx is cancelled (returns nil) or
// the restart budget is exhausted (returns *TaskFailure). Callers launch Run
// in its own goroutine and keep the returned error channel as the supervised
// task handle.
func (m *Monitor) Run(ctx context.Context, id string) error {
	restarts := 0
	for {
		err := m.loop(ctx, id)
		if ctx.Err() != nil {
			return nil
		}

		restarts++
		telemetry.HeartbeatRestarts.Inc()
		if restarts > m.cfg.MaxRestarts {
			return &TaskFailure{AnalysisID: id, Restarts: restarts - 1, Err: err}
		}
		wait := backoff(m.cfg.BackoffBase, m.cfg.BackoffMax, restarts)
		log.Printf("heartbeat: run=%s beat loop died (%v), restart %d/%d in %s",
			id, err, restarts, m.cfg.MaxRestarts, wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// loop beats on the fixed interval until ctx ends or a beat fails.
func (m *Monitor) loop(ctx context.Context, id string) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.beat(ctx, id); err != nil {
				return err
			}
		}
	}
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	wait := base << (attempt - 1)
	if wait > max || wait <= 0 {
		wait = max
	}
	return wait
}
