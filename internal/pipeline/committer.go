package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gait-pipeline/internal/models"
	"gait-pipeline/internal/store"
	"gait-pipeline/internal/telemetry"
)

// CommitConfig bounds the completion commit protocol.
type CommitConfig struct {
	MaxAttempts int
	Budget      time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultCommitConfig returns the production defaults.
func DefaultCommitConfig() CommitConfig {
	return CommitConfig{
		MaxAttempts: 12,
		Budget:      30 * time.Second,
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  2 * time.Second,
	}
}

// Committer durably transitions a record to completed with its metrics
// attached and verifies the write stuck. It works against the raw store with
// its own fresh-read-per-attempt loop so that every attempt observes the
// current sequence number.
type Committer struct {
	store store.RecordStore
	cfg   CommitConfig
}

func NewCommitter(st store.RecordStore, cfg CommitConfig) *Committer {
	return &Committer{store: st, cfg: cfg}
}

// Commit attempts the completed write under the CAS discipline, retrying
// with exponential backoff within the attempt and wall-clock budgets. On
// exhaustion it returns *CompletionTimeoutError and leaves the record
// processing at full progress, which flags it stalled for the sweep.
func (c *Committer) Commit(ctx context.Context, id string, metrics *models.MetricsSnapshot) error {
	if metrics == nil {
		return fmt.Errorf("commit %s: nil metrics", id)
	}

	start := time.Now()
	var lastErr error
	attempts := 0
	for attempts < c.cfg.MaxAttempts && time.Since(start) < c.cfg.Budget {
		attempts++
		if attempts > 1 {
			telemetry.CommitRetries.Inc()
		}

		err := c.attempt(ctx, id, metrics)
		if err == nil {
			telemetry.RunsCompleted.Inc()
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("commit %s: %w", id, ctx.Err())
		}
		lastErr = err
		if errors.Is(err, store.ErrWriteConflict) {
			telemetry.StoreConflicts.Inc()
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("commit %s: %w", id, ctx.Err())
		case <-time.After(backoffWithJitter(c.cfg.BackoffBase, c.cfg.BackoffMax, attempts)):
		}
	}

	return &CompletionTimeoutError{
		AnalysisID: id,
		Attempts:   attempts,
		Elapsed:    time.Since(start),
		LastErr:    lastErr,
	}
}

// attempt performs one fresh-read, conditional-write, read-back-verify cycle.
func (c *Committer) attempt(ctx context.Context, id string, metrics *models.MetricsSnapshot) error {
	rec, err := c.store.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == models.StatusCompleted {
		return nil
	}

	rec.Status = models.StatusCompleted
	rec.CurrentStage = models.StageReport
	rec.StageProgress = 100
	rec.ProgressMessage = "analysis complete"
	rec.Metrics = metrics
	rec.Error = nil
	if _, err := c.store.UpdateRecord(ctx, rec); err != nil {
		return err
	}

	// Read-after-write: trust the store only after seeing the terminal row.
	check, err := c.store.GetRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("verify commit: %w", err)
	}
	if check.Status != models.StatusCompleted || check.Metrics == nil || check.StageProgress != 100 {
		return fmt.Errorf("verify commit: terminal state not observed (status=%s)", check.Status)
	}
	return nil
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
