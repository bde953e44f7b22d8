package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gait-pipeline/internal/models"
	"gait-pipeline/internal/store"
	"gait-pipeline/internal/telemetry"
)

// SweepConfig tunes the reconciliation sweep.
type SweepConfig struct {
	// Staleness is the heartbeat window past which a processing record
	// counts as stalled.
	Staleness time.Duration
	// Limit caps candidates per sweep pass.
	Limit int
	// Requeue, when set, re-dispatches abandoned mid-stage runs (heartbeat
	// stale, work unfinished) so a worker can resume them from checkpoint.
	Requeue func(ctx context.Context, id string) error
}

// DefaultSweepConfig returns the production defaults.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{Staleness: 30 * time.Second, Limit: 100}
}

// Sweeper converges stalled records: runs whose work finished but whose
// terminal commit never stuck are forced to completed, runs abandoned
// mid-stage are re-dispatched. Idempotent and safe to run concurrently with
// itself and with live pipelines; every write goes through the same CAS
// discipline.
type Sweeper struct {
	store store.RecordStore
	cfg   SweepConfig
}

func NewSweeper(st store.RecordStore, cfg SweepConfig) *Sweeper {
	return &Sweeper{store: st, cfg: cfg}
}

// Sweep scans for stalled candidates and converges each. Returns how many
// records were forced to completed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	candidates, err := s.store.StalledCandidates(ctx, s.cfg.Staleness, s.cfg.Limit)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	converged := 0
	for _, rec := range candidates {
		ok, err := s.converge(ctx, rec)
		if err != nil {
			log.Printf("sweep: run=%s not converged: %v", rec.ID, err)
			continue
		}
		if ok {
			converged++
		}
	}
	return converged, nil
}

// SweepRecord converges a single record on demand. Reports false when the
// record is not stalled (a no-op).
func (s *Sweeper) SweepRecord(ctx context.Context, id string) (bool, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return false, err
	}
	if !rec.Stalled(time.Now().UTC(), s.cfg.Staleness) {
		return false, nil
	}
	return s.converge(ctx, rec)
}

func (s *Sweeper) converge(ctx context.Context, rec models.AnalysisRecord) (bool, error) {
	metrics := rec.Metrics
	if metrics == nil {
		m, found, err := s.metricsFromCheckpoint(ctx, rec.ID)
		if err != nil {
			return false, err
		}
		metrics = m
		if !found {
			// Work not finished; this run stalled mid-stage. Completion
			// cannot be forced without metrics, only re-dispatch helps.
			if rec.StageProgress < 100 && s.cfg.Requeue != nil {
				if err := s.cfg.Requeue(ctx, rec.ID); err != nil {
					return false, fmt.Errorf("requeue: %w", err)
				}
			}
			return false, nil
		}
	}
	if rec.StageProgress < 100 {
		// Metrics exist but the run never reported full progress; leave it
		// for re-dispatch rather than fabricate completion of later stages.
		if s.cfg.Requeue != nil {
			if err := s.cfg.Requeue(ctx, rec.ID); err != nil {
				return false, fmt.Errorf("requeue: %w", err)
			}
		}
		return false, nil
	}

	// Force the completed write, CAS-protected against concurrent sweeps
	// and live committers.
	for {
		rec.Status = models.StatusCompleted
		rec.StageProgress = 100
		rec.ProgressMessage = "converged by reconciliation sweep"
		rec.Metrics = metrics
		rec.Error = nil
		_, err := s.store.UpdateRecord(ctx, rec)
		if err == nil {
			telemetry.SweepConverged.Inc()
			return true, nil
		}
		if !errors.Is(err, store.ErrWriteConflict) {
			return false, err
		}
		telemetry.StoreConflicts.Inc()
		rec, err = s.store.GetRecord(ctx, rec.ID)
		if err != nil {
			return false, err
		}
		if rec.Status == models.StatusCompleted {
			// Another sweep or the committer won the race.
			return false, nil
		}
		if rec.Status != models.StatusProcessing {
			return false, nil
		}
	}
}

// metricsFromCheckpoint recovers the snapshot from the metrics_calculation
// checkpoint when the record itself does not carry one.
func (s *Sweeper) metricsFromCheckpoint(ctx context.Context, id string) (*models.MetricsSnapshot, bool, error) {
	cp, found, err := s.store.GetCheckpoint(ctx, id, models.StageMetrics)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	var m models.MetricsSnapshot
	if err := json.Unmarshal(cp.Payload, &m); err != nil {
		return nil, false, fmt.Errorf("decode metrics checkpoint: %w", err)
	}
	return &m, true, nil
}

// RunSweeper runs periodic sweeps until ctx is cancelled.
func (s *Sweeper) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				log.Printf("sweep: %v", err)
			} else if n > 0 {
				log.Printf("sweep: converged %d stalled records", n)
			}
		}
	}
}
