// Package worker claims queued analyses and drives them through the
// pipeline. A worker that dies mid-run loses its queue lease; the next
// claimer resumes the run from its furthest checkpoint.
package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"gait-pipeline/internal/config"
	"gait-pipeline/internal/models"
	"gait-pipeline/internal/pipeline"
	"gait-pipeline/internal/queue"
	"gait-pipeline/internal/store"
	"gait-pipeline/internal/telemetry"
)

// Processor drives the worker claim-and-run loop.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	store    store.RecordStore
	orch     *pipeline.Orchestrator
	workerID string
}

func NewProcessor(cfg config.Config, q *queue.RedisQueue, st store.RecordStore, orch *pipeline.Orchestrator, workerID string) *Processor {
	return &Processor{cfg: cfg, queue: q, store: st, orch: orch, workerID: workerID}
}

// Run claims and executes analyses until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			log.Printf("worker %s: reclaimed %d lapsed leases", p.workerID, len(reclaimed))
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		id, err := p.queue.DequeueWithLease(ctx)
		if err != nil || id == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		p.process(ctx, id)
	}
}

// process runs one claimed analysis while keeping its queue lease alive.
func (p *Processor) process(ctx context.Context, id string) {
	rec, err := p.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("worker %s: run=%s claimed but unknown, dropping", p.workerID, id)
			_ = p.queue.Ack(ctx, id)
		}
		return
	}
	if rec.Status == models.StatusCompleted || rec.Status == models.StatusFailed {
		_ = p.queue.Ack(ctx, id)
		return
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	leaseCtx, stopLease := context.WithCancel(ctx)
	defer stopLease()
	go p.keepLease(leaseCtx, id)

	// A record already in processing means a previous worker died mid-run.
	if rec.Status == models.StatusProcessing {
		log.Printf("worker %s: run=%s resuming from checkpoint", p.workerID, id)
		err = p.orch.Resume(ctx, id)
	} else {
		err = p.orch.Run(ctx, id)
	}
	stopLease()

	switch {
	case err == nil:
		_ = p.queue.Ack(ctx, id)
	case isCommitTimeout(err):
		// Work is done and checkpointed; the sweep converges the record.
		// Holding the lease would only make another worker redo the commit.
		log.Printf("worker %s: run=%s left for sweep: %v", p.workerID, id, err)
		_ = p.queue.Ack(ctx, id)
	default:
		// The orchestrator already recorded the failure on the record.
		log.Printf("worker %s: run=%s failed: %v", p.workerID, id, err)
		_ = p.queue.Ack(ctx, id)
	}
}

// keepLease extends the queue lease on a cadence well inside the visibility
// window while a run is in flight.
func (p *Processor) keepLease(ctx context.Context, id string) {
	interval := p.cfg.VisibilityTimeout / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.ExtendLease(ctx, id); err != nil {
				log.Printf("worker %s: run=%s lease extension failed: %v", p.workerID, id, err)
			}
		}
	}
}

func isCommitTimeout(err error) bool {
	var timeout *pipeline.CompletionTimeoutError
	return errors.As(err, &timeout)
}
