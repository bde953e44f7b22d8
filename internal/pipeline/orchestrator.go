// Package pipeline drives the asynchronous analysis lifecycle: the forward-only
// stage machine, the supervised heartbeat, checkpointing, the completion
// commit protocol, and the reconciliation sweep.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gait-pipeline/internal/gait"
	"gait-pipeline/internal/heartbeat"
	"gait-pipeline/internal/models"
	"gait-pipeline/internal/providers"
	"gait-pipeline/internal/recordsync"
	"gait-pipeline/internal/store"
	"gait-pipeline/internal/telemetry"
)

// ReportWriter renders and stores the report_generation stage output.
type ReportWriter interface {
	Write(ctx context.Context, rec models.AnalysisRecord, m *models.MetricsSnapshot) (string, error)
}

// Options wires an orchestrator's collaborators.
type Options struct {
	Sync      *recordsync.Synchronizer
	Store     store.RecordStore
	Pose      providers.PoseEstimator
	Lifter    providers.Lifter
	Reports   ReportWriter
	Engine    gait.Options
	Heartbeat heartbeat.Config
	// Beat overrides the default heartbeat write path (tests, fault drills).
	Beat heartbeat.BeatFunc
	// StageTimeout bounds each external provider call.
	StageTimeout time.Duration
	Commit       CommitConfig
}

// Orchestrator runs one analysis end to end: stages advance forward only,
// each completed stage is checkpointed, a supervised heartbeat keeps the
// record live, and the terminal transition goes through the commit protocol.
type Orchestrator struct {
	sync         *recordsync.Synchronizer
	store        store.RecordStore
	pose         providers.PoseEstimator
	lifter       providers.Lifter
	reports      ReportWriter
	engine       gait.Options
	hbCfg        heartbeat.Config
	beat         heartbeat.BeatFunc
	stageTimeout time.Duration
	committer    *Committer
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 2 * time.Minute
	}
	return &Orchestrator{
		sync:         opts.Sync,
		store:        opts.Store,
		pose:         opts.Pose,
		lifter:       opts.Lifter,
		reports:      opts.Reports,
		engine:       opts.Engine,
		hbCfg:        opts.Heartbeat,
		beat:         opts.Beat,
		stageTimeout: opts.StageTimeout,
		committer:    NewCommitter(opts.Store, opts.Commit),
	}
}

// Run executes a queued analysis from the first stage.
func (o *Orchestrator) Run(ctx context.Context, id string) error {
	rec, err := o.sync.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	return o.execute(ctx, rec, models.StageOrder[0], rec.VideoRef)
}

// Resume restarts a crashed run at the stage after its furthest completed
// checkpoint. The checkpoint locates where to restart: the stage that was
// in flight when the worker died is re-run in full, never skipped.
func (o *Orchestrator) Resume(ctx context.Context, id string) error {
	rec, err := o.sync.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("resume %s: %w", id, err)
	}

	cp, found, err := o.store.LatestCheckpoint(ctx, id)
	if err != nil {
		return fmt.Errorf("resume %s: %w", id, err)
	}
	if !found {
		return o.execute(ctx, rec, models.StageOrder[0], rec.VideoRef)
	}

	if cp.Stage == models.StageReport {
		// All work done; only the terminal commit is outstanding.
		metrics, err := o.metricsForCommit(ctx, rec)
		if err != nil {
			return o.failRun(ctx, id, err)
		}
		return o.finish(ctx, id, metrics)
	}

	next, ok := NextStage(cp.Stage)
	if !ok {
		return o.failRun(ctx, id, fmt.Errorf("checkpoint at unknown stage %q", cp.Stage))
	}
	input, err := decodeStageOutput(cp.Stage, cp.Payload)
	if err != nil {
		// A corrupt checkpoint costs a full re-run, never a wrong resume.
		log.Printf("pipeline: run=%s checkpoint %s unreadable (%v), restarting from first stage",
			id, cp.Stage, err)
		return o.execute(ctx, rec, models.StageOrder[0], rec.VideoRef)
	}
	return o.execute(ctx, rec, next, input)
}

// execute drives stages from `stage` to the end, under a supervised
// heartbeat, then commits completion.
func (o *Orchestrator) execute(ctx context.Context, rec models.AnalysisRecord, stage string, input any) error {
	id := rec.ID

	if _, err := o.sync.Mutate(ctx, id, func(r *models.AnalysisRecord) error {
		r.Status = models.StatusProcessing
		r.ProgressMessage = "processing started"
		r.Error = nil
		r.HeartbeatLast = time.Now().UTC()
		return nil
	}); err != nil {
		return fmt.Errorf("run %s: mark processing: %w", id, err)
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	monitor := heartbeat.NewMonitor(o.sync, o.hbCfg)
	if o.beat != nil {
		monitor = heartbeat.NewMonitorWithBeat(o.beat, o.hbCfg)
	}
	hbErr := make(chan error, 1)
	go func() { hbErr <- monitor.Run(hbCtx, id) }()

	var metrics *models.MetricsSnapshot
	if m, ok := input.(*models.MetricsSnapshot); ok {
		metrics = m
	}

	for cur := stage; ; {
		if err := o.checkHeartbeat(hbErr); err != nil {
			return o.failRun(ctx, id, err)
		}
		if err := ValidateStageInput(cur, input); err != nil {
			return o.failRun(ctx, id, err)
		}

		if _, err := o.sync.Mutate(ctx, id, func(r *models.AnalysisRecord) error {
			r.CurrentStage = cur
			r.StageProgress = stageStartProgress[cur]
			r.ProgressMessage = "running " + cur
			return nil
		}); err != nil {
			return o.failRun(ctx, id, fmt.Errorf("stage %s: record update: %w", cur, err))
		}

		rec, err := o.sync.Get(ctx, id)
		if err != nil {
			return o.failRun(ctx, id, err)
		}
		output, err := o.runStage(ctx, rec, cur, input)
		if err != nil {
			return o.failRun(ctx, id, fmt.Errorf("stage %s: %w", cur, err))
		}
		if m, ok := output.(*models.MetricsSnapshot); ok {
			metrics = m
		}

		if err := o.checkpoint(ctx, id, cur, output); err != nil {
			return o.failRun(ctx, id, err)
		}

		if _, err := o.sync.Mutate(ctx, id, func(r *models.AnalysisRecord) error {
			r.StageProgress = stageDoneProgress[cur]
			r.ProgressMessage = cur + " complete"
			if cur == models.StageMetrics {
				r.Metrics = metrics
			}
			return nil
		}); err != nil {
			return o.failRun(ctx, id, fmt.Errorf("stage %s: record update: %w", cur, err))
		}

		next, ok := NextStage(cur)
		if !ok {
			break
		}
		cur, input = next, output
	}

	stopHeartbeat()
	<-hbErr
	return o.finish(ctx, id, metrics)
}

// runStage performs the work of one stage. Provider calls carry the stage
// timeout; the metrics engine and report writer run under the run context.
func (o *Orchestrator) runStage(ctx context.Context, rec models.AnalysisRecord, stage string, input any) (any, error) {
	switch stage {
	case models.StagePoseEstimation:
		tctx, cancel := context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
		return o.pose.EstimatePose(tctx, input.(string))
	case models.StageLifting3D:
		tctx, cancel := context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
		return o.lifter.Lift(tctx, input.([]gait.Frame2D))
	case models.StageMetrics:
		return gait.Compute(input.([]gait.Frame), rec.FPS, o.engine)
	case models.StageReport:
		loc, err := o.reports.Write(ctx, rec, input.(*models.MetricsSnapshot))
		if err != nil {
			return nil, err
		}
		return reportOutput{Location: loc}, nil
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

func (o *Orchestrator) checkpoint(ctx context.Context, id, stage string, output any) error {
	payload, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", stage, err)
	}
	if err := o.store.SaveCheckpoint(ctx, models.Checkpoint{
		AnalysisID: id,
		Stage:      stage,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", stage, err)
	}
	return nil
}

// checkHeartbeat drains a supervised-task failure if one is pending. A dead
// heartbeat past its restart budget fails the run: a record with no liveness
// signal must never be left silently in processing.
func (o *Orchestrator) checkHeartbeat(hbErr <-chan error) error {
	select {
	case err := <-hbErr:
		if err != nil {
			return err
		}
		return errors.New("heartbeat monitor exited early")
	default:
		return nil
	}
}

// finish runs the completion commit and evicts the record from the working
// cache. A commit timeout leaves the record stalled for the sweep; the run
// itself surfaces the error but the metrics are already checkpointed.
func (o *Orchestrator) finish(ctx context.Context, id string, metrics *models.MetricsSnapshot) error {
	defer o.sync.Forget(id)
	if err := o.committer.Commit(ctx, id, metrics); err != nil {
		var timeout *CompletionTimeoutError
		if errors.As(err, &timeout) {
			log.Printf("pipeline: run=%s completion commit exhausted, leaving for sweep: %v", id, err)
		}
		return err
	}
	return nil
}

// failRun transitions the record to failed with the error recorded. A failed
// heartbeat-monitor record write here is logged, not retried: the sweep will
// eventually surface the stall.
func (o *Orchestrator) failRun(ctx context.Context, id string, cause error) error {
	msg := cause.Error()
	if _, err := o.sync.Mutate(ctx, id, func(r *models.AnalysisRecord) error {
		r.Status = models.StatusFailed
		r.Error = &msg
		r.ProgressMessage = "analysis failed"
		return nil
	}); err != nil {
		log.Printf("pipeline: run=%s could not record failure: %v", id, err)
	}
	telemetry.RunsFailed.Inc()
	o.sync.Forget(id)
	return cause
}

// metricsForCommit recovers the snapshot for a resumed run whose work
// finished before the crash.
func (o *Orchestrator) metricsForCommit(ctx context.Context, rec models.AnalysisRecord) (*models.MetricsSnapshot, error) {
	if rec.Metrics != nil {
		return rec.Metrics, nil
	}
	cp, found, err := o.store.GetCheckpoint(ctx, rec.ID, models.StageMetrics)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("run %s: metrics checkpoint missing", rec.ID)
	}
	var m models.MetricsSnapshot
	if err := json.Unmarshal(cp.Payload, &m); err != nil {
		return nil, fmt.Errorf("decode metrics checkpoint: %w", err)
	}
	return &m, nil
}

// reportOutput is the checkpoint payload of the report stage.
type reportOutput struct {
	Location string `json:"location"`
}

// decodeStageOutput turns a completed stage's checkpoint payload back into
// the input of the following stage.
func decodeStageOutput(stage string, payload []byte) (any, error) {
	switch stage {
	case models.StagePoseEstimation:
		var frames []gait.Frame2D
		if err := json.Unmarshal(payload, &frames); err != nil {
			return nil, err
		}
		return frames, nil
	case models.StageLifting3D:
		var frames []gait.Frame
		if err := json.Unmarshal(payload, &frames); err != nil {
			return nil, err
		}
		return frames, nil
	case models.StageMetrics:
		var m models.MetricsSnapshot
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, err
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("no resumable output for stage %q", stage)
	}
}
