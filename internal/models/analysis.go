package models

import (
	"time"
)

// AnalysisStatus values persisted in the durable store.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Pipeline stages in execution order. StageNone is the value before the first
// stage starts and after terminal states.
const (
	StageNone           = "none"
	StagePoseEstimation = "pose_estimation"
	StageLifting3D      = "lifting_3d"
	StageMetrics        = "metrics_calculation"
	StageReport         = "report_generation"
)

// StageOrder is the fixed forward-only sequence the orchestrator drives.
var StageOrder = []string{StagePoseEstimation, StageLifting3D, StageMetrics, StageReport}

// AnalysisRecord is the durable row tracking one analysis run. SequenceNumber
// is the authoritative ordering key: every accepted write increments it, and a
// writer proposing an update against a stale sequence number loses the
// conflict.
type AnalysisRecord struct {
	ID              string           `json:"id"`
	Status          string           `json:"status"`
	CurrentStage    string           `json:"current_stage"`
	StageProgress   int              `json:"stage_progress"`
	ProgressMessage string           `json:"progress_message"`
	Metrics         *MetricsSnapshot `json:"metrics,omitempty"`
	Error           *string          `json:"error,omitempty"`
	HeartbeatLast   time.Time        `json:"heartbeat_last_seen"`
	SequenceNumber  int64            `json:"sequence_number"`
	VideoRef        string           `json:"video_ref"`
	PatientRef      *string          `json:"patient_ref,omitempty"`
	FPS             float64          `json:"fps"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Stalled reports the derived condition: the run claims to be processing but
// either finished all work without a terminal commit, or its heartbeat went
// quiet for longer than the staleness window. Never persisted.
func (r AnalysisRecord) Stalled(now time.Time, staleness time.Duration) bool {
	if r.Status != StatusProcessing {
		return false
	}
	if r.StageProgress >= 100 {
		return true
	}
	return now.Sub(r.HeartbeatLast) > staleness
}

// Checkpoint is the minimal reproducible output of one completed stage,
// persisted for crash recovery. A checkpoint locates where to restart; it is
// never a substitute for running the in-flight stage.
type Checkpoint struct {
	AnalysisID string    `json:"analysis_id"`
	Stage      string    `json:"stage"`
	Payload    []byte    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
}

// StageIndex returns the position of stage in StageOrder, or -1.
func StageIndex(stage string) int {
	for i, s := range StageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}
