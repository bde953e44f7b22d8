package pipeline

import (
	"gait-pipeline/internal/gait"
	"gait-pipeline/internal/models"
)

// The progress state machine: queued -> pose_estimation -> lifting_3d ->
// metrics_calculation -> report_generation -> completed, with failed
// reachable from any non-terminal state. Stages only advance forward; the
// sole exception is restart-from-checkpoint after a crash, which resumes at
// the stage after the last completed one.

// NextStage returns the stage following cur. From StageNone it returns the
// first stage. ok is false past the last stage.
func NextStage(cur string) (next string, ok bool) {
	if cur == models.StageNone {
		return models.StageOrder[0], true
	}
	idx := models.StageIndex(cur)
	if idx < 0 || idx+1 >= len(models.StageOrder) {
		return "", false
	}
	return models.StageOrder[idx+1], true
}

// ValidateStageInput checks that the predecessor output required by stage is
// present and non-empty. An absent input is a typed error, never silently
// replaced by an empty default.
func ValidateStageInput(stage string, input any) error {
	switch stage {
	case models.StagePoseEstimation:
		ref, ok := input.(string)
		if !ok || ref == "" {
			return &StageInputMissingError{Stage: stage, Missing: "video reference"}
		}
	case models.StageLifting3D:
		frames, ok := input.([]gait.Frame2D)
		if !ok || len(frames) == 0 {
			return &StageInputMissingError{Stage: stage, Missing: "2d keypoint sequence"}
		}
	case models.StageMetrics:
		frames, ok := input.([]gait.Frame)
		if !ok || len(frames) == 0 {
			return &StageInputMissingError{Stage: stage, Missing: "3d keypoint sequence"}
		}
	case models.StageReport:
		m, ok := input.(*models.MetricsSnapshot)
		if !ok || m == nil {
			return &StageInputMissingError{Stage: stage, Missing: "metrics snapshot"}
		}
	default:
		return &StageInputMissingError{Stage: stage, Missing: "unknown stage"}
	}
	return nil
}

// Overall progress percent when a stage begins and when it completes.
var (
	stageStartProgress = map[string]int{
		models.StagePoseEstimation: 5,
		models.StageLifting3D:      35,
		models.StageMetrics:        65,
		models.StageReport:         85,
	}
	stageDoneProgress = map[string]int{
		models.StagePoseEstimation: 30,
		models.StageLifting3D:      60,
		models.StageMetrics:        80,
		models.StageReport:         100,
	}
)
