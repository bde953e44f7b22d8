package gait

import "fmt"

// DegenerateKeypointsError reports input whose 3D structure is fake or
// collapsed, e.g. a lifter that emitted a constant sentinel depth. The engine
// refuses to compute rather than producing zeroed metrics.
type DegenerateKeypointsError struct {
	Reason string
}

func (e *DegenerateKeypointsError) Error() string {
	return fmt.Sprintf("degenerate keypoints: %s", e.Reason)
}

// InsufficientDataError reports a sequence too short or too sparse in detected
// gait events to support the requested computation.
type InsufficientDataError struct {
	Reason string
	Got    int
	Want   int
}

func (e *InsufficientDataError) Error() string {
	if e.Want > 0 {
		return fmt.Sprintf("insufficient data: %s (got %d, want at least %d)", e.Reason, e.Got, e.Want)
	}
	return fmt.Sprintf("insufficient data: %s", e.Reason)
}
