package gait

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"gait-pipeline/internal/models"
)

// syntheticWalk builds an idealized walking sequence: the hip center advances
// at a constant speed while each foot alternates a 60% stance / 40% swing
// cycle, feet half a cycle out of phase.
func syntheticWalk(cycles int, fps, speed, cycleTime float64) []Frame {
	duration := float64(cycles) * cycleTime
	n := int(duration*fps) + 1
	strideLen := speed * cycleTime
	const swingHeight = 0.12

	foot := func(t, offset float64) (x, z float64) {
		u := t/cycleTime + offset
		k := math.Floor(u)
		p := u - k
		plant := (k - offset) * strideLen
		if p < 0.6 {
			return plant, 0
		}
		q := (p - 0.6) / 0.4
		return plant + q*strideLen, swingHeight * math.Sin(math.Pi*q)
	}

	frames := make([]Frame, n)
	for i := 0; i < n; i++ {
		t := float64(i) / fps
		hipX := speed * t
		joints := make([]Point3, minJoints)
		for j := range joints {
			joints[j] = Point3{X: hipX, Y: 0, Z: 1.4}
		}
		joints[JointLeftHip] = Point3{X: hipX, Y: 0.1, Z: 0.9}
		joints[JointRightHip] = Point3{X: hipX, Y: -0.1, Z: 0.9}

		lx, lz := foot(t, 0)
		rx, rz := foot(t, 0.5)
		joints[JointLeftAnkle] = Point3{X: lx, Y: 0.1, Z: lz}
		joints[JointRightAnkle] = Point3{X: rx, Y: -0.1, Z: rz}
		joints[JointLeftKnee] = Point3{X: (hipX + lx) / 2, Y: 0.1, Z: (0.9 + lz) / 2}
		joints[JointRightKnee] = Point3{X: (hipX + rx) / 2, Y: -0.1, Z: (0.9 + rz) / 2}
		frames[i] = Frame{Joints: joints}
	}
	return frames
}

func TestComputeNormalWalk(t *testing.T) {
	// ~1.2 m/s, cycle 1.09s => cadence about 110 steps/min.
	frames := syntheticWalk(10, 30, 1.2, 1.09)

	m, err := Compute(frames, 30, DefaultOptions())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if m.Spatiotemporal.CadenceStepsPerMin < 105 || m.Spatiotemporal.CadenceStepsPerMin > 115 {
		t.Fatalf("cadence out of expected band: %.1f", m.Spatiotemporal.CadenceStepsPerMin)
	}
	if math.Abs(m.Spatiotemporal.WalkingSpeedMPS-1.2) > 0.05 {
		t.Fatalf("walking speed: %.3f", m.Spatiotemporal.WalkingSpeedMPS)
	}
	if m.Spatiotemporal.StepLengthM < 0.5 || m.Spatiotemporal.StepLengthM > 0.8 {
		t.Fatalf("step length: %.3f", m.Spatiotemporal.StepLengthM)
	}
	if m.Spatiotemporal.StrideLengthM < 1.1 || m.Spatiotemporal.StrideLengthM > 1.5 {
		t.Fatalf("stride length: %.3f", m.Spatiotemporal.StrideLengthM)
	}
	if m.Symmetry.StepTimeSymmetry < 0.9 || m.Symmetry.StepLengthSymmetry < 0.9 {
		t.Fatalf("symmetry too low: %+v", m.Symmetry)
	}
	if m.FallRisk.Level != models.RiskLow {
		t.Fatalf("expected low fall risk, got %s (score %.1f, factors %v)",
			m.FallRisk.Level, m.FallRisk.Score, m.FallRisk.TriggeredFactors)
	}
	if m.Mobility.Total < 70 {
		t.Fatalf("mobility composite too low: %+v", m.Mobility)
	}
	// A healthy 60/40 stance-swing split leaves double support near 0.25.
	// Drifting past the 0.30 risk threshold means the contact segmentation
	// is absorbing swing edges into stance.
	if m.Temporal.DoubleSupportFraction <= 0 || m.Temporal.DoubleSupportFraction >= 0.30 {
		t.Fatalf("double support fraction: %.3f", m.Temporal.DoubleSupportFraction)
	}
	if len(m.FallRisk.TriggeredFactors) != 0 {
		t.Fatalf("normal walk triggered risk factors: %v", m.FallRisk.TriggeredFactors)
	}
}

func TestComputeDeterministic(t *testing.T) {
	frames := syntheticWalk(10, 30, 1.2, 1.09)

	a, err := Compute(frames, 30, DefaultOptions())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	b, err := Compute(frames, 30, DefaultOptions())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	if !bytes.Equal(aj, bj) {
		t.Fatalf("snapshots differ across invocations:\n%s\n%s", aj, bj)
	}
}

func TestComputeDegenerateDepth(t *testing.T) {
	frames := syntheticWalk(10, 30, 1.2, 1.09)
	for i := range frames {
		for j := range frames[i].Joints {
			frames[i].Joints[j].X = 0 // sentinel depth from a broken lifter
		}
	}

	_, err := Compute(frames, 30, DefaultOptions())
	var degenerate *DegenerateKeypointsError
	if !errors.As(err, &degenerate) {
		t.Fatalf("expected DegenerateKeypointsError, got %v", err)
	}
}

func TestComputeFlatVertical(t *testing.T) {
	frames := syntheticWalk(10, 30, 1.2, 1.09)
	for i := range frames {
		for j := range frames[i].Joints {
			frames[i].Joints[j].Z = 0
		}
	}

	_, err := Compute(frames, 30, DefaultOptions())
	var degenerate *DegenerateKeypointsError
	if !errors.As(err, &degenerate) {
		t.Fatalf("expected DegenerateKeypointsError, got %v", err)
	}
}

func TestComputeTooFewFrames(t *testing.T) {
	frames := syntheticWalk(10, 30, 1.2, 1.09)[:30]

	_, err := Compute(frames, 30, DefaultOptions())
	var insufficient *InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
}

func TestComputeTooFewSteps(t *testing.T) {
	// Standing still with slight vertical sway: frames enough, steps absent.
	frames := syntheticWalk(10, 30, 1.2, 1.09)
	for i := range frames {
		for j := range frames[i].Joints {
			frames[i].Joints[j].X = float64(i) * 1e-6 // keep depth non-constant
		}
		frames[i].Joints[JointLeftAnkle].Z = 0.01 * math.Sin(float64(i)/40)
		frames[i].Joints[JointRightAnkle].Z = 0.01 * math.Sin(float64(i)/40)
	}

	_, err := Compute(frames, 30, DefaultOptions())
	var insufficient *InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
}
