// Package gaittest generates synthetic keypoint sequences for tests that
// exercise the pipeline end to end.
package gaittest

import (
	"math"

	"gait-pipeline/internal/gait"
)

// Walk builds an idealized walking sequence: the hip center advances at a
// constant speed while each foot alternates a 60% stance / 40% swing cycle,
// feet half a cycle out of phase.
func Walk(cycles int, fps, speed, cycleTime float64) []gait.Frame {
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

	frames := make([]gait.Frame, n)
	for i := 0; i < n; i++ {
		t := float64(i) / fps
		hipX := speed * t
		joints := make([]gait.Point3, 17)
		for j := range joints {
			joints[j] = gait.Point3{X: hipX, Z: 1.4}
		}
		joints[gait.JointLeftHip] = gait.Point3{X: hipX, Y: 0.1, Z: 0.9}
		joints[gait.JointRightHip] = gait.Point3{X: hipX, Y: -0.1, Z: 0.9}
		lx, lz := foot(t, 0)
		rx, rz := foot(t, 0.5)
		joints[gait.JointLeftAnkle] = gait.Point3{X: lx, Y: 0.1, Z: lz}
		joints[gait.JointRightAnkle] = gait.Point3{X: rx, Y: -0.1, Z: rz}
		joints[gait.JointLeftKnee] = gait.Point3{X: (hipX + lx) / 2, Y: 0.1, Z: (0.9 + lz) / 2}
		joints[gait.JointRightKnee] = gait.Point3{X: (hipX + rx) / 2, Y: -0.1, Z: (0.9 + rz) / 2}
		frames[i] = gait.Frame{Joints: joints}
	}
	return frames
}

// Frames2D builds n empty image-space frames, each with a full joint set.
func Frames2D(n int) []gait.Frame2D {
	frames := make([]gait.Frame2D, n)
	for i := range frames {
		frames[i] = gait.Frame2D{Joints: make([]gait.Point2, 17)}
	}
	return frames
}
