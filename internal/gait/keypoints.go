package gait

import "math"

// Point3 is a joint position in meters. X is the direction of travel (depth
// from a front-facing camera), Y is lateral, Z is vertical.
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Frame holds one video frame's joint positions, indexed by COCO keypoint id.
type Frame struct {
	Joints []Point3 `json:"joints"`
}

// COCO-17 joint indices used by the engine.
const (
	JointNose       = 0
	JointLeftHip    = 11
	JointRightHip   = 12
	JointLeftKnee   = 13
	JointRightKnee  = 14
	JointLeftAnkle  = 15
	JointRightAnkle = 16

	minJoints = 17
)

// Frame2D is the pose-extraction provider's per-frame output, lifted to 3D by
// the lifting provider before the engine sees it.
type Frame2D struct {
	Joints []Point2 `json:"joints"`
}

// Point2 is an image-space keypoint with detection confidence.
type Point2 struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

func hipCenter(f Frame) Point3 {
	l, r := f.Joints[JointLeftHip], f.Joints[JointRightHip]
	return Point3{X: (l.X + r.X) / 2, Y: (l.Y + r.Y) / 2, Z: (l.Z + r.Z) / 2}
}

func horizontalDist(a, b Point3) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	return math.Sqrt(dx*dx + dy*dy)
}

func dist3(a, b Point3) float64 {
	dx, dy, dz := b.X-a.X, b.Y-a.Y, b.Z-a.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// legLength estimates hip-to-ankle length averaged over both sides and all
// frames, used to normalize stride length for risk scoring.
func legLength(frames []Frame) float64 {
	var sum float64
	for _, f := range frames {
		sum += dist3(f.Joints[JointLeftHip], f.Joints[JointLeftAnkle])
		sum += dist3(f.Joints[JointRightHip], f.Joints[JointRightAnkle])
	}
	return sum / float64(2*len(frames))
}
