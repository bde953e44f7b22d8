package gait

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"gait-pipeline/internal/models"
)

// Options configures the engine. Thresholds are defaults pending clinical
// validation, not fixed constants.
type Options struct {
	// MinFrames is the minimum sequence length accepted.
	MinFrames int
	// MinSteps is the minimum number of detected heel strikes (both feet).
	MinSteps int
	// ContactThreshold is the fraction of the ankle height range within which
	// a foot counts as grounded. Must stay tight: a loose cut absorbs the
	// swing edges into stance and overstates double support.
	ContactThreshold float64
	// Risk holds fall-risk factor thresholds, weights and score bands.
	Risk RiskThresholds
}

// DefaultOptions returns the documented default configuration.
func DefaultOptions() Options {
	return Options{
		MinFrames:        60,
		MinSteps:         4,
		ContactThreshold: 0.10,
		Risk:             DefaultRiskThresholds(),
	}
}

// Compute derives the full metrics snapshot from a 3D keypoint sequence.
// Pure and deterministic: identical input yields identical output. Invalid
// input raises a typed error; the engine never substitutes zeroed metrics.
func Compute(frames []Frame, fps float64, opts Options) (*models.MetricsSnapshot, error) {
	if fps <= 0 {
		return nil, &InsufficientDataError{Reason: "non-positive frame rate"}
	}
	if len(frames) < opts.MinFrames {
		return nil, &InsufficientDataError{Reason: "too few frames", Got: len(frames), Want: opts.MinFrames}
	}
	for _, f := range frames {
		if len(f.Joints) < minJoints {
			return nil, &DegenerateKeypointsError{Reason: "frame missing joints"}
		}
	}
	if err := validateDepth(frames); err != nil {
		return nil, err
	}

	n := len(frames)
	duration := float64(n-1) / fps

	leftZ := make([]float64, n)
	rightZ := make([]float64, n)
	for i, f := range frames {
		leftZ[i] = f.Joints[JointLeftAnkle].Z
		rightZ[i] = f.Joints[JointRightAnkle].Z
	}
	left := detectFootEvents(leftZ, opts.ContactThreshold)
	right := detectFootEvents(rightZ, opts.ContactThreshold)

	totalSteps := len(left.Strikes) + len(right.Strikes)
	if totalSteps < opts.MinSteps {
		return nil, &InsufficientDataError{Reason: "too few detected steps", Got: totalSteps, Want: opts.MinSteps}
	}

	merged := mergeStrikes(left.Strikes, right.Strikes)
	samples := collectStepSamples(frames, merged, fps)
	if len(samples.leftStepTimes) == 0 || len(samples.rightStepTimes) == 0 {
		return nil, &InsufficientDataError{Reason: "steps detected on one foot only"}
	}

	strides := collectStrideSamples(frames, left.Strikes, right.Strikes, fps)
	if len(strides.lengths) < 2 {
		return nil, &InsufficientDataError{Reason: "too few complete strides", Got: len(strides.lengths), Want: 2}
	}

	st := models.SpatiotemporalBlock{
		CadenceStepsPerMin: float64(totalSteps) / duration * 60,
		StepLengthM:        mean(append(append([]float64{}, samples.leftStepLengths...), samples.rightStepLengths...)),
		StrideLengthM:      mean(strides.lengths),
		WalkingSpeedMPS:    walkingSpeed(frames, duration),
	}

	tmp := temporalBlock(left, right, strides, fps)

	sym := models.SymmetryBlock{
		StepTimeSymmetry:   symmetryRatio(mean(samples.leftStepTimes), mean(samples.rightStepTimes)),
		StepLengthSymmetry: symmetryRatio(mean(samples.leftStepLengths), mean(samples.rightStepLengths)),
	}

	vr, err := variabilityBlock(samples, strides)
	if err != nil {
		return nil, err
	}

	normStride := 0.0
	if leg := legLength(frames); leg > 0 {
		normStride = st.StrideLengthM / leg
	}

	return &models.MetricsSnapshot{
		Spatiotemporal: st,
		Temporal:       tmp,
		Symmetry:       sym,
		Variability:    vr,
		FallRisk:       assessFallRisk(st, tmp, sym, vr, normStride, opts.Risk),
		Mobility:       scoreMobility(st, vr),
	}, nil
}

// validateDepth rejects sequences whose forward (depth) or vertical axis is
// uniformly constant: both indicate the lifter returned a 2D result padded
// with a sentinel value.
func validateDepth(frames []Frame) error {
	minX, maxX := frames[0].Joints[0].X, frames[0].Joints[0].X
	minZ, maxZ := frames[0].Joints[0].Z, frames[0].Joints[0].Z
	for _, f := range frames {
		for _, j := range f.Joints {
			minX, maxX = math.Min(minX, j.X), math.Max(maxX, j.X)
			minZ, maxZ = math.Min(minZ, j.Z), math.Max(maxZ, j.Z)
		}
	}
	const eps = 1e-9
	if maxX-minX < eps {
		return &DegenerateKeypointsError{Reason: "depth axis uniformly constant"}
	}
	if maxZ-minZ < eps {
		return &DegenerateKeypointsError{Reason: "vertical axis uniformly constant"}
	}
	return nil
}

// walkingSpeed is the hip-center forward displacement over the whole
// sequence divided by its duration.
func walkingSpeed(frames []Frame, duration float64) float64 {
	first := hipCenter(frames[0])
	last := hipCenter(frames[len(frames)-1])
	return math.Abs(last.X-first.X) / duration
}

// stepSamples aggregates per-step observations keyed by the landing foot.
type stepSamples struct {
	leftStepTimes    []float64
	rightStepTimes   []float64
	leftStepLengths  []float64
	rightStepLengths []float64
	stepWidths       []float64
}

func collectStepSamples(frames []Frame, merged []strike, fps float64) stepSamples {
	var s stepSamples
	for i := 1; i < len(merged); i++ {
		prev, cur := merged[i-1], merged[i]
		if prev.Left == cur.Left {
			// Missed an intervening opposite-foot contact; skip the pair
			// rather than fabricate a step.
			continue
		}
		stepTime := float64(cur.Frame-prev.Frame) / fps
		landing := frames[cur.Frame].Joints[ankleIndex(cur.Left)]
		trailing := frames[prev.Frame].Joints[ankleIndex(prev.Left)]
		stepLen := horizontalDist(trailing, landing)
		if cur.Left {
			s.leftStepTimes = append(s.leftStepTimes, stepTime)
			s.leftStepLengths = append(s.leftStepLengths, stepLen)
		} else {
			s.rightStepTimes = append(s.rightStepTimes, stepTime)
			s.rightStepLengths = append(s.rightStepLengths, stepLen)
		}
		la := frames[cur.Frame].Joints[JointLeftAnkle]
		ra := frames[cur.Frame].Joints[JointRightAnkle]
		s.stepWidths = append(s.stepWidths, math.Abs(la.Y-ra.Y))
	}
	return s
}

func ankleIndex(left bool) int {
	if left {
		return JointLeftAnkle
	}
	return JointRightAnkle
}

// strideSamples aggregates per-stride observations pooled across both feet.
type strideSamples struct {
	lengths []float64
	times   []float64
	speeds  []float64
}

func collectStrideSamples(frames []Frame, leftStrikes, rightStrikes []int, fps float64) strideSamples {
	var s strideSamples
	for _, strikes := range [][]int{leftStrikes, rightStrikes} {
		for i := 1; i < len(strikes); i++ {
			t := float64(strikes[i]-strikes[i-1]) / fps
			l := horizontalDist(hipCenter(frames[strikes[i-1]]), hipCenter(frames[strikes[i]]))
			s.times = append(s.times, t)
			s.lengths = append(s.lengths, l)
			if t > 0 {
				s.speeds = append(s.speeds, l/t)
			}
		}
	}
	return s
}

func temporalBlock(left, right footEvents, strides strideSamples, fps float64) models.TemporalBlock {
	var stance, swing []float64
	for _, ev := range []footEvents{left, right} {
		for _, iv := range ev.Intervals {
			// Edge intervals are truncated by the recording window.
			if iv.Start > 0 && iv.End < len(ev.Contact) {
				stance = append(stance, float64(iv.End-iv.Start)/fps)
			}
		}
		for i := 1; i < len(ev.Intervals); i++ {
			gap := ev.Intervals[i].Start - ev.Intervals[i-1].End
			if gap > 0 {
				swing = append(swing, float64(gap)/fps)
			}
		}
	}

	dsFrac := doubleSupportFraction(left.Contact, right.Contact)
	return models.TemporalBlock{
		StanceTimeS:           mean(stance),
		SwingTimeS:            mean(swing),
		DoubleSupportTimeS:    dsFrac * mean(strides.times),
		DoubleSupportFraction: dsFrac,
	}
}

func variabilityBlock(samples stepSamples, strides strideSamples) (models.VariabilityBlock, error) {
	stepTimes := append(append([]float64{}, samples.leftStepTimes...), samples.rightStepTimes...)
	stepLengths := append(append([]float64{}, samples.leftStepLengths...), samples.rightStepLengths...)

	blocks := []struct {
		name string
		vals []float64
	}{
		{"step width", samples.stepWidths},
		{"stride speed", strides.speeds},
		{"step length", stepLengths},
		{"step time", stepTimes},
	}
	out := make([]float64, len(blocks))
	for i, b := range blocks {
		cv, ok := coefficientOfVariation(b.vals)
		if !ok {
			return models.VariabilityBlock{}, &InsufficientDataError{
				Reason: b.name + " variability needs two or more samples with non-zero mean",
				Got:    len(b.vals), Want: 2,
			}
		}
		out[i] = cv
	}
	return models.VariabilityBlock{
		StepWidthCV:   out[0],
		StrideSpeedCV: out[1],
		StepLengthCV:  out[2],
		StepTimeCV:    out[3],
	}, nil
}

// symmetryRatio maps two side averages onto 0-1 where 1.0 is perfect
// left/right symmetry.
func symmetryRatio(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	return math.Min(a, b) / math.Max(a, b)
}

// coefficientOfVariation returns stddev/mean*100. Reported false when fewer
// than two samples exist or the mean is not positive.
func coefficientOfVariation(vals []float64) (float64, bool) {
	if len(vals) < 2 {
		return 0, false
	}
	m := stat.Mean(vals, nil)
	if m <= 0 {
		return 0, false
	}
	return stat.StdDev(vals, nil) / m * 100, true
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}
