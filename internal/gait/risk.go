package gait

import "gait-pipeline/internal/models"

// RiskThresholds configures the weighted fall-risk composite. Each factor
// contributes its points only when the measurement crosses its threshold.
// Defaults follow the commonly cited CV bands (stride-speed CV >10% high,
// step-width CV >15% high) but remain configuration.
type RiskThresholds struct {
	MinWalkingSpeedMPS  float64
	WalkingSpeedPoints  float64
	MaxStepWidthCV      float64
	StepWidthPoints     float64
	MaxStrideSpeedCV    float64
	StrideSpeedPoints   float64
	MaxStepLengthCV     float64
	StepLengthPoints    float64
	MaxStepTimeCV       float64
	StepTimePoints      float64
	MaxDoubleSupport    float64
	DoubleSupportPoints float64
	MinSymmetry         float64
	SymmetryPoints      float64
	MinNormalizedStride float64
	NormStridePoints    float64

	// Score band lower bounds for the categorical level.
	LowModerateScore float64
	ModerateScore    float64
	HighScore        float64
}

// DefaultRiskThresholds returns the default factor table and score bands.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{
		MinWalkingSpeedMPS:  1.0,
		WalkingSpeedPoints:  2,
		MaxStepWidthCV:      15,
		StepWidthPoints:     3,
		MaxStrideSpeedCV:    10,
		StrideSpeedPoints:   3,
		MaxStepLengthCV:     10,
		StepLengthPoints:    2,
		MaxStepTimeCV:       8,
		StepTimePoints:      2,
		MaxDoubleSupport:    0.30,
		DoubleSupportPoints: 2,
		MinSymmetry:         0.85,
		SymmetryPoints:      2,
		MinNormalizedStride: 1.2,
		NormStridePoints:    1,
		LowModerateScore:    2,
		ModerateScore:       4,
		HighScore:           6,
	}
}

// Fall-risk factor names reported in TriggeredFactors.
const (
	FactorWalkingSpeed     = "walking_speed"
	FactorStepWidthCV      = "step_width_variability"
	FactorStrideSpeedCV    = "stride_speed_variability"
	FactorStepLengthCV     = "step_length_variability"
	FactorStepTimeCV       = "step_time_variability"
	FactorDoubleSupport    = "double_support"
	FactorSymmetry         = "symmetry"
	FactorNormalizedStride = "stride_length"
)

func assessFallRisk(
	st models.SpatiotemporalBlock,
	tmp models.TemporalBlock,
	sym models.SymmetryBlock,
	vr models.VariabilityBlock,
	normStride float64,
	th RiskThresholds,
) models.FallRiskAssessment {
	var score float64
	triggered := []string{}

	add := func(hit bool, points float64, name string) {
		if hit {
			score += points
			triggered = append(triggered, name)
		}
	}

	add(st.WalkingSpeedMPS < th.MinWalkingSpeedMPS, th.WalkingSpeedPoints, FactorWalkingSpeed)
	add(vr.StepWidthCV > th.MaxStepWidthCV, th.StepWidthPoints, FactorStepWidthCV)
	add(vr.StrideSpeedCV > th.MaxStrideSpeedCV, th.StrideSpeedPoints, FactorStrideSpeedCV)
	add(vr.StepLengthCV > th.MaxStepLengthCV, th.StepLengthPoints, FactorStepLengthCV)
	add(vr.StepTimeCV > th.MaxStepTimeCV, th.StepTimePoints, FactorStepTimeCV)
	add(tmp.DoubleSupportFraction > th.MaxDoubleSupport, th.DoubleSupportPoints, FactorDoubleSupport)

	worstSym := sym.StepTimeSymmetry
	if sym.StepLengthSymmetry < worstSym {
		worstSym = sym.StepLengthSymmetry
	}
	add(worstSym < th.MinSymmetry, th.SymmetryPoints, FactorSymmetry)
	add(normStride > 0 && normStride < th.MinNormalizedStride, th.NormStridePoints, FactorNormalizedStride)

	level := models.RiskLow
	switch {
	case score >= th.HighScore:
		level = models.RiskHigh
	case score >= th.ModerateScore:
		level = models.RiskModerate
	case score >= th.LowModerateScore:
		level = models.RiskLowModerate
	}

	return models.FallRiskAssessment{Score: score, Level: level, TriggeredFactors: triggered}
}

// scoreMobility builds the 100-point functional mobility composite:
// gait speed 40, cadence 20, step length 20, stability 20.
func scoreMobility(st models.SpatiotemporalBlock, vr models.VariabilityBlock) models.MobilityScore {
	speed := bandScore(st.WalkingSpeedMPS, []band{{1.3, 40}, {1.0, 30}, {0.8, 20}}, 10)

	cadence := 5.0
	switch {
	case st.CadenceStepsPerMin >= 100 && st.CadenceStepsPerMin <= 120:
		cadence = 20
	case st.CadenceStepsPerMin >= 90 && st.CadenceStepsPerMin <= 130:
		cadence = 15
	case st.CadenceStepsPerMin >= 80 && st.CadenceStepsPerMin <= 140:
		cadence = 10
	}

	stepLen := bandScore(st.StepLengthM, []band{{0.6, 20}, {0.5, 15}, {0.4, 10}}, 5)

	avgCV := (vr.StepWidthCV + vr.StrideSpeedCV + vr.StepLengthCV + vr.StepTimeCV) / 4
	stability := 5.0
	switch {
	case avgCV < 5:
		stability = 20
	case avgCV < 10:
		stability = 15
	case avgCV < 15:
		stability = 10
	}

	total := speed + cadence + stepLen + stability
	level := models.MobilityPoor
	switch {
	case total >= 85:
		level = models.MobilityExcellent
	case total >= 70:
		level = models.MobilityGood
	case total >= 55:
		level = models.MobilityFair
	}

	return models.MobilityScore{
		Total:           total,
		Level:           level,
		GaitSpeedScore:  speed,
		CadenceScore:    cadence,
		StepLengthScore: stepLen,
		StabilityScore:  stability,
	}
}

type band struct {
	atLeast float64
	points  float64
}

func bandScore(v float64, bands []band, fallback float64) float64 {
	for _, b := range bands {
		if v >= b.atLeast {
			return b.points
		}
	}
	return fallback
}
