package models

// MetricsSnapshot is the immutable result of the metrics_calculation stage.
// Created once per record and attached verbatim to the completed write.
type MetricsSnapshot struct {
	Spatiotemporal SpatiotemporalBlock `json:"spatiotemporal"`
	Temporal       TemporalBlock       `json:"temporal"`
	Symmetry       SymmetryBlock       `json:"symmetry"`
	Variability    VariabilityBlock    `json:"variability"`
	FallRisk       FallRiskAssessment  `json:"fall_risk"`
	Mobility       MobilityScore       `json:"functional_mobility"`
}

// SpatiotemporalBlock holds distance/rate parameters. Lengths are meters,
// speed is m/s, cadence is steps per minute.
type SpatiotemporalBlock struct {
	CadenceStepsPerMin float64 `json:"cadence_steps_per_min"`
	StepLengthM        float64 `json:"step_length_m"`
	StrideLengthM      float64 `json:"stride_length_m"`
	WalkingSpeedMPS    float64 `json:"walking_speed_m_per_s"`
}

// TemporalBlock holds gait-cycle phase durations in seconds plus the
// double-support share of the cycle.
type TemporalBlock struct {
	StanceTimeS           float64 `json:"stance_time_s"`
	SwingTimeS            float64 `json:"swing_time_s"`
	DoubleSupportTimeS    float64 `json:"double_support_time_s"`
	DoubleSupportFraction float64 `json:"double_support_fraction"`
}

// SymmetryBlock expresses left/right ratios on 0-1 where 1.0 is perfect
// symmetry.
type SymmetryBlock struct {
	StepTimeSymmetry   float64 `json:"step_time_symmetry"`
	StepLengthSymmetry float64 `json:"step_length_symmetry"`
}

// VariabilityBlock holds coefficients of variation (stddev/mean*100).
type VariabilityBlock struct {
	StepWidthCV   float64 `json:"step_width_cv"`
	StrideSpeedCV float64 `json:"stride_speed_cv"`
	StepLengthCV  float64 `json:"step_length_cv"`
	StepTimeCV    float64 `json:"step_time_cv"`
}

// FallRiskAssessment is a weighted sum over triggered risk factors plus a
// banded categorical level.
type FallRiskAssessment struct {
	Score            float64  `json:"score"`
	Level            string   `json:"level"`
	TriggeredFactors []string `json:"triggered_factors"`
}

// Fall risk levels.
const (
	RiskLow         = "low"
	RiskLowModerate = "low-moderate"
	RiskModerate    = "moderate"
	RiskHigh        = "high"
)

// MobilityScore is the 100-point functional mobility composite.
type MobilityScore struct {
	Total           float64 `json:"total"`
	Level           string  `json:"level"`
	GaitSpeedScore  float64 `json:"gait_speed_score"`
	CadenceScore    float64 `json:"cadence_score"`
	StepLengthScore float64 `json:"step_length_score"`
	StabilityScore  float64 `json:"stability_score"`
}

// Mobility levels.
const (
	MobilityExcellent = "excellent"
	MobilityGood      = "good"
	MobilityFair      = "fair"
	MobilityPoor      = "poor"
)
