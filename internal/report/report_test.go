package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gait-pipeline/internal/models"
)

func sampleMetrics() *models.MetricsSnapshot {
	return &models.MetricsSnapshot{
		Spatiotemporal: models.SpatiotemporalBlock{
			CadenceStepsPerMin: 110, StepLengthM: 0.65, StrideLengthM: 1.3, WalkingSpeedMPS: 1.2,
		},
		FallRisk: models.FallRiskAssessment{
			Score: 6, Level: models.RiskHigh,
			TriggeredFactors: []string{"step_width_variability", "stride_speed_variability"},
		},
		Mobility: models.MobilityScore{Total: 75, Level: models.MobilityGood},
	}
}

func TestWriterLocalReport(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(&LocalUploader{BaseDir: dir})

	rec := models.AnalysisRecord{ID: "run-1"}
	loc, err := w.Write(context.Background(), rec, sampleMetrics())
	if err != nil {
		t.Fatalf("write report: %v", err)
	}
	if loc != filepath.Join(dir, "reports", "run-1.json") {
		t.Fatalf("unexpected location: %s", loc)
	}

	body, err := os.ReadFile(loc)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if doc.AnalysisID != "run-1" || doc.Metrics == nil {
		t.Fatalf("incomplete document: %+v", doc)
	}
	if len(doc.Summary) < 4 {
		t.Fatalf("summary too short: %v", doc.Summary)
	}
}
