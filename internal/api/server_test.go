package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gait-pipeline/internal/config"
	"gait-pipeline/internal/models"
	"gait-pipeline/internal/pipeline"
	"gait-pipeline/internal/store"
)

type recordingQueue struct {
	ids []string
	err error
}

func (q *recordingQueue) Enqueue(_ context.Context, id string) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func newTestServer(t *testing.T) (*Server, *store.Memory, *recordingQueue) {
	t.Helper()
	mem := store.NewMemory()
	q := &recordingQueue{}
	sweeper := pipeline.NewSweeper(mem, pipeline.SweepConfig{Staleness: 50 * time.Millisecond, Limit: 10})
	cfg := config.Config{DefaultVideoFPS: 30}
	return New(cfg, mem, q, nil, sweeper), mem, q
}

func TestSubmitAcceptsAndDispatches(t *testing.T) {
	srv, mem, q := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"video_ref":   "s3://clips/walk.mp4",
		"patient_ref": "patient-7",
	})
	req := httptest.NewRequest(http.MethodPost, "/analyses", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rr.Code, rr.Body.String())
	}
	var resp submitResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != models.StatusQueued {
		t.Fatalf("status = %s, want queued", resp.Status)
	}
	if len(q.ids) != 1 || q.ids[0] != resp.ID {
		t.Fatalf("dispatched = %v, want [%s]", q.ids, resp.ID)
	}

	rec, err := mem.GetRecord(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("record not created: %v", err)
	}
	if rec.FPS != 30 {
		t.Fatalf("fps default not applied: %v", rec.FPS)
	}
	if rec.PatientRef == nil || *rec.PatientRef != "patient-7" {
		t.Fatalf("patient ref: %v", rec.PatientRef)
	}
}

func TestSubmitRejectsMissingVideoRef(t *testing.T) {
	srv, _, q := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/analyses", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if len(q.ids) != 0 {
		t.Fatalf("nothing should be dispatched, got %v", q.ids)
	}
}

func TestStatusReportsProgressAndMetrics(t *testing.T) {
	srv, mem, _ := newTestServer(t)
	ctx := context.Background()

	rec, err := mem.CreateRecord(ctx, store.CreateRecordParams{ID: "run-api", VideoRef: "v", FPS: 30})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec.Status = models.StatusProcessing
	rec.CurrentStage = models.StageMetrics
	rec.StageProgress = 70
	if _, err := mem.UpdateRecord(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/analyses/run-api", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got models.AnalysisRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CurrentStage != models.StageMetrics || got.StageProgress != 70 {
		t.Fatalf("stage/progress: %+v", got)
	}
}

func TestStatusUnknownIDReturns404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/analyses/nope", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestReconcileEndpointConvergesStalledRun(t *testing.T) {
	srv, mem, _ := newTestServer(t)
	ctx := context.Background()

	rec, err := mem.CreateRecord(ctx, store.CreateRecordParams{ID: "run-stall", VideoRef: "v", FPS: 30})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec.Status = models.StatusProcessing
	rec.StageProgress = 100
	rec.Metrics = &models.MetricsSnapshot{}
	if _, err := mem.UpdateRecord(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/analyses/run-stall/reconcile", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	var resp map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp["converged"] {
		t.Fatal("expected convergence")
	}
	got, _ := mem.GetRecord(ctx, "run-stall")
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestBatchReconcileCountsConversions(t *testing.T) {
	srv, mem, _ := newTestServer(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		rec, err := mem.CreateRecord(ctx, store.CreateRecordParams{ID: id, VideoRef: "v", FPS: 30})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		rec.Status = models.StatusProcessing
		rec.StageProgress = 100
		rec.Metrics = &models.MetricsSnapshot{}
		if _, err := mem.UpdateRecord(ctx, rec); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/reconcile", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["converged"] != 2 {
		t.Fatalf("converged = %d, want 2", resp["converged"])
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}
