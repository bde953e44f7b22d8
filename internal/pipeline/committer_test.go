package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gait-pipeline/internal/models"
	"gait-pipeline/internal/store"
)

func testCommitConfig() CommitConfig {
	return CommitConfig{
		MaxAttempts: 5,
		Budget:      2 * time.Second,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}
}

func seedProcessing(t *testing.T, st store.RecordStore) models.AnalysisRecord {
	t.Helper()
	ctx := context.Background()
	rec, err := st.CreateRecord(ctx, store.CreateRecordParams{
		ID: "run-1", VideoRef: "clips/walk.mp4", FPS: 30,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec.Status = models.StatusProcessing
	rec.CurrentStage = models.StageReport
	rec.StageProgress = 100
	rec, err = st.UpdateRecord(ctx, rec)
	if err != nil {
		t.Fatalf("seed update: %v", err)
	}
	return rec
}

func TestCommitTerminalWrite(t *testing.T) {
	mem := store.NewMemory()
	rec := seedProcessing(t, mem)
	metrics := &models.MetricsSnapshot{}

	c := NewCommitter(mem, testCommitConfig())
	if err := c.Commit(context.Background(), rec.ID, metrics); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := mem.GetRecord(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusCompleted || got.StageProgress != 100 || got.Metrics == nil {
		t.Fatalf("terminal state not durable: %+v", got)
	}
	if got.Error != nil {
		t.Fatalf("error field should be cleared, got %q", *got.Error)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	mem := store.NewMemory()
	rec := seedProcessing(t, mem)
	c := NewCommitter(mem, testCommitConfig())

	ctx := context.Background()
	if err := c.Commit(ctx, rec.ID, &models.MetricsSnapshot{}); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	after, _ := mem.GetRecord(ctx, rec.ID)
	if err := c.Commit(ctx, rec.ID, &models.MetricsSnapshot{}); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	again, _ := mem.GetRecord(ctx, rec.ID)
	if again.SequenceNumber != after.SequenceNumber {
		t.Fatalf("repeat commit wrote again: seq %d -> %d", after.SequenceNumber, again.SequenceNumber)
	}
}

func TestCommitRetriesThroughConflicts(t *testing.T) {
	mem := store.NewMemory()
	rec := seedProcessing(t, mem)
	cs := &conflictStore{Memory: mem, conflicts: 3}

	c := NewCommitter(cs, testCommitConfig())
	if err := c.Commit(context.Background(), rec.ID, &models.MetricsSnapshot{}); err != nil {
		t.Fatalf("commit through conflicts: %v", err)
	}
	got, _ := mem.GetRecord(context.Background(), rec.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestCommitExhaustionLeavesStalledRecord(t *testing.T) {
	mem := store.NewMemory()
	rec := seedProcessing(t, mem)
	cs := &conflictStore{Memory: mem, conflicts: 100}

	c := NewCommitter(cs, testCommitConfig())
	err := c.Commit(context.Background(), rec.ID, &models.MetricsSnapshot{})

	var timeout *CompletionTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("got %v, want CompletionTimeoutError", err)
	}
	if timeout.Attempts != 5 {
		t.Fatalf("attempts = %d, want 5", timeout.Attempts)
	}
	if !errors.Is(err, store.ErrWriteConflict) {
		t.Fatalf("timeout should wrap the last conflict, got %v", err)
	}

	// The record stays processing at full progress: stalled, sweepable.
	got, _ := mem.GetRecord(context.Background(), rec.ID)
	if got.Status != models.StatusProcessing || got.StageProgress != 100 {
		t.Fatalf("record after exhaustion: %+v", got)
	}
	if !got.Stalled(time.Now().UTC(), time.Hour) {
		t.Fatal("exhausted commit should leave the record stalled")
	}
}

func TestCommitRejectsNilMetrics(t *testing.T) {
	mem := store.NewMemory()
	rec := seedProcessing(t, mem)
	c := NewCommitter(mem, testCommitConfig())
	if err := c.Commit(context.Background(), rec.ID, nil); err == nil {
		t.Fatal("expected error for nil metrics")
	}
}

// conflictStore fails the first N conditional writes with a conflict.
type conflictStore struct {
	*store.Memory
	mu        sync.Mutex
	conflicts int
}

func (s *conflictStore) UpdateRecord(ctx context.Context, rec models.AnalysisRecord) (models.AnalysisRecord, error) {
	s.mu.Lock()
	remaining := s.conflicts
	if remaining > 0 {
		s.conflicts--
	}
	s.mu.Unlock()
	if remaining > 0 {
		return models.AnalysisRecord{}, store.ErrWriteConflict
	}
	return s.Memory.UpdateRecord(ctx, rec)
}
