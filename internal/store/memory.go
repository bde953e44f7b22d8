package store

import (
	"context"
	"sync"
	"time"

	"gait-pipeline/internal/models"
)

// Memory is an in-process RecordStore with the same CAS discipline as
// Postgres. Used by tests and single-node development; not durable.
type Memory struct {
	mu          sync.Mutex
	records     map[string]models.AnalysisRecord
	checkpoints map[string]map[string]models.Checkpoint
}

var _ RecordStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		records:     make(map[string]models.AnalysisRecord),
		checkpoints: make(map[string]map[string]models.Checkpoint),
	}
}

func (s *Memory) CreateRecord(_ context.Context, p CreateRecordParams) (models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec := models.AnalysisRecord{
		ID:              p.ID,
		Status:          models.StatusQueued,
		CurrentStage:    models.StageNone,
		ProgressMessage: "queued",
		HeartbeatLast:   now,
		SequenceNumber:  1,
		VideoRef:        p.VideoRef,
		PatientRef:      emptyToNil(p.PatientRef),
		FPS:             p.FPS,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *Memory) GetRecord(_ context.Context, id string) (models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return models.AnalysisRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *Memory) UpdateRecord(_ context.Context, rec models.AnalysisRecord) (models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.ID]
	if !ok {
		return models.AnalysisRecord{}, ErrNotFound
	}
	if cur.SequenceNumber != rec.SequenceNumber {
		return models.AnalysisRecord{}, ErrWriteConflict
	}
	rec.SequenceNumber++
	rec.UpdatedAt = time.Now().UTC()
	rec.CreatedAt = cur.CreatedAt
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *Memory) StalledCandidates(_ context.Context, staleness time.Duration, limit int) ([]models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var out []models.AnalysisRecord
	for _, rec := range s.records {
		if rec.Stalled(now, staleness) {
			out = append(out, rec)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Memory) SaveCheckpoint(_ context.Context, cp models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpoints[cp.AnalysisID] == nil {
		s.checkpoints[cp.AnalysisID] = make(map[string]models.Checkpoint)
	}
	cp.CreatedAt = time.Now().UTC()
	s.checkpoints[cp.AnalysisID][cp.Stage] = cp
	return nil
}

func (s *Memory) GetCheckpoint(_ context.Context, id, stage string) (models.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[id][stage]
	return cp, ok, nil
}

func (s *Memory) LatestCheckpoint(_ context.Context, id string) (models.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := models.Checkpoint{}
	bestIdx := -1
	for stage, cp := range s.checkpoints[id] {
		if idx := models.StageIndex(stage); idx > bestIdx {
			bestIdx = idx
			best = cp
		}
	}
	return best, bestIdx >= 0, nil
}
