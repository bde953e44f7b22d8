package store

import (
	"context"
	"errors"
	"time"

	"gait-pipeline/internal/models"
)

// Sentinel errors shared by all RecordStore implementations.
var (
	// ErrNotFound reports a point read or write against a missing record.
	ErrNotFound = errors.New("analysis record not found")
	// ErrWriteConflict reports a conditional write whose observed sequence
	// number no longer matches the stored one. Writers retry with a fresh
	// read; the conflict is never surfaced to clients.
	ErrWriteConflict = errors.New("sequence number conflict")
)

// CreateRecordParams collects the inputs for a new analysis record.
type CreateRecordParams struct {
	ID         string
	VideoRef   string
	PatientRef string
	FPS        float64
}

// RecordStore is the durable source of truth for analysis records and stage
// checkpoints. Every mutation is a compare-and-swap keyed on the record's
// sequence number; wall-clock time is never used for ordering.
type RecordStore interface {
	// CreateRecord inserts a queued record with sequence number 1.
	CreateRecord(ctx context.Context, p CreateRecordParams) (models.AnalysisRecord, error)

	// GetRecord reads a record by id.
	GetRecord(ctx context.Context, id string) (models.AnalysisRecord, error)

	// UpdateRecord writes rec conditioned on rec.SequenceNumber matching the
	// stored value, then increments it. Returns the stored record on success,
	// ErrWriteConflict when the condition fails, ErrNotFound for unknown ids.
	UpdateRecord(ctx context.Context, rec models.AnalysisRecord) (models.AnalysisRecord, error)

	// StalledCandidates lists records eligible for the reconciliation sweep:
	// processing with full progress, or processing with a heartbeat older
	// than the staleness window.
	StalledCandidates(ctx context.Context, staleness time.Duration, limit int) ([]models.AnalysisRecord, error)

	// SaveCheckpoint upserts the completed-stage payload for (record, stage).
	SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error

	// GetCheckpoint reads the checkpoint for one stage, if present.
	GetCheckpoint(ctx context.Context, id, stage string) (models.Checkpoint, bool, error)

	// LatestCheckpoint returns the checkpoint of the furthest completed
	// stage for the record, if any.
	LatestCheckpoint(ctx context.Context, id string) (models.Checkpoint, bool, error)
}
