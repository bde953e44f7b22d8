package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"gait-pipeline/internal/models"
)

// Postgres implements RecordStore on pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ RecordStore = (*Postgres)(nil)

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Postgres) CreateRecord(ctx context.Context, p CreateRecordParams) (models.AnalysisRecord, error) {
	now := time.Now().UTC()
	rec := models.AnalysisRecord{
		ID:              p.ID,
		Status:          models.StatusQueued,
		CurrentStage:    models.StageNone,
		StageProgress:   0,
		ProgressMessage: "queued",
		HeartbeatLast:   now,
		SequenceNumber:  1,
		VideoRef:        p.VideoRef,
		PatientRef:      emptyToNil(p.PatientRef),
		FPS:             p.FPS,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analyses (id, status, current_stage, stage_progress, progress_message,
			metrics, error, heartbeat_last_seen, sequence_number, video_ref, patient_ref, fps,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULL, NULL, $6, $7, $8, $9, $10, $11, $11)
	`, rec.ID, rec.Status, rec.CurrentStage, rec.StageProgress, rec.ProgressMessage,
		rec.HeartbeatLast, rec.SequenceNumber, rec.VideoRef, rec.PatientRef, rec.FPS, now)
	if err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("insert analysis: %w", err)
	}
	return rec, nil
}

const recordColumns = `id, status, current_stage, stage_progress, progress_message,
	metrics, error, heartbeat_last_seen, sequence_number, video_ref, patient_ref, fps,
	created_at, updated_at`

func (s *Postgres) GetRecord(ctx context.Context, id string) (models.AnalysisRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM analyses WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AnalysisRecord{}, ErrNotFound
	}
	if err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("get analysis: %w", err)
	}
	return rec, nil
}

// UpdateRecord performs the compare-and-swap write. The heartbeat, progress
// and terminal-commit paths all funnel through here.
func (s *Postgres) UpdateRecord(ctx context.Context, rec models.AnalysisRecord) (models.AnalysisRecord, error) {
	var metricsJSON []byte
	if rec.Metrics != nil {
		b, err := json.Marshal(rec.Metrics)
		if err != nil {
			return models.AnalysisRecord{}, fmt.Errorf("marshal metrics: %w", err)
		}
		metricsJSON = b
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE analyses
		SET status = $2, current_stage = $3, stage_progress = $4, progress_message = $5,
			metrics = $6, error = $7, heartbeat_last_seen = $8,
			sequence_number = sequence_number + 1, updated_at = now()
		WHERE id = $1 AND sequence_number = $9
		RETURNING sequence_number, updated_at
	`, rec.ID, rec.Status, rec.CurrentStage, rec.StageProgress, rec.ProgressMessage,
		metricsJSON, rec.Error, rec.HeartbeatLast, rec.SequenceNumber)

	err := row.Scan(&rec.SequenceNumber, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM analyses WHERE id = $1)`, rec.ID).Scan(&exists); err != nil {
			return models.AnalysisRecord{}, fmt.Errorf("check analysis exists: %w", err)
		}
		if !exists {
			return models.AnalysisRecord{}, ErrNotFound
		}
		return models.AnalysisRecord{}, ErrWriteConflict
	}
	if err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("update analysis: %w", err)
	}
	return rec, nil
}

func (s *Postgres) StalledCandidates(ctx context.Context, staleness time.Duration, limit int) ([]models.AnalysisRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM analyses
		WHERE status = $1 AND (stage_progress >= 100 OR heartbeat_last_seen < now() - $2::interval)
		ORDER BY updated_at
		LIMIT $3
	`, models.StatusProcessing, staleness.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query stalled candidates: %w", err)
	}
	defer rows.Close()

	var out []models.AnalysisRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stalled candidate: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (analysis_id, stage, stage_index, payload, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (analysis_id, stage) DO UPDATE SET payload = EXCLUDED.payload, created_at = now()
	`, cp.AnalysisID, cp.Stage, models.StageIndex(cp.Stage), cp.Payload)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *Postgres) GetCheckpoint(ctx context.Context, id, stage string) (models.Checkpoint, bool, error) {
	cp := models.Checkpoint{AnalysisID: id, Stage: stage}
	err := s.pool.QueryRow(ctx, `
		SELECT payload, created_at FROM checkpoints WHERE analysis_id = $1 AND stage = $2
	`, id, stage).Scan(&cp.Payload, &cp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Checkpoint{}, false, nil
	}
	if err != nil {
		return models.Checkpoint{}, false, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp, true, nil
}

func (s *Postgres) LatestCheckpoint(ctx context.Context, id string) (models.Checkpoint, bool, error) {
	cp := models.Checkpoint{AnalysisID: id}
	err := s.pool.QueryRow(ctx, `
		SELECT stage, payload, created_at FROM checkpoints
		WHERE analysis_id = $1 ORDER BY stage_index DESC LIMIT 1
	`, id).Scan(&cp.Stage, &cp.Payload, &cp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Checkpoint{}, false, nil
	}
	if err != nil {
		return models.Checkpoint{}, false, fmt.Errorf("latest checkpoint: %w", err)
	}
	return cp, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.AnalysisRecord, error) {
	var rec models.AnalysisRecord
	var metricsJSON []byte
	var errText, patient pgtype.Text

	if err := row.Scan(&rec.ID, &rec.Status, &rec.CurrentStage, &rec.StageProgress,
		&rec.ProgressMessage, &metricsJSON, &errText, &rec.HeartbeatLast,
		&rec.SequenceNumber, &rec.VideoRef, &patient, &rec.FPS,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return models.AnalysisRecord{}, err
	}
	if len(metricsJSON) > 0 {
		var m models.MetricsSnapshot
		if err := json.Unmarshal(metricsJSON, &m); err != nil {
			return models.AnalysisRecord{}, fmt.Errorf("unmarshal metrics: %w", err)
		}
		rec.Metrics = &m
	}
	rec.Error = textPtr(errText)
	rec.PatientRef = textPtr(patient)
	return rec, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
