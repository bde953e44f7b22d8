// Package recordsync presents a consistent working copy of analysis records
// to concurrent in-process writers and to a periodic reload of the durable
// store. All mutations go through a compare-and-swap on the record's
// sequence number; the reloader never replaces a cached copy with a durable
// snapshot carrying a lower sequence number.
package recordsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gait-pipeline/internal/models"
	"gait-pipeline/internal/store"
)

// defaultConflictRetries bounds how many fresh-read retries a single Mutate
// performs before giving up with ErrWriteConflict.
const defaultConflictRetries = 8

// Synchronizer caches the most recently accepted write per record and
// funnels every mutation through the store's conditional update.
type Synchronizer struct {
	store   store.RecordStore
	retries int

	mu    sync.RWMutex
	cache map[string]models.AnalysisRecord
}

func New(st store.RecordStore) *Synchronizer {
	return &Synchronizer{
		store:   st,
		retries: defaultConflictRetries,
		cache:   make(map[string]models.AnalysisRecord),
	}
}

// Get returns the freshest known copy: the cached most-recent accepted write
// if present, otherwise a point read from the durable store.
func (s *Synchronizer) Get(ctx context.Context, id string) (models.AnalysisRecord, error) {
	s.mu.RLock()
	rec, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return rec, nil
	}

	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return models.AnalysisRecord{}, err
	}
	s.admit(rec)
	return rec, nil
}

// Mutate applies fn to a fresh working copy and writes it back conditioned on
// the observed sequence number. On a conflict it rereads and retries, bounded
// by the retry budget. The accepted write becomes the cached copy.
func (s *Synchronizer) Mutate(ctx context.Context, id string, fn func(*models.AnalysisRecord) error) (models.AnalysisRecord, error) {
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return models.AnalysisRecord{}, err
		}

		work := rec
		if err := fn(&work); err != nil {
			return models.AnalysisRecord{}, err
		}
		work.ID = rec.ID
		work.SequenceNumber = rec.SequenceNumber

		updated, err := s.store.UpdateRecord(ctx, work)
		if err == nil {
			s.admit(updated)
			return updated, nil
		}
		if !errors.Is(err, store.ErrWriteConflict) {
			return models.AnalysisRecord{}, err
		}
		lastErr = err
		s.refresh(ctx, id)
	}
	return models.AnalysisRecord{}, fmt.Errorf("mutate %s: retries exhausted: %w", id, lastErr)
}

// Touch advances heartbeat_last_seen. The only writer of that field.
func (s *Synchronizer) Touch(ctx context.Context, id string) error {
	_, err := s.Mutate(ctx, id, func(rec *models.AnalysisRecord) error {
		rec.HeartbeatLast = time.Now().UTC()
		return nil
	})
	return err
}

// Forget evicts a record from the cache (terminal runs).
func (s *Synchronizer) Forget(id string) {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
}

// Reload refreshes every cached record from the durable store. A snapshot
// whose sequence number does not exceed the cached one is discarded: a slow
// reload must never clobber a fresher in-memory write.
func (s *Synchronizer) Reload(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.cache))
	for id := range s.cache {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.refresh(ctx, id)
	}
}

// RunReloader periodically reloads until ctx is cancelled.
func (s *Synchronizer) RunReloader(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reload(ctx)
		}
	}
}

// refresh pulls the durable snapshot and admits it if newer.
func (s *Synchronizer) refresh(ctx context.Context, id string) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Forget(id)
			return
		}
		log.Printf("recordsync: reload %s: %v", id, err)
		return
	}
	s.admit(rec)
}

// admit installs rec into the cache unless a copy with an equal or higher
// sequence number is already present.
func (s *Synchronizer) admit(rec models.AnalysisRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.cache[rec.ID]; ok && cur.SequenceNumber >= rec.SequenceNumber {
		return
	}
	s.cache[rec.ID] = rec
}
