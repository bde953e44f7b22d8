// Package api exposes the submission and status surface of the pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gait-pipeline/internal/config"
	"gait-pipeline/internal/models"
	"gait-pipeline/internal/pipeline"
	"gait-pipeline/internal/ratelimit"
	"gait-pipeline/internal/store"
	"gait-pipeline/internal/telemetry"
)

// Enqueuer hands accepted analyses to the worker fleet.
type Enqueuer interface {
	Enqueue(ctx context.Context, id string) error
}

// Server wires the HTTP handlers for submission, status, and reconciliation.
type Server struct {
	cfg     config.Config
	store   store.RecordStore
	queue   Enqueuer
	limiter *ratelimit.TokenBucket
	sweeper *pipeline.Sweeper
}

func New(cfg config.Config, st store.RecordStore, q Enqueuer, limiter *ratelimit.TokenBucket, sweeper *pipeline.Sweeper) *Server {
	return &Server{cfg: cfg, store: st, queue: q, limiter: limiter, sweeper: sweeper}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/analyses", s.handleSubmit)
	r.Get("/analyses/{id}", s.handleStatus)
	r.Post("/analyses/{id}/reconcile", s.handleReconcileOne)
	r.Post("/reconcile", s.handleReconcileAll)
	return r
}

type submitRequest struct {
	VideoRef   string  `json:"video_ref"`
	PatientRef string  `json:"patient_ref"`
	FPS        float64 `json:"fps"`
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.VideoRef == "" {
		http.Error(w, "video_ref is required", http.StatusBadRequest)
		return
	}
	if req.FPS <= 0 {
		req.FPS = s.cfg.DefaultVideoFPS
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), callerFromRequest(r))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	rec, err := s.store.CreateRecord(r.Context(), store.CreateRecordParams{
		ID:         uuid.NewString(),
		VideoRef:   req.VideoRef,
		PatientRef: req.PatientRef,
		FPS:        req.FPS,
	})
	if err != nil {
		http.Error(w, "create analysis failed", http.StatusInternalServerError)
		return
	}

	if err := s.queue.Enqueue(r.Context(), rec.ID); err != nil {
		msg := "dispatch failed: " + err.Error()
		rec.Status = models.StatusFailed
		rec.Error = &msg
		_, _ = s.store.UpdateRecord(r.Context(), rec)
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	telemetry.SubmitCounter.Inc()

	writeJSON(w, http.StatusAccepted, submitResponse{ID: rec.ID, Status: rec.Status})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "analysis not found", http.StatusNotFound)
			return
		}
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleReconcileOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	converged, err := s.sweeper.SweepRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "analysis not found", http.StatusNotFound)
			return
		}
		http.Error(w, "reconcile failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"converged": converged})
}

func (s *Server) handleReconcileAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		http.Error(w, "reconcile failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"converged": n})
}

func callerFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
