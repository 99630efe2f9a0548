package monitor

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opentox/toxotis/pkg/auth"
	"github.com/opentox/toxotis/pkg/store"
)

// AddRoutes mounts the training API on r.
func (s *Service) AddRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/algorithms", s.handleListAlgorithms)
		r.Post("/trainings", s.handleSubmit)
		r.Get("/trainings", s.handleListJobs)
		r.Route("/trainings/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Get("/events", s.handleGetEvents)
		})
	})
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	token, err := auth.ExtractToken(r)
	if err != nil && !errors.Is(err, auth.ErrMissingToken) {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var payload TrainingRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if payload.Algorithm == "" || payload.Dataset == "" {
		respondError(w, http.StatusBadRequest, "algorithm and dataset are required")
		return
	}

	job, err := s.Submit(r.Context(), payload, token)
	if errors.Is(err, ErrInvalidRequest) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, ErrClosed) {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("submit training", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to submit training")
		return
	}
	respondJSON(w, map[string]any{"job": job}, http.StatusAccepted)
}

func (s *Service) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context())
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list trainings")
		return
	}
	respondJSON(w, map[string]any{"jobs": jobs}, http.StatusOK)
}

func (s *Service) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "training not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "jobID", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load training")
		return
	}

	payload := map[string]any{"job": job}
	if s.snapshots != nil {
		if snapshot, err := s.snapshots.Get(r.Context(), id); err == nil {
			payload["task"] = snapshot
		}
	}
	respondJSON(w, payload, http.StatusOK)
}

func (s *Service) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	events, err := s.store.GetEvents(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "training not found")
		return
	}
	if err != nil {
		s.logger.Error("get job events", "jobID", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	respondJSON(w, map[string]any{"events": events}, http.StatusOK)
}

func (s *Service) handleListAlgorithms(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{"algorithms": s.registry.List()}, http.StatusOK)
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, map[string]string{"error": message}, status)
}
