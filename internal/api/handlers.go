package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/launchpad/internal/job"
	"github.com/mattjoyce/launchpad/internal/log"
	"github.com/mattjoyce/launchpad/internal/service"
)

// handleHealth handles GET /health (no auth).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Service:       s.config.ServiceName,
		Timestamp:     s.now(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleCrawl handles POST /crawl.
func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var req CrawlRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			s.writeError(w, http.StatusBadRequest, "Request body required")
		case errors.As(err, &maxErr):
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		}
		return
	}

	sources, err := decodeSources(req.Sources)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	j, err := s.jobs.Submit(job.Descriptor{
		Ticker:   req.Ticker,
		Topic:    req.Topic,
		Goal:     req.Goal,
		Sources:  sources,
		Metadata: req.Metadata,
	})
	switch {
	case err == nil:
	case errors.Is(err, job.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, service.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		s.logger.Error("failed to submit job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	log.WithJob(j.ID).Debug("crawl accepted", "request_id", middleware.GetReqID(r.Context()))
	respondJSON(w, http.StatusAccepted, CrawlResponse{
		JobID:     j.ID,
		Status:    j.Status,
		Ticker:    j.Ticker,
		Topic:     j.Topic,
		Goal:      j.Goal,
		Sources:   j.Sources,
		CreatedAt: j.CreatedAt,
	})
}

// decodeSources accepts only a JSON array of strings. Emptiness is left to
// descriptor validation.
func decodeSources(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var sources []string
	if err := json.Unmarshal(raw, &sources); err != nil {
		return nil, &job.ValidationError{Index: -1, Field: "sources", Reason: "must be a non-empty array"}
	}
	return sources, nil
}

// handleListJobs handles GET /jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List()
	respondJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

// handleDeleteJob handles DELETE /jobs/{jobID}.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := s.jobs.Delete(id); err != nil {
		s.writeJobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, DeleteResponse{Message: "Job deleted", JobID: id})
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, job.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	s.logger.Error("job lookup failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
