// Package api exposes the realignment pipeline over HTTP.
//
// Routes:
//
//   - POST /v1/jobs: run the pipeline on a transcript and store the result.
//   - GET /v1/jobs/{id}: fetch a stored job.
//   - GET /v1/jobs: list recent jobs (without their segments).
//
// A job runs synchronously inside the POST request; the response carries the
// finished job. Failed jobs are stored too, without any partial output.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/edualign/internal/discourse"
	"github.com/MrWong99/edualign/internal/observe"
	"github.com/MrWong99/edualign/internal/oracle"
	"github.com/MrWong99/edualign/internal/pipeline"
	"github.com/MrWong99/edualign/internal/store"
	"github.com/MrWong99/edualign/internal/transcript"
	"github.com/MrWong99/edualign/pkg/types"
)

// DefaultMaxBodyBytes caps the size of a POST /v1/jobs request body.
const DefaultMaxBodyBytes = 32 << 20

// defaultListLimit is the page size of GET /v1/jobs when no limit is given.
const defaultListLimit = 50

// Runner executes one pipeline run. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, segments []types.Segment) (*pipeline.Result, error)
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records the active-jobs gauge on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMaxBodyBytes overrides [DefaultMaxBodyBytes].
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// Server serves the job endpoints.
type Server struct {
	runner  Runner
	store   store.Store
	metrics *observe.Metrics
	maxBody int64
}

// New returns a [Server] that runs jobs on runner and persists them in st.
func New(runner Runner, st store.Store, opts ...Option) *Server {
	s := &Server{runner: runner, store: st, maxBody: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the job routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/jobs", s.createJob)
	mux.HandleFunc("GET /v1/jobs/{id}", s.getJob)
	mux.HandleFunc("GET /v1/jobs", s.listJobs)
}

// errorBody is the JSON body of non-job error responses.
type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit)})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read body: " + err.Error()})
		return
	}
	segments, err := transcript.DecodeSegments(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	job := store.NewJob()
	if err := s.store.Create(ctx, job); err != nil {
		log.Error("api: create job", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "could not create job"})
		return
	}
	log = log.With("job_id", job.ID)

	if s.metrics != nil {
		s.metrics.ActiveJobs.Add(ctx, 1)
		defer s.metrics.ActiveJobs.Add(context.WithoutCancel(ctx), -1)
	}

	res, runErr := s.runner.Run(ctx, segments)
	if runErr != nil {
		job.Fail(runErr)
		log.Warn("api: job failed", "err", runErr, "status", StatusFor(runErr))
	} else {
		job.Succeed(res)
		log.Info("api: job succeeded", "segments", len(res.Segments), "units", len(res.Units))
	}

	// The request context may already be cancelled; the outcome is still stored.
	if err := s.store.Update(context.WithoutCancel(ctx), job); err != nil {
		log.Error("api: store job result", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "could not store job result"})
		return
	}

	status := http.StatusCreated
	if runErr != nil {
		status = StatusFor(runErr)
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, status, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !store.ValidID(id) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "job not found"})
		return
	}
	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "job not found"})
			return
		}
		observe.Logger(r.Context()).Error("api: get job", "job_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "could not load job"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// jobSummary is a list entry of GET /v1/jobs.
type jobSummary struct {
	ID         string       `json:"id"`
	Status     store.Status `json:"status"`
	Segments   int          `json:"segments"`
	Units      int          `json:"units"`
	Paragraphs int          `json:"paragraphs"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	jobs, err := s.store.List(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("api: list jobs", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "could not list jobs"})
		return
	}

	out := make([]jobSummary, len(jobs))
	for i, j := range jobs {
		out[i] = jobSummary{
			ID:         j.ID,
			Status:     j.Status,
			Segments:   len(j.Segments),
			Units:      len(j.Units),
			Paragraphs: j.Paragraphs,
			Error:      j.Error,
			CreatedAt:  j.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Jobs []jobSummary `json:"jobs"`
	}{Jobs: out})
}

// StatusFor maps a pipeline error to an HTTP status code.
//
//   - empty or malformed input: 400
//   - segmentation drift, unmatched boundaries, realignment mismatch: 422
//   - oracle invocation failures: 502
//   - deadline exceeded: 504
//   - anything else: 500
func StatusFor(err error) int {
	var (
		invalid  *transcript.InvalidSegmentError
		drift    *discourse.DriftError
		boundary *discourse.BoundaryNotFoundError
		mismatch *transcript.MismatchError
		invoke   *oracle.InvocationError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, discourse.ErrEmptyInput), errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &drift), errors.As(err, &boundary), errors.As(err, &mismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &invoke):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}
