// Package store persists segmentation jobs and their results.
//
// Two implementations are provided: [MemStore] for single-process use and
// tests, and [PostgresStore] for deployments that need results to survive a
// restart. Both are safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/edualign/internal/discourse"
	"github.com/MrWong99/edualign/internal/pipeline"
	"github.com/MrWong99/edualign/pkg/types"
)

// Sentinel errors returned by [Store] implementations.
var (
	// ErrNotFound is returned when no job exists with the requested ID.
	ErrNotFound = errors.New("store: job not found")

	// ErrDuplicateID is returned by Create when a job with the same ID exists.
	ErrDuplicateID = errors.New("store: duplicate job id")
)

// Status is the lifecycle state of a [Job].
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether s is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job is one segmentation request and its outcome. A failed job never
// carries segments or units.
type Job struct {
	ID     string `json:"id"`
	Status Status `json:"status"`

	Segments   []types.RealignedSegment `json:"segments,omitempty"`
	Units      []discourse.Unit         `json:"units,omitempty"`
	Paragraphs int                      `json:"paragraphs,omitempty"`
	Stats      *pipeline.Stats          `json:"stats,omitempty"`

	// Error is the failure message for failed jobs.
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob returns a running job with a fresh random ID.
func NewJob() *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Succeed records res on j and marks it succeeded.
func (j *Job) Succeed(res *pipeline.Result) {
	j.Status = StatusSucceeded
	j.Segments = res.Segments
	j.Units = res.Units
	j.Paragraphs = res.Paragraphs
	stats := res.Stats
	j.Stats = &stats
	j.Error = ""
	j.UpdatedAt = time.Now().UTC()
}

// Fail records err on j, drops any partial output and marks it failed.
func (j *Job) Fail(err error) {
	j.Status = StatusFailed
	j.Segments = nil
	j.Units = nil
	j.Paragraphs = 0
	j.Stats = nil
	j.Error = err.Error()
	j.UpdatedAt = time.Now().UTC()
}

// ValidID reports whether id is a well-formed job identifier.
func ValidID(id string) bool {
	return uuid.Validate(id) == nil
}

// Store persists jobs.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new job. Returns [ErrDuplicateID] if the ID is taken.
	Create(ctx context.Context, job *Job) error

	// Update replaces the stored state of an existing job.
	// Returns [ErrNotFound] if the job does not exist.
	Update(ctx context.Context, job *Job) error

	// Get retrieves a job by ID. Returns [ErrNotFound] if it does not exist.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns up to limit jobs, newest first. A limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]*Job, error)
}
