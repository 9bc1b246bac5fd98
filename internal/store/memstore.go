package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// Jobs are copied on the way in and out, so callers never share state with
// the store. The zero value is ready to use.
type MemStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[string]*Job)}
}

// Create implements [Store.Create].
func (s *MemStore) Create(ctx context.Context, job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("store: create: job id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jobs == nil {
		s.jobs = make(map[string]*Job)
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateID, job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, job.ID)
	}
	c := cloneJob(job)
	c.CreatedAt = prev.CreatedAt
	s.jobs[job.ID] = c
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return cloneJob(j), nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context, limit int) ([]*Job, error) {
	s.mu.RLock()
	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, cloneJob(j))
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b *Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneJob(j *Job) *Job {
	c := *j
	c.Segments = slices.Clone(j.Segments)
	c.Units = slices.Clone(j.Units)
	if j.Stats != nil {
		stats := *j.Stats
		c.Stats = &stats
	}
	return &c
}
