package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists jobs and events to a single JSON file. An empty path keeps
// everything in memory.
type Store struct {
	path   string
	mu     sync.RWMutex
	jobs   map[string]*Job
	events map[string][]JobEvent
}

type persistContainer struct {
	Jobs   []*Job                `json:"jobs"`
	Events map[string][]JobEvent `json:"events"`
}

func NewStore(path string) (*Store, error) {
	s := &Store{
		path:   path,
		jobs:   make(map[string]*Job),
		events: make(map[string][]JobEvent),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var container persistContainer
	if err := json.Unmarshal(data, &container); err != nil {
		return fmt.Errorf("parse job store: %w", err)
	}
	for _, job := range container.Jobs {
		if job == nil || job.ID == "" {
			continue
		}
		s.jobs[job.ID] = job
		s.events[job.ID] = container.Events[job.ID]
	}
	return nil
}

// save replaces the file atomically via a temp file.
// Callers hold s.mu.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	container := persistContainer{Events: make(map[string][]JobEvent, len(s.events))}
	for id, job := range s.jobs {
		container.Jobs = append(container.Jobs, job)
		if events := s.events[id]; len(events) > 0 {
			container.Events[id] = events
		}
	}
	sortJobs(container.Jobs)
	payload, err := json.MarshalIndent(container, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) CreateJob(_ context.Context, job *Job) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepareJob(job, uuid.NewString)
	if _, exists := s.jobs[job.ID]; exists {
		return nil, fmt.Errorf("job %s already exists", job.ID)
	}
	stored := job.Clone()
	s.jobs[job.ID] = stored
	s.events[job.ID] = append(s.events[job.ID], JobEvent{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Status:    stored.Status,
		Message:   "Job submitted",
		CreatedAt: stored.CreatedAt,
	})

	if err := s.save(); err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

func (s *Store) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job.Clone(), nil
}

func (s *Store) ListJobs(_ context.Context) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		result = append(result, job.Clone())
	}
	sortJobs(result)
	return result, nil
}

// UpdateJob applies fn to a copy of the job and stores it only if fn succeeds.
func (s *Store) UpdateJob(_ context.Context, id string, fn func(j *Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	next.UpdatedAt = time.Now().UTC()
	s.jobs[id] = next
	if err := s.save(); err != nil {
		s.jobs[id] = current
		return nil, err
	}
	return next.Clone(), nil
}

func (s *Store) AppendEvent(_ context.Context, event JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[event.JobID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, event.JobID)
	}
	prepareEvent(&event, uuid.NewString)
	s.events[event.JobID] = append(s.events[event.JobID], event)
	return s.save()
}

func (s *Store) GetEvents(_ context.Context, jobID string) ([]JobEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return append([]JobEvent(nil), s.events[jobID]...), nil
}

func (s *Store) Close() error { return nil }

func sortJobs(jobs []*Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
