package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = fmt.Errorf("not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store persists jobs, outputs and templates. Job rows are mutated by
// several rendition runners at once, so job status transitions go through
// WithJobLock; an Output is only ever mutated by its owning runner.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	UpdateJob(ctx context.Context, job *Job) error
	ListJobs(ctx context.Context) ([]*Job, error)

	CreateOutput(ctx context.Context, output *Output) error
	GetOutput(ctx context.Context, id uuid.UUID) (*Output, error)
	UpdateOutput(ctx context.Context, output *Output) error
	// ListOutputs returns the job's outputs in creation order.
	ListOutputs(ctx context.Context, jobID uuid.UUID) ([]*Output, error)

	GetTemplate(ctx context.Context, id uuid.UUID) (*JobTemplate, error)

	// WithJobLock runs fn while holding an exclusive lock on the job.
	// fn receives a fresh read of the job and its outputs; changes fn
	// makes to the job are persisted before the lock is released. This is
	// the critical section behind the "last sibling completes the job"
	// decision.
	WithJobLock(ctx context.Context, id uuid.UUID, fn func(job *Job, outputs []*Output) error) error
}

// MemoryStore is the in-process Store used by tests and single-node
// deployments without Postgres.
type MemoryStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*Job
	outputs   map[uuid.UUID]*Output
	templates map[uuid.UUID]*JobTemplate
	jobLocks  map[uuid.UUID]*sync.Mutex
	// creation order of outputs, since rows created in the same clock
	// tick still need a stable manifest order
	order map[uuid.UUID]int
	seq   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[uuid.UUID]*Job),
		outputs:   make(map[uuid.UUID]*Output),
		templates: make(map[uuid.UUID]*JobTemplate),
		jobLocks:  make(map[uuid.UUID]*sync.Mutex),
		order:     make(map[uuid.UUID]int),
	}
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := *job
	s.jobs[job.ID] = &j
	s.jobLocks[job.ID] = &sync.Mutex{}
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	j := *job
	return &j, nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	j := *job
	s.jobs[job.ID] = &j
	return nil
}

func (s *MemoryStore) ListJobs(ctx context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		j := *job
		jobs = append(jobs, &j)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.Before(jobs[b].CreatedAt) })
	return jobs, nil
}

func (s *MemoryStore) CreateOutput(ctx context.Context, output *Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.order[output.ID] = s.seq
	o := *output
	s.outputs[output.ID] = &o
	return nil
}

func (s *MemoryStore) GetOutput(ctx context.Context, id uuid.UUID) (*Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	output, ok := s.outputs[id]
	if !ok {
		return nil, fmt.Errorf("output %s: %w", id, ErrNotFound)
	}
	o := *output
	return &o, nil
}

func (s *MemoryStore) UpdateOutput(ctx context.Context, output *Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outputs[output.ID]; !ok {
		return fmt.Errorf("output %s: %w", output.ID, ErrNotFound)
	}
	o := *output
	s.outputs[output.ID] = &o
	return nil
}

func (s *MemoryStore) ListOutputs(ctx context.Context, jobID uuid.UUID) ([]*Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listOutputsLocked(jobID), nil
}

func (s *MemoryStore) listOutputsLocked(jobID uuid.UUID) []*Output {
	var outputs []*Output
	for _, output := range s.outputs {
		if output.JobID == jobID {
			o := *output
			outputs = append(outputs, &o)
		}
	}
	sort.Slice(outputs, func(a, b int) bool {
		return s.order[outputs[a].ID] < s.order[outputs[b].ID]
	})
	return outputs
}

func (s *MemoryStore) CreateTemplate(ctx context.Context, template *JobTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := *template
	s.templates[template.ID] = &t
	return nil
}

func (s *MemoryStore) GetTemplate(ctx context.Context, id uuid.UUID) (*JobTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	template, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	t := *template
	return &t, nil
}

func (s *MemoryStore) WithJobLock(ctx context.Context, id uuid.UUID, fn func(job *Job, outputs []*Output) error) error {
	s.mu.Lock()
	lock, ok := s.jobLocks[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}

	lock.Lock()
	defer lock.Unlock()

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	outputs, err := s.ListOutputs(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(job, outputs); err != nil {
		return err
	}
	return s.UpdateJob(ctx, job)
}
