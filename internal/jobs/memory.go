package jobs

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"gliderdac/internal/dac"
)

// memoryStore keeps jobs in a map. Safe for concurrent use.
type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]*dac.Job
}

// NewMemoryQueue creates a job queue that lives only as long as the process.
func NewMemoryQueue(clock dac.Clock) *Queue {
	return newQueue(&memoryStore{jobs: make(map[string]*dac.Job)}, clock)
}

func (s *memoryStore) Get(_ context.Context, id string) (*dac.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, dac.ErrNoSuchJob
	}
	return copyJob(job), nil
}

func (s *memoryStore) Put(_ context.Context, job *dac.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *memoryStore) Due(_ context.Context, now time.Time, limit int) ([]*dac.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*dac.Job
	for _, job := range s.jobs {
		if job.Status == dac.JobQueued && !job.RunAt.After(now) {
			due = append(due, copyJob(job))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].RunAt.Equal(due[j].RunAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].RunAt.Before(due[j].RunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memoryStore) Started(_ context.Context) ([]*dac.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var started []*dac.Job
	for _, job := range s.jobs {
		if job.Status == dac.JobStarted {
			started = append(started, copyJob(job))
		}
	}
	sort.Slice(started, func(i, j int) bool { return started[i].ID < started[j].ID })
	return started, nil
}

func (s *memoryStore) Transition(_ context.Context, id string, from, to dac.JobStatus, at time.Time, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != from {
		return false, nil
	}
	job.Status = to
	job.Error = errMsg
	switch to {
	case dac.JobStarted:
		job.StartedAt, job.EndedAt = at, time.Time{}
	case dac.JobQueued:
		job.StartedAt, job.EndedAt = time.Time{}, time.Time{}
	default:
		job.EndedAt = at
	}
	return true, nil
}

func (s *memoryStore) DeleteEnded(_ context.Context, status dac.JobStatus, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, job := range s.jobs {
		if job.Status == status && job.EndedAt.Before(before) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func copyJob(job *dac.Job) *dac.Job {
	cp := *job
	cp.Args = maps.Clone(job.Args)
	return &cp
}
