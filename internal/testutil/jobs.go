package testutil

import (
	"context"
	"maps"
	"sync"
	"time"

	"gliderdac/internal/dac"
)

// RecordingJobQueue is an in-memory dac.JobQueue that records every call.
// FetchErr and EnqueueErr, when set, are returned instead of normal results.
// Safe for concurrent use.
type RecordingJobQueue struct {
	mu         sync.Mutex
	jobs       map[string]*dac.Job
	fetches    []string
	enqueues   []*dac.Job
	FetchErr   error
	EnqueueErr error
	Clock      dac.Clock
}

// NewRecordingJobQueue creates an empty RecordingJobQueue using FixedClock.
func NewRecordingJobQueue() *RecordingJobQueue {
	return &RecordingJobQueue{
		jobs:  make(map[string]*dac.Job),
		Clock: FixedClock(),
	}
}

func (q *RecordingJobQueue) Fetch(_ context.Context, id string) (*dac.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fetches = append(q.fetches, id)
	if q.FetchErr != nil {
		return nil, q.FetchErr
	}
	job, ok := q.jobs[id]
	if !ok {
		return nil, dac.ErrNoSuchJob
	}
	cp := *job
	return &cp, nil
}

func (q *RecordingJobQueue) EnqueueAfter(_ context.Context, delay time.Duration, fn string, args map[string]string, id string, timeout time.Duration) (*dac.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.EnqueueErr != nil {
		return nil, q.EnqueueErr
	}
	now := q.Clock.Now()
	job := &dac.Job{
		ID:         id,
		Func:       fn,
		Args:       maps.Clone(args),
		Timeout:    timeout,
		EnqueuedAt: now,
		RunAt:      now.Add(delay),
		Status:     dac.JobQueued,
	}
	q.jobs[id] = job
	q.enqueues = append(q.enqueues, job)
	cp := *job
	return &cp, nil
}

// Put stores a job directly, bypassing the enqueue record.
func (q *RecordingJobQueue) Put(job *dac.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = job
}

// Enqueued returns the jobs passed to EnqueueAfter, in call order.
func (q *RecordingJobQueue) Enqueued() []*dac.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*dac.Job(nil), q.enqueues...)
}

// Fetched returns the ids passed to Fetch, in call order.
func (q *RecordingJobQueue) Fetched() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.fetches...)
}

var _ dac.JobQueue = (*RecordingJobQueue)(nil)
