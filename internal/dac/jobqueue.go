package dac

import (
	"context"
	"errors"
	"time"
)

// ErrNoSuchJob is returned by JobQueue.Fetch when no job exists under the id.
// Any other Fetch error means the backend could not answer.
var ErrNoSuchJob = errors.New("no such job")

// JobStatus is the lifecycle state of a deferred job.
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobStarted  JobStatus = "started"
	JobFinished JobStatus = "finished"
	JobFailed   JobStatus = "failed"
)

// Job is a deferred function call held by the job queue backend.
type Job struct {
	ID         string
	Func       string
	Args       map[string]string
	Timeout    time.Duration
	EnqueuedAt time.Time
	RunAt      time.Time
	Status     JobStatus
	StartedAt  time.Time // set when claimed, cleared on requeue
	EndedAt    time.Time
	Error      string
}

// JobQueue is the narrow contract the deployment pipeline needs from the job
// backend. The queue, not this package, is the source of truth for whether a
// job is pending or done.
type JobQueue interface {
	// Fetch returns the job stored under id, or ErrNoSuchJob.
	Fetch(ctx context.Context, id string) (*Job, error)

	// EnqueueAfter stores a job that becomes due after delay.
	EnqueueAfter(ctx context.Context, delay time.Duration, fn string, args map[string]string, id string, timeout time.Duration) (*Job, error)
}
