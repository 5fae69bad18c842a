package jobs

import (
	"context"
	"fmt"
	"maps"
	"time"

	"gliderdac/internal/dac"
)

// Queue is a deferred job queue over a pluggable store. It implements
// dac.JobQueue for producers and the claim/finish protocol for workers.
type Queue struct {
	store jobStore
	clock dac.Clock
}

var _ dac.JobQueue = (*Queue)(nil)

func newQueue(store jobStore, clock dac.Clock) *Queue {
	return &Queue{store: store, clock: clock}
}

// Fetch returns the job stored under id, or dac.ErrNoSuchJob.
func (q *Queue) Fetch(ctx context.Context, id string) (*dac.Job, error) {
	return q.store.Get(ctx, id)
}

// EnqueueAfter stores a queued job that becomes due after delay. A job
// already stored under id is replaced.
func (q *Queue) EnqueueAfter(ctx context.Context, delay time.Duration, fn string, args map[string]string, id string, timeout time.Duration) (*dac.Job, error) {
	if id == "" {
		return nil, fmt.Errorf("enqueueing %s: missing job id", fn)
	}
	if fn == "" {
		return nil, fmt.Errorf("enqueueing %s: missing function name", id)
	}

	now := q.clock.Now().UTC()
	job := &dac.Job{
		ID:         id,
		Func:       fn,
		Args:       maps.Clone(args),
		Timeout:    timeout,
		EnqueuedAt: now,
		RunAt:      now.Add(delay),
		Status:     dac.JobQueued,
	}
	if job.Args == nil {
		job.Args = map[string]string{}
	}

	if err := q.store.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("storing job %s: %w", id, err)
	}
	return job, nil
}

// Due returns up to limit jobs that are ready to run.
func (q *Queue) Due(ctx context.Context, limit int) ([]*dac.Job, error) {
	return q.store.Due(ctx, q.clock.Now().UTC(), limit)
}

// Claim marks a queued job as started. It reports false when another
// worker claimed it first.
func (q *Queue) Claim(ctx context.Context, id string) (bool, error) {
	return q.store.Transition(ctx, id, dac.JobQueued, dac.JobStarted, q.clock.Now().UTC(), "")
}

// Requeue puts a started job back in the queue. It reports false when the
// job was not started.
func (q *Queue) Requeue(ctx context.Context, id string) (bool, error) {
	ok, err := q.store.Transition(ctx, id, dac.JobStarted, dac.JobQueued, time.Time{}, "")
	if err != nil {
		return false, fmt.Errorf("requeueing job %s: %w", id, err)
	}
	return ok, nil
}

// RequeueStale requeues started jobs that outlived their timeout by more
// than grace, which happens when the worker running them died. Jobs without
// a timeout are left alone.
func (q *Queue) RequeueStale(ctx context.Context, grace time.Duration) (int, error) {
	started, err := q.store.Started(ctx)
	if err != nil {
		return 0, err
	}

	now := q.clock.Now().UTC()
	n := 0
	for _, job := range started {
		if job.Timeout <= 0 || job.StartedAt.IsZero() {
			continue
		}
		if !job.StartedAt.Add(job.Timeout + grace).Before(now) {
			continue
		}
		ok, err := q.Requeue(ctx, job.ID)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Finish records the outcome of a started job: finished when runErr is nil,
// failed otherwise.
func (q *Queue) Finish(ctx context.Context, id string, runErr error) error {
	to, msg := dac.JobFinished, ""
	if runErr != nil {
		to, msg = dac.JobFailed, runErr.Error()
	}

	ok, err := q.store.Transition(ctx, id, dac.JobStarted, to, q.clock.Now().UTC(), msg)
	if err != nil {
		return fmt.Errorf("finishing job %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("finishing job %s: job is not started", id)
	}
	return nil
}

// PurgeFinished removes finished jobs whose result is older than ttl.
// Failed jobs are kept so the job id keeps counting as scheduled.
func (q *Queue) PurgeFinished(ctx context.Context, ttl time.Duration) (int, error) {
	return q.store.DeleteEnded(ctx, dac.JobFinished, q.clock.Now().UTC().Add(-ttl))
}
