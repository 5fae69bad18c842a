package dac

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// JobRequest describes a deferred job the caller wants to exist exactly once.
type JobRequest struct {
	ID      string
	Func    string
	Args    map[string]string
	Delay   time.Duration
	Timeout time.Duration
}

// JobGateway schedules deferred jobs at most once per job id.
//
// Any job stored under the id, whatever its status, counts as scheduled; the
// backend's own retry policy decides what happens to failed jobs. The
// fetch-then-enqueue sequence is not atomic against the backend: two
// processes that both observe "no such job" may both enqueue. That duplicate
// is tolerated rather than prevented with a distributed lock.
type JobGateway struct {
	queue  JobQueue
	logger Logger
}

// NewJobGateway creates a gateway over the given queue.
func NewJobGateway(queue JobQueue, logger Logger) *JobGateway {
	return &JobGateway{queue: queue, logger: logger}
}

// EnsureScheduled enqueues req unless a job already exists under req.ID.
// It reports whether a new job was enqueued. Backend errors other than
// ErrNoSuchJob are returned as-is and nothing is enqueued.
func (g *JobGateway) EnsureScheduled(ctx context.Context, req JobRequest) (bool, error) {
	job, err := g.queue.Fetch(ctx, req.ID)
	switch {
	case err == nil:
		g.logger.Info("deferred job already scheduled, skipping", "job", req.ID, "status", string(job.Status))
		return false, nil
	case errors.Is(err, ErrNoSuchJob):
	default:
		return false, fmt.Errorf("fetching job %s: %w", req.ID, err)
	}

	if _, err := g.queue.EnqueueAfter(ctx, req.Delay, req.Func, req.Args, req.ID, req.Timeout); err != nil {
		return false, fmt.Errorf("enqueueing job %s: %w", req.ID, err)
	}

	g.logger.Info("deferred job scheduled", "job", req.ID, "delay", req.Delay.String())
	return true, nil
}
