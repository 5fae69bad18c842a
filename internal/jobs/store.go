package jobs

import (
	"context"
	"time"

	"gliderdac/internal/dac"
)

// jobStore abstracts the persistence of deferred jobs.
// Claim and end transitions are conditional on the current status so two
// workers sharing a store never run the same job.
type jobStore interface {
	// Get returns the job stored under id, or dac.ErrNoSuchJob.
	Get(ctx context.Context, id string) (*dac.Job, error)

	// Put stores job, replacing any job with the same id.
	Put(ctx context.Context, job *dac.Job) error

	// Due returns up to limit queued jobs whose run time is not after now,
	// earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*dac.Job, error)

	// Started returns every job in the started status.
	Started(ctx context.Context) ([]*dac.Job, error)

	// Transition moves the job from status from to status to. at becomes
	// the start time when to is started and the end time when to is
	// finished or failed; moving back to queued clears both. It reports
	// false when the job was not in from.
	Transition(ctx context.Context, id string, from, to dac.JobStatus, at time.Time, errMsg string) (bool, error)

	// DeleteEnded removes jobs in status that ended before the cutoff.
	DeleteEnded(ctx context.Context, status dac.JobStatus, before time.Time) (int, error)
}
