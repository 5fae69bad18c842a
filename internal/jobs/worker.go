package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gliderdac/internal/dac"
)

// HandlerFunc runs one job. ctx carries the job timeout.
type HandlerFunc func(ctx context.Context, args map[string]string) error

// ErrUnknownFunc is recorded on jobs whose function has no registered handler.
var ErrUnknownFunc = errors.New("unknown job function")

// Worker defaults.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultResultTTL    = 500 * time.Second
	DefaultStaleGrace   = time.Minute
	defaultBatchSize    = 16

	// finishTimeout bounds recording a job outcome after the run context
	// has been cancelled.
	finishTimeout = 10 * time.Second
)

// WorkerConfig configures a Worker. Zero values select the defaults.
type WorkerConfig struct {
	PollInterval time.Duration
	ResultTTL    time.Duration

	// StaleGrace is how long past its timeout a started job may go
	// unfinished before it is requeued.
	StaleGrace time.Duration
}

// Worker runs due jobs from a Queue one at a time.
type Worker struct {
	queue    *Queue
	handlers map[string]HandlerFunc
	poll     time.Duration
	ttl      time.Duration
	grace    time.Duration
	logger   dac.Logger
}

// NewWorker creates a Worker over queue with no registered handlers.
func NewWorker(queue *Queue, cfg WorkerConfig, logger dac.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	if cfg.StaleGrace <= 0 {
		cfg.StaleGrace = DefaultStaleGrace
	}
	return &Worker{
		queue:    queue,
		handlers: make(map[string]HandlerFunc),
		poll:     cfg.PollInterval,
		ttl:      cfg.ResultTTL,
		grace:    cfg.StaleGrace,
		logger:   logger,
	}
}

// Register binds a function name to its handler. Register before Run.
func (w *Worker) Register(name string, fn HandlerFunc) {
	w.handlers[name] = fn
}

// Run polls the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	w.logger.Info("worker started", "poll_interval", w.poll.String())
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("worker poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce purges expired results, requeues stale started jobs and runs every
// job that is currently due. It returns the number of jobs run.
//
// A job interrupted by cancellation of ctx is put back in the queue so the
// next worker runs it again.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	if n, err := w.queue.PurgeFinished(ctx, w.ttl); err != nil {
		return 0, fmt.Errorf("purging finished jobs: %w", err)
	} else if n > 0 {
		w.logger.Debug("finished jobs purged", "count", n)
	}

	if n, err := w.queue.RequeueStale(ctx, w.grace); err != nil {
		return 0, fmt.Errorf("requeueing stale jobs: %w", err)
	} else if n > 0 {
		w.logger.Warn("stale jobs requeued", "count", n)
	}

	due, err := w.queue.Due(ctx, defaultBatchSize)
	if err != nil {
		return 0, fmt.Errorf("listing due jobs: %w", err)
	}

	ran := 0
	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		claimed, err := w.queue.Claim(ctx, job.ID)
		if err != nil {
			return ran, fmt.Errorf("claiming job %s: %w", job.ID, err)
		}
		if !claimed {
			continue
		}

		runErr := w.run(ctx, job)
		ran++
		if err := w.record(ctx, job, runErr); err != nil {
			return ran, err
		}
	}
	return ran, nil
}

// record stores the outcome of a claimed job. It uses a context detached
// from ctx so the outcome is written even when ctx was cancelled mid-run.
func (w *Worker) record(ctx context.Context, job *dac.Job, runErr error) error {
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if runErr != nil && ctx.Err() != nil {
		if _, err := w.queue.Requeue(octx, job.ID); err != nil {
			return err
		}
		w.logger.Warn("job interrupted, requeued", "job", job.ID, "func", job.Func)
		return nil
	}
	return w.queue.Finish(octx, job.ID, runErr)
}

func (w *Worker) run(ctx context.Context, job *dac.Job) (err error) {
	fn, ok := w.handlers[job.Func]
	if !ok {
		w.logger.Error("job failed", "job", job.ID, "func", job.Func, "error", ErrUnknownFunc)
		return fmt.Errorf("%w: %s", ErrUnknownFunc, job.Func)
	}

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()

	start := time.Now()
	w.logger.Info("job started", "job", job.ID, "func", job.Func)
	if err := fn(ctx, job.Args); err != nil {
		w.logger.Error("job failed", "job", job.ID, "func", job.Func, "error", err, "elapsed", time.Since(start).String())
		return err
	}
	w.logger.Info("job finished", "job", job.ID, "func", job.Func, "elapsed", time.Since(start).String())
	return nil
}
