package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gliderdac/internal/dac"
	"gliderdac/internal/testutil"
)

func TestWorker_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("runs due jobs with their args", func(t *testing.T) {
		clock := testutil.FixedClock()
		q := NewMemoryQueue(clock)
		w := NewWorker(q, WorkerConfig{}, dac.NewNopLogger())

		var gotArgs map[string]string
		w.Register("glider_deployment_check", func(_ context.Context, args map[string]string) error {
			gotArgs = args
			return nil
		})

		_, err := q.EnqueueAfter(ctx, time.Minute, "glider_deployment_check", map[string]string{"deployment_dir": "u/m"}, "m_compliance_check", time.Second)
		require.NoError(t, err)

		ran, err := w.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, ran, "job is not due yet")

		clock.Advance(time.Minute)
		ran, err = w.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, ran)
		assert.Equal(t, "u/m", gotArgs["deployment_dir"])

		job, err := q.Fetch(ctx, "m_compliance_check")
		require.NoError(t, err)
		assert.Equal(t, dac.JobFinished, job.Status)
	})

	t.Run("records handler failure", func(t *testing.T) {
		q := NewMemoryQueue(testutil.FixedClock())
		w := NewWorker(q, WorkerConfig{}, dac.NewNopLogger())
		w.Register("fn", func(context.Context, map[string]string) error {
			return errors.New("no data files")
		})

		_, err := q.EnqueueAfter(ctx, 0, "fn", nil, "job", 0)
		require.NoError(t, err)

		_, err = w.RunOnce(ctx)
		require.NoError(t, err)

		job, _ := q.Fetch(ctx, "job")
		assert.Equal(t, dac.JobFailed, job.Status)
		assert.Equal(t, "no data files", job.Error)
	})

	t.Run("fails unknown functions", func(t *testing.T) {
		q := NewMemoryQueue(testutil.FixedClock())
		w := NewWorker(q, WorkerConfig{}, dac.NewNopLogger())

		_, err := q.EnqueueAfter(ctx, 0, "missing", nil, "job", 0)
		require.NoError(t, err)

		_, err = w.RunOnce(ctx)
		require.NoError(t, err)

		job, _ := q.Fetch(ctx, "job")
		assert.Equal(t, dac.JobFailed, job.Status)
		assert.Contains(t, job.Error, ErrUnknownFunc.Error())
	})

	t.Run("applies the job timeout", func(t *testing.T) {
		q := NewMemoryQueue(testutil.FixedClock())
		w := NewWorker(q, WorkerConfig{}, dac.NewNopLogger())
		w.Register("slow", func(ctx context.Context, _ map[string]string) error {
			<-ctx.Done()
			return ctx.Err()
		})

		_, err := q.EnqueueAfter(ctx, 0, "slow", nil, "job", 10*time.Millisecond)
		require.NoError(t, err)

		_, err = w.RunOnce(ctx)
		require.NoError(t, err)

		job, _ := q.Fetch(ctx, "job")
		assert.Equal(t, dac.JobFailed, job.Status)
		assert.Equal(t, context.DeadlineExceeded.Error(), job.Error)
	})

	t.Run("recovers from a panicking handler", func(t *testing.T) {
		q := NewMemoryQueue(testutil.FixedClock())
		w := NewWorker(q, WorkerConfig{}, dac.NewNopLogger())
		w.Register("fn", func(context.Context, map[string]string) error {
			panic("nil map")
		})

		_, err := q.EnqueueAfter(ctx, 0, "fn", nil, "job", 0)
		require.NoError(t, err)

		_, err = w.RunOnce(ctx)
		require.NoError(t, err)

		job, _ := q.Fetch(ctx, "job")
		assert.Equal(t, dac.JobFailed, job.Status)
		assert.Contains(t, job.Error, "panicked")
	})
}

func TestWorker_Run(t *testing.T) {
	q := NewMemoryQueue(dac.RealClock{})
	w := NewWorker(q, WorkerConfig{PollInterval: 5 * time.Millisecond}, dac.NewNopLogger())

	var runs atomic.Int32
	w.Register("fn", func(context.Context, map[string]string) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	_, err := q.EnqueueAfter(ctx, 0, "fn", nil, "job", 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWorker_Shutdown(t *testing.T) {
	t.Run("requeues a job interrupted by shutdown", func(t *testing.T) {
		q := NewSQLiteQueue(testutil.NewTestStore(t).DB(), dac.RealClock{})
		w := NewWorker(q, WorkerConfig{PollInterval: 5 * time.Millisecond}, dac.NewNopLogger())

		running := make(chan struct{})
		w.Register("glider_deployment_check", func(ctx context.Context, _ map[string]string) error {
			close(running)
			<-ctx.Done()
			return ctx.Err()
		})

		_, err := q.EnqueueAfter(context.Background(), 0, "glider_deployment_check", nil, "m_compliance_check", time.Minute)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		select {
		case <-running:
		case <-time.After(time.Second):
			t.Fatal("job did not start")
		}
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run did not return after cancel")
		}

		job, err := q.Fetch(context.Background(), "m_compliance_check")
		require.NoError(t, err)
		assert.Equal(t, dac.JobQueued, job.Status)
		assert.True(t, job.StartedAt.IsZero())
		assert.Empty(t, job.Error)
	})

	t.Run("requeues stale started jobs", func(t *testing.T) {
		ctx := context.Background()
		clock := testutil.FixedClock()
		q := NewSQLiteQueue(testutil.NewTestStore(t).DB(), clock)
		w := NewWorker(q, WorkerConfig{StaleGrace: time.Minute}, dac.NewNopLogger())

		var runs atomic.Int32
		w.Register("fn", func(context.Context, map[string]string) error {
			runs.Add(1)
			return nil
		})

		// A worker that died after claiming leaves the job started.
		_, err := q.EnqueueAfter(ctx, 0, "fn", nil, "job", 10*time.Minute)
		require.NoError(t, err)
		claimed, err := q.Claim(ctx, "job")
		require.NoError(t, err)
		require.True(t, claimed)

		ran, err := w.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, ran, "job is still within its timeout")

		clock.Advance(12 * time.Minute)
		ran, err = w.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, ran)
		assert.Equal(t, int32(1), runs.Load())

		job, err := q.Fetch(ctx, "job")
		require.NoError(t, err)
		assert.Equal(t, dac.JobFinished, job.Status)
	})
}
