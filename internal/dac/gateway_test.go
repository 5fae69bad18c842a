package dac_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gliderdac/internal/dac"
	"gliderdac/internal/testutil"
)

func complianceRequest() dac.JobRequest {
	return dac.JobRequest{
		ID:      dac.ComplianceJobID("ru29"),
		Func:    dac.ComplianceCheckFunc,
		Args:    map[string]string{"deployment_dir": "rutgers/ru29"},
		Delay:   30 * time.Minute,
		Timeout: 800 * time.Second,
	}
}

func TestJobGateway_EnsureScheduled(t *testing.T) {
	ctx := context.Background()

	t.Run("enqueues when no job exists", func(t *testing.T) {
		q := testutil.NewRecordingJobQueue()
		g := dac.NewJobGateway(q, dac.NewNopLogger())

		scheduled, err := g.EnsureScheduled(ctx, complianceRequest())
		require.NoError(t, err)
		assert.True(t, scheduled)

		enq := q.Enqueued()
		require.Len(t, enq, 1)
		assert.Equal(t, "ru29_compliance_check", enq[0].ID)
		assert.Equal(t, dac.ComplianceCheckFunc, enq[0].Func)
		assert.Equal(t, map[string]string{"deployment_dir": "rutgers/ru29"}, enq[0].Args)
		assert.Equal(t, 800*time.Second, enq[0].Timeout)
		assert.Equal(t, 30*time.Minute, enq[0].RunAt.Sub(enq[0].EnqueuedAt))
	})

	t.Run("second call is a no-op", func(t *testing.T) {
		q := testutil.NewRecordingJobQueue()
		g := dac.NewJobGateway(q, dac.NewNopLogger())

		_, err := g.EnsureScheduled(ctx, complianceRequest())
		require.NoError(t, err)
		scheduled, err := g.EnsureScheduled(ctx, complianceRequest())
		require.NoError(t, err)

		assert.False(t, scheduled)
		assert.Len(t, q.Enqueued(), 1)
		assert.Equal(t, []string{"ru29_compliance_check", "ru29_compliance_check"}, q.Fetched())
	})

	for _, status := range []dac.JobStatus{dac.JobStarted, dac.JobFinished, dac.JobFailed} {
		t.Run("existing "+string(status)+" job counts as scheduled", func(t *testing.T) {
			q := testutil.NewRecordingJobQueue()
			q.Put(&dac.Job{ID: "ru29_compliance_check", Status: status})
			g := dac.NewJobGateway(q, dac.NewNopLogger())

			scheduled, err := g.EnsureScheduled(ctx, complianceRequest())
			require.NoError(t, err)
			assert.False(t, scheduled)
			assert.Empty(t, q.Enqueued())
		})
	}

	t.Run("backend error is not treated as missing", func(t *testing.T) {
		backendDown := errors.New("connection refused")
		q := testutil.NewRecordingJobQueue()
		q.FetchErr = backendDown
		g := dac.NewJobGateway(q, dac.NewNopLogger())

		scheduled, err := g.EnsureScheduled(ctx, complianceRequest())
		assert.ErrorIs(t, err, backendDown)
		assert.False(t, scheduled)
		assert.Empty(t, q.Enqueued())
	})

	t.Run("enqueue error propagates", func(t *testing.T) {
		q := testutil.NewRecordingJobQueue()
		q.EnqueueErr = errors.New("queue full")
		g := dac.NewJobGateway(q, dac.NewNopLogger())

		_, err := g.EnsureScheduled(ctx, complianceRequest())
		assert.ErrorContains(t, err, "queue full")
	})
}
