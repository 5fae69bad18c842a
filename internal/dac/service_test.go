package dac_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gliderdac/internal/dac"
	"gliderdac/internal/database"
	"gliderdac/internal/testutil"
)

type serviceFixture struct {
	cfg   dac.ServiceConfig
	store *database.SQLiteStore
	queue *testutil.RecordingJobQueue
	clock *testutil.StubClock
	svc   *dac.Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		cfg: dac.ServiceConfig{
			Sync:            dac.SyncConfig{DataRoot: t.TempDir()},
			PublicDataRoot:  t.TempDir(),
			ThreddsDataRoot: t.TempDir(),
			URLs:            dac.URLConfig{Thredds: "tds.example.org", PublicErddap: "erddap.example.org"},
		},
		store: testutil.NewTestStore(t),
		queue: testutil.NewRecordingJobQueue(),
		clock: testutil.FixedClock(),
	}
	f.svc = dac.NewService(f.cfg, f.store, f.queue, dac.NewNopLogger(), f.clock, testutil.NewStubIDGenerator())
	return f
}

func TestService_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts new deployment", func(t *testing.T) {
		f := newServiceFixture(t)
		d := dac.NewDeployment("ru29-20240601T0000", "rutgers", "")

		require.NoError(t, f.svc.Save(ctx, d))

		assert.Equal(t, "dep-1", d.ID)
		assert.Equal(t, filepath.Join("rutgers", "ru29-20240601T0000"), d.DeploymentDir)
		assert.True(t, d.Created.Equal(f.clock.Now()))
		assert.True(t, d.Updated.Equal(f.clock.Now()))

		got, err := f.svc.Get(ctx, "ru29-20240601T0000")
		require.NoError(t, err)
		assert.Equal(t, emptyDigest, got.Checksum)
		assert.True(t, testutil.Exists(t, filepath.Join(f.cfg.Sync.DataRoot, d.DeploymentDir, dac.MetadataFile)))
	})

	t.Run("updates existing deployment", func(t *testing.T) {
		f := newServiceFixture(t)
		d := dac.NewDeployment("ru29", "rutgers", "rutgers/ru29")
		require.NoError(t, f.svc.Save(ctx, d))

		f.clock.Advance(time.Hour)
		d.WMOID = "4801234"
		require.NoError(t, f.svc.Save(ctx, d))

		got, err := f.svc.Get(ctx, "ru29")
		require.NoError(t, err)
		assert.Equal(t, "dep-1", got.ID)
		assert.Equal(t, "4801234", got.WMOID)
		assert.True(t, got.Updated.Equal(f.clock.Now()))
		assert.True(t, got.Created.Before(got.Updated))
	})

	t.Run("records latest data file", func(t *testing.T) {
		f := newServiceFixture(t)
		older := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		newer := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
		testutil.WriteFile(t, f.cfg.Sync.DataRoot, "rutgers/ru29/a.nc", nil, older)
		testutil.WriteFile(t, f.cfg.Sync.DataRoot, "rutgers/ru29/b.nc", nil, newer)

		d := dac.NewDeployment("ru29", "rutgers", "rutgers/ru29")
		require.NoError(t, f.svc.Save(ctx, d))

		assert.Equal(t, "b.nc", d.LatestFile)
		require.NotNil(t, d.LatestFileMtime)
		assert.True(t, d.LatestFileMtime.Equal(newer))
	})

	t.Run("duplicate name is rejected", func(t *testing.T) {
		f := newServiceFixture(t)
		require.NoError(t, f.svc.Save(ctx, dac.NewDeployment("ru29", "rutgers", "")))

		d := dac.NewDeployment("ru29", "other", "")
		err := f.svc.Save(ctx, d)
		assert.ErrorIs(t, err, dac.ErrDeploymentExists)
		assert.False(t, d.Persisted())
		assert.True(t, d.Created.IsZero(), "Created = %v", d.Created)
		assert.True(t, d.Updated.IsZero(), "Updated = %v", d.Updated)
	})

	t.Run("requires name and username", func(t *testing.T) {
		f := newServiceFixture(t)
		assert.Error(t, f.svc.Save(ctx, dac.NewDeployment("", "rutgers", "")))
		assert.Error(t, f.svc.Save(ctx, dac.NewDeployment("ru29", "", "")))
	})

	t.Run("sync failure leaves record unsaved", func(t *testing.T) {
		f := newServiceFixture(t)
		testutil.WriteFile(t, f.cfg.Sync.DataRoot, "rutgers/ru29", []byte("not a dir"), time.Now())

		d := dac.NewDeployment("ru29", "rutgers", "rutgers/ru29")
		assert.Error(t, f.svc.Save(ctx, d))
		assert.False(t, d.Persisted())

		got, err := f.store.FindByName(ctx, "ru29")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("failed sync leaves new record unstamped", func(t *testing.T) {
		f := newServiceFixture(t)
		// A directory where wmoid.txt should be makes the sync fail
		// after the record has been stamped.
		require.NoError(t, os.MkdirAll(filepath.Join(f.cfg.Sync.DataRoot, "rutgers/ru29", dac.WMOIDFile), 0755))

		d := dac.NewDeployment("ru29", "rutgers", "rutgers/ru29")
		d.WMOID = "4801234"
		err := f.svc.Save(ctx, d)
		require.ErrorContains(t, err, "syncing deployment ru29")

		assert.False(t, d.Persisted())
		assert.True(t, d.Created.IsZero(), "Created = %v", d.Created)
		assert.True(t, d.Updated.IsZero(), "Updated = %v", d.Updated)

		// A retry after the cause is fixed stamps the record afresh.
		require.NoError(t, os.Remove(filepath.Join(f.cfg.Sync.DataRoot, "rutgers/ru29", dac.WMOIDFile)))
		f.clock.Advance(time.Minute)
		require.NoError(t, f.svc.Save(ctx, d))
		assert.Equal(t, "dep-2", d.ID)
		assert.True(t, d.Created.Equal(f.clock.Now()))
	})
}

func TestService_SetCompleted(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	require.NoError(t, f.svc.Save(ctx, dac.NewDeployment("ru29", "rutgers", "rutgers/ru29")))
	marker := filepath.Join(f.cfg.Sync.DataRoot, "rutgers", "ru29", dac.CompletedFile)

	d, err := f.svc.SetCompleted(ctx, "ru29", true)
	require.NoError(t, err)
	assert.True(t, d.Completed)
	assert.True(t, testutil.Exists(t, marker))
	assert.Len(t, f.queue.Enqueued(), 1)

	_, err = f.svc.SetCompleted(ctx, "ru29", true)
	require.NoError(t, err)
	assert.Len(t, f.queue.Enqueued(), 1, "check scheduled once")

	d, err = f.svc.SetCompleted(ctx, "ru29", false)
	require.NoError(t, err)
	assert.False(t, d.Completed)
	assert.False(t, testutil.Exists(t, marker))

	_, err = f.svc.SetCompleted(ctx, "missing", true)
	assert.ErrorIs(t, err, dac.ErrDeploymentNotFound)
}

func TestService_Resave(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	require.NoError(t, f.svc.Save(ctx, dac.NewDeployment("ru29", "rutgers", "rutgers/ru29")))

	testutil.WriteFile(t, f.cfg.Sync.DataRoot, "rutgers/ru29/a.nc", nil, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	d, err := f.svc.Resave(ctx, "ru29")
	require.NoError(t, err)
	assert.Equal(t, md5Hex("2024-06-01T00:00:00"), d.Checksum)
	assert.Equal(t, "a.nc", d.LatestFile)
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	require.NoError(t, f.svc.Save(ctx, dac.NewDeployment("ru29", "rutgers", "rutgers/ru29")))

	mtime := time.Now()
	testutil.WriteFile(t, f.cfg.PublicDataRoot, "rutgers/ru29/ru29.nc", nil, mtime)
	testutil.WriteFile(t, f.cfg.ThreddsDataRoot, "rutgers/ru29/ru29.nc3.nc", nil, mtime)

	require.NoError(t, f.svc.Delete(ctx, "ru29"))

	for _, root := range []string{f.cfg.Sync.DataRoot, f.cfg.PublicDataRoot, f.cfg.ThreddsDataRoot} {
		assert.False(t, testutil.Exists(t, filepath.Join(root, "rutgers", "ru29")), root)
		assert.True(t, testutil.Exists(t, filepath.Join(root, "rutgers")), "parent dirs are kept")
	}

	_, err := f.svc.Get(ctx, "ru29")
	assert.ErrorIs(t, err, dac.ErrDeploymentNotFound)

	assert.ErrorIs(t, f.svc.Delete(ctx, "ru29"), dac.ErrDeploymentNotFound)
}

func TestService_ListAndCount(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	for _, tc := range []struct{ name, operator string }{
		{"ru29", "Rutgers"}, {"ru30", "Rutgers"}, {"sp010", "Scripps"},
	} {
		d := dac.NewDeployment(tc.name, "user", "")
		d.Operator = tc.operator
		require.NoError(t, f.svc.Save(ctx, d))
	}

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "ru29", list[0].Name)

	counts, err := f.svc.CountByOperator(ctx)
	require.NoError(t, err)
	assert.Equal(t, []dac.OperatorCount{{Operator: "Rutgers", Count: 2}, {Operator: "Scripps", Count: 1}}, counts)
}
