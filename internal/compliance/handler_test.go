package compliance

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gliderdac/internal/archive"
	"gliderdac/internal/dac"
	"gliderdac/internal/database"
	"gliderdac/internal/testutil"
)

type handlerFixture struct {
	root     string
	store    *database.SQLiteStore
	notifier *testutil.RecordingNotifier
	archive  *archive.MemoryArchive
	handler  *Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		root:     t.TempDir(),
		store:    testutil.NewTestStore(t),
		notifier: testutil.NewRecordingNotifier(),
		archive:  archive.NewMemoryArchive(),
	}
	f.handler = NewHandler(Config{DataRoot: f.root, Recipients: []string{"dac@example.org"}},
		f.store, nil, f.notifier, f.archive, dac.NewNopLogger())
	return f
}

// addDeployment stores a deployment and lays out its directory with one
// valid data file and the metadata sidecar.
func (f *handlerFixture) addDeployment(t *testing.T, completed bool, wmoID string) *dac.Deployment {
	t.Helper()
	d := dac.NewDeployment("ru29-20240601T0000", "rutgers", "rutgers/ru29-20240601T0000")
	d.ID = "dep-1"
	d.Completed = completed
	d.WMOID = wmoID
	d.Created = testutil.FixedClock().Now()
	d.Updated = d.Created
	require.NoError(t, f.store.Insert(context.Background(), d))

	mtime := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	dir := filepath.Join(f.root, d.DeploymentDir)
	testutil.WriteFile(t, dir, "ru29-20240601T0000.nc", testutil.NetCDFHeader, mtime)
	testutil.WriteFile(t, dir, dac.MetadataFile, []byte("{}"), mtime)
	testutil.WriteFile(t, dir, dac.WMOIDFile, []byte(wmoID), mtime)
	return d
}

func TestHandler_Run(t *testing.T) {
	ctx := context.Background()
	args := map[string]string{ArgDeploymentDir: "rutgers/ru29-20240601T0000"}

	t.Run("passing completed deployment is flagged and archived", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.addDeployment(t, true, "4801234")

		require.NoError(t, f.handler.Run(ctx, args))

		got, err := f.store.FindByName(ctx, "ru29-20240601T0000")
		require.NoError(t, err)
		assert.True(t, got.ComplianceCheckPassed)

		assert.Equal(t, []string{
			"rutgers/ru29-20240601T0000/deployment.json",
			"rutgers/ru29-20240601T0000/ru29-20240601T0000.nc",
		}, f.archive.Keys())

		msgs := f.notifier.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "Glider Deployment Compliance Check PASSED - ru29-20240601T0000", msgs[0].Subject)
		assert.Equal(t, []string{"dac@example.org"}, msgs[0].To)
	})

	t.Run("not archived when archive_safe is false", func(t *testing.T) {
		f := newHandlerFixture(t)
		d := f.addDeployment(t, true, "4801234")
		d.ArchiveSafe = false
		require.NoError(t, f.store.Update(ctx, d))

		require.NoError(t, f.handler.Run(ctx, args))
		assert.Empty(t, f.archive.Keys())
	})

	t.Run("failing deployment is reported but not flagged", func(t *testing.T) {
		f := newHandlerFixture(t)
		d := f.addDeployment(t, true, "")
		testutil.WriteFile(t, filepath.Join(f.root, d.DeploymentDir), "broken.nc", []byte("oops"), time.Now())

		require.NoError(t, f.handler.Run(ctx, args))

		got, _ := f.store.FindByName(ctx, d.Name)
		assert.False(t, got.ComplianceCheckPassed)
		assert.Empty(t, f.archive.Keys())

		msgs := f.notifier.Messages()
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0].Subject, "FAILED")
		assert.Contains(t, msgs[0].Body, "no WMO ID assigned")
		assert.Contains(t, msgs[0].Body, "broken.nc: not a NetCDF file")
	})

	t.Run("notification failure does not fail the job", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.addDeployment(t, true, "4801234")
		f.notifier.Err = errors.New("smtp down")

		require.NoError(t, f.handler.Run(ctx, args))
		got, _ := f.store.FindByName(ctx, "ru29-20240601T0000")
		assert.True(t, got.ComplianceCheckPassed)
	})

	t.Run("unknown deployment dir", func(t *testing.T) {
		f := newHandlerFixture(t)

		err := f.handler.Run(ctx, args)
		assert.ErrorIs(t, err, dac.ErrDeploymentNotFound)
	})

	t.Run("missing argument", func(t *testing.T) {
		f := newHandlerFixture(t)
		assert.Error(t, f.handler.Run(ctx, nil))
	})
}

func TestHandler_Check(t *testing.T) {
	f := newHandlerFixture(t)
	d := dac.NewDeployment("empty", "rutgers", "rutgers/empty")

	report, err := f.handler.Check(d)
	require.NoError(t, err)
	assert.False(t, report.Passed())
	assert.ElementsMatch(t, []string{"no data files", "missing deployment.json", "no WMO ID assigned"}, report.Problems)
}
