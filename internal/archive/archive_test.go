package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gliderdac/internal/config"
	"gliderdac/internal/dac"
)

func TestArchives_PutExists(t *testing.T) {
	ctx := context.Background()

	archives := map[string]func(t *testing.T) dac.Archive{
		"memory": func(*testing.T) dac.Archive { return NewMemoryArchive() },
		"filesystem": func(t *testing.T) dac.Archive {
			a, err := NewFileSystemArchive(t.TempDir())
			require.NoError(t, err)
			return a
		},
	}

	for name, newArchive := range archives {
		t.Run(name, func(t *testing.T) {
			a := newArchive(t)
			key := Key("rutgers/ru29", "ru29-20240601T0000.nc")

			ok, err := a.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			data := []byte("CDF\x01 glider data")
			require.NoError(t, a.Put(ctx, key, bytes.NewReader(data), int64(len(data))))

			ok, err = a.Exists(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)

			// Replacing an object is allowed.
			require.NoError(t, a.Put(ctx, key, strings.NewReader("v2"), 2))
		})

		t.Run(name+" rejects size mismatch", func(t *testing.T) {
			a := newArchive(t)
			err := a.Put(ctx, "u/m/f.nc", strings.NewReader("abc"), 10)
			assert.Error(t, err)

			ok, err := a.Exists(ctx, "u/m/f.nc")
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run(name+" rejects escaping keys", func(t *testing.T) {
			a := newArchive(t)
			for _, key := range []string{"", "/abs/f.nc", "../f.nc", "u/../../f.nc"} {
				assert.Error(t, a.Put(ctx, key, strings.NewReader("x"), 1), "key %q", key)
			}
		})
	}
}

func TestFileSystemArchive_Layout(t *testing.T) {
	root := t.TempDir()
	a, err := NewFileSystemArchive(root)
	require.NoError(t, err)

	require.NoError(t, a.Put(context.Background(), "rutgers/ru29/deployment.json", strings.NewReader("{}"), 2))

	got, err := os.ReadFile(filepath.Join(root, "rutgers", "ru29", "deployment.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))

	entries, err := os.ReadDir(filepath.Join(root, "rutgers", "ru29"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestMemoryArchive_Keys(t *testing.T) {
	a := NewMemoryArchive()
	ctx := context.Background()
	require.NoError(t, a.Put(ctx, "b/f", strings.NewReader("1"), 1))
	require.NoError(t, a.Put(ctx, "a/f", strings.NewReader("2"), 1))

	assert.Equal(t, []string{"a/f", "b/f"}, a.Keys())

	data, ok := a.Get("a/f")
	assert.True(t, ok)
	assert.Equal(t, "2", string(data))
}

type fakeS3 struct {
	headErr error
	heads   []string
	uploads []*s3.PutObjectInput
	bodies  []string
	upErr   error
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.heads = append(f.heads, aws.ToString(in.Key))
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.upErr != nil {
		return nil, f.upErr
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(in.Body); err != nil {
		return nil, err
	}
	f.uploads = append(f.uploads, in)
	f.bodies = append(f.bodies, buf.String())
	return &manager.UploadOutput{}, nil
}

func TestS3Archive(t *testing.T) {
	ctx := context.Background()

	t.Run("put uploads under prefix", func(t *testing.T) {
		fake := &fakeS3{}
		a := newS3Archive(fake, fake, "glider-archive", "ncei")

		require.NoError(t, a.Put(ctx, "rutgers/ru29/f.nc", strings.NewReader("data"), 4))
		require.Len(t, fake.uploads, 1)
		assert.Equal(t, "glider-archive", aws.ToString(fake.uploads[0].Bucket))
		assert.Equal(t, "ncei/rutgers/ru29/f.nc", aws.ToString(fake.uploads[0].Key))
		assert.Equal(t, int64(4), aws.ToInt64(fake.uploads[0].ContentLength))
		assert.Equal(t, "data", fake.bodies[0])
	})

	t.Run("put wraps upload errors", func(t *testing.T) {
		fake := &fakeS3{upErr: errors.New("access denied")}
		a := newS3Archive(fake, fake, "b", "")

		err := a.Put(ctx, "u/m/f.nc", strings.NewReader("x"), 1)
		assert.ErrorContains(t, err, "access denied")
	})

	t.Run("exists", func(t *testing.T) {
		fake := &fakeS3{}
		a := newS3Archive(fake, fake, "b", "")

		ok, err := a.Exists(ctx, "u/m/f.nc")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"u/m/f.nc"}, fake.heads)
	})

	t.Run("exists maps not found", func(t *testing.T) {
		fake := &fakeS3{headErr: &types.NotFound{}}
		a := newS3Archive(fake, fake, "b", "")

		ok, err := a.Exists(ctx, "u/m/f.nc")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("exists propagates other errors", func(t *testing.T) {
		fake := &fakeS3{headErr: errors.New("timeout")}
		a := newS3Archive(fake, fake, "b", "")

		_, err := a.Exists(ctx, "u/m/f.nc")
		assert.Error(t, err)
	})
}

func TestNewS3Archive_RequiresBucket(t *testing.T) {
	_, err := NewS3Archive(context.Background(), S3Options{Region: "us-east-1"})
	assert.Error(t, err)
}

func TestNewS3Archive_UsesInjectedConfig(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = origLoad })

	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no credentials")
	}

	_, err := NewS3Archive(context.Background(), S3Options{Bucket: "b"})
	assert.ErrorContains(t, err, "no credentials")
}

func TestNewArchiveFromConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.ArchiveConfig
		wantErr bool
		wantNil bool
	}{
		{name: "disabled", cfg: config.ArchiveConfig{}, wantNil: true},
		{name: "memory archive", cfg: config.ArchiveConfig{Type: "memory"}},
		{name: "filesystem archive", cfg: config.ArchiveConfig{Type: "filesystem", FSRoot: t.TempDir()}},
		{name: "filesystem archive without root", cfg: config.ArchiveConfig{Type: "filesystem"}, wantErr: true, wantNil: true},
		{name: "s3 archive without bucket", cfg: config.ArchiveConfig{Type: "s3"}, wantErr: true, wantNil: true},
		{name: "unknown archive type", cfg: config.ArchiveConfig{Type: "tape"}, wantErr: true, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewArchiveFromConfig(ctx, tt.cfg)

			if (err != nil) != tt.wantErr {
				t.Errorf("NewArchiveFromConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if (got == nil) != tt.wantNil {
				t.Errorf("NewArchiveFromConfig() returned nil = %v, wantNil %v", got == nil, tt.wantNil)
			}
		})
	}
}
