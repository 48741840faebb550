package tabular

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/dailyix/errors"
)

func newTestStager(t *testing.T) (*Stager, string) {
	t.Helper()
	tmp := t.TempDir()
	return NewStager(tmp, "", zaptest.NewLogger(t).Sugar()), tmp
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("s3://bucket/key.csv"))
	assert.True(t, IsRemote("https://example.com/a.csv"))
	assert.True(t, IsRemote("gcs::https://www.googleapis.com/storage/v1/b/a.csv"))
	assert.False(t, IsRemote("file:///tmp/a.csv"))
	assert.False(t, IsRemote("/tmp/a.csv"))
	assert.False(t, IsRemote("data/a.csv"))
}

func TestStageLocalFile(t *testing.T) {
	stager, _ := newTestStager(t)
	p := writeFixture(t, "local.csv", "name\nWalk\n")

	staged, err := stager.Stage(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, p, staged.LocalPath)
	assert.False(t, staged.Downloaded)

	staged.Cleanup()
	staged.Cleanup()
	_, err = os.Stat(p)
	assert.NoError(t, err, "caller-supplied file must survive cleanup")
}

func TestStageFileURL(t *testing.T) {
	stager, _ := newTestStager(t)
	p := writeFixture(t, "local.csv", "name\n")

	staged, err := stager.Stage(context.Background(), "file://"+p)
	require.NoError(t, err)
	assert.Equal(t, p, staged.LocalPath)
}

func TestStageRejectsMissingAndDirectories(t *testing.T) {
	stager, _ := newTestStager(t)

	_, err := stager.Stage(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFileAccess))
	assert.Contains(t, err.Error(), "file not found")

	_, err = stager.Stage(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFileAccess))

	_, err = stager.Stage(context.Background(), "  ")
	assert.True(t, errors.Is(err, ErrFileAccess))
}

func TestStageDownloadsOverHTTP(t *testing.T) {
	body := "unleash id,name\nD1,Walk\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	stager, tmp := newTestStager(t)
	staged, err := stager.Stage(context.Background(), srv.URL+"/exports/dailies.csv")
	require.NoError(t, err)
	assert.True(t, staged.Downloaded)
	assert.Equal(t, "dailies.csv", filepath.Base(staged.LocalPath))

	data, err := os.ReadFile(staged.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	staged.Cleanup()
	_, err = os.Stat(staged.LocalPath)
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStageDownloadFailureIsTransientAndCleansUp(t *testing.T) {
	stager, tmp := newTestStager(t)
	stager.fetch = func(ctx context.Context, src, dst string) error {
		assert.Equal(t, "s3::https://s3.amazonaws.com/bucket/imports/dailies.csv", src)
		return errors.New("connection reset")
	}

	_, err := stager.Stage(context.Background(), "s3://bucket/imports/dailies.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransientInfra))

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGetterSource(t *testing.T) {
	stager, _ := newTestStager(t)

	src, err := stager.getterSource("s3://bucket/a/b.csv")
	require.NoError(t, err)
	assert.Equal(t, "s3::https://s3.amazonaws.com/bucket/a/b.csv", src)

	stager.s3Region = "eu-west-1"
	src, err = stager.getterSource("s3://bucket/a/b.csv")
	require.NoError(t, err)
	assert.Equal(t, "s3::https://s3-eu-west-1.amazonaws.com/bucket/a/b.csv", src)

	_, err = stager.getterSource("s3://bucket")
	assert.True(t, errors.Is(err, ErrFileAccess))

	src, err = stager.getterSource("https://example.com/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.csv", src)
}

func TestRemoteBaseName(t *testing.T) {
	assert.Equal(t, "b.csv", remoteBaseName("s3://bucket/a/b.csv"))
	assert.Equal(t, "foo.xlsx", remoteBaseName("gcs::https://www.googleapis.com/storage/v1/bucket/foo.xlsx"))
	assert.Equal(t, "download", remoteBaseName("https://example.com/"))
}
