package storage

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/luminapix/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(&config.StorageConfig{
		Path:                t.TempDir(),
		URLPrefix:           "/files",
		MaxImagesPerRequest: 3,
	})
	require.NoError(t, err)
	return store
}

func TestSaveInputs(t *testing.T) {
	store := newTestStore(t)
	encoded := base64.StdEncoding.EncodeToString([]byte("pixels"))

	t.Run("writes decoded payloads in order", func(t *testing.T) {
		paths, err := store.SaveInputs("job-1", []string{encoded, encoded})
		assert.NoError(t, err)
		assert.Len(t, paths, 2)

		data, err := os.ReadFile(paths[0])
		assert.NoError(t, err)
		assert.Equal(t, []byte("pixels"), data)
	})

	t.Run("strips data url prefix", func(t *testing.T) {
		paths, err := store.SaveInputs("job-2", []string{"data:image/png;base64," + encoded})
		assert.NoError(t, err)

		data, err := os.ReadFile(paths[0])
		assert.NoError(t, err)
		assert.Equal(t, []byte("pixels"), data)
	})

	t.Run("rejects malformed base64", func(t *testing.T) {
		_, err := store.SaveInputs("job-3", []string{"not base64 at all!!!"})
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})
}

func TestSaveOutputsAndDownload(t *testing.T) {
	store := newTestStore(t)

	urls, err := store.SaveOutputs("job-1", [][]byte{[]byte("result")})
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, "/files/job-1/output/output_0.png", urls[0])

	path, err := store.OutputPath("job-1", "output_0.png")
	assert.NoError(t, err)

	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, []byte("result"), data)

	t.Run("refuses path traversal", func(t *testing.T) {
		_, err := store.OutputPath("job-1", "../input/input_0.png")
		assert.Error(t, err)
	})

	t.Run("missing artifact errors", func(t *testing.T) {
		_, err := store.OutputPath("job-1", "output_9.png")
		assert.Error(t, err)
	})
}

func TestDeleteInputsKeepsOutputs(t *testing.T) {
	store := newTestStore(t)
	encoded := base64.StdEncoding.EncodeToString([]byte("pixels"))

	_, err := store.SaveInputs("job-1", []string{encoded})
	require.NoError(t, err)
	_, err = store.SaveOutputs("job-1", [][]byte{[]byte("result")})
	require.NoError(t, err)

	assert.NoError(t, store.DeleteInputs("job-1"))

	_, err = store.InputPaths("job-1")
	assert.Error(t, err)

	_, err = store.OutputPath("job-1", "output_0.png")
	assert.NoError(t, err)
}

func TestSweepOlderThan(t *testing.T) {
	store := newTestStore(t)

	_, err := store.SaveOutputs("old-job", [][]byte{[]byte("a")})
	require.NoError(t, err)
	_, err = store.SaveOutputs("new-job", [][]byte{[]byte("b")})
	require.NoError(t, err)

	old := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.cfg.Path, "old-job"), old, old))

	removed, err := store.SweepOlderThan(time.Now().Add(-7 * 24 * time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.OutputPath("old-job", "output_0.png")
	assert.Error(t, err)
	_, err = store.OutputPath("new-job", "output_0.png")
	assert.NoError(t, err)
}
