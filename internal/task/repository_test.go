package task

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcom-dev/vlnbench/internal/apierr"
	"github.com/jcom-dev/vlnbench/internal/models"
)

func writeTaskFile(t *testing.T, dir, name string, task models.Task) {
	t.Helper()
	raw, err := json.Marshal(task)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))
}

func TestNewMissingDirYieldsEmptyIndex(t *testing.T) {
	r, err := New(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, r.List())
}

func TestGetAndList(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "a.json", models.Task{TaskID: "task-a", SpawnPanoID: "pano-1", MaxSteps: 10})
	writeTaskFile(t, dir, "b.json", models.Task{TaskID: "task-b", SpawnPanoID: "pano-2"})
	// Non-JSON files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignore me"), 0o644))

	r, err := New(dir)
	require.NoError(t, err)

	got, err := r.Get("task-a")
	require.NoError(t, err)
	assert.Equal(t, "pano-1", got.SpawnPanoID)
	assert.Equal(t, 10, got.MaxSteps)

	assert.Len(t, r.List(), 2)
}

func TestGetUnknownTaskIsNotFound(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = r.Get("nope")
	require.Error(t, err)
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestNewRejectsTaskMissingID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"description":"no id"}`), 0o644))

	_, err := New(dir)
	require.Error(t, err)
}

func TestReloadPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	require.NoError(t, err)
	assert.Empty(t, r.List())

	writeTaskFile(t, dir, "new.json", models.Task{TaskID: "fresh", SpawnPanoID: "pano-9"})
	require.NoError(t, r.Reload())

	got, err := r.Get("fresh")
	require.NoError(t, err)
	assert.Equal(t, "pano-9", got.SpawnPanoID)
}
