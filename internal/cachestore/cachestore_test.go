package cachestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcom-dev/vlnbench/internal/apierr"
	"github.com/jcom-dev/vlnbench/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "cache.db"), filepath.Join(dir, "panoramas"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.HasMetadata("pano-1")
	require.NoError(t, err)
	assert.False(t, ok)

	meta := &models.PanoramaMetadata{
		PanoID:        "pano-1",
		Lat:           37.5,
		Lng:           -122.1,
		CaptureDate:   "2024-03",
		CenterHeading: 12,
		Links:         []models.Link{{TargetPanoID: "pano-2", Heading: 90}},
		Source:        "vendor",
	}
	require.NoError(t, s.PutMetadata(meta))

	ok, err = s.HasMetadata("pano-1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetMetadata("pano-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, meta.Lat, got.Lat)
	assert.Equal(t, meta.Lng, got.Lng)
	assert.Equal(t, meta.CaptureDate, got.CaptureDate)
	assert.Equal(t, meta.Source, got.Source)
	require.Len(t, got.Links, 1)
	assert.Equal(t, "pano-2", got.Links[0].TargetPanoID)
}

func TestGetMetadataMissIsNilNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetMetadata("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPutMetadataUpsertsExistingRow(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PutMetadata(&models.PanoramaMetadata{PanoID: "pano-1", Lat: 1, Lng: 1}))
	require.NoError(t, s.PutMetadata(&models.PanoramaMetadata{PanoID: "pano-1", Lat: 2, Lng: 2}))

	got, err := s.GetMetadata("pano-1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Lat)
}

func TestGetLocationsBatchResolvesOnlyRequestedIDs(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PutMetadata(&models.PanoramaMetadata{PanoID: "a", Lat: 1, Lng: 1}))
	require.NoError(t, s.PutMetadata(&models.PanoramaMetadata{PanoID: "b", Lat: 2, Lng: 2}))
	require.NoError(t, s.PutMetadata(&models.PanoramaMetadata{PanoID: "c", Lat: 3, Lng: 3}))

	got, err := s.GetLocationsBatch([]string{"a", "c", "unknown"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1.0, got["a"].Lat)
	assert.Equal(t, 3.0, got["c"].Lat)
}

func TestGetLocationsBatchEmptyInputReturnsEmptyMap(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetLocationsBatch(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestImageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	imgPath := filepath.Join(s.ImagesDir(), "pano-1_z1.jpg")
	require.NoError(t, os.WriteFile(imgPath, []byte("fake jpeg bytes"), 0o644))
	require.NoError(t, s.PutImage("pano-1", 1, imgPath))

	ok, err := s.HasImage("pano-1", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetImagePath("pano-1", 1)
	require.NoError(t, err)
	assert.Equal(t, imgPath, got)
}

func TestImageMissingOnDiskIsTreatedAsCacheMiss(t *testing.T) {
	s := newTestStore(t)
	imgPath := filepath.Join(s.ImagesDir(), "pano-1_z1.jpg")
	require.NoError(t, os.WriteFile(imgPath, []byte("fake jpeg bytes"), 0o644))
	require.NoError(t, s.PutImage("pano-1", 1, imgPath))

	require.NoError(t, os.Remove(imgPath))

	ok, err := s.HasImage("pano-1", 1)
	require.NoError(t, err)
	assert.False(t, ok, "an indexed-but-deleted file must read back as a miss")
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	sess := &models.Session{
		SessionID: "sess-1",
		AgentID:   "agent-1",
		TaskID:    "task-1",
		Status:    models.StatusRunning,
		State:     models.State{PanoID: "pano-1"},
	}
	require.NoError(t, s.SaveSession(sess))

	got, err := s.LoadSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, sess.AgentID, got.AgentID)
	assert.Equal(t, sess.State.PanoID, got.State.PanoID)
}

func TestLoadSessionMissIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadSession("missing")
	require.Error(t, err)
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestListSessionsReturnsAllPersisted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveSession(&models.Session{SessionID: "a", AgentID: "agent", TaskID: "task"}))
	require.NoError(t, s.SaveSession(&models.Session{SessionID: "b", AgentID: "agent", TaskID: "task"}))

	got, err := s.ListSessions()
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
