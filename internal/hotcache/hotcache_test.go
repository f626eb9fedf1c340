package hotcache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcom-dev/vlnbench/internal/models"
)

func newTestHotCache(t *testing.T) *HotCache {
	t.Helper()
	mr := miniredis.RunT(t)
	h, err := New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestEmptyURLDisablesHotCache(t *testing.T) {
	h, err := New("")
	require.NoError(t, err)
	assert.False(t, h.Enabled())

	got, err := h.GetMetadata(context.Background(), "pano-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnreachableURLReturnsError(t *testing.T) {
	_, err := New("redis://127.0.0.1:1")
	assert.Error(t, err)
}

func TestMetadataRoundTrip(t *testing.T) {
	h := newTestHotCache(t)
	assert.True(t, h.Enabled())
	ctx := context.Background()

	got, err := h.GetMetadata(ctx, "pano-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	meta := &models.PanoramaMetadata{PanoID: "pano-1", Lat: 1, Lng: 2, CenterHeading: 30}
	h.SetMetadata(ctx, meta)

	got, err = h.GetMetadata(ctx, "pano-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, meta.Lat, got.Lat)
	assert.Equal(t, meta.CenterHeading, got.CenterHeading)
}

func TestLocationRoundTrip(t *testing.T) {
	h := newTestHotCache(t)
	ctx := context.Background()

	loc := models.Location{PanoID: "pano-1", Lat: 5, Lng: 6}
	h.SetLocation(ctx, loc)

	got, err := h.GetLocation(ctx, "pano-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, loc.Lat, got.Lat)
	assert.Equal(t, loc.Lng, got.Lng)
}

func TestLocationMissReturnsNilNil(t *testing.T) {
	h := newTestHotCache(t)
	got, err := h.GetLocation(context.Background(), "never-set")
	require.NoError(t, err)
	assert.Nil(t, got)
}
