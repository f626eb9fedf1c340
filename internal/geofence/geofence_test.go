package geofence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcom-dev/vlnbench/internal/models"
)

func writeConfig(t *testing.T, dir string, data map[string][]string) string {
	t.Helper()
	path := filepath.Join(dir, "geofence.json")
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestNewMissingFileIsPermissive(t *testing.T) {
	g, err := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)

	assert.True(t, g.IsAllowed("any-name", "any-pano"))
	assert.Empty(t, g.Names())
}

func TestIsAllowedMembership(t *testing.T) {
	path := writeConfig(t, t.TempDir(), map[string][]string{
		"downtown": {"pano-1", "pano-2"},
	})
	g, err := New(path)
	require.NoError(t, err)

	assert.True(t, g.IsAllowed("downtown", "pano-1"))
	assert.False(t, g.IsAllowed("downtown", "pano-9"))
	// Unknown geofence name is permissive.
	assert.True(t, g.IsAllowed("unknown-geofence", "pano-9"))
	// Empty name is permissive (no geofence restriction on the task).
	assert.True(t, g.IsAllowed("", "pano-9"))
}

func TestFilterLinksDropsOutsideGeofence(t *testing.T) {
	path := writeConfig(t, t.TempDir(), map[string][]string{
		"downtown": {"pano-1"},
	})
	g, err := New(path)
	require.NoError(t, err)

	links := []models.Link{
		{TargetPanoID: "pano-1", Heading: 0},
		{TargetPanoID: "pano-2", Heading: 90},
	}
	filtered := g.FilterLinks("downtown", links)
	require.Len(t, filtered, 1)
	assert.Equal(t, "pano-1", filtered[0].TargetPanoID)
}

func TestPanoIDsAndNames(t *testing.T) {
	path := writeConfig(t, t.TempDir(), map[string][]string{
		"downtown": {"pano-1", "pano-2"},
		"suburb":   {"pano-3"},
	})
	g, err := New(path)
	require.NoError(t, err)

	names := g.Names()
	sort.Strings(names)
	assert.Equal(t, []string{"downtown", "suburb"}, names)

	ids := g.PanoIDs("downtown")
	sort.Strings(ids)
	assert.Equal(t, []string{"pano-1", "pano-2"}, ids)

	assert.Nil(t, g.PanoIDs("missing"))
}

func TestReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string][]string{"downtown": {"pano-1"}})
	g, err := New(path)
	require.NoError(t, err)
	assert.True(t, g.IsAllowed("downtown", "pano-1"))

	require.NoError(t, os.WriteFile(path, []byte(`{"downtown":["pano-2"]}`), 0o644))
	require.NoError(t, g.Reload())

	assert.False(t, g.IsAllowed("downtown", "pano-1"))
	assert.True(t, g.IsAllowed("downtown", "pano-2"))
}
