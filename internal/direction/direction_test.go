package direction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcom-dev/vlnbench/internal/models"
)

func TestHaversineMetersZeroDistance(t *testing.T) {
	d := HaversineMeters(37.7749, -122.4194, 37.7749, -122.4194)
	assert.InDelta(t, 0, d, 1e-6)
}

func TestHaversineMetersKnownDistance(t *testing.T) {
	// San Francisco to Oakland, roughly 13km apart.
	d := HaversineMeters(37.7749, -122.4194, 37.8044, -122.2712)
	assert.InDelta(t, 13000, d, 2000)
}

func TestLabelCardinalDirections(t *testing.T) {
	assert.Equal(t, "front", Label(0))
	assert.Equal(t, "right", Label(90))
	assert.Equal(t, "back", Label(180))
	assert.Equal(t, "left", Label(270))
	assert.Equal(t, "front", Label(360))
}

func TestLabelQuarterDirectionsIncludeDegrees(t *testing.T) {
	assert.Equal(t, "front-right 34°", Label(34))
	assert.Equal(t, "right-back 20°", Label(110))
	assert.Equal(t, "left-back 40°", Label(230))
	assert.Equal(t, "front-left 20°", Label(340))
}

func TestBuildMovesSkipsUnresolvedLinks(t *testing.T) {
	links := []models.Link{
		{TargetPanoID: "known", Heading: 90},
		{TargetPanoID: "dangling", Heading: 180},
	}
	locations := map[string]models.Location{
		"known": {PanoID: "known", Lat: 37.7750, Lng: -122.4194},
	}

	moves := BuildMoves(links, 0, 37.7749, -122.4194, locations)
	require.Len(t, moves, 1)
	assert.Equal(t, "known", moves[0].PanoID)
	assert.Equal(t, 1, moves[0].ID)
}

func TestBuildMovesSortsClockwiseFromFront(t *testing.T) {
	locations := map[string]models.Location{
		"back":  {PanoID: "back", Lat: 37.7750, Lng: -122.4194},
		"right": {PanoID: "right", Lat: 37.7751, Lng: -122.4195},
		"front": {PanoID: "front", Lat: 37.7752, Lng: -122.4196},
	}
	links := []models.Link{
		{TargetPanoID: "back", Heading: 180},
		{TargetPanoID: "right", Heading: 90},
		{TargetPanoID: "front", Heading: 0},
	}

	moves := BuildMoves(links, 0, 37.7749, -122.4194, locations)
	require.Len(t, moves, 3)
	assert.Equal(t, "front", moves[0].PanoID)
	assert.Equal(t, "right", moves[1].PanoID)
	assert.Equal(t, "back", moves[2].PanoID)
	// IDs are assigned post-sort, 1-based.
	assert.Equal(t, []int{1, 2, 3}, []int{moves[0].ID, moves[1].ID, moves[2].ID})
}

func TestBuildMovesDistanceIsPopulated(t *testing.T) {
	locations := map[string]models.Location{
		"n": {PanoID: "n", Lat: 37.8044, Lng: -122.2712},
	}
	links := []models.Link{{TargetPanoID: "n", Heading: 45}}

	moves := BuildMoves(links, 0, 37.7749, -122.4194, locations)
	require.Len(t, moves, 1)
	require.NotNil(t, moves[0].Distance)
	assert.Greater(t, *moves[0].Distance, 0.0)
}
