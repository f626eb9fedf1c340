// Package direction turns a panorama's neighbor links into a sorted,
// stably-IDed list of available moves relative to the agent's current
// heading.
package direction

import (
	"fmt"
	"math"
	"sort"

	"github.com/jcom-dev/vlnbench/internal/models"
)

// EarthRadiusMeters is Earth's mean radius, used by the haversine distance
// calculation below.
const EarthRadiusMeters = 6371000.0

// directionTolerance (τ) is the degree window within which a relative
// heading snaps to a cardinal label instead of a quarter-label.
const directionTolerance = 10.0

// HaversineMeters computes the great-circle distance between two
// coordinates in meters.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Asin(math.Sqrt(a))
	return EarthRadiusMeters * c
}

// priority orders labels clockwise starting at "front" for stable sorting;
// within a quarter-label, the numeric offset breaks ties.
func priority(label string, relative float64) float64 {
	switch {
	case label == "front":
		return 0
	case label == "front-right":
		return relative // (τ, 90-τ)
	case label == "right":
		return 90
	case label == "right-back":
		return relative // (90+τ, 180-τ)
	case label == "back":
		return 180
	case label == "left-back":
		return relative // (180+τ, 270-τ)
	case label == "left":
		return 270
	case label == "front-left":
		return relative // (270+τ, 360-τ)
	default:
		return 360
	}
}

// classify returns the direction label for a relative heading in [0,360).
func classify(relative float64) string {
	t := directionTolerance
	switch {
	case math.Abs(relative-0) <= t || math.Abs(relative-360) <= t:
		return "front"
	case math.Abs(relative-90) <= t:
		return "right"
	case math.Abs(relative-180) <= t:
		return "back"
	case math.Abs(relative-270) <= t:
		return "left"
	case relative > t && relative < 90-t:
		return "front-right"
	case relative > 90+t && relative < 180-t:
		return "right-back"
	case relative > 180+t && relative < 270-t:
		return "left-back"
	case relative > 270+t && relative < 360-t:
		return "front-left"
	default:
		// Falls in a tolerance seam due to floating point; re-classify the
		// heading rounded to the nearest whole degree rather than drop the move.
		return classify(math.Round(relative))
	}
}

// Label formats the human-readable direction string for a relative heading,
// e.g. "front", "right", "front-right 34°".
func Label(relative float64) string {
	label := classify(relative)
	switch label {
	case "front", "right", "back", "left":
		return label
	case "front-right":
		return fmt.Sprintf("front-right %d°", int(math.Round(relative)))
	case "right-back":
		return fmt.Sprintf("right-back %d°", int(math.Round(relative-90)))
	case "left-back":
		return fmt.Sprintf("left-back %d°", int(math.Round(270-relative)))
	case "front-left":
		return fmt.Sprintf("front-left %d°", int(math.Round(360-relative)))
	default:
		return label
	}
}

// BuildMoves turns links into a sorted, 1-based-ID'd list of available
// moves relative to heading H at (lat, lng), resolving neighbor distances
// from the batch-loaded locations map. Links whose target has no resolved
// location are skipped (dangling edge; metadata for that neighbor has not
// been fetched yet).
func BuildMoves(links []models.Link, heading, lat, lng float64, locations map[string]models.Location) []models.Move {
	type scored struct {
		move     models.Move
		priority float64
	}

	candidates := make([]scored, 0, len(links))
	for _, link := range links {
		loc, ok := locations[link.TargetPanoID]
		if !ok {
			continue
		}
		relative := math.Mod(link.Heading-heading+360, 360)
		label := classify(relative)
		dist := HaversineMeters(lat, lng, loc.Lat, loc.Lng)

		candidates = append(candidates, scored{
			move: models.Move{
				Direction: Label(relative),
				Distance:  &dist,
				Heading:   link.Heading,
				PanoID:    link.TargetPanoID,
			},
			priority: priority(label, relative),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority < candidates[j].priority
	})

	moves := make([]models.Move, len(candidates))
	for i, c := range candidates {
		c.move.ID = i + 1
		moves[i] = c.move
	}
	return moves
}
