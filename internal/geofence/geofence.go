// Package geofence implements named whitelists of panorama IDs that bound
// where a session may roam.
package geofence

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/jcom-dev/vlnbench/internal/models"
)

// Set holds one named whitelist → set<panoId> snapshot.
type Set map[string]map[string]struct{}

// Geofence answers membership and filtering queries against the current
// snapshot. Reload replaces the snapshot atomically so readers never see a
// torn load.
type Geofence struct {
	path     string
	snapshot atomic.Pointer[Set]
	mu       sync.Mutex // serializes reloads; reads are lock-free
}

// New loads path (a JSON object of `{name: [panoId, ...]}`) and returns a
// ready Geofence. A missing file is not an error: it yields an empty
// snapshot, under which every name is absent and therefore permissive.
func New(path string) (*Geofence, error) {
	g := &Geofence{path: path}
	if err := g.Reload(); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload re-reads the backing file and swaps the snapshot in atomically.
func (g *Geofence) Reload() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	raw, err := os.ReadFile(g.path)
	if os.IsNotExist(err) {
		empty := Set{}
		g.snapshot.Store(&empty)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read geofence config: %w", err)
	}

	var parsed map[string][]string
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode geofence config: %w", err)
	}

	next := make(Set, len(parsed))
	for name, ids := range parsed {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		next[name] = set
	}
	g.snapshot.Store(&next)
	return nil
}

// IsAllowed reports whether panoID belongs to the named whitelist. An
// unknown name is permissive (allows everything).
func (g *Geofence) IsAllowed(name, panoID string) bool {
	if name == "" {
		return true
	}
	snap := *g.snapshot.Load()
	set, ok := snap[name]
	if !ok {
		return true
	}
	_, in := set[panoID]
	return in
}

// FilterLinks drops links whose target falls outside the named geofence.
func (g *Geofence) FilterLinks(name string, links []models.Link) []models.Link {
	if name == "" {
		return links
	}
	snap := *g.snapshot.Load()
	set, ok := snap[name]
	if !ok {
		return links
	}

	out := make([]models.Link, 0, len(links))
	for _, l := range links {
		if _, in := set[l.TargetPanoID]; in {
			out = append(out, l)
		}
	}
	return out
}

// Names returns every whitelist name currently loaded, used by the preload
// orchestrator to validate a requested geofence exists.
func (g *Geofence) Names() []string {
	snap := *g.snapshot.Load()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	return names
}

// PanoIDs returns the member panorama IDs of a named whitelist, used by the
// preload orchestrator to enumerate its fan-out.
func (g *Geofence) PanoIDs(name string) []string {
	snap := *g.snapshot.Load()
	set, ok := snap[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
