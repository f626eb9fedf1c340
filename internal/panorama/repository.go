// Package panorama is the single entry point for "give me panorama P at
// zoom Z" and "give me P's metadata", combining Cache + MapProvider +
// Stitcher into idempotent, at-most-once operations.
package panorama

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jcom-dev/vlnbench/internal/apierr"
	"github.com/jcom-dev/vlnbench/internal/hotcache"
	"github.com/jcom-dev/vlnbench/internal/mapprovider"
	"github.com/jcom-dev/vlnbench/internal/metrics"
	"github.com/jcom-dev/vlnbench/internal/models"
)

// Cache is the subset of cachestore.Store the repository depends on.
type Cache interface {
	HasMetadata(panoID string) (bool, error)
	GetMetadata(panoID string) (*models.PanoramaMetadata, error)
	PutMetadata(m *models.PanoramaMetadata) error
	GetImagePath(panoID string, zoom int) (string, error)
	PutImage(panoID string, zoom int, path string) error
	ImagesDir() string
}

// GeofenceFilter is the subset of internal/geofence the repository depends
// on for getLinksFiltered.
type GeofenceFilter interface {
	FilterLinks(name string, links []models.Link) []models.Link
}

// TileBuilder is the subset of internal/tiles the repository depends on.
type TileBuilder interface {
	Build(ctx context.Context, panoID string, zoom int, destPath string) error
}

// MetadataFetcher is the subset of internal/mapprovider the repository
// depends on for cache-miss metadata resolution.
type MetadataFetcher interface {
	FetchBasicMetadata(ctx context.Context, panoID string) (*models.PanoramaMetadata, error)
	FetchLinks(ctx context.Context, panoID string) ([]models.Link, float64, error)
}

// Repository is the PanoramaRepository component.
type Repository struct {
	cache    Cache
	hot      *hotcache.HotCache
	provider MetadataFetcher
	slots    *mapAcquirer
	stitcher TileBuilder
	geofence GeofenceFilter

	// sf collapses concurrent builders of the same key into one in-flight
	// call; everyone else waits on its result (spec's at-most-once rule).
	sf singleflight.Group

	// keyLocks serializes callers of the same key in-process and makes the
	// "recheck cache after acquiring the lock" step explicit
	// and easy to reason about independently of singleflight's internals.
	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex
}

// mapAcquirer narrows mapprovider's semaphore.Weighted to the two methods
// the repository needs, so tests can supply plain acquire/release funcs.
type mapAcquirer struct {
	acquire func(ctx context.Context) error
	release func()
}

// New builds a Repository wired to its collaborators.
func New(cache Cache, hot *hotcache.HotCache, provider *mapprovider.Provider, stitcher TileBuilder, geofence GeofenceFilter) *Repository {
	return &Repository{
		cache:    cache,
		hot:      hot,
		provider: provider,
		stitcher: stitcher,
		geofence: geofence,
		keyLocks: make(map[string]*sync.Mutex),
		slots: &mapAcquirer{
			acquire: func(ctx context.Context) error { return provider.PanoramaSlots.Acquire(ctx, 1) },
			release: func() { provider.PanoramaSlots.Release(1) },
		},
	}
}

func (r *Repository) lockFor(key string) *sync.Mutex {
	r.keyLocksMu.Lock()
	defer r.keyLocksMu.Unlock()
	l, ok := r.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		r.keyLocks[key] = l
	}
	return l
}

// GetImage returns the on-disk path to panoID's image at zoom, building it
// at most once across concurrent callers.
func (r *Repository) GetImage(ctx context.Context, panoID string, zoom int) (string, error) {
	key := fmt.Sprintf("%s:%d", panoID, zoom)

	if path, err := r.cache.GetImagePath(panoID, zoom); err != nil {
		return "", fmt.Errorf("check image cache: %w", err)
	} else if path != "" {
		metrics.PanoramaCacheResult.WithLabelValues("sqlite_image", "hit").Inc()
		return path, nil
	}

	lock := r.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	// Recheck: a waiter that arrived while the build was in flight observes
	// the finished file instead of starting a duplicate stitch.
	if path, err := r.cache.GetImagePath(panoID, zoom); err != nil {
		return "", fmt.Errorf("recheck image cache: %w", err)
	} else if path != "" {
		return path, nil
	}

	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		if err := r.slots.acquire(ctx); err != nil {
			return nil, err
		}
		defer r.slots.release()

		destPath := filepath.Join(r.cache.ImagesDir(), fmt.Sprintf("%s_z%d.jpg", panoID, zoom))
		if err := r.stitcher.Build(ctx, panoID, zoom, destPath); err != nil {
			return nil, err
		}
		if err := r.cache.PutImage(panoID, zoom, destPath); err != nil {
			return nil, fmt.Errorf("index built image: %w", err)
		}
		metrics.PanoramaCacheResult.WithLabelValues("sqlite_image", "miss_built").Inc()
		return destPath, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GetMetadata returns panoID's metadata, resolving via the map provider on
// a cache miss and persisting the normalized result. Concurrent misses for
// the same panoID collapse into one upstream fetch.
func (r *Repository) GetMetadata(ctx context.Context, panoID string) (*models.PanoramaMetadata, error) {
	if r.hot != nil {
		if m, err := r.hot.GetMetadata(ctx, panoID); err == nil && m != nil {
			metrics.PanoramaCacheResult.WithLabelValues("hot", "hit").Inc()
			return m, nil
		}
	}

	if m, err := r.cache.GetMetadata(panoID); err != nil {
		return nil, fmt.Errorf("check metadata cache: %w", err)
	} else if m != nil {
		metrics.PanoramaCacheResult.WithLabelValues("sqlite_metadata", "hit").Inc()
		if r.hot != nil {
			r.hot.SetMetadata(ctx, m)
		}
		return m, nil
	}

	key := "meta:" + panoID
	lock := r.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if m, err := r.cache.GetMetadata(panoID); err != nil {
		return nil, fmt.Errorf("recheck metadata cache: %w", err)
	} else if m != nil {
		return m, nil
	}

	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		basic, err := r.provider.FetchBasicMetadata(ctx, panoID)
		if err != nil {
			return nil, err
		}
		links, centerHeading, err := r.provider.FetchLinks(ctx, panoID)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			if l.Heading < 0 || l.Heading >= 360 {
				slog.Error("link heading outside [0,360), rejecting metadata",
					"pano_id", panoID, "target_pano_id", l.TargetPanoID, "heading", l.Heading)
				return nil, apierr.Internalf(nil, "link %s of %s has heading %v outside [0,360)", l.TargetPanoID, panoID, l.Heading)
			}
		}

		m := &models.PanoramaMetadata{
			PanoID:        panoID,
			Lat:           basic.Lat,
			Lng:           basic.Lng,
			CaptureDate:   basic.CaptureDate,
			CenterHeading: centerHeading,
			Links:         links,
		}
		if err := r.cache.PutMetadata(m); err != nil {
			return nil, fmt.Errorf("persist metadata: %w", err)
		}
		metrics.PanoramaCacheResult.WithLabelValues("sqlite_metadata", "miss_fetched").Inc()
		return m, nil
	})
	if err != nil {
		if apierr.KindOf(err) == apierr.Internal {
			return nil, apierr.Unavailablef(err, "resolve metadata for %s", panoID)
		}
		return nil, err
	}

	m := v.(*models.PanoramaMetadata)
	if r.hot != nil {
		r.hot.SetMetadata(ctx, m)
	}
	return m, nil
}

// GetLinksFiltered resolves panoID's metadata and restricts its links to
// the named geofence (a convenience composition; absent geofence is
// permissive per internal/geofence's rules).
func (r *Repository) GetLinksFiltered(ctx context.Context, panoID, geofenceName string) ([]models.Link, error) {
	m, err := r.GetMetadata(ctx, panoID)
	if err != nil {
		return nil, err
	}
	if r.geofence == nil || geofenceName == "" {
		return m.Links, nil
	}
	return r.geofence.FilterLinks(geofenceName, m.Links), nil
}
