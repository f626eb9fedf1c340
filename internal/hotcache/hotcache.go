// Package hotcache is the optional "hot tier" of the multi-tier cache: a
// Redis client sitting in front of internal/cachestore's SQLite tier. It
// is a no-op when REDIS_URL is unset; when the server is unreachable, New
// returns an error and the caller may run without the hot tier.
package hotcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcom-dev/vlnbench/internal/models"
)

// Default TTLs for the hot tier; the durable SQLite tier has no expiry.
const (
	MetadataTTL = 1 * time.Hour
	LocationTTL = 24 * time.Hour
)

// HotCache wraps a Redis client. A HotCache with client == nil (as returned
// by New("")) is valid and behaves as an always-miss cache; a nil *HotCache
// is not, since its methods read h.client.
type HotCache struct {
	client *redis.Client
}

// New connects to redisURL. An empty URL disables the hot tier entirely; a
// non-empty URL that fails to connect returns an error so the caller can
// decide whether to run without it.
func New(redisURL string) (*HotCache, error) {
	if redisURL == "" {
		slog.Info("hot cache disabled: REDIS_URL not set")
		return &HotCache{}, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	slog.Info("hot cache connected", "host", opt.Addr)
	return &HotCache{client: client}, nil
}

// Close closes the underlying Redis connection, if any.
func (h *HotCache) Close() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}

func metadataKey(panoID string) string { return fmt.Sprintf("meta:%s", panoID) }
func locationKey(panoID string) string { return fmt.Sprintf("loc:%s", panoID) }

// GetMetadata returns (nil, nil) on a miss or when the hot tier is disabled.
func (h *HotCache) GetMetadata(ctx context.Context, panoID string) (*models.PanoramaMetadata, error) {
	if h.client == nil {
		return nil, nil
	}
	data, err := h.client.Get(ctx, metadataKey(panoID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		slog.Warn("hot cache get error", "pano_id", panoID, "error", err)
		return nil, nil // degrade to miss rather than fail the request
	}
	var m models.PanoramaMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode cached metadata: %w", err)
	}
	return &m, nil
}

// SetMetadata is a best-effort write; failures are logged, never returned,
// since the SQLite tier remains the source of truth.
func (h *HotCache) SetMetadata(ctx context.Context, m *models.PanoramaMetadata) {
	if h.client == nil {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		slog.Warn("hot cache encode error", "pano_id", m.PanoID, "error", err)
		return
	}
	if err := h.client.Set(ctx, metadataKey(m.PanoID), data, MetadataTTL).Err(); err != nil {
		slog.Warn("hot cache set error", "pano_id", m.PanoID, "error", err)
	}
}

// GetLocation returns (nil, nil) on a miss or when disabled.
func (h *HotCache) GetLocation(ctx context.Context, panoID string) (*models.Location, error) {
	if h.client == nil {
		return nil, nil
	}
	data, err := h.client.Get(ctx, locationKey(panoID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		slog.Warn("hot cache get error", "pano_id", panoID, "error", err)
		return nil, nil
	}
	var loc models.Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return nil, fmt.Errorf("decode cached location: %w", err)
	}
	return &loc, nil
}

// SetLocation is a best-effort write.
func (h *HotCache) SetLocation(ctx context.Context, loc models.Location) {
	if h.client == nil {
		return
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return
	}
	if err := h.client.Set(ctx, locationKey(loc.PanoID), data, LocationTTL).Err(); err != nil {
		slog.Warn("hot cache set error", "pano_id", loc.PanoID, "error", err)
	}
}

// Enabled reports whether a live Redis connection backs this cache.
func (h *HotCache) Enabled() bool { return h.client != nil }
