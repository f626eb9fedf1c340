// Package config loads the runtime's configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully-resolved runtime configuration, loaded once at
// startup in cmd/api/main.go and passed by value/pointer to constructors.
type Config struct {
	Server   ServerConfig
	CORS     CORSConfig
	Provider ProviderConfig
	Data     DataConfig
}

type ServerConfig struct {
	Host        string
	Port        string
	Environment string
	Debug       bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

// ProviderConfig controls the MapProvider's concurrency and retry behavior.
type ProviderConfig struct {
	APIKey          string
	PanoramaSlots   int
	TileSlots       int
	BrowserWorkers  int
	MaxRetries      int
	RequestTimeout  time.Duration
	TokenRefreshBuf time.Duration
	ZoomLevel       int
}

// DataConfig locates the runtime's on-disk and Redis-backed state.
type DataConfig struct {
	DataDir      string // base dir: cache.db, panoramas/
	TempImageDir string // temp_images/<sessionId>/step_<N>.jpg
	LogDir       string // logs/<sessionId>.jsonl
	GeofenceFile string // config/geofence_config.json
	TasksDir     string // directory of task JSON files
	RedisURL     string // optional hot-cache tier; empty disables it
}

// Load reads configuration from the environment, loading a .env file first
// if one is present (errors loading .env are non-fatal, matching local-dev
// conventions where no .env file exists in production).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	zoom, err := strconv.Atoi(getenv("PANORAMA_ZOOM_LEVEL", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid PANORAMA_ZOOM_LEVEL: %w", err)
	}

	panoramaSlots, err := strconv.Atoi(getenv("PANORAMA_SLOTS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid PANORAMA_SLOTS: %w", err)
	}
	tileSlots, err := strconv.Atoi(getenv("TILE_SLOTS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid TILE_SLOTS: %w", err)
	}
	browserWorkers, err := strconv.Atoi(getenv("BROWSER_WORKERS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid BROWSER_WORKERS: %w", err)
	}
	maxRetries, err := strconv.Atoi(getenv("MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_RETRIES: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getenv("HOST", "0.0.0.0"),
			Port:        getenv("PORT", "8080"),
			Environment: getenv("ENVIRONMENT", "development"),
			Debug:       getenv("DEBUG", "false") == "true",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{getenv("CORS_ORIGIN", "*")},
		},
		Provider: ProviderConfig{
			APIKey:          os.Getenv("GOOGLE_API_KEY"),
			PanoramaSlots:   panoramaSlots,
			TileSlots:       tileSlots,
			BrowserWorkers:  browserWorkers,
			MaxRetries:      maxRetries,
			RequestTimeout:  10 * time.Second,
			TokenRefreshBuf: 30 * time.Second,
			ZoomLevel:       zoom,
		},
		Data: DataConfig{
			DataDir:      getenv("DATA_DIR", "./data"),
			TempImageDir: getenv("TEMP_IMAGE_DIR", "./temp_images"),
			LogDir:       getenv("LOG_DIR", "./logs"),
			GeofenceFile: getenv("GEOFENCE_CONFIG", "./config/geofence_config.json"),
			TasksDir:     getenv("TASKS_DIR", "./config/tasks"),
			RedisURL:     os.Getenv("REDIS_URL"),
		},
	}

	if cfg.Provider.APIKey == "" {
		slog.Warn("GOOGLE_API_KEY not set - map provider calls will fail")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
