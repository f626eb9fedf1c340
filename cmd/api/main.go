// Command api runs the VLN benchmarking runtime's HTTP server: session
// lifecycle, the action state machine, panorama tile fetch/stitch/render,
// and preload control.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jcom-dev/vlnbench/internal/action"
	"github.com/jcom-dev/vlnbench/internal/cachestore"
	"github.com/jcom-dev/vlnbench/internal/config"
	"github.com/jcom-dev/vlnbench/internal/geofence"
	"github.com/jcom-dev/vlnbench/internal/handlers"
	"github.com/jcom-dev/vlnbench/internal/hotcache"
	"github.com/jcom-dev/vlnbench/internal/mapprovider"
	"github.com/jcom-dev/vlnbench/internal/metrics"
	custommw "github.com/jcom-dev/vlnbench/internal/middleware"
	"github.com/jcom-dev/vlnbench/internal/panorama"
	"github.com/jcom-dev/vlnbench/internal/preload"
	"github.com/jcom-dev/vlnbench/internal/session"
	"github.com/jcom-dev/vlnbench/internal/task"
	"github.com/jcom-dev/vlnbench/internal/tiles"
	"github.com/jcom-dev/vlnbench/internal/trajectory"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cache, err := cachestore.Open(filepath.Join(cfg.Data.DataDir, "cache.db"), filepath.Join(cfg.Data.DataDir, "panoramas"))
	if err != nil {
		slog.Error("failed to open cache store", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	hot, err := hotcache.New(cfg.Data.RedisURL)
	if err != nil {
		slog.Warn("hot cache initialization failed, continuing without it", "error", err)
		hot, _ = hotcache.New("")
	}
	defer hot.Close()

	gf, err := geofence.New(cfg.Data.GeofenceFile)
	if err != nil {
		slog.Error("failed to load geofence config", "error", err)
		os.Exit(1)
	}

	taskRepo, err := task.New(cfg.Data.TasksDir)
	if err != nil {
		slog.Error("failed to load tasks", "error", err)
		os.Exit(1)
	}

	provider := mapprovider.New(mapprovider.Config{
		APIKey:          cfg.Provider.APIKey,
		PanoramaSlots:   cfg.Provider.PanoramaSlots,
		TileSlots:       cfg.Provider.TileSlots,
		BrowserWorkers:  cfg.Provider.BrowserWorkers,
		MaxRetries:      cfg.Provider.MaxRetries,
		RequestTimeout:  cfg.Provider.RequestTimeout,
		TokenRefreshBuf: cfg.Provider.TokenRefreshBuf,
	})
	defer provider.Shutdown()

	stitcher := tiles.NewFromProvider(provider)
	panoRepo := panorama.New(cache, hot, provider, stitcher, gf)

	traj := trajectory.New(cfg.Data.LogDir)

	sessions := session.New(cache, taskRepo)

	executor := action.New(sessions, taskRepo, panoRepo, gf, traj, action.Config{
		TempImageDir: cfg.Data.TempImageDir,
		ZoomLevel:    cfg.Provider.ZoomLevel,
	})

	preloadOrch := preload.New(panoRepo, preload.DefaultConcurrency)

	h := &handlers.Handlers{
		Sessions:  sessions,
		Tasks:     taskRepo,
		Panoramas: panoRepo,
		Executor:  executor,
		Geofence:  gf,
		Preload:   preloadOrch,
		LogDir:    cfg.Data.LogDir,
		ZoomLevel: cfg.Provider.ZoomLevel,
	}

	r := chi.NewRouter()
	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)
	r.Use(custommw.LogFailedRequestBodies)
	r.Use(custommw.Logger)
	r.Use(custommw.Recoverer)
	r.Use(custommw.Timeout(30 * time.Second))
	r.Use(custommw.SecurityHeaders)
	r.Use(metrics.HTTPMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/", func(r chi.Router) {
		r.Use(custommw.ContentType("application/json"))
		h.Routes(r)
	})

	r.Handle("/temp_images/*", http.StripPrefix("/temp_images", http.FileServer(http.Dir(cfg.Data.TempImageDir))))
	r.Handle("/data/panoramas/*", http.StripPrefix("/data/panoramas", http.FileServer(http.Dir(filepath.Join(cfg.Data.DataDir, "panoramas")))))

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", srv.Addr, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server exited")
}
