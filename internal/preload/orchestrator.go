// Package preload implements bulk, bounded-parallel warm-up of
// metadata+image for a named whitelist of panorama IDs, with in-memory
// progress reporting.
package preload

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jcom-dev/vlnbench/internal/models"
)

// DefaultConcurrency bounds simultaneous per-pano preload tasks.
const DefaultConcurrency = 12

// Status is the phase of a progress record.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Progress is one whitelist's preload status.
type Progress struct {
	Status     Status `json:"status"`
	Done       int    `json:"done"`
	Total      int    `json:"total"`
	Percentage float64 `json:"percentage"`
	Errors     int    `json:"errors"`
}

// Panoramas is the subset of internal/panorama the orchestrator depends on.
type Panoramas interface {
	GetMetadata(ctx context.Context, panoID string) (*models.PanoramaMetadata, error)
	GetImage(ctx context.Context, panoID string, zoom int) (string, error)
}

// Orchestrator is the PreloadOrchestrator component.
type Orchestrator struct {
	panoramas   Panoramas
	concurrency int

	mu       sync.Mutex
	progress map[string]*Progress
}

// New builds an Orchestrator wired to a PanoramaRepository.
func New(panoramas Panoramas, concurrency int) *Orchestrator {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		panoramas:   panoramas,
		concurrency: concurrency,
		progress:    make(map[string]*Progress),
	}
}

// Start launches a preload run for name over panoIDs at zoom, returning
// immediately; progress is polled via Status. Calling Start again for a
// name already in_progress is a no-op.
func (o *Orchestrator) Start(name string, panoIDs []string, zoom int) {
	o.mu.Lock()
	if p, ok := o.progress[name]; ok && p.Status == StatusInProgress {
		o.mu.Unlock()
		return
	}
	o.progress[name] = &Progress{Status: StatusInProgress, Total: len(panoIDs)}
	o.mu.Unlock()

	go o.run(name, panoIDs, zoom)
}

func (o *Orchestrator) run(name string, panoIDs []string, zoom int) {
	var done, errs int64

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)

	for _, panoID := range panoIDs {
		panoID := panoID
		g.Go(func() error {
			ctx := context.Background()
			ok := true
			if _, err := o.panoramas.GetMetadata(ctx, panoID); err != nil {
				slog.Warn("preload metadata failed", "pano_id", panoID, "error", err)
				ok = false
			}
			if ok {
				if _, err := o.panoramas.GetImage(ctx, panoID, zoom); err != nil {
					slog.Warn("preload image failed", "pano_id", panoID, "error", err)
					ok = false
				}
			}
			if !ok {
				atomic.AddInt64(&errs, 1)
			}

			n := int(atomic.AddInt64(&done, 1))
			o.mu.Lock()
			if p, exists := o.progress[name]; exists && n > p.Done {
				p.Done = n
				p.Errors = int(atomic.LoadInt64(&errs))
				p.Percentage = 100 * float64(p.Done) / float64(maxInt(p.Total, 1))
			}
			o.mu.Unlock()
			return nil // individual errors are counted, not fatal
		})
	}
	_ = g.Wait()

	o.mu.Lock()
	if p, exists := o.progress[name]; exists {
		p.Status = StatusCompleted
	}
	o.mu.Unlock()
}

// Status returns the current progress for name, or a not_started record if
// no run has ever been started for it.
func (o *Orchestrator) Status(name string) Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.progress[name]; ok {
		return *p
	}
	return Progress{Status: StatusNotStarted}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
