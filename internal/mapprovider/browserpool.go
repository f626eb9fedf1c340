package mapprovider

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// browserPool manages a persistent headless-browser allocator used to run
// the vendor's JS SDK for neighbor-link discovery, eliminating per-request
// Chrome cold starts. A semaphore of size workers bounds how many chromedp
// contexts run concurrently; a crashed context does not taint the pool
// since each call gets its own child context.
type browserPool struct {
	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	initOnce    sync.Once
	slots       chan struct{}
	workers     int
}

func newBrowserPool(workers int) *browserPool {
	if workers < 1 {
		workers = 1
	}
	return &browserPool{
		slots:   make(chan struct{}, workers),
		workers: workers,
	}
}

func (p *browserPool) initialize() {
	p.initOnce.Do(func() {
		allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.DisableGPU,
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
		)

		chromePaths := []string{
			"/usr/bin/google-chrome",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
		var foundPath string
		for _, path := range chromePaths {
			if _, err := os.Stat(path); err == nil {
				foundPath = path
				allocatorOpts = append(allocatorOpts, chromedp.ExecPath(path))
				break
			}
		}
		if foundPath == "" {
			slog.Warn("no chrome/chromium binary found, relying on system default")
		} else {
			slog.Info("browser pool initialized", "chrome_path", foundPath, "workers", p.workers)
		}

		p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
		go p.warmup()
	})
}

func (p *browserPool) warmup() {
	ctx, cancel := chromedp.NewContext(p.allocCtx)
	defer cancel()
	ctx, cancel2 := context.WithTimeout(ctx, 30*time.Second)
	defer cancel2()
	_ = chromedp.Run(ctx, chromedp.Navigate("data:text/html,<html><body>warmup</body></html>"))
	slog.Info("browser pool warmup completed")
}

// acquire blocks for a free worker slot, then hands back a scoped context
// bound to timeout. release must be called exactly once to free the slot.
func (p *browserPool) acquire(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	p.mu.Lock()
	if p.allocCtx == nil {
		p.initialize()
	}
	allocCtx := p.allocCtx
	p.mu.Unlock()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	scopedCtx, timeoutCancel := context.WithTimeout(browserCtx, timeout)

	release := func() {
		timeoutCancel()
		browserCancel()
		<-p.slots
	}
	return scopedCtx, release, nil
}

// restart tears down the shared allocator and rebuilds it, used when a
// worker's chromedp.Run returns a crash-shaped error (closed pipe, target
// closed) rather than an ordinary navigation failure.
func (p *browserPool) restart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allocCancel != nil {
		p.allocCancel()
	}
	p.allocCtx, p.allocCancel = nil, nil
	slog.Warn("browser pool restarting after crash")
	p.initOnce = sync.Once{}
}

func (p *browserPool) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allocCancel != nil {
		p.allocCancel()
	}
}

func isCrashErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "context canceled", "target closed", "broken pipe", "connection refused", "chrome failed to start")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
