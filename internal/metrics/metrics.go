// Package metrics registers the runtime's Prometheus collectors: HTTP
// request counts/latency and per-component latency histograms for the
// slow paths (tile fetch, frame render, action apply).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlnbench_http_requests_total",
		Help: "Total HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vlnbench_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	TileFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vlnbench_tile_fetch_duration_seconds",
		Help:    "Latency of a single map-tile fetch against the upstream provider.",
		Buckets: prometheus.DefBuckets,
	})

	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vlnbench_render_duration_seconds",
		Help:    "Latency of projecting a perspective frame from an equirectangular panorama.",
		Buckets: prometheus.DefBuckets,
	})

	ActionApplyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vlnbench_action_apply_duration_seconds",
		Help:    "Latency of applying one session action end to end.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	PanoramaCacheResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlnbench_panorama_cache_result_total",
		Help: "Panorama metadata/image lookups by tier and outcome.",
	}, []string{"tier", "outcome"})
)

// HTTPMiddleware records per-request count and latency keyed by chi's
// matched route pattern (falling back to the raw path when unmatched, e.g.
// 404s) so cardinality stays bounded.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := routePattern(r)
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
