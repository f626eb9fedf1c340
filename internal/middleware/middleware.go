// Package middleware provides the chi middleware chain: request logging,
// panic recovery, real-IP resolution, timeouts, and security headers.
package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SlowRequestThreshold marks a request as slow enough to log at WARN.
const SlowRequestThreshold = 250 * time.Millisecond

// sessionIDFromRoute returns the {id} route param chi resolved for this
// request (session-scoped endpoints only), or "" for routes without one.
// It must be read after next.ServeHTTP has run: chi populates the route
// context as the mux walks the tree inside the handler chain.
func sessionIDFromRoute(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"remote_addr", r.RemoteAddr,
		}
		if sessionID := sessionIDFromRoute(r); sessionID != "" {
			fields = append(fields, "session_id", sessionID)
		}

		if duration > SlowRequestThreshold {
			slog.Warn("slow request", append(fields, "duration_ms", duration.Milliseconds())...)
		} else {
			slog.Info("http request", append(fields, "duration", duration)...)
		}
	})
}

// RequestID wraps chi's RequestID middleware.
func RequestID(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

// Recoverer recovers from panics and returns a 500 error.
func Recoverer(next http.Handler) http.Handler {
	return middleware.Recoverer(next)
}

// RealIP sets RemoteAddr to the real client IP from forwarding headers.
func RealIP(next http.Handler) http.Handler {
	return middleware.RealIP(next)
}

// Timeout bounds how long a request's context stays alive. Action and
// preload handlers rely on this to bound a single step's suspension points;
// every external call must carry an explicit deadline.
func Timeout(timeout time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContentType forces the given Content-Type on every response.
func ContentType(contentType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders adds standard defensive headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		next.ServeHTTP(w, r)
	})
}

// LogFailedRequestBodies logs request bodies for 4xx/5xx responses to
// bodied methods, truncated to keep logs bounded.
func LogFailedRequestBodies(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
			next.ServeHTTP(w, r)
			return
		}

		var bodyBytes []byte
		if r.Body != nil {
			bodyBytes, _ = io.ReadAll(r.Body)
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if status := ww.Status(); status >= 400 {
			bodyStr := string(bodyBytes)
			if len(bodyStr) > 1000 {
				bodyStr = bodyStr[:1000] + "... (truncated)"
			}
			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"body", bodyStr,
			}
			if sessionID := sessionIDFromRoute(r); sessionID != "" {
				fields = append(fields, "session_id", sessionID)
			}
			slog.Error("failed request body", fields...)
		}
	})
}
