package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Morstis/hasura-auth/internal/pkg/metrics"
)

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// LogRequest logs served requests through slog and records HTTP metrics.
// Health and metrics scrapes are skipped to keep the log readable.
func LogRequest(next http.Handler) http.Handler {
	log := slog.Default().With(slog.String("component", "http"))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		metrics.HTTPActiveRequests.Inc()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // default if WriteHeader not called
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		metrics.HTTPActiveRequests.Dec()
		metrics.RecordHTTPRequest(r.Method, routeTemplate(r), wrapped.statusCode, duration)

		attrs := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			slog.Int64("duration_ms", duration.Milliseconds()),
			slog.Int64("bytes", wrapped.written),
			slog.String("client_ip", clientIP(r)),
			slog.String("user_agent", r.UserAgent()),
		}

		if wrapped.statusCode >= 500 {
			log.Error("request failed", attrs...)
		} else {
			log.Info("request served", attrs...)
		}
	})
}

// routeTemplate returns the mux route pattern for metric labels. The raw path
// would make cardinality unbounded; the template keeps it one label per route.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// clientIP returns the originating address, honoring proxy headers
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
