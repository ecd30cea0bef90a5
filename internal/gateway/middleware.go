// ABOUTME: Request logging middleware for the API listener.
// ABOUTME: Records method, path, a truncated authorization header and the response status.

package gateway

import (
	"net/http"
	"time"
)

// maxLoggedAuth is how much of the Authorization header reaches the log.
const maxLoggedAuth = 50

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Flush keeps SSE streaming working through the wrapper.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			attrs = append(attrs, "authorization", truncate(auth, maxLoggedAuth))
		}
		if r.URL.Path == "/health" || r.URL.Path == "/health/ready" {
			g.logger.Debug("http request", attrs...)
			return
		}
		g.logger.Info("http request", attrs...)
	})
}
