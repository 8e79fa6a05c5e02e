package viewer

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/banshee-data/cellglm/internal/monitoring"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events streaming through the wrapper.
func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusLevel(statusCode int) zerolog.Level {
	switch {
	case statusCode >= 500:
		return zerolog.ErrorLevel
	case statusCode >= 400:
		return zerolog.WarnLevel
	default:
		return zerolog.DebugLevel
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		httpRequests.WithLabelValues(strconv.Itoa(lrw.statusCode)).Inc()
		monitoring.Log().WithLevel(statusLevel(lrw.statusCode)).
			Int("status", lrw.statusCode).
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Float64("ms", float64(time.Since(start).Nanoseconds())/1e6).
			Msg("http")
	})
}
