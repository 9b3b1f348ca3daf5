package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fluxion/voice-agent/pkg/logging"
)

// RequestLogger logs one line per request with its status and duration.
// It expects chi's RequestID middleware to run first. Health and metrics
// probes are logged at debug level.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"request_id", chimw.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("request completed", args...)
			case r.URL.Path == "/health" || r.URL.Path == "/metrics":
				logger.Debug("request completed", args...)
			default:
				logger.Info("request completed", args...)
			}
		})
	}
}
