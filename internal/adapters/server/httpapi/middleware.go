package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/hylla/taskgate/internal/adapters/auth"
	"github.com/hylla/taskgate/internal/adapters/server/common"
	"github.com/hylla/taskgate/internal/app"
)

// RequestIDHeader carries the per-request id back to the caller.
const RequestIDHeader = "X-Request-Id"

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs every request with method, path, status, duration and request id.
func RequestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			logger.Info("request",
				"method", r.Method,
				"path", normalizePath(r.URL.Path),
				"status", rw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestID,
			)
		})
	}
}

// Authenticate resolves the bearer token into the request principal. Missing
// or invalid tokens get 401. Unknown accounts pass through as inactive principals.
func Authenticate(authenticator common.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authenticator == nil {
				writeErrorFrom(w, common.ErrUnauthenticated)
				return
			}
			token, err := auth.BearerToken(r)
			if err != nil {
				writeErrorFrom(w, errors.Join(common.ErrUnauthenticated, err))
				return
			}
			principal, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				writeErrorFrom(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(app.WithPrincipal(r.Context(), principal)))
		})
	}
}
