package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/brightloom/transcriptor/internal/common"
)

// responseWriter wraps http.ResponseWriter to capture the status code for
// the access log line.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// recoveryMiddleware catches panics and returns 500.
func recoveryMiddleware(logger *common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Str("panic", fmt.Sprintf("%v", rec)).
						Str("path", r.URL.Path).
						Msg("panic recovered in http handler")
					WriteError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// correlationIDMiddleware extracts or generates a correlation ID, echoed
// back in the X-Correlation-ID response header, from which
// loggingMiddleware adds it to the request's access log line.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get("X-Request-ID")
		if corrID == "" {
			corrID = uuid.New().String()[:8]
		}
		w.Header().Set("X-Correlation-ID", corrID)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(logger *common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			event := logger.Trace()
			if rw.statusCode >= 500 {
				event = logger.Error()
			} else if rw.statusCode >= 400 {
				event = logger.Info()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.statusCode).
				Dur("duration", time.Since(start)).
				Str("correlation_id", w.Header().Get("X-Correlation-ID")).
				Msg("http request")
		})
	}
}

// ownerContextMiddleware reads the X-Owner-Id header set by the external
// auth collaborator (SPEC_FULL.md §15 — identity resolution is out of
// core scope; this is the stand-in boundary) into request context.
func ownerContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get("X-Owner-Id")
		if ownerID != "" {
			r = r.WithContext(common.WithOwnerID(r.Context(), ownerID))
		}
		next.ServeHTTP(w, r)
	})
}

// applyMiddleware wraps handler with the middleware stack. Applied in
// reverse order — last applied runs first.
func applyMiddleware(handler http.Handler, logger *common.Logger) http.Handler {
	handler = loggingMiddleware(logger)(handler)
	handler = correlationIDMiddleware(handler)
	handler = ownerContextMiddleware(handler)
	handler = recoveryMiddleware(logger)(handler)
	return handler
}
