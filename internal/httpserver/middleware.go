package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/neocache/internal/telemetry"
	"github.com/wisbric/neocache/pkg/cacheerr"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// RequestID injects a unique request ID into each request's context and response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger logs every request with method, path, status, and duration.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", RequestIDFromContext(r.Context()),
			)
		})
	}
}

// Metrics records request duration to Prometheus.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		routePath := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				routePath = pattern
			}
		}

		telemetry.HTTPRequestDuration.WithLabelValues(
			r.Method,
			routePath,
			strconv.Itoa(sw.status),
		).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, code string, message string) {
	Respond(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// RespondCacheErr maps one of the pkg/cacheerr taxonomy types to its HTTP
// status and error code and writes it as the standard envelope, falling
// back to a 500 for anything it doesn't recognize. Handlers that surface a
// repository, validator, or distributor failure should prefer this over a
// hand-picked RespondError status so the mapping stays in one place.
func RespondCacheErr(w http.ResponseWriter, err error) {
	var keyInvalid *cacheerr.KeyInvalid
	var capacity *cacheerr.CapacityExceeded
	var unauthorized *cacheerr.UnauthorizedToken
	var pattern *cacheerr.InvalidPattern
	var timeout *cacheerr.Timeout

	switch {
	case errors.As(err, &keyInvalid):
		RespondError(w, http.StatusBadRequest, "invalid_key", err.Error())
	case errors.As(err, &pattern):
		RespondError(w, http.StatusBadRequest, "invalid_pattern", err.Error())
	case errors.As(err, &capacity):
		RespondError(w, http.StatusTooManyRequests, "capacity_exceeded", err.Error())
	case errors.As(err, &unauthorized):
		RespondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.As(err, &timeout):
		RespondError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
