package api

import (
	"net/http"
	"strconv"
	"time"

	"tasktracker/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"

	// routeUnmatched labels requests answered by the default matcher
	routeUnmatched = "unmatched"
	// routeRejected labels requests stopped by the pipeline before dispatch
	routeRejected = "rejected"
)

// routeLabel is filled in by routeLabelMiddleware once a route matches.
// It keeps the metrics route label bounded to known path templates.
type routeLabel struct {
	value string
}

// requestIDMiddleware adds request ID tracking, access logging and request
// metrics to all requests.
//
// Behavior:
//   - If X-Request-ID header is present in request, use that value
//   - If not present, generate a new UUID v4
//   - Set X-Request-ID in response headers for client correlation
//   - Store request ID and start time in context for downstream use
func (a *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := sanitizeRequestID(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, requestID)

		label := &routeLabel{value: routeRejected}
		ctx := WithRequestID(r.Context(), requestID)
		ctx = WithTraceStart(ctx, start)
		ctx = contextWithRouteLabel(ctx, label)

		a.logger.Debugw("request_started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", getRealIP(r, a.config.API.RateLimit.TrustProxy),
			"user_agent", r.UserAgent(),
		)

		wrapped := &responseWriterWrapper{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		duration := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, label.value, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(label.value).Observe(duration.Seconds())

		a.logger.Infow("request_completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"route", label.value,
			"status", wrapped.statusCode,
			"duration_ms", duration.Milliseconds(),
		)
	})
}

// routeLabelMiddleware runs only for matched routes and records the route's
// path template for the access log and metrics.
func (a *API) routeLabelMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if label, ok := r.Context().Value(ContextKeyRouteLabel).(*routeLabel); ok {
			label.value = routeUnmatched
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					label.value = tpl
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// markUnmatched records that the default matcher answered the request
func markUnmatched(r *http.Request) {
	if label, ok := r.Context().Value(ContextKeyRouteLabel).(*routeLabel); ok {
		label.value = routeUnmatched
	}
}

// responseWriterWrapper wraps http.ResponseWriter to capture the status code.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader captures the status code before writing it.
func (w *responseWriterWrapper) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Write implements http.ResponseWriter.Write and ensures status code is captured.
func (w *responseWriterWrapper) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// sanitizeRequestID cleans request ID to prevent log injection.
// Only allows alphanumeric characters, dashes, and underscores.
// Truncates to maximum 64 characters.
func sanitizeRequestID(id string) string {
	const maxLen = 64

	if len(id) > maxLen {
		id = id[:maxLen]
	}

	result := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') ||
			c == '-' || c == '_' {
			result = append(result, c)
		}
	}

	return string(result)
}

// LogWithRequestID creates a logger with the request ID field pre-attached.
// Requests that went through the tracing middleware also carry elapsed_ms.
func LogWithRequestID(r *http.Request, logger *zap.SugaredLogger) *zap.SugaredLogger {
	fields := []interface{}{"request_id", GetRequestIDOrDefault(r.Context())}
	if start, ok := GetTraceStart(r.Context()); ok {
		fields = append(fields, "elapsed_ms", time.Since(start).Milliseconds())
	}
	return logger.With(fields...)
}
