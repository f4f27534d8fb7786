package api

import (
	"context"
	"time"
)

// contextKey is a private type to prevent context key collisions across packages.
type contextKey string

// Context key constants for request-scoped values.
const (
	// ContextKeyRequestID stores the unique request identifier (string)
	ContextKeyRequestID contextKey = "request_id"

	// ContextKeyTraceStart stores the request start time (time.Time)
	ContextKeyTraceStart contextKey = "trace_start"

	// ContextKeyJSONBody stores the parsed JSON request body (interface{})
	ContextKeyJSONBody contextKey = "json_body"

	// ContextKeyRouteLabel stores a *routeLabel filled in once dispatch matches
	ContextKeyRouteLabel contextKey = "route_label"
)

// GetRequestID extracts the request ID from the context.
// Returns the request ID and true if found, empty string and false otherwise.
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(ContextKeyRequestID).(string)
	return requestID, ok
}

// GetRequestIDOrDefault extracts the request ID from the context or returns "unknown".
func GetRequestIDOrDefault(ctx context.Context) string {
	if requestID, ok := GetRequestID(ctx); ok && requestID != "" {
		return requestID
	}
	return "unknown"
}

// WithRequestID creates a new context with the request ID value.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// GetTraceStart extracts the trace start time from the context.
func GetTraceStart(ctx context.Context) (time.Time, bool) {
	start, ok := ctx.Value(ContextKeyTraceStart).(time.Time)
	return start, ok
}

// WithTraceStart creates a new context with the trace start time.
func WithTraceStart(ctx context.Context, start time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyTraceStart, start)
}

// JSONBody returns the request body parsed by the JSON body middleware.
// The second result is false when the request carried no JSON body.
func JSONBody(ctx context.Context) (interface{}, bool) {
	body, ok := ctx.Value(ContextKeyJSONBody).(jsonBody)
	if !ok {
		return nil, false
	}
	return body.value, true
}

// jsonBody wraps the parsed document so a literal JSON null is still "present"
type jsonBody struct {
	value interface{}
}

// WithJSONBody creates a new context carrying a parsed JSON body.
func WithJSONBody(ctx context.Context, body interface{}) context.Context {
	return context.WithValue(ctx, ContextKeyJSONBody, jsonBody{value: body})
}

func contextWithRouteLabel(ctx context.Context, label *routeLabel) context.Context {
	return context.WithValue(ctx, ContextKeyRouteLabel, label)
}
