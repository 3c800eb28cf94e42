// Package logging provides request ID context propagation so a turn can be
// traced from the HTTP handler through the orchestrator and connectors.
package logging

import "context"

type contextKey string

const requestIDKey contextKey = "requestId"

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
