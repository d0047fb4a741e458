package common

import "context"

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID stores a request correlation ID on the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the request correlation ID, or "" when
// the request did not pass through the correlation middleware.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
