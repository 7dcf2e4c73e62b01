// Package logging provides correlation-id propagation so one sync batch or
// HTTP request can be traced across log lines.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"go.uber.org/zap"
)

type contextKey string

const correlationIDKey contextKey = "correlationId"

// NewCorrelationID creates an 8-character hex id.
func NewCorrelationID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithCorrelationID injects a correlation id into the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID retrieves the correlation id from the context, empty if
// not set.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// Field returns a zap field carrying the context's correlation id,
// generating one when the context has none.
func Field(ctx context.Context) zap.Field {
	id := CorrelationID(ctx)
	if id == "" {
		id = NewCorrelationID()
	}
	return zap.String("correlation_id", id)
}
