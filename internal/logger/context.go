package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ContextWithLogger stores a logger in the context.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the context logger, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// WithSubscriber scopes the context logger to one subscriber request.
// Empty ids are left out.
func WithSubscriber(ctx context.Context, subscriberID, correlationID string) context.Context {
	fields := make([]zap.Field, 0, 2)
	if subscriberID != "" {
		fields = append(fields, zap.String("subscriber_id", subscriberID))
	}
	if correlationID != "" {
		fields = append(fields, zap.String("correlation_id", correlationID))
	}
	if len(fields) == 0 {
		return ctx
	}
	return ContextWithLogger(ctx, FromContext(ctx).With(fields...))
}
