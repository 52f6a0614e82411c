package logger

import "context"

type requestIDKey struct{}

// WithRequestID attaches a request id to ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id attached to ctx
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// FromContext returns the global logger tagged with the request id, if any
func FromContext(ctx context.Context) *Logger {
	if id, ok := RequestID(ctx); ok {
		return Get().With("request_id", id)
	}
	return Get()
}
