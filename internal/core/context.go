package core

import "context"

type requestIDKey struct{}

// WithRequestID tags ctx with the ID sent upstream as X-Request-ID and
// attached to log lines of the call.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the ID set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
