// Package requestctx carries per-request values (logger, trace, caller) between
// middleware and handlers.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type key int

const (
	loggerKey key = iota
	traceKey
	clientKey
)

var noopLogger = zap.NewNop()

// TraceInfo is the trace a request belongs to, as seen by Cloud Logging.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// ClientInfo identifies the caller of a request for caching and throttling.
type ClientInfo struct {
	// Key is the region cache identity: the X-Client-ID header when present,
	// otherwise IP. Rate limits key on IP.
	Key         string
	IP          string
	EdgeCountry string
}

func with[T any](ctx context.Context, k key, v T) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, k, v)
}

func get[T any](ctx context.Context, k key) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(k).(T)
	return v, ok
}

// WithLogger stores logger on ctx. A nil logger stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, loggerKey, logger)
}

// Logger returns the request logger, or a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := get[*zap.Logger](ctx, loggerKey); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger is the logger Logger falls back to.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return get[TraceInfo](ctx, traceKey)
}

// TraceID returns the request trace id or "".
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

func WithClient(ctx context.Context, info ClientInfo) context.Context {
	return with(ctx, clientKey, info)
}

// Client returns the caller resolved by httpx.ClientMiddleware.
func Client(ctx context.Context) (ClientInfo, bool) {
	return get[ClientInfo](ctx, clientKey)
}
