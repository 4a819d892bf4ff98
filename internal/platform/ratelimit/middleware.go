package ratelimit

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/threadcraft/api/internal/platform/httpx"
	"github.com/threadcraft/api/internal/platform/requestctx"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// KeyFunc extracts the client key for a request.
type KeyFunc func(*http.Request) string

const anonymousKey = "anonymous"

// ClientIPFromContext keys requests by the caller address resolved by
// httpx.ClientMiddleware. X-Client-ID is caller-controlled and never used here.
func ClientIPFromContext(r *http.Request) string {
	if info, ok := requestctx.Client(r.Context()); ok && info.IP != "" {
		return "ip:" + info.IP
	}
	return anonymousKey
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	key        KeyFunc
	onRejected func(ctx context.Context, r *http.Request)
}

// WithKeyFunc overrides how the client key is derived.
func WithKeyFunc(fn KeyFunc) MiddlewareOption {
	return func(c *middlewareConfig) {
		if fn != nil {
			c.key = fn
		}
	}
}

// OnRejected registers a hook run for every 429, used for metrics.
func OnRejected(fn func(ctx context.Context, r *http.Request)) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.onRejected = fn
	}
}

// Middleware enforces limiter per client key. Store errors let the request through.
func Middleware(limiter *Limiter, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{key: ClientIPFromContext}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			decision, err := limiter.Allow(ctx, cfg.key(r))
			if err != nil {
				requestctx.Logger(ctx).Warn("rate limiter unavailable, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Set(HeaderLimit, strconv.Itoa(decision.Limit))
			header.Set(HeaderRemaining, strconv.Itoa(decision.Remaining))
			if !decision.ResetAt.IsZero() {
				header.Set(HeaderReset, strconv.FormatInt(decision.ResetAt.Unix(), 10))
			}

			if !decision.Allowed {
				retry := decision.RetryAfterSeconds()
				header.Set(HeaderRetryAfter, strconv.Itoa(retry))
				if cfg.onRejected != nil {
					cfg.onRejected(ctx, r)
				}
				httpx.WriteError(ctx, w, httpx.ErrRateLimited.WithDetails(map[string]any{
					"retry_after": retry,
				}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
