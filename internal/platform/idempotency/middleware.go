package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/threadcraft/api/internal/platform/auth"
	"github.com/threadcraft/api/internal/platform/httpx"
	"github.com/threadcraft/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
)

type contextKey struct{}

// KeyFromContext returns the client-supplied key for the current request.
func KeyFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	key, ok := ctx.Value(contextKey{}).(string)
	return key, ok && key != ""
}

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	methods    map[string]struct{}
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed responses are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts the guarded methods. POST only by default.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		set := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = struct{}{}
			}
		}
		if len(set) > 0 {
			cfg.methods = set
		}
	}
}

// Middleware requires an idempotency key on guarded methods and replays the
// first completed response for repeats. Keys are scoped to the caller.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods:    map[string]struct{}{http.MethodPost: {}},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, guarded := cfg.methods[r.Method]; !guarded {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			logger := requestctx.Logger(ctx)

			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" || len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.BadRequest("idempotency_key_required", "missing or oversized idempotency key header"))
				return
			}
			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "unable to read request body"))
				return
			}

			slot := sha256Hex([]byte(requesterID(ctx) + "|" + key))
			fingerprint := sha256Hex([]byte(strings.Join([]string{r.Method, r.URL.Path, r.URL.RawQuery, sha256Hex(body)}, "|")))

			state, record, err := store.Reserve(ctx, slot, fingerprint, cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
				return
			case err != nil:
				logger.Warn("idempotency store unavailable", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.Unavailable("idempotency_unavailable", "unable to process idempotency key"))
				return
			case state == StateCompleted:
				replay(w, record)
				return
			case state == StatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			// The response streams to the client while a copy is kept for replay.
			var captured bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(ctx, contextKey{}, key)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			// Server errors are not replayed so the client can retry with the same key.
			if status >= http.StatusInternalServerError {
				if err := store.Release(ctx, slot, fingerprint); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
				return
			}
			err = store.Complete(ctx, slot, Record{
				Fingerprint: fingerprint,
				Status:      status,
				Headers:     replayableHeaders(ww.Header()),
				Body:        bytes.Clone(captured.Bytes()),
			}, cfg.ttl)
			if err != nil {
				logger.Warn("idempotency save failed", zap.Error(err))
				_ = store.Release(ctx, slot, fingerprint)
			}
		})
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requesterID prefers the authenticated user, then the client key set by
// httpx.ClientMiddleware.
func requesterID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return "user:" + identity.UID
	}
	if info, ok := requestctx.Client(ctx); ok && info.Key != "" {
		return info.Key
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range record.Headers {
		header[name] = slices.Clone(values)
	}
	header.Set(replayHeaderName, "true")
	status := record.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.Body)
}
