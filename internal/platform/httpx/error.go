package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/threadcraft/api/internal/platform/requestctx"
)

// Error is an API failure rendered as
//
//	{"error": code, "message": ..., "status": ..., "request_id": ..., "trace_id": ...}
//
// with any Details merged in at the top level.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: oneLine(code, 80), Message: oneLine(message, 512), Status: status}
}

func (e Error) Error() string { return e.Code + ": " + e.Message }

// WithDetails returns a copy of e carrying extra top-level fields.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		merged := maps.Clone(e.Details)
		if merged == nil {
			merged = make(map[string]any, len(details))
		}
		maps.Copy(merged, details)
		e.Details = merged
	}
	return e
}

// Shared envelopes.
var (
	ErrUnauthenticated = NewError("unauthenticated", "authentication required", http.StatusUnauthorized)
	ErrRateLimited     = NewError("rate_limited", "too many requests", http.StatusTooManyRequests)
	ErrInternal        = NewError("internal_server_error", "internal server error", http.StatusInternalServerError)
)

func BadRequest(code, message string) Error {
	return NewError(code, message, http.StatusBadRequest)
}

// Unavailable is a 503 for a dependency that is not configured or not reachable.
func Unavailable(code, message string) Error {
	return NewError(code, message, http.StatusServiceUnavailable)
}

// AsError unwraps an Error from err, or reports ErrInternal.
func AsError(err error) Error {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal
}

// WriteError renders e, stamping the chi request id and the trace id from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	body := make(map[string]any, len(e.Details)+5)
	maps.Copy(body, e.Details)
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status
	if id := oneLine(middleware.GetReqID(ctx), 80); id != "" {
		body["request_id"] = id
	}
	if id := requestctx.TraceID(ctx); id != "" {
		body["trace_id"] = id
	}
	WriteJSON(w, e.Status, body)
}

func jsonEncode(w http.ResponseWriter, payload any) error {
	return json.NewEncoder(w).Encode(payload)
}

func oneLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
