// Package idempotency replays the stored response when a client repeats a
// mutating request with the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// State is the outcome of reserving a key.
type State int

const (
	// StateNew means the caller owns the key and should run the handler.
	StateNew State = iota
	// StateCompleted means Record holds a response to replay.
	StateCompleted
	// StatePending means another request holds the key.
	StatePending
)

// Record is the persisted reservation for one key.
type Record struct {
	Fingerprint string              `json:"fingerprint"`
	Completed   bool                `json:"completed"`
	Status      int                 `json:"status,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Body        []byte              `json:"body,omitempty"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}

// Store reserves keys and keeps completed responses until they expire.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (State, Record, error)
	Complete(ctx context.Context, key string, record Record, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for a different request")

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var replayHeaderKey = strings.ToLower(replayHeaderName)

// replayableHeaders drops hop-by-hop headers before a response is stored.
func replayableHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	out := make(map[string][]string, len(header))
	for name, values := range header {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "upgrade", "te", "trailers",
			"x-cloud-trace-context", "x-request-id", replayHeaderKey:
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
