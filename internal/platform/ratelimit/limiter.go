// Package ratelimit implements a sliding-window log limiter with an in-process
// store for single instances and a Redis store shared across instances.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// Policy caps Limit requests within any trailing Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Valid reports whether the policy can be enforced.
func (p Policy) Valid() bool {
	return p.Limit > 0 && p.Window > 0
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one for a rejection.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Store records request timestamps per key and decides admission atomically.
type Store interface {
	Allow(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error)
}

// ErrInvalidPolicy is returned when a limiter is built with a non-positive limit or window.
var ErrInvalidPolicy = errors.New("ratelimit: limit and window must be positive")

// Limiter applies a single policy against a store.
type Limiter struct {
	store  Store
	policy Policy
	prefix string
	clock  func() time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithPrefix namespaces keys, e.g. per route.
func WithPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.prefix = strings.TrimSpace(prefix)
	}
}

// New constructs a limiter for policy backed by store.
func New(store Store, policy Policy, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	if !policy.Valid() {
		return nil, ErrInvalidPolicy
	}
	l := &Limiter{store: store, policy: policy, prefix: "ratelimit", clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Policy returns the enforced policy.
func (l *Limiter) Policy() Policy { return l.policy }

// Allow checks and records one request for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	if l.prefix != "" {
		key = l.prefix + ":" + key
	}
	return l.store.Allow(ctx, key, l.policy, l.clock())
}
