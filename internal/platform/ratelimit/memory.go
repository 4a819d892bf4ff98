package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps a timestamp log per key in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	calls   int
}

const memoryPruneInterval = 256

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]time.Time)}
}

// Allow implements Store.
func (s *MemoryStore) Allow(_ context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	if !policy.Valid() {
		return Decision{}, ErrInvalidPolicy
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-policy.Window)
	log := trimBefore(s.entries[key], cutoff)

	decision := Decision{Limit: policy.Limit}
	if len(log) >= policy.Limit {
		oldest := log[0]
		decision.ResetAt = oldest.Add(policy.Window)
		decision.RetryAfter = decision.ResetAt.Sub(now)
		s.entries[key] = log
		return decision, nil
	}

	log = append(log, now)
	s.entries[key] = log
	decision.Allowed = true
	decision.Remaining = policy.Limit - len(log)
	decision.ResetAt = log[0].Add(policy.Window)

	s.calls++
	if s.calls%memoryPruneInterval == 0 {
		s.pruneLocked(cutoff)
	}
	return decision, nil
}

func (s *MemoryStore) pruneLocked(cutoff time.Time) {
	for key, log := range s.entries {
		if len(log) == 0 || !log[len(log)-1].After(cutoff) {
			delete(s.entries, key)
		}
	}
}

// trimBefore drops timestamps at or before cutoff; log is ascending.
func trimBefore(log []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(log) && !log[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return log
	}
	out := make([]time.Time, len(log)-idx, len(log)-idx+1)
	copy(out, log[idx:])
	return out
}
