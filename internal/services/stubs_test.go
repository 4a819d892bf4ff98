package services

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/threadcraft/api/internal/domain"
)

type stubRepoError struct {
	notFound    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return false }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

type memoryRateRepository struct {
	mu        sync.Mutex
	rates     map[domain.ShippingRateKey]domain.ShippingRate
	err       error
	listCalls int
	now       func() time.Time
	// afterList runs once List has taken its snapshot, outside the lock.
	afterList func()
}

func newMemoryRateRepository() *memoryRateRepository {
	return &memoryRateRepository{
		rates: make(map[domain.ShippingRateKey]domain.ShippingRate),
		now:   func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func (r *memoryRateRepository) List(context.Context) ([]domain.ShippingRate, error) {
	r.mu.Lock()
	r.listCalls++
	if r.err != nil {
		r.mu.Unlock()
		return nil, r.err
	}
	out := make([]domain.ShippingRate, 0, len(r.rates))
	for _, rate := range r.rates {
		out = append(out, rate)
	}
	hook := r.afterList
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key().ID() < out[j].Key().ID() })
	if hook != nil {
		hook()
	}
	return out, nil
}

func (r *memoryRateRepository) Get(_ context.Context, key domain.ShippingRateKey) (domain.ShippingRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return domain.ShippingRate{}, r.err
	}
	rate, ok := r.rates[key]
	if !ok {
		return domain.ShippingRate{}, stubRepoError{notFound: true}
	}
	return rate, nil
}

func (r *memoryRateRepository) Upsert(_ context.Context, rate domain.ShippingRate) (domain.ShippingRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return domain.ShippingRate{}, r.err
	}
	now := r.now()
	if existing, ok := r.rates[rate.Key()]; ok {
		rate.CreatedAt = existing.CreatedAt
	} else {
		rate.CreatedAt = now
	}
	rate.UpdatedAt = now
	r.rates[rate.Key()] = rate
	return rate, nil
}

func (r *memoryRateRepository) Delete(_ context.Context, key domain.ShippingRateKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	delete(r.rates, key)
	return nil
}

type recordingPublisher struct {
	events []ShippingRateChangedEvent
	err    error
}

func (p *recordingPublisher) PublishRateChanged(_ context.Context, event ShippingRateChangedEvent) (string, error) {
	p.events = append(p.events, event)
	if p.err != nil {
		return "", p.err
	}
	return "msg-" + event.EventID, nil
}

type recordedLog struct {
	event  string
	fields map[string]any
}

type logRecorder struct {
	mu      sync.Mutex
	entries []recordedLog
}

func (l *logRecorder) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, recordedLog{event: event, fields: fields})
}

func (l *logRecorder) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.event == event {
			return true
		}
	}
	return false
}

func floatPtr(v float64) *float64 { return &v }
