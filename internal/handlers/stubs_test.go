package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	domain "github.com/threadcraft/api/internal/domain"
	"github.com/threadcraft/api/internal/platform/auth"
	"github.com/threadcraft/api/internal/services"
)

type stubDetector struct {
	detection services.RegionDetection
	requests  []services.DetectRegionRequest
	selected  []string
}

func (s *stubDetector) Detect(_ context.Context, req services.DetectRegionRequest) services.RegionDetection {
	s.requests = append(s.requests, req)
	return s.detection
}

func (s *stubDetector) SelectRegion(_ context.Context, clientKey string, value string) (services.RegionDetection, error) {
	region, ok := domain.ParseShippingRegion(value)
	if !ok {
		return services.RegionDetection{}, services.ErrRegionInvalid
	}
	s.selected = append(s.selected, clientKey)
	return services.RegionDetection{
		Region:     region,
		Source:     domain.DetectionSourceManual,
		Confidence: 1,
		DetectedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

type stubQuoteService struct {
	quote    domain.ShippingQuote
	option   services.CheckoutShippingOption
	err      error
	commands []services.QuoteCommand
}

func (s *stubQuoteService) Quote(_ context.Context, cmd services.QuoteCommand) (domain.ShippingQuote, error) {
	s.commands = append(s.commands, cmd)
	return s.quote, s.err
}

func (s *stubQuoteService) CheckoutOption(_ context.Context, cmd services.QuoteCommand) (services.CheckoutShippingOption, error) {
	s.commands = append(s.commands, cmd)
	return s.option, s.err
}

type stubCatalogSync struct {
	summary services.CatalogSyncSummary
	err     error
	calls   int
}

func (s *stubCatalogSync) Sync(context.Context) (services.CatalogSyncSummary, error) {
	s.calls++
	return s.summary, s.err
}

type testRepoError struct {
	notFound bool
}

func (e testRepoError) Error() string {
	if e.notFound {
		return "not found"
	}
	return "unavailable"
}
func (e testRepoError) IsNotFound() bool    { return e.notFound }
func (e testRepoError) IsConflict() bool    { return false }
func (e testRepoError) IsUnavailable() bool { return !e.notFound }

// memoryRates is an in-process ShippingRateRepository.
type memoryRates struct {
	mu    sync.Mutex
	rates map[domain.ShippingRateKey]domain.ShippingRate
	err   error
}

func newMemoryRates() *memoryRates {
	return &memoryRates{rates: make(map[domain.ShippingRateKey]domain.ShippingRate)}
}

func (m *memoryRates) List(context.Context) ([]domain.ShippingRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.ShippingRate, 0, len(m.rates))
	for _, rate := range m.rates {
		out = append(out, rate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().ID() < out[j].Key().ID() })
	return out, nil
}

func (m *memoryRates) Get(_ context.Context, key domain.ShippingRateKey) (domain.ShippingRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.ShippingRate{}, m.err
	}
	rate, ok := m.rates[key]
	if !ok {
		return domain.ShippingRate{}, testRepoError{notFound: true}
	}
	return rate, nil
}

func (m *memoryRates) Upsert(_ context.Context, rate domain.ShippingRate) (domain.ShippingRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.ShippingRate{}, m.err
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if existing, ok := m.rates[rate.Key()]; ok {
		rate.CreatedAt = existing.CreatedAt
	} else {
		rate.CreatedAt = now
	}
	rate.UpdatedAt = now
	m.rates[rate.Key()] = rate
	return rate, nil
}

func (m *memoryRates) Delete(_ context.Context, key domain.ShippingRateKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.rates, key)
	return nil
}

var errStoreDown = errors.New("store down")

func withAdmin(req *http.Request) *http.Request {
	identity := &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}
