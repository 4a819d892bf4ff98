package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/threadcraft/api/internal/domain"
	"github.com/threadcraft/api/internal/repositories"
)

var (
	// ErrShippingRateInvalid is returned when an override write fails validation.
	ErrShippingRateInvalid = errors.New("shipping rates: invalid rate")
	// ErrShippingRateUnavailable wraps store failures on administrative operations.
	ErrShippingRateUnavailable = errors.New("shipping rates: store unavailable")
)

// ShippingRateChangedEventType is the Pub/Sub event type attribute for override writes.
const ShippingRateChangedEventType = "shipping_rate.changed"

// RateAction names the override mutation carried by an event.
type RateAction string

const (
	RateActionUpserted RateAction = "upserted"
	RateActionDeleted  RateAction = "deleted"
)

// ShippingRateChangedEvent notifies other instances and downstream consumers of an override change.
type ShippingRateChangedEvent struct {
	EventID            string                 `json:"eventId"`
	Action             RateAction             `json:"action"`
	Category           domain.ProductCategory `json:"productCategory"`
	Region             domain.ShippingRegion  `json:"region"`
	BaseRate           *float64               `json:"baseRate,omitempty"`
	AdditionalItemRate *float64               `json:"additionalItemRate,omitempty"`
	ActorID            string                 `json:"actorId,omitempty"`
	OccurredAt         time.Time              `json:"occurredAt"`
}

// Key returns the rate key the event refers to.
func (e ShippingRateChangedEvent) Key() domain.ShippingRateKey {
	return domain.ShippingRateKey{Category: e.Category, Region: e.Region}
}

// RateEventPublisher publishes override change events.
type RateEventPublisher interface {
	PublishRateChanged(ctx context.Context, event ShippingRateChangedEvent) (string, error)
}

// UpsertShippingRateCommand carries an administrator write. Amount pointers distinguish
// missing fields from explicit zero.
type UpsertShippingRateCommand struct {
	Category           string
	Region             string
	BaseRate           *float64
	AdditionalItemRate *float64
	ActorID            string
}

// DeleteShippingRateCommand removes one override.
type DeleteShippingRateCommand struct {
	Category string
	Region   string
	ActorID  string
}

// ShippingRateService resolves effective rates and manages overrides.
type ShippingRateService interface {
	Lookup(ctx context.Context, category domain.ProductCategory, region domain.ShippingRegion) (domain.EffectiveRate, error)
	Matrix(ctx context.Context) (RateMatrix, error)
	ListOverrides(ctx context.Context) ([]domain.ShippingRate, error)
	UpsertOverride(ctx context.Context, cmd UpsertShippingRateCommand) (domain.ShippingRate, error)
	DeleteOverride(ctx context.Context, cmd DeleteShippingRateCommand) error
}

// ShippingRateServiceDeps wires the override store and optional collaborators.
type ShippingRateServiceDeps struct {
	Rates     repositories.ShippingRateRepository
	Publisher RateEventPublisher
	CacheTTL  time.Duration
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

type shippingRateService struct {
	rates     repositories.ShippingRateRepository
	publisher RateEventPublisher
	defaults  RateMatrix
	ttl       time.Duration
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)

	mu      sync.RWMutex
	cached  RateMatrix
	expires time.Time
	// generation is bumped by every write; a List begun under an older
	// generation must not be cached.
	generation uint64
}

var _ ShippingRateService = (*shippingRateService)(nil)

// NewShippingRateService builds the rate table. A zero CacheTTL disables the matrix cache.
func NewShippingRateService(deps ShippingRateServiceDeps) (ShippingRateService, error) {
	if deps.Rates == nil {
		return nil, errors.New("shipping rate service: rate repository is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.CacheTTL
	if ttl < 0 {
		ttl = 0
	}
	return &shippingRateService{
		rates:     deps.Rates,
		publisher: deps.Publisher,
		defaults:  DefaultRateMatrix(),
		ttl:       ttl,
		now:       now,
		logger:    logger,
	}, nil
}

func (s *shippingRateService) Lookup(ctx context.Context, category domain.ProductCategory, region domain.ShippingRegion) (domain.EffectiveRate, error) {
	fallback, ok := s.defaults.Rate(category, region)
	if !ok {
		return domain.EffectiveRate{}, fmt.Errorf("%w: unknown key %s/%s", ErrShippingRateInvalid, category, region)
	}
	override, err := s.rates.Get(ctx, domain.ShippingRateKey{Category: category, Region: region})
	switch {
	case err == nil:
		return domain.EffectiveRate{
			Category:           category,
			Region:             region,
			BaseRate:           override.BaseRate,
			AdditionalItemRate: override.AdditionalItemRate,
			Source:             domain.RateSourceOverride,
		}, nil
	case repositories.IsNotFound(err):
		return fallback, nil
	default:
		s.logger(ctx, "shipping_rates.lookup_fallback", map[string]any{
			"productCategory": string(category),
			"region":          string(region),
			"error":           err,
		})
		return fallback, nil
	}
}

func (s *shippingRateService) Matrix(ctx context.Context) (RateMatrix, error) {
	s.mu.RLock()
	cached, expires, generation := s.cached, s.expires, s.generation
	s.mu.RUnlock()
	if s.ttl > 0 && cached.Len() > 0 && s.now().Before(expires) {
		return cached, nil
	}

	overrides, err := s.rates.List(ctx)
	if err != nil {
		s.logger(ctx, "shipping_rates.matrix_fallback", map[string]any{"error": err})
		return s.defaults, nil
	}
	matrix := s.defaults.withOverrides(overrides)
	if s.ttl > 0 {
		s.mu.Lock()
		if s.generation == generation {
			s.cached = matrix
			s.expires = s.now().Add(s.ttl)
		}
		s.mu.Unlock()
	}
	return matrix, nil
}

func (s *shippingRateService) ListOverrides(ctx context.Context) ([]domain.ShippingRate, error) {
	rates, err := s.rates.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShippingRateUnavailable, err)
	}
	return rates, nil
}

func (s *shippingRateService) UpsertOverride(ctx context.Context, cmd UpsertShippingRateCommand) (domain.ShippingRate, error) {
	rate, err := validateShippingRateCommand(cmd)
	if err != nil {
		return domain.ShippingRate{}, err
	}
	saved, err := s.rates.Upsert(ctx, rate)
	if err != nil {
		return domain.ShippingRate{}, fmt.Errorf("%w: %v", ErrShippingRateUnavailable, err)
	}
	s.invalidate()
	s.logger(ctx, "shipping_rates.upserted", map[string]any{
		"rateId":             saved.Key().ID(),
		"baseRate":           saved.BaseRate,
		"additionalItemRate": saved.AdditionalItemRate,
		"actorId":            cmd.ActorID,
	})
	base, additional := saved.BaseRate, saved.AdditionalItemRate
	s.publish(ctx, ShippingRateChangedEvent{
		Action:             RateActionUpserted,
		Category:           saved.Category,
		Region:             saved.Region,
		BaseRate:           &base,
		AdditionalItemRate: &additional,
		ActorID:            cmd.ActorID,
	})
	return saved, nil
}

func (s *shippingRateService) DeleteOverride(ctx context.Context, cmd DeleteShippingRateCommand) error {
	key, err := parseRateKey(cmd.Category, cmd.Region)
	if err != nil {
		return err
	}
	if err := s.rates.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrShippingRateUnavailable, err)
	}
	s.invalidate()
	s.logger(ctx, "shipping_rates.deleted", map[string]any{"rateId": key.ID(), "actorId": cmd.ActorID})
	s.publish(ctx, ShippingRateChangedEvent{
		Action:   RateActionDeleted,
		Category: key.Category,
		Region:   key.Region,
		ActorID:  cmd.ActorID,
	})
	return nil
}

func (s *shippingRateService) invalidate() {
	s.mu.Lock()
	s.generation++
	s.cached = RateMatrix{}
	s.expires = time.Time{}
	s.mu.Unlock()
}

func (s *shippingRateService) publish(ctx context.Context, event ShippingRateChangedEvent) {
	if s.publisher == nil {
		return
	}
	event.EventID = ulid.Make().String()
	event.OccurredAt = s.now().UTC()
	if _, err := s.publisher.PublishRateChanged(ctx, event); err != nil {
		s.logger(ctx, "shipping_rates.publish_failed", map[string]any{
			"eventId": event.EventID,
			"rateId":  event.Key().ID(),
			"error":   err,
		})
	}
}

// FieldError lists the request fields that failed validation.
type FieldError struct {
	Fields []string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.Fields, ", "))
}

func (e *FieldError) Unwrap() error { return ErrShippingRateInvalid }

func validateShippingRateCommand(cmd UpsertShippingRateCommand) (domain.ShippingRate, error) {
	var missing []string
	if strings.TrimSpace(cmd.Category) == "" {
		missing = append(missing, "product_category")
	}
	if strings.TrimSpace(cmd.Region) == "" {
		missing = append(missing, "region")
	}
	if cmd.BaseRate == nil {
		missing = append(missing, "base_rate")
	}
	if cmd.AdditionalItemRate == nil {
		missing = append(missing, "additional_item_rate")
	}
	if len(missing) > 0 {
		return domain.ShippingRate{}, &FieldError{Fields: missing, Reason: "Missing required fields"}
	}

	key, err := parseRateKey(cmd.Category, cmd.Region)
	if err != nil {
		return domain.ShippingRate{}, err
	}

	var invalid []string
	if !validAmount(*cmd.BaseRate) {
		invalid = append(invalid, "base_rate")
	}
	if !validAmount(*cmd.AdditionalItemRate) {
		invalid = append(invalid, "additional_item_rate")
	}
	if len(invalid) > 0 {
		return domain.ShippingRate{}, &FieldError{Fields: invalid, Reason: "Rates must be non-negative numbers"}
	}

	return domain.ShippingRate{
		Category:           key.Category,
		Region:             key.Region,
		BaseRate:           *cmd.BaseRate,
		AdditionalItemRate: *cmd.AdditionalItemRate,
	}, nil
}

func parseRateKey(categoryValue, regionValue string) (domain.ShippingRateKey, error) {
	var invalid []string
	category, ok := domain.ParseProductCategory(categoryValue)
	if !ok {
		invalid = append(invalid, "product_category")
	}
	region, ok := domain.ParseShippingRegion(regionValue)
	if !ok {
		invalid = append(invalid, "region")
	}
	if len(invalid) > 0 {
		return domain.ShippingRateKey{}, &FieldError{Fields: invalid, Reason: "Unknown product category or region"}
	}
	return domain.ShippingRateKey{Category: category, Region: region}, nil
}

func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
