package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/threadcraft/api/internal/platform/observability"

// Outcomes recorded for region detection sources.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// RegionMetrics counts detection outcomes per source and cache usage.
type RegionMetrics struct {
	sources   metric.Int64Counter
	cacheHits metric.Int64Counter
	limited   metric.Int64Counter
}

// NewRegionMetrics registers counters on the global meter provider.
func NewRegionMetrics() (*RegionMetrics, error) {
	return NewRegionMetricsWithMeter(otel.Meter(meterName))
}

// NewRegionMetricsWithMeter registers counters on the supplied meter.
func NewRegionMetricsWithMeter(meter metric.Meter) (*RegionMetrics, error) {
	sources, err := meter.Int64Counter("region.detection.source",
		metric.WithDescription("Region detection source outcomes"))
	if err != nil {
		return nil, err
	}
	cacheHits, err := meter.Int64Counter("region.detection.cache",
		metric.WithDescription("Region cache lookups by result"))
	if err != nil {
		return nil, err
	}
	limited, err := meter.Int64Counter("http.rate_limited",
		metric.WithDescription("Requests rejected by the rate limiter"))
	if err != nil {
		return nil, err
	}
	return &RegionMetrics{sources: sources, cacheHits: cacheHits, limited: limited}, nil
}

// RecordSource counts one source outcome.
func (m *RegionMetrics) RecordSource(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	m.sources.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

// RecordCache counts a cache lookup.
func (m *RegionMetrics) RecordCache(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRateLimited counts a rejected request for a route.
func (m *RegionMetrics) RecordRateLimited(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.limited.Add(ctx, 1, metric.WithAttributes(attribute.String("route", SanitizeRoute(route))))
}
