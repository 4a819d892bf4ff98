package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	domain "github.com/threadcraft/api/internal/domain"
	"github.com/threadcraft/api/internal/platform/kvstore"
)

const (
	regionCacheNamespace      = "region-cache"
	defaultRegionCacheTTL     = 7 * 24 * time.Hour
	defaultRegionSourceBudget = 3 * time.Second
	minReusableConfidence     = 0.5
	anonymousClientKey        = "anonymous"
)

// Fixed confidence recorded per detection source.
var sourceConfidence = map[domain.DetectionSource]float64{
	domain.DetectionSourceIP:         0.7,
	domain.DetectionSourceEdgeHeader: 0.8,
	domain.DetectionSourceManual:     1.0,
}

// ErrRegionInvalid is returned by SelectRegion for values outside the enumeration.
var ErrRegionInvalid = errors.New("region: invalid region")

// DetectRegionRequest carries the ambient request facts a detection can use.
type DetectRegionRequest struct {
	ClientKey   string
	IP          string
	EdgeCountry string
}

// RegionDetection is the resolved region and how it was obtained.
type RegionDetection struct {
	Region     domain.ShippingRegion
	Source     domain.DetectionSource
	Confidence float64
	Cached     bool
	DetectedAt time.Time
}

// CountryLocator maps an IP address to a two-letter country code.
type CountryLocator interface {
	LookupCountry(ctx context.Context, ip string) (string, error)
}

// RegionSource is one independent way of learning the client's country.
type RegionSource interface {
	Name() domain.DetectionSource
	Country(ctx context.Context, req DetectRegionRequest) (string, error)
}

// RegionMetrics receives detection counters. observability.RegionMetrics satisfies it.
type RegionMetrics interface {
	RecordSource(ctx context.Context, source, outcome string)
	RecordCache(ctx context.Context, hit bool)
}

// SourceResult is the outcome of one source. Order is the completion rank, 0 first.
type SourceResult struct {
	Source  domain.DetectionSource
	Country string
	Region  domain.ShippingRegion
	Err     error
	Order   int
}

// RegionDetector resolves and caches the shipping region per client.
type RegionDetector interface {
	Detect(ctx context.Context, req DetectRegionRequest) RegionDetection
	SelectRegion(ctx context.Context, clientKey string, region string) (RegionDetection, error)
}

// RegionDetectorDeps wires detection sources and the cache store.
type RegionDetectorDeps struct {
	Cache         kvstore.Store
	Sources       []RegionSource
	CacheTTL      time.Duration
	SourceTimeout time.Duration
	Metrics       RegionMetrics
	Clock         func() time.Time
	Logger        func(context.Context, string, map[string]any)
}

type regionDetector struct {
	cache   kvstore.Store
	sources []RegionSource
	ttl     time.Duration
	timeout time.Duration
	metrics RegionMetrics
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

var _ RegionDetector = (*regionDetector)(nil)

// NewRegionDetector builds a detector. Sources run concurrently on every cache miss.
func NewRegionDetector(deps RegionDetectorDeps) (RegionDetector, error) {
	if deps.Cache == nil {
		return nil, errors.New("region detector: cache store is required")
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultRegionCacheTTL
	}
	timeout := deps.SourceTimeout
	if timeout <= 0 {
		timeout = defaultRegionSourceBudget
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	sources := make([]RegionSource, 0, len(deps.Sources))
	for _, src := range deps.Sources {
		if src != nil {
			sources = append(sources, src)
		}
	}
	return &regionDetector{
		cache:   deps.Cache,
		sources: sources,
		ttl:     ttl,
		timeout: timeout,
		metrics: deps.Metrics,
		now:     now,
		logger:  logger,
	}, nil
}

func (d *regionDetector) Detect(ctx context.Context, req DetectRegionRequest) RegionDetection {
	key := normalizeClientKey(req.ClientKey)
	if key != "" {
		if entry, ok := d.readCache(ctx, key); ok {
			d.recordCache(ctx, true)
			return RegionDetection{
				Region:     entry.Region,
				Source:     entry.Source,
				Confidence: entry.Confidence,
				Cached:     true,
				DetectedAt: entry.DetectedAt,
			}
		}
		d.recordCache(ctx, false)
	}

	results := d.gather(ctx, req)
	winner, ok := VoteRegion(results)
	if !ok {
		d.logger(ctx, "region.default", map[string]any{"clientKey": key, "sources": len(results)})
		return RegionDetection{
			Region:     domain.DefaultShippingRegion,
			Source:     domain.DetectionSourceDefault,
			Confidence: 0,
			DetectedAt: d.now().UTC(),
		}
	}

	detection := RegionDetection{
		Region:     winner.Region,
		Source:     winner.Source,
		Confidence: sourceConfidence[winner.Source],
		DetectedAt: d.now().UTC(),
	}
	if key != "" {
		d.writeCache(ctx, key, detection)
	}
	return detection
}

func (d *regionDetector) SelectRegion(ctx context.Context, clientKey string, value string) (RegionDetection, error) {
	region, ok := domain.ParseShippingRegion(value)
	if !ok {
		return RegionDetection{}, fmt.Errorf("%w: %q", ErrRegionInvalid, value)
	}
	detection := RegionDetection{
		Region:     region,
		Source:     domain.DetectionSourceManual,
		Confidence: sourceConfidence[domain.DetectionSourceManual],
		DetectedAt: d.now().UTC(),
	}
	if key := normalizeClientKey(clientKey); key != "" {
		d.writeCache(ctx, key, detection)
	}
	return detection, nil
}

// gather runs every source under its own timeout and records completion order.
func (d *regionDetector) gather(ctx context.Context, req DetectRegionRequest) []SourceResult {
	if len(d.sources) == 0 {
		return nil
	}
	var (
		mu      sync.Mutex
		results = make([]SourceResult, 0, len(d.sources))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range d.sources {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, d.timeout)
			defer cancel()

			result := SourceResult{Source: src.Name()}
			country, err := src.Country(sctx, req)
			if err == nil {
				result.Country = strings.ToUpper(strings.TrimSpace(country))
				result.Region, err = CountryToRegion(result.Country)
			}
			result.Err = err
			d.recordSource(sctx, result)

			mu.Lock()
			result.Order = len(results)
			results = append(results, result)
			mu.Unlock()
			// Source failures are data, never group errors.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *regionDetector) recordSource(ctx context.Context, result SourceResult) {
	outcome := "success"
	if result.Err != nil {
		outcome = "failure"
		if errors.Is(result.Err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		d.logger(ctx, "region.source_failed", map[string]any{
			"source": string(result.Source),
			"error":  result.Err,
		})
	}
	if d.metrics != nil {
		d.metrics.RecordSource(ctx, string(result.Source), outcome)
	}
}

func (d *regionDetector) recordCache(ctx context.Context, hit bool) {
	if d.metrics != nil {
		d.metrics.RecordCache(ctx, hit)
	}
}

// readCache returns a reusable entry. Expired entries are removed; low-confidence
// entries are skipped but kept.
func (d *regionDetector) readCache(ctx context.Context, key string) (domain.RegionCacheEntry, bool) {
	raw, err := d.cache.Get(ctx, cacheKey(key))
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			d.logger(ctx, "region.cache_read_failed", map[string]any{"error": err})
		}
		return domain.RegionCacheEntry{}, false
	}
	var entry domain.RegionCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || !entry.Region.Valid() {
		_ = d.cache.Remove(ctx, cacheKey(key))
		return domain.RegionCacheEntry{}, false
	}
	if d.now().Sub(entry.DetectedAt) >= d.ttl {
		if err := d.cache.Remove(ctx, cacheKey(key)); err != nil {
			d.logger(ctx, "region.cache_remove_failed", map[string]any{"error": err})
		}
		return domain.RegionCacheEntry{}, false
	}
	if entry.Confidence <= minReusableConfidence {
		return domain.RegionCacheEntry{}, false
	}
	return entry, true
}

func (d *regionDetector) writeCache(ctx context.Context, key string, detection RegionDetection) {
	payload, err := json.Marshal(domain.RegionCacheEntry{
		Region:     detection.Region,
		DetectedAt: detection.DetectedAt,
		Source:     detection.Source,
		Confidence: detection.Confidence,
	})
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, cacheKey(key), payload, d.ttl); err != nil {
		d.logger(ctx, "region.cache_write_failed", map[string]any{"error": err})
	}
}

func cacheKey(clientKey string) string {
	return regionCacheNamespace + ":" + clientKey
}

func normalizeClientKey(key string) string {
	key = strings.TrimSpace(key)
	if key == anonymousClientKey {
		return ""
	}
	return key
}

// VoteRegion picks the region reported by the most successful sources. Ties go to
// the region whose earliest supporter completed first. The winning result is that
// earliest supporter. It reports false when no source succeeded.
//
// Order is completion order, not source registration order. The edge header
// answers without network I/O, so in a one-to-one split between edge header and
// IP lookup the edge header nearly always wins. A fixed order that ranked the IP
// lookup first would settle the same split the other way.
func VoteRegion(results []SourceResult) (SourceResult, bool) {
	type tally struct {
		count int
		first SourceResult
	}
	tallies := make(map[domain.ShippingRegion]*tally)
	for _, r := range results {
		if r.Err != nil || !r.Region.Valid() {
			continue
		}
		t, ok := tallies[r.Region]
		if !ok {
			tallies[r.Region] = &tally{count: 1, first: r}
			continue
		}
		t.count++
		if r.Order < t.first.Order {
			t.first = r
		}
	}
	var (
		best  *tally
		found bool
	)
	for _, t := range tallies {
		if !found || t.count > best.count || (t.count == best.count && t.first.Order < best.first.Order) {
			best = t
			found = true
		}
	}
	if !found {
		return SourceResult{}, false
	}
	return best.first, true
}

// CountryToRegion maps an ISO 3166-1 alpha-2 code to a region. Well-formed codes
// missing from the table map to Worldwide; malformed codes are an error.
func CountryToRegion(code string) (domain.ShippingRegion, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if region, ok := domain.RegionForCountry(code); ok {
		return region, nil
	}
	if len(code) != 2 {
		return "", fmt.Errorf("region: malformed country code %q", code)
	}
	parsed, err := language.ParseRegion(code)
	if err != nil || !parsed.IsCountry() {
		return "", fmt.Errorf("region: unknown country code %q", code)
	}
	return domain.RegionWorldwide, nil
}

// EdgeHeaderSource reads the CDN-supplied country.
type EdgeHeaderSource struct{}

func (EdgeHeaderSource) Name() domain.DetectionSource { return domain.DetectionSourceEdgeHeader }

func (EdgeHeaderSource) Country(_ context.Context, req DetectRegionRequest) (string, error) {
	country := strings.TrimSpace(req.EdgeCountry)
	if country == "" {
		return "", errors.New("edge country header absent")
	}
	return country, nil
}

// IPLookupSource asks a geolocation locator about the client IP.
type IPLookupSource struct {
	Locator CountryLocator
}

func (IPLookupSource) Name() domain.DetectionSource { return domain.DetectionSourceIP }

func (s IPLookupSource) Country(ctx context.Context, req DetectRegionRequest) (string, error) {
	if s.Locator == nil {
		return "", errors.New("ip locator not configured")
	}
	if strings.TrimSpace(req.IP) == "" {
		return "", errors.New("client ip unknown")
	}
	return s.Locator.LookupCountry(ctx, req.IP)
}
