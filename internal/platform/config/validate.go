package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError lists config fields that are missing, out of range or unparsable.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

func (e *ValidationError) Fields() []string { return slices.Clone(e.fields) }

// validate checks cfg. unparsed carries fields whose raw value failed to parse and
// is reported ahead of range checks.
func validate(cfg Config, unparsed []string) error {
	fields := slices.Clone(unparsed)
	check := func(ok bool, field string) {
		if !ok && !slices.Contains(fields, field) {
			fields = append(fields, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")

	switch cfg.Shipping.RatesBackend {
	case RatesBackendFirestore:
	case RatesBackendPostgres:
		check(strings.TrimSpace(cfg.Postgres.DSN) != "", "Postgres.DSN")
	default:
		check(false, "Shipping.RatesBackend")
	}
	check(cfg.Shipping.RateCacheTTL >= 0, "Shipping.RateCacheTTL")
	check(len(cfg.Shipping.Currency) == 3, "Shipping.Currency")

	check(storeBackend(cfg.Region.CacheBackend), "Region.CacheBackend")
	check(cfg.Region.CacheTTL > 0, "Region.CacheTTL")
	check(cfg.Region.SourceTimeout > 0, "Region.SourceTimeout")
	check(cfg.Region.GeoIPRatePerSecond > 0, "Region.GeoIPRatePerSecond")
	check(cfg.Region.GeoIPBurst > 0, "Region.GeoIPBurst")

	check(storeBackend(cfg.RateLimits.Backend), "RateLimits.Backend")
	check(cfg.RateLimits.DetectRegionLimit > 0, "RateLimits.DetectRegionLimit")
	check(cfg.RateLimits.DetectRegionWindow > 0, "RateLimits.DetectRegionWindow")

	check(storeBackend(cfg.Idempotency.Backend), "Idempotency.Backend")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")

	check(!cfg.UsesRedis() || strings.TrimSpace(cfg.Redis.Addr) != "", "Redis.Addr")
	check(cfg.Fulfillment.PageSize > 0, "Fulfillment.PageSize")
	check(cfg.Internal.OIDCAudience == "" || len(cfg.Internal.ServiceAccounts) > 0, "Internal.ServiceAccounts")

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func storeBackend(value string) bool {
	return value == StoreBackendMemory || value == StoreBackendRedis
}
