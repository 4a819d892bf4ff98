package repositories

import (
	"context"
	"errors"

	domain "github.com/threadcraft/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err is a RepositoryError describing a missing record.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsUnavailable reports whether err is a RepositoryError describing a backend outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// ShippingRateRepository persists administrator rate overrides keyed by (category, region).
type ShippingRateRepository interface {
	// List returns every override ordered by category then region.
	List(ctx context.Context) ([]domain.ShippingRate, error)
	// Get returns a RepositoryError with IsNotFound when no override exists for the key.
	Get(ctx context.Context, key domain.ShippingRateKey) (domain.ShippingRate, error)
	// Upsert inserts or replaces the override for the record's key.
	Upsert(ctx context.Context, rate domain.ShippingRate) (domain.ShippingRate, error)
	// Delete removes the override. Removing a missing key is not an error.
	Delete(ctx context.Context, key domain.ShippingRateKey) error
}

// ProductRepository stores catalog rows synchronised from the fulfillment provider.
type ProductRepository interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
	GetMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	UpsertMany(ctx context.Context, products []domain.Product) (int, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
