package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/threadcraft/api/internal/domain"
	pfirestore "github.com/threadcraft/api/internal/platform/firestore"
	"github.com/threadcraft/api/internal/repositories"
)

const shippingRateCollection = "shipping_rates"

var errInvalidShippingRateKey = errors.New("shipping rate key is invalid")

// ShippingRateRepository persists rate overrides as one document per (category, region).
type ShippingRateRepository struct {
	docs     *pfirestore.Collection[shippingRateDocument]
	provider *pfirestore.Provider
	now      func() time.Time
}

var _ repositories.ShippingRateRepository = (*ShippingRateRepository)(nil)

// ShippingRateRepositoryOption customises the repository.
type ShippingRateRepositoryOption func(*ShippingRateRepository)

// WithShippingRateClock overrides the timestamp source used for created/updated fields.
func WithShippingRateClock(now func() time.Time) ShippingRateRepositoryOption {
	return func(r *ShippingRateRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewShippingRateRepository constructs a Firestore-backed override store.
func NewShippingRateRepository(provider *pfirestore.Provider, opts ...ShippingRateRepositoryOption) (*ShippingRateRepository, error) {
	if provider == nil {
		return nil, errors.New("shipping rate repository requires firestore provider")
	}
	repo := &ShippingRateRepository{
		docs:     pfirestore.NewCollection[shippingRateDocument](provider, shippingRateCollection),
		provider: provider,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// List returns all overrides ordered by category then region.
func (r *ShippingRateRepository) List(ctx context.Context) ([]domain.ShippingRate, error) {
	docs, err := r.docs.List(ctx)
	if err != nil {
		return nil, err
	}
	rates := make([]domain.ShippingRate, 0, len(docs))
	for _, doc := range docs {
		rate, err := doc.Data.toDomain()
		if err != nil {
			return nil, fmt.Errorf("shipping rate %s: %w", doc.ID, err)
		}
		rates = append(rates, rate)
	}
	sort.SliceStable(rates, func(i, j int) bool {
		if rates[i].Category != rates[j].Category {
			return rates[i].Category < rates[j].Category
		}
		return rates[i].Region < rates[j].Region
	})
	return rates, nil
}

// Get loads the override for key.
func (r *ShippingRateRepository) Get(ctx context.Context, key domain.ShippingRateKey) (domain.ShippingRate, error) {
	if !key.Valid() {
		return domain.ShippingRate{}, errInvalidShippingRateKey
	}
	doc, err := r.docs.Get(ctx, key.ID())
	if err != nil {
		return domain.ShippingRate{}, err
	}
	return doc.Data.toDomain()
}

// Upsert writes the override, keeping the original creation time when the key already exists.
func (r *ShippingRateRepository) Upsert(ctx context.Context, rate domain.ShippingRate) (domain.ShippingRate, error) {
	key := rate.Key()
	if !key.Valid() {
		return domain.ShippingRate{}, errInvalidShippingRateKey
	}

	now := r.now().UTC()
	doc := fromDomainShippingRate(rate)
	doc.CreatedAt = now
	doc.UpdatedAt = now

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.docs.Doc(ctx, key.ID())
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing shippingRateDocument
			if decodeErr := snap.DataTo(&existing); decodeErr == nil && !existing.CreatedAt.IsZero() {
				doc.CreatedAt = existing.CreatedAt
			}
		case repositories.IsNotFound(pfirestore.WrapError("shipping_rates.get", err)):
		default:
			return err
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.ShippingRate{}, err
	}
	return doc.toDomain()
}

// Delete removes the override for key; a missing document is not an error.
func (r *ShippingRateRepository) Delete(ctx context.Context, key domain.ShippingRateKey) error {
	if !key.Valid() {
		return errInvalidShippingRateKey
	}
	return r.docs.Delete(ctx, key.ID())
}

type shippingRateDocument struct {
	ProductCategory    string    `firestore:"product_category"`
	Region             string    `firestore:"region"`
	BaseRate           float64   `firestore:"base_rate"`
	AdditionalItemRate float64   `firestore:"additional_item_rate"`
	CreatedAt          time.Time `firestore:"created_at"`
	UpdatedAt          time.Time `firestore:"updated_at"`
}

func fromDomainShippingRate(rate domain.ShippingRate) shippingRateDocument {
	return shippingRateDocument{
		ProductCategory:    string(rate.Category),
		Region:             string(rate.Region),
		BaseRate:           rate.BaseRate,
		AdditionalItemRate: rate.AdditionalItemRate,
		CreatedAt:          rate.CreatedAt,
		UpdatedAt:          rate.UpdatedAt,
	}
}

func (d shippingRateDocument) toDomain() (domain.ShippingRate, error) {
	category, ok := domain.ParseProductCategory(d.ProductCategory)
	if !ok {
		return domain.ShippingRate{}, fmt.Errorf("unknown product category %q", d.ProductCategory)
	}
	region, ok := domain.ParseShippingRegion(d.Region)
	if !ok {
		return domain.ShippingRate{}, fmt.Errorf("unknown region %q", d.Region)
	}
	return domain.ShippingRate{
		Category:           category,
		Region:             region,
		BaseRate:           d.BaseRate,
		AdditionalItemRate: d.AdditionalItemRate,
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
	}, nil
}
