package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/threadcraft/api/internal/domain"
	pfirestore "github.com/threadcraft/api/internal/platform/firestore"
	"github.com/threadcraft/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository stores synchronised catalog rows.
type ProductRepository struct {
	docs *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		docs: pfirestore.NewCollection[productDocument](provider, productCollection),
	}, nil
}

// Get loads a single product by ID.
func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product id is required")
	}
	doc, err := r.docs.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	product := doc.Data.toDomain()
	product.ID = doc.ID
	return product, nil
}

// GetMany loads the products that exist among productIDs in one batched read.
// Missing IDs are omitted.
func (r *ProductRepository) GetMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	seen := make(map[string]struct{}, len(productIDs))
	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	docs, err := r.docs.GetAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(docs))
	for _, doc := range docs {
		product := doc.Data.toDomain()
		product.ID = doc.ID
		out[doc.ID] = product
	}
	return out, nil
}

// UpsertMany writes products in bulk and reports how many were stored.
func (r *ProductRepository) UpsertMany(ctx context.Context, products []domain.Product) (int, error) {
	docs := make(map[string]productDocument, len(products))
	for _, product := range products {
		id := strings.TrimSpace(product.ID)
		if id == "" {
			continue
		}
		docs[id] = fromDomainProduct(product)
	}
	return r.docs.SetAll(ctx, docs)
}

type productDocument struct {
	ExternalID   string     `firestore:"external_id"`
	Name         string     `firestore:"name"`
	Description  string     `firestore:"description"`
	Category     string     `firestore:"category"`
	WeightKg     *float64   `firestore:"weight_kg"`
	Dimensions   *dimsField `firestore:"dimensions"`
	ShippingType string     `firestore:"shipping_type"`
	RetailPrice  float64    `firestore:"retail_price"`
	Currency     string     `firestore:"currency"`
	SyncedAt     time.Time  `firestore:"synced_at"`
}

type dimsField struct {
	LengthCm float64 `firestore:"length_cm"`
	WidthCm  float64 `firestore:"width_cm"`
	HeightCm float64 `firestore:"height_cm"`
}

func fromDomainProduct(p domain.Product) productDocument {
	doc := productDocument{
		ExternalID:   p.ExternalID,
		Name:         p.Name,
		Description:  p.Description,
		Category:     string(p.Category),
		WeightKg:     p.WeightKg,
		ShippingType: string(p.ShippingType),
		RetailPrice:  p.RetailPrice,
		Currency:     p.Currency,
		SyncedAt:     p.SyncedAt.UTC(),
	}
	if p.Dimensions != nil {
		doc.Dimensions = &dimsField{
			LengthCm: p.Dimensions.LengthCm,
			WidthCm:  p.Dimensions.WidthCm,
			HeightCm: p.Dimensions.HeightCm,
		}
	}
	return doc
}

func (d productDocument) toDomain() domain.Product {
	category, ok := domain.ParseProductCategory(d.Category)
	if !ok {
		category = domain.CategoryDefault
	}
	shippingType := domain.ShippingType(strings.ToLower(strings.TrimSpace(d.ShippingType)))
	if shippingType != domain.ShippingTypeFree {
		shippingType = domain.ShippingTypeFlatRate
	}
	product := domain.Product{
		ExternalID:   d.ExternalID,
		Name:         d.Name,
		Description:  d.Description,
		Category:     category,
		WeightKg:     d.WeightKg,
		ShippingType: shippingType,
		RetailPrice:  d.RetailPrice,
		Currency:     d.Currency,
		SyncedAt:     d.SyncedAt.UTC(),
	}
	if d.Dimensions != nil {
		product.Dimensions = &domain.Dimensions{
			LengthCm: d.Dimensions.LengthCm,
			WidthCm:  d.Dimensions.WidthCm,
			HeightCm: d.Dimensions.HeightCm,
		}
	}
	return product
}
