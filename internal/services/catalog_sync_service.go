package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/threadcraft/api/internal/domain"
	"github.com/threadcraft/api/internal/repositories"
)

const (
	freeShippingCatalogPrice = 50
	defaultCatalogPageSize   = 100
	maxCatalogPages          = 1000
)

// ErrCatalogSyncFailed wraps failures that abort a catalog sync run.
var ErrCatalogSyncFailed = errors.New("catalog sync: failed")

// CatalogVariant is one purchasable variant of a fulfillment product.
type CatalogVariant struct {
	ExternalID  string
	RetailPrice float64
	Currency    string
}

// CatalogProduct is a product as published by the fulfillment provider.
type CatalogProduct struct {
	ExternalID  string
	Name        string
	Description string
	Variants    []CatalogVariant
}

// CatalogPage is one page of fulfillment products. Total is the provider's count
// across all pages.
type CatalogPage struct {
	Products []CatalogProduct
	Offset   int
	Total    int
}

// CatalogSource lists products from the fulfillment provider.
type CatalogSource interface {
	ListProducts(ctx context.Context, offset, limit int) (CatalogPage, error)
}

// CatalogSyncSummary reports the outcome of one sync run.
type CatalogSyncSummary struct {
	RunID      string
	Fetched    int
	Stored     int
	Skipped    int
	ByCategory map[domain.ProductCategory]int
	StartedAt  time.Time
	FinishedAt time.Time
}

// CatalogSyncService copies the fulfillment catalog into the product repository.
type CatalogSyncService interface {
	Sync(ctx context.Context) (CatalogSyncSummary, error)
}

// CatalogSyncServiceDeps wires the sync collaborators.
type CatalogSyncServiceDeps struct {
	Source     CatalogSource
	Products   repositories.ProductRepository
	Classifier *CategoryClassifier
	PageSize   int
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type catalogSyncService struct {
	source     CatalogSource
	products   repositories.ProductRepository
	classifier *CategoryClassifier
	pageSize   int
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)
}

var _ CatalogSyncService = (*catalogSyncService)(nil)

// NewCatalogSyncService constructs the sync service.
func NewCatalogSyncService(deps CatalogSyncServiceDeps) (CatalogSyncService, error) {
	if deps.Source == nil {
		return nil, errors.New("catalog sync: catalog source is required")
	}
	if deps.Products == nil {
		return nil, errors.New("catalog sync: product repository is required")
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = NewCategoryClassifier(DefaultCategoryRules)
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = defaultCatalogPageSize
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogSyncService{
		source:     deps.Source,
		products:   deps.Products,
		classifier: classifier,
		pageSize:   pageSize,
		now:        func() time.Time { return now().UTC() },
		logger:     logger,
	}, nil
}

func (s *catalogSyncService) Sync(ctx context.Context) (CatalogSyncSummary, error) {
	summary := CatalogSyncSummary{
		RunID:      ulid.Make().String(),
		ByCategory: make(map[domain.ProductCategory]int),
		StartedAt:  s.now(),
	}
	s.logger(ctx, "catalog.sync.started", map[string]any{"runId": summary.RunID})

	offset := 0
	for page := 0; page < maxCatalogPages; page++ {
		result, err := s.source.ListProducts(ctx, offset, s.pageSize)
		if err != nil {
			s.logger(ctx, "catalog.sync.failed", map[string]any{
				"runId":  summary.RunID,
				"offset": offset,
				"error":  err,
			})
			return summary, fmt.Errorf("%w: list products at offset %d: %v", ErrCatalogSyncFailed, offset, err)
		}
		summary.Fetched += len(result.Products)

		rows := make([]domain.Product, 0, len(result.Products))
		for _, p := range result.Products {
			row, ok := s.toProduct(p, summary.StartedAt)
			if !ok {
				summary.Skipped++
				continue
			}
			summary.ByCategory[row.Category]++
			rows = append(rows, row)
		}
		if len(rows) > 0 {
			stored, err := s.products.UpsertMany(ctx, rows)
			if err != nil {
				return summary, fmt.Errorf("%w: store products: %v", ErrCatalogSyncFailed, err)
			}
			summary.Stored += stored
		}

		offset += len(result.Products)
		if len(result.Products) == 0 || offset >= result.Total {
			break
		}
	}

	summary.FinishedAt = s.now()
	s.logger(ctx, "catalog.sync.completed", map[string]any{
		"runId":    summary.RunID,
		"fetched":  summary.Fetched,
		"stored":   summary.Stored,
		"skipped":  summary.Skipped,
		"duration": summary.FinishedAt.Sub(summary.StartedAt).String(),
	})
	return summary, nil
}

// toProduct derives a catalog row. Products without an id or priced variants are skipped.
func (s *catalogSyncService) toProduct(p CatalogProduct, syncedAt time.Time) (domain.Product, bool) {
	externalID := strings.TrimSpace(p.ExternalID)
	if externalID == "" {
		return domain.Product{}, false
	}
	price, currency, ok := minVariantPrice(p.Variants)
	if !ok {
		return domain.Product{}, false
	}
	shippingType := domain.ShippingTypeFlatRate
	if price >= freeShippingCatalogPrice {
		shippingType = domain.ShippingTypeFree
	}
	return domain.Product{
		ID:           externalID,
		ExternalID:   externalID,
		Name:         strings.TrimSpace(p.Name),
		Description:  strings.TrimSpace(p.Description),
		Category:     s.classifier.Classify(p.Name, p.Description),
		ShippingType: shippingType,
		RetailPrice:  price,
		Currency:     currency,
		SyncedAt:     syncedAt,
	}, true
}

func minVariantPrice(variants []CatalogVariant) (float64, string, bool) {
	var (
		price    float64
		currency string
		found    bool
	)
	for _, v := range variants {
		if !nonNegative(v.RetailPrice) || v.RetailPrice == 0 {
			continue
		}
		if !found || v.RetailPrice < price {
			price = v.RetailPrice
			currency = strings.ToUpper(strings.TrimSpace(v.Currency))
			found = true
		}
	}
	if currency == "" {
		currency = defaultQuoteCurrency
	}
	return price, currency, found
}
