package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/threadcraft/api/internal/domain"
)

type stubCatalogSource struct {
	pages   map[int]CatalogPage
	err     error
	offsets []int
}

func (s *stubCatalogSource) ListProducts(_ context.Context, offset, limit int) (CatalogPage, error) {
	s.offsets = append(s.offsets, offset)
	if s.err != nil {
		return CatalogPage{}, s.err
	}
	return s.pages[offset], nil
}

func TestCatalogSyncPagesAndClassifies(t *testing.T) {
	source := &stubCatalogSource{pages: map[int]CatalogPage{
		0: {Total: 3, Products: []CatalogProduct{
			{ExternalID: "101", Name: "Classic Tee", Variants: []CatalogVariant{{RetailPrice: 29.5, Currency: "usd"}, {RetailPrice: 24}}},
			{ExternalID: "102", Name: "AOP Hoodie", Variants: []CatalogVariant{{RetailPrice: 64, Currency: "EUR"}}},
		}},
		2: {Offset: 2, Total: 3, Products: []CatalogProduct{
			{ExternalID: "103", Name: "Sticker Pack"},
		}},
	}}
	products := &stubProductRepository{}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, err := NewCatalogSyncService(CatalogSyncServiceDeps{
		Source:   source,
		Products: products,
		PageSize: 2,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewCatalogSyncService: %v", err)
	}

	summary, err := svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if summary.RunID == "" || summary.Fetched != 3 || summary.Stored != 2 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(source.offsets) != 2 || source.offsets[1] != 2 {
		t.Fatalf("unexpected paging %v", source.offsets)
	}

	byID := map[string]domain.Product{}
	for _, p := range products.stored {
		byID[p.ID] = p
	}
	tee := byID["101"]
	if tee.Category != domain.CategoryBasicShirt || tee.RetailPrice != 24 || tee.ShippingType != domain.ShippingTypeFlatRate || tee.Currency != "USD" {
		t.Fatalf("unexpected tee %+v", tee)
	}
	hoodie := byID["102"]
	if hoodie.Category != domain.CategoryAOPHeavy || hoodie.ShippingType != domain.ShippingTypeFree || hoodie.Currency != "EUR" || !hoodie.SyncedAt.Equal(now) {
		t.Fatalf("unexpected hoodie %+v", hoodie)
	}
}

func TestCatalogSyncSourceFailure(t *testing.T) {
	svc, err := NewCatalogSyncService(CatalogSyncServiceDeps{
		Source:   &stubCatalogSource{err: errors.New("printful 503")},
		Products: &stubProductRepository{},
	})
	if err != nil {
		t.Fatalf("NewCatalogSyncService: %v", err)
	}
	if _, err := svc.Sync(context.Background()); !errors.Is(err, ErrCatalogSyncFailed) {
		t.Fatalf("expected ErrCatalogSyncFailed, got %v", err)
	}
}
