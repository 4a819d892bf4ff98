package firestore

import (
	"testing"
	"time"

	domain "github.com/threadcraft/api/internal/domain"
)

func TestShippingRateDocumentRoundTrip(t *testing.T) {
	created := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	rate := domain.ShippingRate{
		Category:           domain.CategoryHeadwear,
		Region:             domain.RegionEFTA,
		BaseRate:           7.5,
		AdditionalItemRate: 1.25,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
	doc := fromDomainShippingRate(rate)
	if doc.Region != "EFTA States" || doc.ProductCategory != "HEADWEAR" {
		t.Fatalf("unexpected document %+v", doc)
	}
	got, err := doc.toDomain()
	if err != nil {
		t.Fatalf("toDomain: %v", err)
	}
	if got != rate {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, rate)
	}
}

func TestShippingRateDocumentRejectsUnknownValues(t *testing.T) {
	if _, err := (shippingRateDocument{ProductCategory: "SOCKS", Region: "USA"}).toDomain(); err == nil {
		t.Fatalf("expected unknown category to be rejected")
	}
	if _, err := (shippingRateDocument{ProductCategory: "BASIC_SHIRT", Region: "Mars"}).toDomain(); err == nil {
		t.Fatalf("expected unknown region to be rejected")
	}
}

func TestProductDocumentDefaults(t *testing.T) {
	product := productDocument{Category: "unknown", ShippingType: "weird"}.toDomain()
	if product.Category != domain.CategoryDefault {
		t.Fatalf("expected DEFAULT category, got %s", product.Category)
	}
	if product.ShippingType != domain.ShippingTypeFlatRate {
		t.Fatalf("expected flat_rate shipping type, got %s", product.ShippingType)
	}
}
