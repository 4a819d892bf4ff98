package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gorm.io/driver/sqlite"

	domain "github.com/threadcraft/api/internal/domain"
	"github.com/threadcraft/api/internal/platform/database"
	"github.com/threadcraft/api/internal/repositories"
)

func newTestRepository(t *testing.T, now *time.Time) *ShippingRateRepository {
	t.Helper()
	db, err := database.Open(sqlite.Open(":memory:"), 1, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })

	repo, err := NewShippingRateRepository(db, func() time.Time { return *now })
	if err != nil {
		t.Fatalf("NewShippingRateRepository: %v", err)
	}
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func TestShippingRateRepositoryUpsertGetDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newTestRepository(t, &now)
	key := domain.ShippingRateKey{Category: domain.CategoryBasicShirt, Region: domain.RegionEurope}

	if _, err := repo.Get(ctx, key); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found before insert, got %v", err)
	}

	created, err := repo.Upsert(ctx, domain.ShippingRate{Category: key.Category, Region: key.Region, BaseRate: 5.25, AdditionalItemRate: 1.5})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if created.BaseRate != 5.25 || created.AdditionalItemRate != 1.5 || !created.CreatedAt.Equal(now) {
		t.Fatalf("unexpected created rate %+v", created)
	}

	later := now.Add(time.Hour)
	now = later
	updated, err := repo.Upsert(ctx, domain.ShippingRate{Category: key.Category, Region: key.Region, BaseRate: 6, AdditionalItemRate: 2})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if updated.BaseRate != 6 || updated.AdditionalItemRate != 2 {
		t.Fatalf("expected replaced amounts, got %+v", updated)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) || !updated.UpdatedAt.Equal(later) {
		t.Fatalf("expected created_at kept and updated_at bumped, got %+v", updated)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("upsert must keep one row per key, got %d", len(all))
	}

	if err := repo.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, key); err != nil {
		t.Fatalf("deleting a missing key should succeed: %v", err)
	}
	if _, err := repo.Get(ctx, key); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestShippingRateRepositoryListOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newTestRepository(t, &now)

	inputs := []domain.ShippingRate{
		{Category: domain.CategoryHeadwear, Region: domain.RegionJapan, BaseRate: 4, AdditionalItemRate: 1},
		{Category: domain.CategoryAOPLight, Region: domain.RegionUSA, BaseRate: 3, AdditionalItemRate: 1},
		{Category: domain.CategoryAOPLight, Region: domain.RegionCanada, BaseRate: 7, AdditionalItemRate: 2},
	}
	for _, rate := range inputs {
		if _, err := repo.Upsert(ctx, rate); err != nil {
			t.Fatalf("upsert %v: %v", rate.Key(), err)
		}
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := make([]string, 0, len(all))
	for _, rate := range all {
		got = append(got, rate.Key().ID())
	}
	want := []string{"AOP_LIGHT__canada", "AOP_LIGHT__usa", "HEADWEAR__japan"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestShippingRateModelRejectsUnknownValues(t *testing.T) {
	row := ShippingRateModel{ProductCategory: "SOCKS", Region: "usa"}
	if _, err := row.toDomain(); err == nil {
		t.Fatalf("expected unknown category error")
	}
	row = ShippingRateModel{ProductCategory: "HEADWEAR", Region: "Mars"}
	if _, err := row.toDomain(); err == nil {
		t.Fatalf("expected unknown region error")
	}
}
