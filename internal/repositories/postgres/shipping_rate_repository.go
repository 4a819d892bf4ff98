package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/threadcraft/api/internal/domain"
	"github.com/threadcraft/api/internal/repositories"
)

// ShippingRateModel is the gorm row for one rate override.
type ShippingRateModel struct {
	ID                 uint      `gorm:"primaryKey"`
	ProductCategory    string    `gorm:"column:product_category;size:32;not null;uniqueIndex:idx_shipping_rates_key,priority:1"`
	Region             string    `gorm:"column:region;size:64;not null;uniqueIndex:idx_shipping_rates_key,priority:2"`
	BaseRate           float64   `gorm:"column:base_rate;not null"`
	AdditionalItemRate float64   `gorm:"column:additional_item_rate;not null"`
	CreatedAt          time.Time `gorm:"column:created_at;not null"`
	UpdatedAt          time.Time `gorm:"column:updated_at;not null"`
}

// TableName pins the table name shared with the storefront's existing schema.
func (ShippingRateModel) TableName() string { return "shipping_rates" }

// ShippingRateRepository stores overrides in a relational table with a unique (category, region) index.
type ShippingRateRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ repositories.ShippingRateRepository = (*ShippingRateRepository)(nil)

// NewShippingRateRepository wraps db. Call Migrate once at startup to create the table.
func NewShippingRateRepository(db *gorm.DB, now func() time.Time) (*ShippingRateRepository, error) {
	if db == nil {
		return nil, errors.New("shipping rate repository requires a database")
	}
	if now == nil {
		now = time.Now
	}
	return &ShippingRateRepository{db: db, now: now}, nil
}

// Migrate creates or updates the shipping_rates table.
func (r *ShippingRateRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ShippingRateModel{})
}

// List returns every override ordered by category then region.
func (r *ShippingRateRepository) List(ctx context.Context) ([]domain.ShippingRate, error) {
	var rows []ShippingRateModel
	if err := r.db.WithContext(ctx).Order("product_category ASC, region ASC").Find(&rows).Error; err != nil {
		return nil, wrap("shipping_rates.list", err)
	}
	out := make([]domain.ShippingRate, 0, len(rows))
	for _, row := range rows {
		rate, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("shipping rate %d: %w", row.ID, err)
		}
		out = append(out, rate)
	}
	return out, nil
}

// Get loads the override for key.
func (r *ShippingRateRepository) Get(ctx context.Context, key domain.ShippingRateKey) (domain.ShippingRate, error) {
	var row ShippingRateModel
	err := r.db.WithContext(ctx).
		Where("product_category = ? AND region = ?", string(key.Category), string(key.Region)).
		Take(&row).Error
	if err != nil {
		return domain.ShippingRate{}, wrap("shipping_rates.get", err)
	}
	return row.toDomain()
}

// Upsert inserts the override or updates the amounts of the existing row for the same key.
func (r *ShippingRateRepository) Upsert(ctx context.Context, rate domain.ShippingRate) (domain.ShippingRate, error) {
	if !rate.Key().Valid() {
		return domain.ShippingRate{}, errors.New("shipping rate key is invalid")
	}
	now := r.now().UTC()
	row := ShippingRateModel{
		ProductCategory:    string(rate.Category),
		Region:             string(rate.Region),
		BaseRate:           rate.BaseRate,
		AdditionalItemRate: rate.AdditionalItemRate,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_category"}, {Name: "region"}},
		DoUpdates: clause.AssignmentColumns([]string{"base_rate", "additional_item_rate", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return domain.ShippingRate{}, wrap("shipping_rates.upsert", err)
	}
	return r.Get(ctx, rate.Key())
}

// Delete removes the override for key. Deleting a missing key succeeds.
func (r *ShippingRateRepository) Delete(ctx context.Context, key domain.ShippingRateKey) error {
	err := r.db.WithContext(ctx).
		Where("product_category = ? AND region = ?", string(key.Category), string(key.Region)).
		Delete(&ShippingRateModel{}).Error
	return wrap("shipping_rates.delete", err)
}

func (m ShippingRateModel) toDomain() (domain.ShippingRate, error) {
	category, ok := domain.ParseProductCategory(m.ProductCategory)
	if !ok {
		return domain.ShippingRate{}, fmt.Errorf("unknown product category %q", m.ProductCategory)
	}
	region, ok := domain.ParseShippingRegion(m.Region)
	if !ok {
		return domain.ShippingRate{}, fmt.Errorf("unknown region %q", m.Region)
	}
	return domain.ShippingRate{
		Category:           category,
		Region:             region,
		BaseRate:           m.BaseRate,
		AdditionalItemRate: m.AdditionalItemRate,
		CreatedAt:          m.CreatedAt.UTC(),
		UpdatedAt:          m.UpdatedAt.UTC(),
	}, nil
}
