package fulfillment

import (
	"context"
	"strconv"
	"strings"

	"github.com/threadcraft/api/internal/services"
)

// CatalogSource adapts the client to the catalog sync service.
type CatalogSource struct {
	client *Client
}

var _ services.CatalogSource = (*CatalogSource)(nil)

// NewCatalogSource wraps client.
func NewCatalogSource(client *Client) *CatalogSource {
	return &CatalogSource{client: client}
}

// ListProducts lists a page of products and loads the variants of each.
// Ignored products are dropped from the page but still count toward paging.
func (s *CatalogSource) ListProducts(ctx context.Context, offset, limit int) (services.CatalogPage, error) {
	list, err := s.client.ListSyncProducts(ctx, offset, limit)
	if err != nil {
		return services.CatalogPage{}, err
	}
	page := services.CatalogPage{
		Offset:   list.Paging.Offset,
		Total:    list.Paging.Total,
		Products: make([]services.CatalogProduct, 0, len(list.Products)),
	}
	for _, summary := range list.Products {
		if summary.IsIgnored {
			page.Products = append(page.Products, services.CatalogProduct{})
			continue
		}
		detail, err := s.client.GetSyncProduct(ctx, summary.ID)
		if err != nil {
			return services.CatalogPage{}, err
		}
		page.Products = append(page.Products, toCatalogProduct(summary, detail))
	}
	return page, nil
}

func toCatalogProduct(summary SyncProduct, detail SyncProductDetail) services.CatalogProduct {
	product := services.CatalogProduct{
		ExternalID: strconv.FormatInt(summary.ID, 10),
		Name:       strings.TrimSpace(summary.Name),
		Variants:   make([]services.CatalogVariant, 0, len(detail.Variants)),
	}
	if product.Name == "" {
		product.Name = strings.TrimSpace(detail.Product.Name)
	}
	for _, v := range detail.Variants {
		if product.Description == "" {
			product.Description = strings.TrimSpace(v.Product.Name)
		}
		price, ok := v.Price()
		if !ok {
			continue
		}
		product.Variants = append(product.Variants, services.CatalogVariant{
			ExternalID:  strconv.FormatInt(v.ID, 10),
			RetailPrice: price,
			Currency:    v.Currency,
		})
	}
	return product
}
