package di

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	domain "github.com/threadcraft/api/internal/domain"
	"github.com/threadcraft/api/internal/platform/config"
	"github.com/threadcraft/api/internal/platform/kvstore"
	"github.com/threadcraft/api/internal/services"
)

type notFoundError struct{}

func (notFoundError) Error() string       { return "not found" }
func (notFoundError) IsNotFound() bool    { return true }
func (notFoundError) IsConflict() bool    { return false }
func (notFoundError) IsUnavailable() bool { return false }

type emptyRates struct{}

func (emptyRates) List(context.Context) ([]domain.ShippingRate, error) { return nil, nil }
func (emptyRates) Get(context.Context, domain.ShippingRateKey) (domain.ShippingRate, error) {
	return domain.ShippingRate{}, notFoundError{}
}
func (emptyRates) Upsert(_ context.Context, rate domain.ShippingRate) (domain.ShippingRate, error) {
	return rate, nil
}
func (emptyRates) Delete(context.Context, domain.ShippingRateKey) error { return nil }

type staticHealth struct{}

func (staticHealth) Collect(context.Context) (domain.SystemHealthReport, error) {
	return domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{"rates": {Status: "ok"}},
	}, nil
}

type emptyCatalog struct{}

func (emptyCatalog) ListProducts(context.Context, int, int) (services.CatalogPage, error) {
	return services.CatalogPage{}, nil
}

func testInfrastructure() Infrastructure {
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return Infrastructure{
		Rates:       emptyRates{},
		Health:      staticHealth{},
		RegionCache: kvstore.NewMemory(now),
		Clock:       now,
	}
}

func TestNewContainerBuildsShippingServices(t *testing.T) {
	cfg := config.Config{Security: config.SecurityConfig{Environment: "test"}}
	c, err := NewContainer(cfg, testInfrastructure())
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if c.Services.CatalogSync != nil {
		t.Fatalf("expected catalog sync disabled without a source")
	}

	quote, err := c.Services.Quotes.Quote(context.Background(), services.QuoteCommand{
		Region: "USA",
		Items:  []domain.CartLineItem{{ProductID: "p-1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if quote.Region != domain.RegionUSA || quote.Currency != "USD" {
		t.Fatalf("unexpected quote %+v", quote)
	}

	report, err := c.Services.System.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Environment != "test" || report.Status != "ok" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestNewContainerEnablesCatalogSyncWithProducts(t *testing.T) {
	infra := testInfrastructure()
	infra.Catalog = emptyCatalog{}
	if c, err := NewContainer(config.Config{}, infra); err != nil || c.Services.CatalogSync != nil {
		t.Fatalf("expected sync disabled without products, got %v %v", c, err)
	}
}

func TestNewContainerRequiresCoreInfrastructure(t *testing.T) {
	cases := map[string]func(*Infrastructure){
		"rates":  func(i *Infrastructure) { i.Rates = nil },
		"health": func(i *Infrastructure) { i.Health = nil },
		"cache":  func(i *Infrastructure) { i.RegionCache = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			infra := testInfrastructure()
			mutate(&infra)
			if _, err := NewContainer(config.Config{}, infra); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestContainerCloseRunsInReverse(t *testing.T) {
	c, err := NewContainer(config.Config{}, testInfrastructure())
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	var order []string
	boom := errors.New("boom")
	c.OnClose(func(context.Context) error { order = append(order, "first"); return nil })
	c.OnClose(func(context.Context) error { order = append(order, "second"); return boom })

	if err := c.Close(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if want := []string{"second", "first"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("close order %v, want %v", order, want)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}
