package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/threadcraft/api/internal/platform/config"
	"github.com/threadcraft/api/internal/platform/kvstore"
	"github.com/threadcraft/api/internal/platform/observability"
	"github.com/threadcraft/api/internal/repositories"
	"github.com/threadcraft/api/internal/services"
)

// Infrastructure holds the adapters assembled by the entrypoint. Rates, Health and
// RegionCache are required; the rest switch optional features on when present.
type Infrastructure struct {
	Rates       repositories.ShippingRateRepository
	Products    repositories.ProductRepository
	Health      repositories.HealthRepository
	RegionCache kvstore.Store
	Locator     services.CountryLocator
	Catalog     services.CatalogSource
	Publisher   services.RateEventPublisher
	Registrar   services.ShippingRateRegistrar
	Metrics     services.RegionMetrics
	Build       services.BuildInfo
	Logger      *zap.Logger
	Clock       func() time.Time
}

// Services bundles the service-layer contracts that handlers rely upon.
// CatalogSync is nil when no catalog source or product store is configured.
type Services struct {
	Rates       services.ShippingRateService
	Quotes      services.ShippingQuoteService
	Regions     services.RegionDetector
	CatalogSync services.CatalogSyncService
	System      services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config   config.Config
	Services Services

	closers []func(context.Context) error
}

// NewContainer constructs the shipping services from cfg and infra.
func NewContainer(cfg config.Config, infra Infrastructure) (*Container, error) {
	if infra.Rates == nil {
		return nil, errors.New("di: shipping rate repository is required")
	}
	if infra.Health == nil {
		return nil, errors.New("di: health repository is required")
	}
	if infra.RegionCache == nil {
		return nil, errors.New("di: region cache store is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	svc, err := buildServices(cfg, infra)
	if err != nil {
		return nil, err
	}
	return &Container{Config: cfg, Services: svc}, nil
}

// OnClose registers fn to run during Close. Functions run in reverse registration order.
func (c *Container) OnClose(fn func(context.Context) error) {
	if c == nil || fn == nil {
		return
	}
	c.closers = append(c.closers, fn)
}

// Close releases resources such as repository clients and publishers.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func buildServices(cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services
	events := func(name string) func(context.Context, string, map[string]any) {
		return observability.EventLogger(infra.Logger.Named(name), zapcore.InfoLevel)
	}

	rates, err := services.NewShippingRateService(services.ShippingRateServiceDeps{
		Rates:     infra.Rates,
		Publisher: infra.Publisher,
		CacheTTL:  cfg.Shipping.RateCacheTTL,
		Clock:     infra.Clock,
		Logger:    events("shipping_rates"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping rate service: %w", err)
	}
	svc.Rates = rates

	sources := []services.RegionSource{services.EdgeHeaderSource{}}
	if infra.Locator != nil {
		sources = append(sources, services.IPLookupSource{Locator: infra.Locator})
	}
	regions, err := services.NewRegionDetector(services.RegionDetectorDeps{
		Cache:         infra.RegionCache,
		Sources:       sources,
		CacheTTL:      cfg.Region.CacheTTL,
		SourceTimeout: cfg.Region.SourceTimeout,
		Metrics:       infra.Metrics,
		Clock:         infra.Clock,
		Logger:        events("region"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build region detector: %w", err)
	}
	svc.Regions = regions

	quotes, err := services.NewShippingQuoteService(services.ShippingQuoteServiceDeps{
		Rates:     rates,
		Products:  infra.Products,
		Detector:  regions,
		Registrar: infra.Registrar,
		Currency:  cfg.Shipping.Currency,
		Logger:    events("shipping_quotes"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping quote service: %w", err)
	}
	svc.Quotes = quotes

	if infra.Catalog != nil && infra.Products != nil {
		sync, err := services.NewCatalogSyncService(services.CatalogSyncServiceDeps{
			Source:   infra.Catalog,
			Products: infra.Products,
			PageSize: cfg.Fulfillment.PageSize,
			Clock:    infra.Clock,
			Logger:   events("catalog_sync"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog sync service: %w", err)
		}
		svc.CatalogSync = sync
	}

	build := infra.Build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: infra.Health,
		Clock:            infra.Clock,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = system

	return svc, nil
}
