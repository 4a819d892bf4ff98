package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/threadcraft/api/internal/domain"
	"github.com/threadcraft/api/internal/repositories"
)

const defaultQuoteCurrency = "USD"

// ErrCheckoutShippingUnavailable is returned when no checkout registrar is configured.
var ErrCheckoutShippingUnavailable = errors.New("shipping quotes: checkout shipping rates unavailable")

// CheckoutShippingRateRequest describes a quote to register with the payment provider.
type CheckoutShippingRateRequest struct {
	DisplayName    string
	AmountMinor    int64
	Currency       string
	MinDays        int
	MaxDays        int
	Metadata       map[string]string
	IdempotencyKey string
}

// ShippingRateRegistrar registers a computed quote as a checkout shipping option.
type ShippingRateRegistrar interface {
	RegisterShippingRate(ctx context.Context, req CheckoutShippingRateRequest) (string, error)
}

// QuoteCommand requests a shipping quote. An empty Region falls back to detection.
// IdempotencyKey, when set, is forwarded to the payment provider on checkout.
type QuoteCommand struct {
	Region         string
	Items          []domain.CartLineItem
	Client         DetectRegionRequest
	Subtotal       *float64
	IdempotencyKey string
}

// CheckoutShippingOption is a quote registered with the payment provider.
type CheckoutShippingOption struct {
	Quote          domain.ShippingQuote
	ShippingRateID string
	AmountMinor    int64
}

// ShippingQuoteService prices carts against the effective rate table.
type ShippingQuoteService interface {
	Quote(ctx context.Context, cmd QuoteCommand) (domain.ShippingQuote, error)
	CheckoutOption(ctx context.Context, cmd QuoteCommand) (CheckoutShippingOption, error)
}

// ShippingQuoteServiceDeps wires the quote collaborators. Products, Detector and
// Registrar are optional.
type ShippingQuoteServiceDeps struct {
	Rates     ShippingRateService
	Products  repositories.ProductRepository
	Detector  RegionDetector
	Registrar ShippingRateRegistrar
	Currency  string
	Logger    func(context.Context, string, map[string]any)
}

type shippingQuoteService struct {
	rates     ShippingRateService
	products  repositories.ProductRepository
	detector  RegionDetector
	registrar ShippingRateRegistrar
	currency  string
	logger    func(context.Context, string, map[string]any)
}

var _ ShippingQuoteService = (*shippingQuoteService)(nil)

// NewShippingQuoteService constructs the quote service.
func NewShippingQuoteService(deps ShippingQuoteServiceDeps) (ShippingQuoteService, error) {
	if deps.Rates == nil {
		return nil, errors.New("shipping quote service: rate service is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultQuoteCurrency
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &shippingQuoteService{
		rates:     deps.Rates,
		products:  deps.Products,
		detector:  deps.Detector,
		registrar: deps.Registrar,
		currency:  currency,
		logger:    logger,
	}, nil
}

func (s *shippingQuoteService) Quote(ctx context.Context, cmd QuoteCommand) (domain.ShippingQuote, error) {
	region, err := s.resolveRegion(ctx, cmd)
	if err != nil {
		return domain.ShippingQuote{}, err
	}

	items, hydrated := s.hydrate(ctx, cmd.Items)

	matrix, err := s.rates.Matrix(ctx)
	if err != nil {
		s.logger(ctx, "shipping.quote.matrix_failed", map[string]any{"error": err})
		matrix = DefaultRateMatrix()
	}

	quote, err := CalculateShipping(items, region, matrix)
	if err != nil {
		s.logger(ctx, "shipping.quote.failed", map[string]any{
			"region": region.String(),
			"items":  len(items),
			"error":  err,
		})
		return domain.ShippingQuote{}, err
	}
	quote.Currency = s.currency
	quote.HydratedProductIDs = hydrated

	subtotal := cartSubtotal(items)
	if cmd.Subtotal != nil {
		subtotal = *cmd.Subtotal
	}
	quote.FreeShipping = ShippingProgress(subtotal, region)
	return quote, nil
}

func (s *shippingQuoteService) CheckoutOption(ctx context.Context, cmd QuoteCommand) (CheckoutShippingOption, error) {
	if s.registrar == nil {
		return CheckoutShippingOption{}, ErrCheckoutShippingUnavailable
	}
	quote, err := s.Quote(ctx, cmd)
	if err != nil {
		return CheckoutShippingOption{}, err
	}

	amount := decimal.NewFromFloat(quote.Total).Shift(2).Round(0).IntPart()
	window, _ := DeliveryWindowFor(quote.Region)
	categories := make([]string, 0, len(quote.Breakdown))
	for _, b := range quote.Breakdown {
		categories = append(categories, b.Category.String())
	}
	sort.Strings(categories)

	id, err := s.registrar.RegisterShippingRate(ctx, CheckoutShippingRateRequest{
		DisplayName: fmt.Sprintf("Shipping to %s", quote.Region),
		AmountMinor: amount,
		Currency:    quote.Currency,
		MinDays:     window.MinDays,
		MaxDays:     window.MaxDays,
		Metadata: map[string]string{
			"region":     quote.Region.Slug(),
			"categories": strings.Join(categories, ","),
			"itemCount":  fmt.Sprint(quote.ItemCount),
		},
		IdempotencyKey: checkoutIdempotencyKey(cmd),
	})
	if err != nil {
		s.logger(ctx, "shipping.checkout.register_failed", map[string]any{
			"region": quote.Region.String(),
			"amount": amount,
			"error":  err,
		})
		return CheckoutShippingOption{}, fmt.Errorf("%w: %v", ErrShippingUnableToCalculate, err)
	}
	s.logger(ctx, "shipping.checkout.registered", map[string]any{
		"shippingRateId": id,
		"region":         quote.Region.String(),
		"amount":         amount,
	})
	return CheckoutShippingOption{Quote: quote, ShippingRateID: id, AmountMinor: amount}, nil
}

// checkoutIdempotencyKey scopes a client key to the caller so two shoppers
// reusing a key never share a provider object.
func checkoutIdempotencyKey(cmd QuoteCommand) string {
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		return "shipping-quote-" + ulid.Make().String()
	}
	client := strings.TrimSpace(cmd.Client.ClientKey)
	if client == "" {
		client = anonymousClientKey
	}
	return "shipping-quote-" + client + "-" + key
}

func (s *shippingQuoteService) resolveRegion(ctx context.Context, cmd QuoteCommand) (domain.ShippingRegion, error) {
	if value := strings.TrimSpace(cmd.Region); value != "" {
		region, ok := domain.ParseShippingRegion(value)
		if !ok {
			return "", fmt.Errorf("%w: unknown region %q", ErrShippingUnableToCalculate, value)
		}
		return region, nil
	}
	if s.detector == nil {
		return domain.DefaultShippingRegion, nil
	}
	return s.detector.Detect(ctx, cmd.Client).Region, nil
}

// hydrate fills missing line item fields from the catalog. Lookup failures are
// logged and leave the items untouched.
func (s *shippingQuoteService) hydrate(ctx context.Context, items []domain.CartLineItem) ([]domain.CartLineItem, []string) {
	out := make([]domain.CartLineItem, len(items))
	copy(out, items)
	if s.products == nil {
		return out, nil
	}

	var ids []string
	seen := make(map[string]struct{})
	for _, item := range out {
		id := strings.TrimSpace(item.ProductID)
		if id == "" || !needsHydration(item) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return out, nil
	}

	products, err := s.products.GetMany(ctx, ids)
	if err != nil {
		s.logger(ctx, "shipping.quote.hydrate_failed", map[string]any{"products": len(ids), "error": err})
		return out, nil
	}

	var hydrated []string
	for i, item := range out {
		product, ok := products[strings.TrimSpace(item.ProductID)]
		if !ok || !needsHydration(item) {
			continue
		}
		if item.Category == "" {
			item.Category = product.Category
		}
		if item.WeightKg == nil && product.WeightKg != nil {
			w := *product.WeightKg
			item.WeightKg = &w
		}
		if item.Dimensions == nil && product.Dimensions != nil {
			d := *product.Dimensions
			item.Dimensions = &d
		}
		if item.ShippingType == "" {
			item.ShippingType = product.ShippingType
		}
		if item.RetailPrice == 0 {
			item.RetailPrice = product.RetailPrice
		}
		out[i] = item
		hydrated = append(hydrated, product.ID)
	}
	sort.Strings(hydrated)
	return out, dedupeSorted(hydrated)
}

func needsHydration(item domain.CartLineItem) bool {
	return item.Category == "" || item.WeightKg == nil || item.Dimensions == nil ||
		item.ShippingType == "" || item.RetailPrice == 0
}

func cartSubtotal(items []domain.CartLineItem) float64 {
	total := decimal.Zero
	for _, item := range items {
		if item.Quantity <= 0 || !nonNegative(item.RetailPrice) {
			continue
		}
		total = total.Add(decimal.NewFromFloat(item.RetailPrice).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total.Round(2).InexactFloat64()
}

func dedupeSorted(values []string) []string {
	if len(values) < 2 {
		return values
	}
	out := values[:1]
	for _, v := range values[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
