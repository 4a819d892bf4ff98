package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/threadcraft/api/internal/platform/textutil"
	"github.com/threadcraft/api/internal/services"
)

// StripeLogger defines the logging contract for Stripe operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeShippingRateAPI interface {
	New(params *stripe.ShippingRateParams) (*stripe.ShippingRate, error)
}

// StripeShippingRatesConfig configures StripeShippingRates.
type StripeShippingRatesConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	API       stripeShippingRateAPI
}

// StripeShippingRates registers computed quotes as Stripe Shipping Rates so a
// Checkout Session can offer them.
type StripeShippingRates struct {
	api     stripeShippingRateAPI
	account string
	logger  StripeLogger
}

var _ services.ShippingRateRegistrar = (*StripeShippingRates)(nil)

// NewStripeShippingRates constructs the registrar from an API key or an injected API.
func NewStripeShippingRates(cfg StripeShippingRatesConfig) (*StripeShippingRates, error) {
	api := cfg.API
	if api == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		api = client.New(apiKey, cfg.Backends).ShippingRates
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeShippingRates{
		api:     api,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// RegisterShippingRate creates a fixed-amount shipping rate and returns its id.
func (s *StripeShippingRates) RegisterShippingRate(ctx context.Context, req services.CheckoutShippingRateRequest) (string, error) {
	if s == nil {
		return "", errors.New("stripe: shipping rates not configured")
	}
	if req.AmountMinor < 0 {
		return "", fmt.Errorf("stripe: negative shipping amount %d", req.AmountMinor)
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return "", errors.New("stripe: currency is required")
	}

	params := &stripe.ShippingRateParams{
		DisplayName: stripe.String(req.DisplayName),
		Type:        stripe.String(string(stripe.ShippingRateTypeFixedAmount)),
		FixedAmount: &stripe.ShippingRateFixedAmountParams{
			Amount:   stripe.Int64(req.AmountMinor),
			Currency: stripe.String(currency),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if s.account != "" {
		params.SetStripeAccount(s.account)
	}
	if req.MinDays > 0 && req.MaxDays >= req.MinDays {
		params.DeliveryEstimate = &stripe.ShippingRateDeliveryEstimateParams{
			Minimum: &stripe.ShippingRateDeliveryEstimateMinimumParams{
				Unit:  stripe.String("business_day"),
				Value: stripe.Int64(int64(req.MinDays)),
			},
			Maximum: &stripe.ShippingRateDeliveryEstimateMaximumParams{
				Unit:  stripe.String("business_day"),
				Value: stripe.Int64(int64(req.MaxDays)),
			},
		}
	}
	if metadata := textutil.NormalizeStringMap(req.Metadata, textutil.StripeMetadata); metadata != nil {
		params.Metadata = metadata
	}

	rate, err := s.api.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create shipping rate: %w", err)
	}
	s.logger(ctx, "payments.stripe.shipping_rate.created", map[string]any{
		"shippingRateId": rate.ID,
		"amount":         req.AmountMinor,
		"currency":       currency,
	})
	return rate.ID, nil
}
