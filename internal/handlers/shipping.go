package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/threadcraft/api/internal/domain"
	"github.com/threadcraft/api/internal/platform/httpx"
	"github.com/threadcraft/api/internal/platform/idempotency"
	"github.com/threadcraft/api/internal/services"
)

const (
	maxQuoteRequestBody = 64 * 1024
	maxQuoteItems       = 100
)

// ShippingHandlers exposes quote and estimate endpoints.
type ShippingHandlers struct {
	quotes   services.ShippingQuoteService
	detector services.RegionDetector
	checkout []func(http.Handler) http.Handler
}

// ShippingOption customises ShippingHandlers.
type ShippingOption func(*ShippingHandlers)

// WithCheckoutMiddlewares wraps only the checkout endpoint, e.g. idempotency replay.
func WithCheckoutMiddlewares(mw ...func(http.Handler) http.Handler) ShippingOption {
	return func(h *ShippingHandlers) {
		h.checkout = append(h.checkout, mw...)
	}
}

// NewShippingHandlers constructs shipping handlers. detector resolves the region
// for estimate endpoints when the caller omits it.
func NewShippingHandlers(quotes services.ShippingQuoteService, detector services.RegionDetector, opts ...ShippingOption) *ShippingHandlers {
	h := &ShippingHandlers{quotes: quotes, detector: detector}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the shipping endpoints.
func (h *ShippingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quotes", h.createQuote)
	r.With(h.checkout...).Post("/quotes:checkout", h.createCheckoutOption)
	r.Get("/free-shipping", h.freeShipping)
	r.Get("/delivery-estimate", h.deliveryEstimate)
}

type quoteRequest struct {
	Region   string             `json:"region"`
	Items    []quoteItemRequest `json:"items"`
	Subtotal *float64           `json:"subtotal"`
}

type quoteItemRequest struct {
	ProductID    string             `json:"productId"`
	Quantity     int                `json:"quantity"`
	Category     string             `json:"category"`
	Weight       *float64           `json:"weight"`
	Dimensions   *dimensionsPayload `json:"dimensions"`
	ShippingType string             `json:"shippingType"`
	RetailPrice  float64            `json:"retailPrice"`
}

type dimensionsPayload struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (p quoteRequest) toCommand(r *http.Request) services.QuoteCommand {
	items := make([]domain.CartLineItem, 0, len(p.Items))
	for _, it := range p.Items {
		item := domain.CartLineItem{
			ProductID:    strings.TrimSpace(it.ProductID),
			Quantity:     it.Quantity,
			Category:     domain.ProductCategory(strings.ToUpper(strings.TrimSpace(it.Category))),
			WeightKg:     it.Weight,
			ShippingType: domain.ShippingType(strings.ToLower(strings.TrimSpace(it.ShippingType))),
			RetailPrice:  it.RetailPrice,
		}
		if it.Dimensions != nil {
			item.Dimensions = &domain.Dimensions{
				LengthCm: it.Dimensions.Length,
				WidthCm:  it.Dimensions.Width,
				HeightCm: it.Dimensions.Height,
			}
		}
		items = append(items, item)
	}
	return services.QuoteCommand{
		Region:   p.Region,
		Items:    items,
		Client:   detectRequest(r),
		Subtotal: p.Subtotal,
	}
}

type quoteResponse struct {
	Region             string              `json:"region"`
	Total              float64             `json:"total"`
	Surcharge          float64             `json:"surcharge"`
	Currency           string              `json:"currency"`
	DeliveryEstimate   string              `json:"deliveryEstimate"`
	ItemCount          int                 `json:"itemCount"`
	FreeItemCount      int                 `json:"freeItemCount"`
	Breakdown          []breakdownResponse `json:"breakdown"`
	FreeShipping       progressResponse    `json:"freeShipping"`
	HydratedProductIDs []string            `json:"hydratedProductIds,omitempty"`
}

type breakdownResponse struct {
	Category           string  `json:"category"`
	Region             string  `json:"region"`
	BaseRate           float64 `json:"baseRate"`
	AdditionalItemRate float64 `json:"additionalItemRate"`
	EstimatedDays      int     `json:"estimatedDays"`
	Quantity           int     `json:"quantity"`
	Subtotal           float64 `json:"subtotal"`
	RateSource         string  `json:"rateSource"`
}

type progressResponse struct {
	Region    string  `json:"region"`
	Threshold float64 `json:"threshold"`
	Subtotal  float64 `json:"subtotal"`
	Progress  float64 `json:"progress"`
	Remaining float64 `json:"remaining"`
	Eligible  bool    `json:"eligible"`
}

type checkoutOptionResponse struct {
	ShippingRateID string        `json:"shippingRateId"`
	AmountMinor    int64         `json:"amount"`
	Quote          quoteResponse `json:"quote"`
}

type deliveryEstimateResponse struct {
	Region   string `json:"region"`
	Estimate string `json:"estimate"`
	MinDays  int    `json:"minDays"`
	MaxDays  int    `json:"maxDays"`
}

func newQuoteResponse(q domain.ShippingQuote) quoteResponse {
	resp := quoteResponse{
		Region:             q.Region.String(),
		Total:              q.Total,
		Surcharge:          q.Surcharge,
		Currency:           q.Currency,
		DeliveryEstimate:   q.DeliveryEstimate,
		ItemCount:          q.ItemCount,
		FreeItemCount:      q.FreeItemCount,
		Breakdown:          make([]breakdownResponse, 0, len(q.Breakdown)),
		FreeShipping:       newProgressResponse(q.FreeShipping),
		HydratedProductIDs: q.HydratedProductIDs,
	}
	for _, b := range q.Breakdown {
		resp.Breakdown = append(resp.Breakdown, breakdownResponse{
			Category:           b.Category.String(),
			Region:             b.Region.String(),
			BaseRate:           b.BaseRate,
			AdditionalItemRate: b.AdditionalItemRate,
			EstimatedDays:      b.EstimatedDays,
			Quantity:           b.Quantity,
			Subtotal:           b.Subtotal,
			RateSource:         string(b.RateSource),
		})
	}
	return resp
}

func newProgressResponse(p domain.FreeShippingProgress) progressResponse {
	return progressResponse{
		Region:    p.Region.String(),
		Threshold: p.Threshold,
		Subtotal:  p.Subtotal,
		Progress:  p.Progress,
		Remaining: p.Remaining,
		Eligible:  p.Eligible,
	}
}

func (h *ShippingHandlers) createQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("service_unavailable", "shipping quotes unavailable"))
		return
	}
	payload, err := decodeQuoteRequest(w, r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
		return
	}
	quote, err := h.quotes.Quote(ctx, payload.toCommand(r))
	if err != nil {
		writeQuoteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newQuoteResponse(quote))
}

func (h *ShippingHandlers) createCheckoutOption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("service_unavailable", "shipping quotes unavailable"))
		return
	}
	payload, err := decodeQuoteRequest(w, r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
		return
	}
	cmd := payload.toCommand(r)
	cmd.IdempotencyKey, _ = idempotency.KeyFromContext(ctx)
	option, err := h.quotes.CheckoutOption(ctx, cmd)
	if err != nil {
		writeQuoteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, checkoutOptionResponse{
		ShippingRateID: option.ShippingRateID,
		AmountMinor:    option.AmountMinor,
		Quote:          newQuoteResponse(option.Quote),
	})
}

func (h *ShippingHandlers) freeShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	region, ok := h.regionParam(w, r)
	if !ok {
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("subtotal"))
	subtotal := 0.0
	if raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value < 0 {
			httpx.WriteError(ctx, w, httpx.BadRequest("invalid_subtotal", "subtotal must be a non-negative number"))
			return
		}
		subtotal = value
	}
	httpx.WriteJSON(w, http.StatusOK, newProgressResponse(services.ShippingProgress(subtotal, region)))
}

func (h *ShippingHandlers) deliveryEstimate(w http.ResponseWriter, r *http.Request) {
	region, ok := h.regionParam(w, r)
	if !ok {
		return
	}
	window, _ := services.DeliveryWindowFor(region)
	httpx.WriteJSON(w, http.StatusOK, deliveryEstimateResponse{
		Region:   region.String(),
		Estimate: services.EstimatedDelivery(region),
		MinDays:  window.MinDays,
		MaxDays:  window.MaxDays,
	})
}

// regionParam reads ?region=, falling back to detection and then USA.
func (h *ShippingHandlers) regionParam(w http.ResponseWriter, r *http.Request) (domain.ShippingRegion, bool) {
	value := strings.TrimSpace(r.URL.Query().Get("region"))
	if value == "" {
		if h.detector == nil {
			return domain.DefaultShippingRegion, true
		}
		return h.detector.Detect(r.Context(), detectRequest(r)).Region, true
	}
	region, ok := domain.ParseShippingRegion(value)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.BadRequest("invalid_region", "unknown shipping region"))
		return "", false
	}
	return region, true
}

func decodeQuoteRequest(w http.ResponseWriter, r *http.Request) (quoteRequest, error) {
	reader := http.MaxBytesReader(w, r.Body, maxQuoteRequestBody)
	defer reader.Close()
	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()

	var payload quoteRequest
	if err := decoder.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return quoteRequest{}, errors.New("request body required")
		}
		return quoteRequest{}, fmt.Errorf("invalid request body: %w", err)
	}
	if decoder.More() {
		return quoteRequest{}, errors.New("invalid request body: extraneous data")
	}
	if len(payload.Items) > maxQuoteItems {
		return quoteRequest{}, fmt.Errorf("too many items: limit is %d", maxQuoteItems)
	}
	return payload, nil
}

// writeQuoteError hides calculation causes behind the generic retry message.
func writeQuoteError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrShippingUnableToCalculate):
		httpx.WriteError(ctx, w, httpx.NewError("shipping_calculation_failed", services.ErrShippingUnableToCalculate.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutShippingUnavailable):
		httpx.WriteError(ctx, w, httpx.Unavailable("checkout_unavailable", "checkout shipping rates unavailable"))
	default:
		httpx.WriteError(ctx, w, httpx.AsError(err))
	}
}
