package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/threadcraft/api/internal/domain"
	"github.com/threadcraft/api/internal/platform/auth"
	"github.com/threadcraft/api/internal/platform/httpx"
	"github.com/threadcraft/api/internal/platform/pagination"
	"github.com/threadcraft/api/internal/services"
)

const (
	maxShippingRateRequestBody = 8 * 1024
	defaultRatePageSize        = 100
	maxRatePageSize            = 200
)

var rateListOptions = pagination.Options{
	DefaultPageSize: defaultRatePageSize,
	MaxPageSize:     maxRatePageSize,
	AllowedFilterFields: map[string][]pagination.Operator{
		"product_category": {pagination.OperatorEqual, pagination.OperatorNotEqual},
		"region":           {pagination.OperatorEqual, pagination.OperatorNotEqual},
	},
}

// AdminShippingRateHandlers manages rate overrides. Routes expect the admin
// middleware to have run.
type AdminShippingRateHandlers struct {
	rates services.ShippingRateService
}

// NewAdminShippingRateHandlers constructs the admin rate handlers.
func NewAdminShippingRateHandlers(rates services.ShippingRateService) *AdminShippingRateHandlers {
	return &AdminShippingRateHandlers{rates: rates}
}

// Routes registers the /shipping/rates endpoints.
func (h *AdminShippingRateHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/shipping/rates", func(rt chi.Router) {
		rt.Get("/", h.listRates)
		rt.Post("/", h.upsertRate)
		rt.Delete("/", h.deleteRate)
	})
}

type shippingRateRequest struct {
	ProductCategory    string   `json:"product_category"`
	Region             string   `json:"region"`
	BaseRate           *float64 `json:"base_rate"`
	AdditionalItemRate *float64 `json:"additional_item_rate"`
}

type shippingRateResponse struct {
	ID                 string  `json:"id"`
	ProductCategory    string  `json:"product_category"`
	Region             string  `json:"region"`
	BaseRate           float64 `json:"base_rate"`
	AdditionalItemRate float64 `json:"additional_item_rate"`
	Source             string  `json:"source"`
	CreatedAt          string  `json:"created_at,omitempty"`
	UpdatedAt          string  `json:"updated_at,omitempty"`
}

type shippingRateListResponse struct {
	Rates         []shippingRateResponse `json:"rates"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
}

func newShippingRateResponse(rate domain.ShippingRate) shippingRateResponse {
	resp := shippingRateResponse{
		ID:                 rate.Key().ID(),
		ProductCategory:    rate.Category.String(),
		Region:             rate.Region.String(),
		BaseRate:           rate.BaseRate,
		AdditionalItemRate: rate.AdditionalItemRate,
		Source:             string(domain.RateSourceOverride),
	}
	if !rate.CreatedAt.IsZero() {
		resp.CreatedAt = rate.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !rate.UpdatedAt.IsZero() {
		resp.UpdatedAt = rate.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func newEffectiveRateResponse(rate domain.EffectiveRate) shippingRateResponse {
	return shippingRateResponse{
		ID:                 domain.ShippingRateKey{Category: rate.Category, Region: rate.Region}.ID(),
		ProductCategory:    rate.Category.String(),
		Region:             rate.Region.String(),
		BaseRate:           rate.BaseRate,
		AdditionalItemRate: rate.AdditionalItemRate,
		Source:             string(rate.Source),
	}
}

// listRates returns overrides, or the full effective table with ?effective=true.
func (h *AdminShippingRateHandlers) listRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rates == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("service_unavailable", "shipping rates unavailable"))
		return
	}

	params, err := pagination.FromRequest(r, rateListOptions)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
		return
	}

	rows := []shippingRateResponse{}
	effective, _ := strconv.ParseBool(r.URL.Query().Get("effective"))
	if effective {
		matrix, err := h.rates.Matrix(ctx)
		if err != nil {
			writeShippingRateError(w, r, err)
			return
		}
		for _, rate := range matrix.Rates() {
			rows = append(rows, newEffectiveRateResponse(rate))
		}
	} else {
		overrides, err := h.rates.ListOverrides(ctx)
		if err != nil {
			writeShippingRateError(w, r, err)
			return
		}
		for _, rate := range overrides {
			rows = append(rows, newShippingRateResponse(rate))
		}
	}

	rows, err = filterRates(rows, params.Filters)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_filter", err.Error()))
		return
	}
	slices.SortFunc(rows, func(a, b shippingRateResponse) int { return strings.Compare(a.ID, b.ID) })
	page, next, err := pagination.Page(rows, func(row shippingRateResponse) string { return row.ID }, params)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_page_token", err.Error()))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, shippingRateListResponse{Rates: page, NextPageToken: next})
}

func (h *AdminShippingRateHandlers) upsertRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rates == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("service_unavailable", "shipping rates unavailable"))
		return
	}
	actor, ok := actorID(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.ErrUnauthenticated)
		return
	}

	reader := http.MaxBytesReader(w, r.Body, maxShippingRateRequestBody)
	defer reader.Close()
	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()

	var payload shippingRateRequest
	if err := decoder.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "request body required"))
			return
		}
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	saved, err := h.rates.UpsertOverride(ctx, services.UpsertShippingRateCommand{
		Category:           payload.ProductCategory,
		Region:             payload.Region,
		BaseRate:           payload.BaseRate,
		AdditionalItemRate: payload.AdditionalItemRate,
		ActorID:            actor,
	})
	if err != nil {
		writeShippingRateError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newShippingRateResponse(saved))
}

func (h *AdminShippingRateHandlers) deleteRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rates == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("service_unavailable", "shipping rates unavailable"))
		return
	}
	actor, ok := actorID(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.ErrUnauthenticated)
		return
	}

	query := r.URL.Query()
	category := strings.TrimSpace(query.Get("product_category"))
	region := strings.TrimSpace(query.Get("region"))
	var missing []string
	if category == "" {
		missing = append(missing, "product_category")
	}
	if region == "" {
		missing = append(missing, "region")
	}
	if len(missing) > 0 {
		writeShippingRateError(w, r, &services.FieldError{Fields: missing, Reason: "Missing required fields"})
		return
	}

	if err := h.rates.DeleteOverride(ctx, services.DeleteShippingRateCommand{
		Category: category,
		Region:   region,
		ActorID:  actor,
	}); err != nil {
		writeShippingRateError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeShippingRateError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var fieldErr *services.FieldError
	switch {
	case errors.As(err, &fieldErr):
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_shipping_rate", fieldErr.Reason).
			WithDetails(map[string]any{"fields": fieldErr.Fields}))
	case errors.Is(err, services.ErrShippingRateInvalid):
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_shipping_rate", "invalid shipping rate"))
	case errors.Is(err, services.ErrShippingRateUnavailable):
		httpx.WriteError(ctx, w, httpx.Unavailable("rate_store_unavailable", "shipping rate store unavailable"))
	default:
		httpx.WriteError(ctx, w, httpx.AsError(err))
	}
}

func actorID(r *http.Request) (string, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		return "", false
	}
	return strings.TrimSpace(identity.UID), true
}

// filterRates applies product_category and region filters. Values accept any
// spelling the parsers accept.
func filterRates(rows []shippingRateResponse, filters []pagination.Filter) ([]shippingRateResponse, error) {
	if len(filters) == 0 {
		return rows, nil
	}
	normalized := make([]pagination.Filter, 0, len(filters))
	for _, f := range filters {
		switch f.Field {
		case "product_category":
			category, ok := domain.ParseProductCategory(f.Value)
			if !ok {
				return nil, fmt.Errorf("unknown product category %q", f.Value)
			}
			f.Value = category.String()
		case "region":
			region, ok := domain.ParseShippingRegion(f.Value)
			if !ok {
				return nil, fmt.Errorf("unknown region %q", f.Value)
			}
			f.Value = region.String()
		}
		normalized = append(normalized, f)
	}
	out := make([]shippingRateResponse, 0, len(rows))
	for _, row := range rows {
		keep := true
		for _, f := range normalized {
			value := row.Region
			if f.Field == "product_category" {
				value = row.ProductCategory
			}
			if !f.Matches(value) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out, nil
}
