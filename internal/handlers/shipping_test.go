package handlers

import (
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"

	domain "github.com/threadcraft/api/internal/domain"
	"github.com/threadcraft/api/internal/platform/httpx"
	"github.com/threadcraft/api/internal/services"
)

func newShippingRouter(h *ShippingHandlers) chi.Router {
	r := chi.NewRouter()
	r.Use(httpx.ClientMiddleware(false))
	h.Routes(r)
	return r
}

func TestCreateQuoteMapsRequest(t *testing.T) {
	quotes := &stubQuoteService{quote: domain.ShippingQuote{
		Region:           domain.RegionUSA,
		Total:            5.14,
		Surcharge:        0.45,
		Currency:         "USD",
		DeliveryEstimate: "3-5 business days",
		ItemCount:        1,
		Breakdown: []domain.CategoryBreakdown{{
			Category:           domain.CategoryBasicShirt,
			Region:             domain.RegionUSA,
			BaseRate:           4.69,
			AdditionalItemRate: 2.2,
			EstimatedDays:      5,
			Quantity:           1,
			Subtotal:           4.69,
			RateSource:         domain.RateSourceDefault,
		}},
		FreeShipping: services.ShippingProgress(25, domain.RegionUSA),
	}}
	router := newShippingRouter(NewShippingHandlers(quotes, nil))

	body := `{"region":"usa","items":[{"productId":"p-1","quantity":1,"category":"basic_shirt","weight":0.2,` +
		`"dimensions":{"length":30,"width":20,"height":2},"shippingType":"FLAT_RATE","retailPrice":25}]}`
	req := httptest.NewRequest(http.MethodPost, "/quotes", strings.NewReader(body))
	req.Header.Set(httpx.HeaderClientID, "abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody(t, rr)
	if resp["total"] != 5.14 || resp["currency"] != "USD" || resp["region"] != "USA" {
		t.Fatalf("unexpected response %v", resp)
	}

	if len(quotes.commands) != 1 {
		t.Fatalf("expected one command, got %d", len(quotes.commands))
	}
	cmd := quotes.commands[0]
	weight := 0.2
	want := []domain.CartLineItem{{
		ProductID:    "p-1",
		Quantity:     1,
		Category:     domain.CategoryBasicShirt,
		WeightKg:     &weight,
		Dimensions:   &domain.Dimensions{LengthCm: 30, WidthCm: 20, HeightCm: 2},
		ShippingType: domain.ShippingTypeFlatRate,
		RetailPrice:  25,
	}}
	if diff := cmp.Diff(want, cmd.Items); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	if cmd.Region != "usa" || cmd.Client.ClientKey != "client:abc" {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestCreateQuoteCalculationFailure(t *testing.T) {
	quotes := &stubQuoteService{err: fmt.Errorf("%w: cart is empty", services.ErrShippingUnableToCalculate)}
	router := newShippingRouter(NewShippingHandlers(quotes, nil))

	req := httptest.NewRequest(http.MethodPost, "/quotes", strings.NewReader(`{"items":[]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["message"] != "unable to calculate shipping, try again" {
		t.Fatalf("unexpected message %v", body["message"])
	}
}

func TestCreateQuoteRejectsBadBodies(t *testing.T) {
	router := newShippingRouter(NewShippingHandlers(&stubQuoteService{}, nil))

	cases := map[string]string{
		"empty":         ``,
		"unknown field": `{"items":[],"coupon":"x"}`,
		"trailing data": `{"items":[]} {}`,
		"wrong type":    `{"items":[{"quantity":"two"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/quotes", strings.NewReader(body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestCheckoutOption(t *testing.T) {
	t.Run("registered", func(t *testing.T) {
		quotes := &stubQuoteService{option: services.CheckoutShippingOption{
			Quote:          domain.ShippingQuote{Region: domain.RegionEurope, Total: 5.24, Currency: "EUR"},
			ShippingRateID: "shr_123",
			AmountMinor:    524,
		}}
		router := newShippingRouter(NewShippingHandlers(quotes, nil))

		req := httptest.NewRequest(http.MethodPost, "/quotes:checkout", strings.NewReader(`{"region":"europe","items":[{"quantity":1}]}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		body := decodeBody(t, rr)
		if body["shippingRateId"] != "shr_123" || body["amount"] != 524.0 {
			t.Fatalf("unexpected body %v", body)
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		quotes := &stubQuoteService{err: services.ErrCheckoutShippingUnavailable}
		router := newShippingRouter(NewShippingHandlers(quotes, nil))

		req := httptest.NewRequest(http.MethodPost, "/quotes:checkout", strings.NewReader(`{"items":[{"quantity":1}]}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
	})
}

func TestFreeShippingProgress(t *testing.T) {
	detector := &stubDetector{detection: services.RegionDetection{Region: domain.RegionCanada}}
	router := newShippingRouter(NewShippingHandlers(nil, detector))

	req := httptest.NewRequest(http.MethodGet, "/free-shipping?region=usa&subtotal=100", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["threshold"] != 150.0 || body["remaining"] != 50.0 || body["eligible"] != false {
		t.Fatalf("unexpected body %v", body)
	}
	if progress, _ := body["progress"].(float64); math.Abs(progress-66.67) > 0.01 {
		t.Fatalf("expected progress ~66.67, got %v", body["progress"])
	}

	req = httptest.NewRequest(http.MethodGet, "/free-shipping?subtotal=250", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	body = decodeBody(t, rr)
	if body["region"] != "Canada" || body["eligible"] != true {
		t.Fatalf("expected detected Canada to be eligible, got %v", body)
	}
	if len(detector.requests) != 1 {
		t.Fatalf("expected detection for missing region, got %d calls", len(detector.requests))
	}

	for _, query := range []string{"?region=usa&subtotal=abc", "?region=usa&subtotal=-1", "?region=atlantis"} {
		req = httptest.NewRequest(http.MethodGet, "/free-shipping"+query, nil)
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestDeliveryEstimate(t *testing.T) {
	router := newShippingRouter(NewShippingHandlers(nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/delivery-estimate?region=canada", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	want := map[string]any{
		"region":   "Canada",
		"estimate": "5-10 business days",
		"minDays":  5.0,
		"maxDays":  10.0,
	}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Fatalf("estimate mismatch (-want +got):\n%s", diff)
	}

	req = httptest.NewRequest(http.MethodGet, "/delivery-estimate", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if body := decodeBody(t, rr); body["region"] != "USA" {
		t.Fatalf("expected USA default without detector, got %v", body["region"])
	}
}
