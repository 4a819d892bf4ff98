package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/threadcraft/api/internal/platform/httpx"
	"github.com/threadcraft/api/internal/platform/requestctx"
	"github.com/threadcraft/api/internal/services"
)

const maxRegionRequestBody = 4 * 1024

// RegionHandlers exposes the country proxy and the client's shipping region.
type RegionHandlers struct {
	detector     services.RegionDetector
	limiter      func(http.Handler) http.Handler
	lookupLimits func(http.Handler) http.Handler
}

// RegionOption customises RegionHandlers.
type RegionOption func(*RegionHandlers)

// WithRegionLookupLimit throttles GET /region, which fans out to the geolocation
// providers on a cache miss.
func WithRegionLookupLimit(mw func(http.Handler) http.Handler) RegionOption {
	return func(h *RegionHandlers) { h.lookupLimits = mw }
}

// NewRegionHandlers constructs region handlers. limiter wraps the public
// detect-region endpoint and may be nil.
func NewRegionHandlers(detector services.RegionDetector, limiter func(http.Handler) http.Handler, opts ...RegionOption) *RegionHandlers {
	h := &RegionHandlers{detector: detector, limiter: limiter}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// PublicRoutes registers GET /detect-region.
func (h *RegionHandlers) PublicRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(rt chi.Router) {
		if h.limiter != nil {
			rt.Use(h.limiter)
		}
		rt.Get("/detect-region", h.detectCountry)
	})
}

// Routes registers GET and PUT /region.
func (h *RegionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(rt chi.Router) {
		if h.lookupLimits != nil {
			rt.Use(h.lookupLimits)
		}
		rt.Get("/region", h.getRegion)
	})
	r.Put("/region", h.selectRegion)
}

type countryResponse struct {
	CountryCode string `json:"countryCode"`
	Region      string `json:"region,omitempty"`
}

type regionResponse struct {
	Region     string  `json:"region"`
	Slug       string  `json:"slug"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Cached     bool    `json:"cached"`
	DetectedAt string  `json:"detectedAt,omitempty"`
}

type selectRegionRequest struct {
	Region string `json:"region"`
}

// detectCountry echoes the edge-supplied country.
func (h *RegionHandlers) detectCountry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info, _ := requestctx.Client(ctx)
	country := strings.ToUpper(strings.TrimSpace(info.EdgeCountry))
	if country == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest("country_not_detected", "Country not detected"))
		return
	}
	resp := countryResponse{CountryCode: country}
	if region, err := services.CountryToRegion(country); err == nil {
		resp.Region = region.String()
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *RegionHandlers) getRegion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.detector == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("service_unavailable", "region detection unavailable"))
		return
	}
	detection := h.detector.Detect(ctx, detectRequest(r))
	httpx.WriteJSON(w, http.StatusOK, newRegionResponse(detection))
}

func (h *RegionHandlers) selectRegion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.detector == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("service_unavailable", "region detection unavailable"))
		return
	}

	reader := http.MaxBytesReader(w, r.Body, maxRegionRequestBody)
	defer reader.Close()
	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()

	var payload selectRegionRequest
	if err := decoder.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "request body required"))
			return
		}
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "invalid request body: "+err.Error()))
		return
	}

	detection, err := h.detector.SelectRegion(ctx, detectRequest(r).ClientKey, payload.Region)
	if err != nil {
		if errors.Is(err, services.ErrRegionInvalid) {
			httpx.WriteError(ctx, w, httpx.BadRequest("invalid_region", "unknown shipping region"))
			return
		}
		httpx.WriteError(ctx, w, httpx.ErrInternal)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newRegionResponse(detection))
}

func newRegionResponse(d services.RegionDetection) regionResponse {
	resp := regionResponse{
		Region:     d.Region.String(),
		Slug:       d.Region.Slug(),
		Source:     string(d.Source),
		Confidence: d.Confidence,
		Cached:     d.Cached,
	}
	if !d.DetectedAt.IsZero() {
		resp.DetectedAt = d.DetectedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// detectRequest builds detector input from the client info stored by httpx.ClientMiddleware.
func detectRequest(r *http.Request) services.DetectRegionRequest {
	info, _ := requestctx.Client(r.Context())
	return services.DetectRegionRequest{
		ClientKey:   info.Key,
		IP:          info.IP,
		EdgeCountry: info.EdgeCountry,
	}
}
