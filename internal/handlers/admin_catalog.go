package handlers

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/threadcraft/api/internal/platform/httpx"
	"github.com/threadcraft/api/internal/services"
)

// AdminCatalogHandlers triggers fulfillment catalog synchronisation.
type AdminCatalogHandlers struct {
	sync services.CatalogSyncService
}

// NewAdminCatalogHandlers constructs admin catalog handlers.
func NewAdminCatalogHandlers(sync services.CatalogSyncService) *AdminCatalogHandlers {
	return &AdminCatalogHandlers{sync: sync}
}

// Routes registers admin catalog endpoints.
func (h *AdminCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/catalog:sync", h.syncCatalog)
}

type catalogSyncResponse struct {
	RunID      string                `json:"runId"`
	Fetched    int                   `json:"fetched"`
	Stored     int                   `json:"stored"`
	Skipped    int                   `json:"skipped"`
	ByCategory []categoryCountRecord `json:"byCategory"`
	StartedAt  string                `json:"startedAt"`
	FinishedAt string                `json:"finishedAt,omitempty"`
}

type categoryCountRecord struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

func (h *AdminCatalogHandlers) syncCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sync == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("service_unavailable", "catalog sync unavailable"))
		return
	}
	if _, ok := actorID(r); !ok {
		httpx.WriteError(ctx, w, httpx.ErrUnauthenticated)
		return
	}

	summary, err := h.sync.Sync(ctx)
	if err != nil {
		if errors.Is(err, services.ErrCatalogSyncFailed) {
			httpx.WriteError(ctx, w, httpx.NewError("catalog_sync_failed", "catalog sync failed", http.StatusBadGateway).
				WithDetails(map[string]any{"runId": summary.RunID, "stored": summary.Stored}))
			return
		}
		httpx.WriteError(ctx, w, httpx.ErrInternal)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCatalogSyncResponse(summary))
}

func newCatalogSyncResponse(s services.CatalogSyncSummary) catalogSyncResponse {
	resp := catalogSyncResponse{
		RunID:      s.RunID,
		Fetched:    s.Fetched,
		Stored:     s.Stored,
		Skipped:    s.Skipped,
		ByCategory: make([]categoryCountRecord, 0, len(s.ByCategory)),
		StartedAt:  s.StartedAt.UTC().Format(time.RFC3339),
	}
	if !s.FinishedAt.IsZero() {
		resp.FinishedAt = s.FinishedAt.UTC().Format(time.RFC3339)
	}
	for category, count := range s.ByCategory {
		resp.ByCategory = append(resp.ByCategory, categoryCountRecord{Category: category.String(), Count: count})
	}
	sort.Slice(resp.ByCategory, func(i, j int) bool {
		return resp.ByCategory[i].Category < resp.ByCategory[j].Category
	})
	return resp
}
