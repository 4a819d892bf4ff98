package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/threadcraft/api/internal/domain"
	"github.com/threadcraft/api/internal/platform/auth"
	"github.com/threadcraft/api/internal/services"
)

func TestAdminCatalogSync(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sync := &stubCatalogSync{summary: services.CatalogSyncSummary{
		RunID:   "run-1",
		Fetched: 4,
		Stored:  3,
		Skipped: 1,
		ByCategory: map[domain.ProductCategory]int{
			domain.CategoryHeadwear:   1,
			domain.CategoryBasicShirt: 2,
		},
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
	}}
	r := chi.NewRouter()
	NewAdminCatalogHandlers(sync).Routes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, withAdmin(httptest.NewRequest(http.MethodPost, "/catalog:sync", nil)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["runId"] != "run-1" || body["stored"] != 3.0 || body["skipped"] != 1.0 {
		t.Fatalf("unexpected body %v", body)
	}
	byCategory, _ := body["byCategory"].([]any)
	if len(byCategory) != 2 {
		t.Fatalf("expected two categories, got %v", byCategory)
	}
	firstRow, _ := byCategory[0].(map[string]any)
	if firstRow["category"] != "BASIC_SHIRT" {
		t.Fatalf("expected categories sorted, got %v", byCategory)
	}
}

func TestAdminCatalogSyncFailure(t *testing.T) {
	sync := &stubCatalogSync{
		summary: services.CatalogSyncSummary{RunID: "run-2"},
		err:     fmt.Errorf("%w: list products at offset 0: boom", services.ErrCatalogSyncFailed),
	}
	r := chi.NewRouter()
	NewAdminCatalogHandlers(sync).Routes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, withAdmin(httptest.NewRequest(http.MethodPost, "/catalog:sync", nil)))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["runId"] != "run-2" {
		t.Fatalf("expected runId detail, got %v", body)
	}
}

func TestInternalCatalogSyncForScheduler(t *testing.T) {
	sync := &stubCatalogSync{summary: services.CatalogSyncSummary{RunID: "run-3"}}
	admit := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := &auth.Identity{UID: "1122334455", Email: "catalog-sync@example.iam.gserviceaccount.com", Roles: []string{auth.RoleScheduler}}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
	router := NewRouter(
		WithInternalRoutes(NewAdminCatalogHandlers(sync).Routes),
		WithInternalMiddlewares(admit),
	)

	rr := serve(router, http.MethodPost, "/api/v1/internal/catalog:sync")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["runId"] != "run-3" {
		t.Fatalf("unexpected body %v", body)
	}
	if rr := serve(router, http.MethodPost, "/api/v1/admin/catalog:sync"); rr.Code != http.StatusNotImplemented {
		t.Fatalf("admin group should stay unconfigured, got %d", rr.Code)
	}
}
