package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

func statusRoute(status int) RouteRegistrar {
	return func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) })
	}
}

func TestNewRouterWithoutRegistrars(t *testing.T) {
	router := NewRouter()

	tests := []struct {
		method string
		path   string
		status int
		code   string
	}{
		{http.MethodGet, "/healthz", http.StatusOK, ""},
		{http.MethodGet, "/api/v1/public/region", http.StatusNotImplemented, "not_implemented"},
		{http.MethodPost, "/api/v1/shipping/quotes", http.StatusNotImplemented, "not_implemented"},
		{http.MethodGet, "/api/v1/admin/shipping/rates", http.StatusNotImplemented, "not_implemented"},
		{http.MethodPost, "/api/v1/internal/catalog:sync", http.StatusNotImplemented, "not_implemented"},
		{http.MethodGet, "/api/v2/shipping/quotes", http.StatusNotFound, "route_not_found"},
		{http.MethodPost, "/healthz", http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := serve(router, tt.method, tt.path)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.status, rr.Body.String())
			}
			if tt.code != "" {
				if got := errorCode(t, rr); got != tt.code {
					t.Fatalf("error code = %q, want %q", got, tt.code)
				}
			}
		})
	}
}

func TestNewRouterMountsGroups(t *testing.T) {
	router := NewRouter(
		WithPublicRoutes(statusRoute(http.StatusNoContent)),
		WithShippingRoutes(statusRoute(http.StatusAccepted)),
		WithAdminRoutes(statusRoute(http.StatusOK)),
		WithInternalRoutes(statusRoute(http.StatusResetContent)),
	)
	for path, want := range map[string]int{
		"/api/v1/internal/ping":   http.StatusResetContent,
		"/api/v1/public/ping":     http.StatusNoContent,
		"/api/v1/shipping/ping":   http.StatusAccepted,
		"/api/v1/admin/ping":      http.StatusOK,
		"/api/v1//shipping//ping": http.StatusAccepted,
	} {
		if rr := serve(router, http.MethodGet, path); rr.Code != want {
			t.Errorf("%s: status = %d, want %d", path, rr.Code, want)
		}
	}
}

func TestAdminMiddlewaresOnlyGuardAdmin(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	router := NewRouter(
		WithAdminMiddlewares(deny),
		WithAdminRoutes(statusRoute(http.StatusOK)),
		WithShippingRoutes(statusRoute(http.StatusOK)),
	)

	if rr := serve(router, http.MethodGet, "/api/v1/admin/ping"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("admin status = %d, want 401", rr.Code)
	}
	if rr := serve(router, http.MethodGet, "/api/v1/shipping/ping"); rr.Code != http.StatusOK {
		t.Fatalf("shipping status = %d, want 200", rr.Code)
	}
	// The 501 fallback sits behind the group middleware too.
	unguarded := NewRouter(WithAdminMiddlewares(deny))
	if rr := serve(unguarded, http.MethodGet, "/api/v1/admin/shipping/rates"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unregistered admin status = %d, want 401", rr.Code)
	}
}

func TestWithMiddlewaresRunsForEveryRoute(t *testing.T) {
	tag := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Served-By", "api")
			next.ServeHTTP(w, r)
		})
	}
	router := NewRouter(WithMiddlewares(nil, tag), WithPublicRoutes(statusRoute(http.StatusOK)))

	for _, path := range []string{"/healthz", "/api/v1/public/ping", "/missing"} {
		if got := serve(router, http.MethodGet, path).Header().Get("X-Served-By"); got != "api" {
			t.Errorf("%s: X-Served-By = %q", path, got)
		}
	}
}

func TestCompose(t *testing.T) {
	var order []string
	named := func(name string) RouteRegistrar {
		return func(r chi.Router) {
			order = append(order, name)
			r.Get("/"+name, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
		}
	}

	router := NewRouter(WithShippingRoutes(Compose(named("quotes"), nil, named("checkout"))))

	for _, path := range []string{"/api/v1/shipping/quotes", "/api/v1/shipping/checkout"} {
		if rr := serve(router, http.MethodGet, path); rr.Code != http.StatusAccepted {
			t.Fatalf("%s: status = %d, want 202", path, rr.Code)
		}
	}
	if len(order) != 2 || order[0] != "quotes" || order[1] != "checkout" {
		t.Fatalf("registrars ran as %v", order)
	}
}

func TestNewRouterRequestTimeout(t *testing.T) {
	var deadline time.Time
	router := NewRouter(
		WithRequestTimeout(2*time.Second),
		WithShippingRoutes(func(r chi.Router) {
			r.Get("/deadline", func(w http.ResponseWriter, r *http.Request) {
				deadline, _ = r.Context().Deadline()
				w.WriteHeader(http.StatusNoContent)
			})
		}),
	)

	start := time.Now()
	if rr := serve(router, http.MethodGet, "/api/v1/shipping/deadline"); rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if remaining := deadline.Sub(start); remaining <= 0 || remaining > 2*time.Second {
		t.Fatalf("expected a deadline within 2s, got %s", remaining)
	}
}
