package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/threadcraft/api/internal/platform/httpx"
)

// RouteRegistrar adds routes to a group.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

const (
	apiPrefix             = "/api/v1"
	defaultRequestTimeout = 30 * time.Second
)

// routeGroup is one prefix under /api/v1. Groups without a registrar answer 501
// so a partially configured deployment fails loudly instead of 404ing.
type routeGroup struct {
	path        string
	registrar   RouteRegistrar
	middlewares []middlewareFunc
}

type routerConfig struct {
	timeout     time.Duration
	middlewares []middlewareFunc
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

type Option func(*routerConfig)

var groupOrder = []string{"public", "shipping", "admin", "internal"}

// NewRouter builds the API router: health probes at the root, and the public,
// shipping, admin and internal groups under /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		timeout: defaultRequestTimeout,
		groups: map[string]*routeGroup{
			"public":   {path: "/public"},
			"shipping": {path: "/shipping"},
			"admin":    {path: "/admin"},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.CleanPath, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, name := range groupOrder {
			g := cfg.groups[name]
			api.Route(g.path, func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.registrar == nil {
					notImplemented(sub, name)
					return
				}
				g.registrar(sub)
			})
		}
	})
	return r
}

// WithMiddlewares appends router-wide middleware, run after the request id and timeout.
func WithMiddlewares(mw ...middlewareFunc) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithRequestTimeout replaces the 30s per-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithPublicRoutes mounts unauthenticated routes at /api/v1/public.
func WithPublicRoutes(reg RouteRegistrar) Option { return withGroup("public", reg) }

// WithShippingRoutes mounts storefront routes at /api/v1/shipping.
func WithShippingRoutes(reg RouteRegistrar) Option { return withGroup("shipping", reg) }

// WithAdminRoutes mounts rate and catalog administration at /api/v1/admin.
func WithAdminRoutes(reg RouteRegistrar) Option { return withGroup("admin", reg) }

// WithInternalRoutes mounts scheduler-invoked routes at /api/v1/internal.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroup("internal", reg) }

// WithAdminMiddlewares guards the admin group only, e.g. with RequireAdmin.
func WithAdminMiddlewares(mw ...middlewareFunc) Option { return withGroupMiddlewares("admin", mw) }

// WithInternalMiddlewares guards the internal group, e.g. with RequireServiceAccount.
func WithInternalMiddlewares(mw ...middlewareFunc) Option {
	return withGroupMiddlewares("internal", mw)
}

func withGroup(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups[name].registrar = reg }
}

func withGroupMiddlewares(name string, mw []middlewareFunc) Option {
	return func(cfg *routerConfig) {
		g := cfg.groups[name]
		g.middlewares = append(g.middlewares, mw...)
	}
}

// Compose runs several registrars against one group.
func Compose(registrars ...RouteRegistrar) RouteRegistrar {
	return func(r chi.Router) {
		for _, reg := range registrars {
			if reg != nil {
				reg(r)
			}
		}
	}
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes not implemented", http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
}
