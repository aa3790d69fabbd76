// Package httptransport assembles the HTTP surface: middleware stack,
// authenticated application routes, and operational endpoints.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gatehandler "exeat/internal/gate/handler"
	permithandler "exeat/internal/permit/handler"
	"exeat/internal/platform/health"
	"exeat/internal/platform/middleware"
	"exeat/internal/sweeper"
)

// Deps carries the handlers the router mounts.
type Deps struct {
	Permits *permithandler.Handler
	Gate    *gatehandler.Handler
	Sweep   *sweeper.Handler
	Health  *health.Handler
}

// NewRouter wires all endpoints with middleware. Application routes sit
// behind the bearer-token auth middleware; health, metrics, and the sweep
// trigger stay outside it.
func NewRouter(deps Deps, signingKey []byte, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	deps.Health.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	deps.Sweep.Register(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(signingKey, logger))
		deps.Permits.Register(r)
		deps.Gate.Register(r)
	})

	return r
}
