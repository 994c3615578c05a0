package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/middleware"
)

// requestTimeout bounds the API calls that never reach the product API.
const requestTimeout = 30 * time.Second

// RouterOptions holds the presentation settings taken from configuration.
type RouterOptions struct {
	CORSOrigins []string
	PprofCIDRs  []string
	// Closing ends every open event stream when closed.
	Closing <-chan struct{}
}

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(
	svc *service.Orchestrator,
	healthHandler *health.Handler,
	logger *slog.Logger,
	opts RouterOptions,
) http.Handler {
	r := chi.NewRouter()

	cors := middleware.DefaultCORSConfig()
	if len(opts.CORSOrigins) > 0 {
		cors.AllowedOrigins = opts.CORSOrigins
	}

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("storefront"))
	r.Use(middleware.Tracing("storefront"))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cors))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, opts.PprofCIDRs, logger)

	h := NewStorefrontHandler(svc, logger)
	h.closing = opts.Closing

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", h.Events)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(requestTimeout))
			r.Use(ContentTypeJSON)

			r.Get("/state", h.GetState)

			r.Get("/catalog", h.GetCatalog)

			r.Get("/cart", h.GetCart)
			r.Post("/cart/items", h.AddItem)
			r.Patch("/cart/items/{productId}", h.AdjustQuantity)
		})

		// Product API calls run to completion once issued.
		r.Group(func(r chi.Router) {
			r.Use(ContentTypeJSON)

			r.Post("/catalog/reload", h.ReloadCatalog)
			r.Post("/cart/checkout", h.Checkout)
		})
	})

	return r
}
