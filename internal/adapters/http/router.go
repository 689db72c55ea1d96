package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
)

type HandlerOptions struct {
	// ActivationRPS limits activation and check requests per client IP.
	// Zero or less disables the limiter.
	ActivationRPS   float64
	ActivationBurst int
	// TrustProxyHeaders lets X-Forwarded-For and X-Real-IP replace the peer
	// address. Leave it off unless a proxy in front rewrites those headers.
	TrustProxyHeaders bool
	Registry          *prometheus.Registry
}

// Handler is the HTTP adapter for the licensing use cases.
type Handler struct {
	service    *application.Service
	metrics    *metrics
	limiter    *clientRateLimiter
	trustProxy bool
}

func NewHandler(service *application.Service, opts HandlerOptions) *Handler {
	h := &Handler{
		service:    service,
		metrics:    newMetrics(opts.Registry),
		trustProxy: opts.TrustProxyHeaders,
	}
	if opts.ActivationRPS > 0 {
		h.limiter = newClientRateLimiter(opts.ActivationRPS, opts.ActivationBurst)
	}
	return h
}

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	if handler.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	r.Use(handler.metrics.middleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	r.Method(http.MethodGet, "/metrics", handler.metrics.handler())

	r.Route("/licensing/v1", func(r chi.Router) {
		r.Get("/public-key", handler.publicKey)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Post("/licenses", handler.createLicense)
			r.Get("/licenses/{code}", handler.getLicense)
			r.Post("/update", handler.updateLicense)
			r.Get("/devices", handler.listDevices)
			r.Get("/devices/{deviceID}", handler.getDevice)
			r.Delete("/devices/{deviceID}", handler.deleteDevice)
		})

		r.Group(func(r chi.Router) {
			if handler.limiter != nil {
				r.Use(handler.limiter.middleware)
			}
			r.Use(handler.authMiddleware)
			r.Post("/activation", handler.activateLicense)
			r.Post("/check", handler.checkLicense)
		})
	})
	return r
}
