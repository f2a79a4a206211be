// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/identity"
)

// Router wires the handlers into the chi route tree.
type Router struct {
	handler    *Handler
	middleware *Middleware
	idm        *identity.Manager
}

// NewRouter creates the router.
func NewRouter(handler *Handler, mw *Middleware, idm *identity.Manager) *Router {
	if mw == nil {
		mw = NewMiddleware(nil)
	}
	return &Router{handler: handler, middleware: mw, idm: idm}
}

// Setup builds the complete route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogging())
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	// Health endpoints stay unauthenticated so orchestrators can probe.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.middleware.RateLimitHealth())
		r.Use(SecurityHeaders())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// Save endpoints. Everything under here requires a valid token.
	r.Route("/api/v1/saves", func(r chi.Router) {
		r.Use(SecurityHeaders())
		r.Use(PrometheusMetrics())
		r.Use(Authenticator(router.idm))

		// Reads
		r.With(router.middleware.RateLimit()).Get("/", router.handler.List)
		r.With(router.middleware.RateLimit()).Get("/stats/storage", router.handler.StorageStats)
		r.With(router.middleware.RateLimit()).Get("/stats/compression", router.handler.CompressionStats)
		r.With(router.middleware.RateLimit()).Get("/{slot}", router.handler.Load)

		// Writes get the tighter limit.
		r.With(router.middleware.RateLimitWrite()).Put("/{slot}", router.handler.Save)
		r.With(router.middleware.RateLimitWrite()).Delete("/{slot}", router.handler.Delete)
		r.With(router.middleware.RateLimitWrite()).Post("/batch", router.handler.BatchSave)
		r.With(router.middleware.RateLimitWrite()).Post("/{slot}/sync", router.handler.Sync)
	})

	// Observability.
	r.Handle("/metrics", promhttp.Handler())

	return r
}
