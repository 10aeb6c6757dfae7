// Package api exposes a crash-log region for inspection over HTTP. The
// surface is read-only: records and zone reports come out, nothing goes
// in, so a scraping dashboard can never disturb the region.
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the inspection routes over st.
func NewRouter(st RecordStore, config ServerConfig) http.Handler {
	server := NewServer(st, config)

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Prometheus metrics endpoint (unprotected for scraping)
	if config.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/healthz", server.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/records", server.handleRecords)
		r.Get("/report", server.handleReport)
	})

	return r
}

// StartServer starts the HTTP server with all routes configured and
// blocks until it fails.
func StartServer(st RecordStore, config ServerConfig) error {
	server := NewServer(st, config)
	addr := fmt.Sprintf("%s:%d", config.Bind, config.Port)
	level.Info(server.logger).Log("msg", "inspection server listening", "addr", addr)
	return http.ListenAndServe(addr, NewRouter(st, config))
}
