// Package server assembles the HTTP surface: connect services, health
// probes, metrics and the middleware stack.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kkkkikiki/topup/internal/config"
	"github.com/kkkkikiki/topup/internal/middleware"
	"github.com/kkkkikiki/topup/internal/service"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the handlers and stores the router serves
type Dependencies struct {
	Inventory *service.InventoryServer
	Checkout  *service.CheckoutServer
	Backend   string // postgres or memory
	Stores    []Pinger
}

// NewRouter builds the HTTP router for the top-up service
func NewRouter(cfg config.ServerConfig, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)

	// RPC endpoints
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware)

		path, handler := service.NewInventoryServiceHandler(deps.Inventory)
		r.Mount(path, handler)

		path, handler = service.NewCheckoutServiceHandler(deps.Checkout)
		r.Mount(path, handler)
	})

	// health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		hostname, _ := os.Hostname()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"service":  "topup",
			"hostname": hostname,
		})
	})

	r.Get("/health/db", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for _, store := range deps.Stores {
			if err := store.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":  "error",
					"backend": deps.Backend,
					"message": err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"backend": deps.Backend,
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// New creates an HTTP server for handler that speaks HTTP/2 without TLS
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:           cfg.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Handler: h2c.NewHandler(handler, &http2.Server{
			MaxConcurrentStreams: 1000,
		}),
	}
}
