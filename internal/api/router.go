// Package api assembles the HTTP router.
package api

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tradiehq/ledgersync/internal/api/handlers"
	"github.com/tradiehq/ledgersync/internal/auth/flow"
	"github.com/tradiehq/ledgersync/internal/auth/identity"
	"github.com/tradiehq/ledgersync/internal/auth/vault"
	"github.com/tradiehq/ledgersync/internal/providers"
	"github.com/tradiehq/ledgersync/internal/syncer"
	"github.com/tradiehq/ledgersync/internal/version"
)

// Deps carries everything the router needs.
type Deps struct {
	DB       *gorm.DB
	Vault    *vault.Vault
	Flow     *flow.Flow
	Verifier *identity.Verifier
	Logger   *zap.Logger

	// Providers and their matching sync services, by provider name.
	Providers []providers.Provider
	Syncers   map[string]*syncer.Service

	AllowedOrigins []string
}

// allowOrigin accepts origins on the configured whitelist, plus loopback
// and private-network origins so local development works without config.
func allowOrigin(allowed []string) func(r *http.Request, origin string) bool {
	return func(r *http.Request, origin string) bool {
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := u.Hostname()
		if host == "localhost" {
			return true
		}
		ip := net.ParseIP(host)
		return ip != nil && (ip.IsLoopback() || ip.IsPrivate())
	}
}

// NewRouter builds the chi router with all routes mounted.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  allowOrigin(d.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", handlers.HealthHandler(d.DB, version.Version))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		for _, p := range d.Providers {
			p := p
			svc := d.Syncers[p.Name()]

			r.Route("/"+p.Name(), func(r chi.Router) {
				// The callback arrives from the provider's redirect;
				// identity comes from the signed state, not a bearer token.
				r.Get("/callback", handlers.CallbackHandler(d.Flow, p, d.Logger))

				r.Group(func(r chi.Router) {
					r.Use(identity.RequireUser(d.Verifier))
					r.Post("/connect", handlers.ConnectHandler(d.Flow, p, d.Logger))
					r.Post("/refresh", handlers.RefreshHandler(d.Flow, p, d.Logger))
					r.Post("/disconnect", handlers.DisconnectHandler(d.Flow, p, d.Logger))
					r.Post("/sync/clients", handlers.SyncClientsHandler(svc, d.Logger))
					r.Post("/sync/invoices", handlers.SyncInvoicesHandler(svc, d.Logger))
				})
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireUser(d.Verifier))
			r.Get("/connections", handlers.ConnectionsHandler(d.Flow, d.Logger))
			r.Get("/sync-log", handlers.SyncLogHandler(d.DB, d.Logger))
			r.Get("/profile", handlers.ProfileHandler(d.DB, d.Vault, d.Logger))
			r.Put("/profile/bank-details", handlers.UpdateBankDetailsHandler(d.DB, d.Vault, d.Logger))
		})
	})

	return r
}
