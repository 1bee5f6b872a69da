package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streetartmap/accessd/internal/access"
	"github.com/streetartmap/accessd/internal/config"
	"github.com/streetartmap/accessd/internal/email"
	"github.com/streetartmap/accessd/internal/grant"
	"github.com/streetartmap/accessd/internal/handler"
	"github.com/streetartmap/accessd/internal/metrics"
	"github.com/streetartmap/accessd/internal/middleware"
	"github.com/streetartmap/accessd/internal/store"
	appstripe "github.com/streetartmap/accessd/internal/stripe"
)

type Server struct {
	db               *sql.DB
	entitlementStore *store.EntitlementStore
	magicLinkStore   *store.MagicLinkStore
	accessService    *access.Service
	webhookH         *handler.WebhookHandler
	checkoutH        *handler.CheckoutHandler
	accessH          *handler.AccessHandler
	registry         *prometheus.Registry
	rateLimiter      *middleware.RateLimiter
	rateLimit        int
	logger           *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, sender email.Sender, logger *slog.Logger) *Server {
	entitlementStore := store.NewEntitlementStore(db, cfg.ValidityWindow)
	magicLinkStore := store.NewMagicLinkStore(db, cfg.LinkTTL)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	accessService := access.NewService(
		entitlementStore, magicLinkStore, sender,
		cfg.BaseURL, cfg.RegionFallback,
		logger.With("component", "access"),
	)
	signer := grant.NewSigner(cfg.GrantSigningSecret)

	var stripeClient *appstripe.Client
	if cfg.StripeSecretKey != "" {
		stripeClient = appstripe.NewClient(appstripe.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			SuccessURL:    cfg.BaseURL + "/thanks?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:     cfg.BaseURL + "/",
		})
	}

	var webhookH *handler.WebhookHandler
	var checkoutH *handler.CheckoutHandler
	if stripeClient != nil {
		webhookH = handler.NewWebhookHandler(stripeClient, accessService, collector, logger.With("component", "webhook"))
		checkoutH = handler.NewCheckoutHandler(stripeClient, cfg.RegionPriceCents, cfg.Currency, logger.With("component", "checkout"))
	}

	accessH := handler.NewAccessHandler(accessService, signer, collector, logger.With("component", "access"))

	return &Server{
		db:               db,
		entitlementStore: entitlementStore,
		magicLinkStore:   magicLinkStore,
		accessService:    accessService,
		webhookH:         webhookH,
		checkoutH:        checkoutH,
		accessH:          accessH,
		registry:         registry,
		rateLimiter:      middleware.NewRateLimiter(),
		rateLimit:        cfg.RateLimitPerMinute,
		logger:           logger,
	}
}

// MagicLinkStore returns the magic link store for cleanup tasks.
func (s *Server) MagicLinkStore() *store.MagicLinkStore {
	return s.magicLinkStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)
	mux.Handle("GET /metrics", metrics.Handler(s.registry))

	// Stripe webhook (public, no auth, no rate limit: Stripe retries on 429)
	if s.webhookH != nil {
		mux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)
	}

	// User-facing access endpoints, rate-limited per client IP
	mux.HandleFunc("POST /api/access/link", s.rateLimited(s.accessH.RequestLink))
	mux.HandleFunc("POST /api/access/redeem", s.rateLimited(s.accessH.Redeem))
	mux.HandleFunc("GET /api/access/verify", s.rateLimited(s.accessH.Verify))

	if s.checkoutH != nil {
		mux.HandleFunc("POST /api/checkout", s.rateLimited(s.checkoutH.CreateCheckoutSession))
	}

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, s.rateLimit, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
