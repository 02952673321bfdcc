package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wadash/backend/internal/metrics"
	mW "github.com/wadash/backend/internal/middleware"
	"github.com/wadash/backend/internal/services"
	"go.uber.org/zap"
)

type RouterOptions struct {
	InternalAPIKey string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(wallet *WalletHandler, hooks *WebhookHandler, gatherer prometheus.Gatherer, m *metrics.Metrics, logger *zap.Logger, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.SecurityHeaders)
	r.Use(mW.RequestLogger(logger, m))
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		services.SendJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Provider callbacks authenticate with body signatures
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/whatsapp/{userID}", hooks.WhatsAppStatus)
		r.Post("/payments", hooks.PaymentCaptured)
	})

	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: false,
			MaxAge:           86400,
		}))
		r.Use(mW.InternalAPIKey(opts.InternalAPIKey))

		r.Route("/wallets/{userID}", func(r chi.Router) {
			r.Get("/", wallet.GetWallet)
			r.Get("/transactions", wallet.ListTransactions)
			r.Get("/audit", wallet.Audit)
			r.Get("/quote", wallet.Quote)
			r.Post("/adjustments", wallet.Adjust)
			r.Put("/plan", wallet.SetPlan)
		})

		r.Post("/charges", wallet.Charge)
		r.Post("/charges/{correlationKey}/link", wallet.LinkCorrelation)
		r.Post("/charges/{correlationKey}/refund", wallet.RefundCharge)
	})

	return r
}
