package main

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/wadash/backend/internal/audit"
	"github.com/wadash/backend/internal/config"
	"github.com/wadash/backend/internal/database"
	"github.com/wadash/backend/internal/handlers"
	"github.com/wadash/backend/internal/metrics"
	"github.com/wadash/backend/internal/repository"
	"github.com/wadash/backend/internal/services"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Log.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.NewMetrics(reg)
}

// newDatabase returns a nil pool for the memory driver.
func newDatabase(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory ledger, balances are lost on restart")
		return nil, nil
	}

	db, err := database.NewPostgres(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(context.Background(), db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("database schema up to date")
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

func newRedis(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *redis.Client {
	rdb := database.NewRedis(cfg.Redis, logger)
	if rdb != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return rdb.Close()
			},
		})
	}
	return rdb
}

func newLedgerStore(db *sql.DB, cfg *config.Config) repository.LedgerStore {
	if db == nil {
		return repository.NewMemoryLedgerStore()
	}
	return repository.NewPostgresLedgerStore(db, cfg.Ledger.LockTimeout, cfg.Ledger.StatementTimeout)
}

func newPlanDirectory(db *sql.DB, rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *repository.PlanDirectory {
	return repository.NewPlanDirectory(db, rdb, cfg.Pricing.UserPlans, cfg.Pricing.DefaultPlan, cfg.Pricing.PlanCacheTTL, logger)
}

func newPricingResolver(cfg *config.Config) (*services.PricingResolver, error) {
	return services.NewPricingResolver(cfg.Pricing.Plans)
}

func newReconciler(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*services.Reconciler, error) {
	policy, err := services.ParseFallbackPolicy(cfg.Ledger.FallbackPolicy)
	if err != nil {
		return nil, err
	}
	return services.NewReconciler(policy, cfg.Ledger.FallbackSkew, m, logger), nil
}

func newWalletService(store repository.LedgerStore, reconciler *services.Reconciler, auditLogger *audit.Logger, m *metrics.Metrics, logger *zap.Logger, cfg *config.Config) *services.WalletService {
	return services.NewWalletService(store, reconciler, auditLogger, m, logger, services.WalletOptions{
		Currency:         cfg.Ledger.Currency,
		OperationTimeout: cfg.Ledger.OperationTimeout,
	})
}

func newChargeService(wallet *services.WalletService, pricing *services.PricingResolver, plans *repository.PlanDirectory, logger *zap.Logger) *services.ChargeService {
	return services.NewChargeService(wallet, pricing, plans, logger)
}

func newDeliveryService(wallet *services.WalletService, rdb *redis.Client, m *metrics.Metrics, logger *zap.Logger, cfg *config.Config) *services.DeliveryService {
	return services.NewDeliveryService(wallet, rdb, cfg.Webhooks.DedupeTTL, m, logger)
}

func newWalletHandler(wallet *services.WalletService, charges *services.ChargeService, pricing *services.PricingResolver, plans *repository.PlanDirectory, logger *zap.Logger) *handlers.WalletHandler {
	return handlers.NewWalletHandler(wallet, charges, pricing, plans, logger)
}

func newWebhookHandler(deliveries *services.DeliveryService, wallet *services.WalletService, m *metrics.Metrics, logger *zap.Logger, cfg *config.Config) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(deliveries, wallet, handlers.WebhookSecrets{
		WhatsApp: cfg.Webhooks.WhatsAppSecret,
		Payment:  cfg.Webhooks.PaymentSecret,
	}, m, logger)
}

func newRouter(wallet *handlers.WalletHandler, hooks *handlers.WebhookHandler, reg *prometheus.Registry, m *metrics.Metrics, logger *zap.Logger, cfg *config.Config) http.Handler {
	return handlers.NewRouter(wallet, hooks, reg, m, logger, handlers.RouterOptions{
		InternalAPIKey: cfg.Server.InternalAPIKey,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
}
