package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/wadash/backend/internal/audit"
	"github.com/wadash/backend/internal/config"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	fx.New(app()).Run()
}

func app() fx.Option {
	return fx.Options(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Provide(
			config.Load,
			newLogger,
			newRegistry,
			newMetrics,
			newDatabase,
			newRedis,
			newLedgerStore,
			newPlanDirectory,
			newPricingResolver,
			audit.NewLogger,
			newReconciler,
			newWalletService,
			newChargeService,
			newDeliveryService,
			newWalletHandler,
			newWebhookHandler,
			newRouter,
		),
		fx.Invoke(startServer),
	)
}

func startServer(lc fx.Lifecycle, cfg *config.Config, router http.Handler, logger *zap.Logger) {
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}
			logger.Info("server starting", zap.String("addr", server.Addr))
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("server shutting down")
			return server.Shutdown(ctx)
		},
	})
}
