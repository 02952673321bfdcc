package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/wadash/backend/internal/config"
	"go.uber.org/zap"
)

// NewRedis returns nil when Redis is disabled or unreachable. Callers treat a
// nil client as "no cache".
func NewRedis(cfg config.Redis, logger *zap.Logger) *redis.Client {
	if !cfg.Enabled {
		logger.Info("redis disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis connection failed, continuing without redis", zap.Error(err))
		rdb.Close()
		return nil
	}

	logger.Info("redis connection established", zap.String("addr", cfg.Addr()))
	return rdb
}
