package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const planCachePrefix = "wallet:plan:"

// PlanDirectory answers which pricing plan a user is on. Lookups go through
// static overrides, then the Redis cache, then the user_plans table, and fall
// back to the default plan. db and cache may both be nil.
type PlanDirectory struct {
	db          *sql.DB
	cache       *redis.Client
	overrides   map[string]string
	defaultPlan string
	ttl         time.Duration
	logger      *zap.Logger
}

func NewPlanDirectory(db *sql.DB, cache *redis.Client, overrides map[string]string, defaultPlan string, ttl time.Duration, logger *zap.Logger) *PlanDirectory {
	if overrides == nil {
		overrides = map[string]string{}
	}
	return &PlanDirectory{
		db:          db,
		cache:       cache,
		overrides:   overrides,
		defaultPlan: defaultPlan,
		ttl:         ttl,
		logger:      logger,
	}
}

func (d *PlanDirectory) PlanFor(ctx context.Context, userID string) (string, error) {
	if plan, ok := d.overrides[userID]; ok {
		return plan, nil
	}

	if d.cache != nil {
		plan, err := d.cache.Get(ctx, planCachePrefix+userID).Result()
		switch {
		case err == nil:
			return plan, nil
		case !errors.Is(err, redis.Nil):
			d.logger.Warn("plan cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	if d.db == nil {
		return d.defaultPlan, nil
	}

	var plan string
	err := d.db.QueryRowContext(ctx, `SELECT plan FROM user_plans WHERE user_id = $1`, userID).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		plan = d.defaultPlan
	} else if err != nil {
		return "", fmt.Errorf("lookup plan for %s: %w", userID, err)
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, planCachePrefix+userID, plan, d.ttl).Err(); err != nil {
			d.logger.Warn("plan cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return plan, nil
}

// SetPlan upserts the user's plan and drops the cached value.
func (d *PlanDirectory) SetPlan(ctx context.Context, userID, plan string) error {
	if d.db == nil {
		return errors.New("plan directory has no database")
	}

	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO user_plans (user_id, plan, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET plan = EXCLUDED.plan, updated_at = EXCLUDED.updated_at`,
		userID, plan, time.Now().UTC()); err != nil {
		return fmt.Errorf("set plan for %s: %w", userID, err)
	}

	if d.cache != nil {
		if err := d.cache.Del(ctx, planCachePrefix+userID).Err(); err != nil {
			d.logger.Warn("plan cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}
