package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/wadash/backend/internal/metrics"
	"github.com/wadash/backend/internal/models"
	"go.uber.org/zap"
)

type DeliverySummary struct {
	Received   int `json:"received"`
	Settled    int `json:"settled"`
	Refunded   int `json:"refunded"`
	Duplicates int `json:"duplicates"`
	Dropped    int `json:"dropped"`
	Ignored    int `json:"ignored"`
}

// DeliveryService applies provider delivery events to the ledger. Redis is an
// optional fast path for redeliveries; the ledger's own idempotency is what
// guarantees a charge resolves once.
type DeliveryService struct {
	wallet  *WalletService
	cache   *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewDeliveryService(wallet *WalletService, cache *redis.Client, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *DeliveryService {
	return &DeliveryService{
		wallet:  wallet,
		cache:   cache,
		ttl:     ttl,
		metrics: m,
		logger:  logger,
	}
}

// Process stops at the first retryable failure so the provider redelivers the
// batch; events already applied are skipped on the next attempt.
func (d *DeliveryService) Process(ctx context.Context, userID string, events []models.DeliveryEvent) (*DeliverySummary, error) {
	summary := &DeliverySummary{Received: len(events)}

	for _, ev := range events {
		if ev.Outcome == models.OutcomeIgnored || ev.CorrelationID == "" {
			summary.Ignored++
			d.metrics.RecordWebhookEvent(ev.Source, "ignored")
			continue
		}

		key := dedupeKey(userID, ev)
		if d.seen(ctx, key) {
			summary.Duplicates++
			d.metrics.RecordWebhookEvent(ev.Source, "duplicate")
			continue
		}

		result, err := d.wallet.Settle(ctx, SettleCommand{
			UserID:         userID,
			CorrelationKey: ev.CorrelationID,
			Recipient:      ev.Recipient,
			Delivered:      ev.Outcome == models.OutcomeDelivered,
			OccurredAt:     ev.OccurredAt,
		})
		switch {
		case errors.Is(err, ErrPendingChargeNotFound):
			summary.Dropped++
			d.metrics.RecordWebhookEvent(ev.Source, "dropped")
			d.logger.Warn("delivery event matched no pending charge",
				zap.String("user_id", userID),
				zap.String("correlation_id", ev.CorrelationID),
				zap.String("status", ev.Status))
			continue
		case err != nil:
			d.metrics.RecordWebhookEvent(ev.Source, "error")
			return summary, fmt.Errorf("settle %s: %w", ev.CorrelationID, err)
		}

		switch {
		case result.AlreadyResolved:
			summary.Duplicates++
			d.metrics.RecordWebhookEvent(ev.Source, "duplicate")
		case result.Entry.Kind == models.KindSuspenseRefund:
			summary.Refunded++
			d.metrics.RecordWebhookEvent(ev.Source, "refunded")
		default:
			summary.Settled++
			d.metrics.RecordWebhookEvent(ev.Source, "settled")
		}
		d.remember(ctx, key)
	}

	return summary, nil
}

func (d *DeliveryService) seen(ctx context.Context, key string) bool {
	if d.cache == nil {
		return false
	}
	n, err := d.cache.Exists(ctx, key).Result()
	if err != nil {
		d.logger.Warn("webhook dedupe lookup failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

func (d *DeliveryService) remember(ctx context.Context, key string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Set(ctx, key, "1", d.ttl).Err(); err != nil {
		d.logger.Warn("webhook dedupe write failed", zap.String("key", key), zap.Error(err))
	}
}

func dedupeKey(userID string, ev models.DeliveryEvent) string {
	return fmt.Sprintf("webhook:delivery:%s:%s:%s", userID, ev.CorrelationID, ev.Outcome)
}
