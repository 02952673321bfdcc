package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wadash/backend/internal/constants"
	"github.com/wadash/backend/internal/metrics"
	"github.com/wadash/backend/internal/models"
	"github.com/wadash/backend/internal/repository"
	"go.uber.org/zap"
)

// FallbackPolicy controls how a charge is located when the provider's
// correlation id matches nothing.
type FallbackPolicy string

const (
	// FallbackLatest takes the most recent open charge for the recipient.
	FallbackLatest FallbackPolicy = "latest"
	// FallbackUnique only falls back when exactly one open charge exists.
	FallbackUnique FallbackPolicy = "unique"
	// FallbackOff requires an exact correlation match.
	FallbackOff FallbackPolicy = "off"
)

func ParseFallbackPolicy(raw string) (FallbackPolicy, error) {
	switch p := FallbackPolicy(raw); p {
	case FallbackLatest, FallbackUnique, FallbackOff:
		return p, nil
	case "":
		return FallbackLatest, nil
	default:
		return "", fmt.Errorf("unknown fallback policy %q", raw)
	}
}

type LocateQuery struct {
	UserID         string
	CorrelationKey string
	Recipient      string
	OccurredAt     time.Time
	// ExactOnly disables the recipient fallback regardless of policy.
	ExactOnly bool
}

type Match struct {
	Charge  *models.Transaction
	Rekeyed bool
}

// Reconciler finds the SUSPENSE_DEBIT a delivery event refers to. It must be
// called inside a ledger transaction that already holds the account lock.
type Reconciler struct {
	policy  FallbackPolicy
	skew    time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewReconciler(policy FallbackPolicy, skew time.Duration, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		policy:  policy,
		skew:    skew,
		metrics: m,
		logger:  logger,
	}
}

func (r *Reconciler) Locate(ctx context.Context, tx repository.LedgerTx, q LocateQuery) (*Match, error) {
	charge, err := tx.FindChargeByCorrelation(ctx, q.UserID, q.CorrelationKey)
	if err == nil {
		return &Match{Charge: charge}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	recipient := models.NormalizeRecipient(q.Recipient)
	if q.ExactOnly || r.policy == FallbackOff || recipient == "" {
		return nil, notFound(q.CorrelationKey)
	}

	notAfter := time.Now().UTC().Add(r.skew)
	if !q.OccurredAt.IsZero() {
		notAfter = q.OccurredAt.Add(r.skew)
	}

	candidates, err := tx.FindOpenChargesByRecipient(ctx, q.UserID, recipient, notAfter, 2)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		r.metrics.RecordFallback("miss")
		return nil, notFound(q.CorrelationKey)
	}
	if len(candidates) > 1 {
		if r.policy == FallbackUnique {
			r.metrics.RecordFallback("ambiguous")
			r.logger.Warn("ambiguous recipient fallback, refusing to guess",
				zap.String("user_id", q.UserID),
				zap.String("correlation_id", q.CorrelationKey),
				zap.String("recipient", recipient))
			return nil, notFound(q.CorrelationKey)
		}
		r.logger.Warn("ambiguous recipient fallback, using most recent charge",
			zap.String("user_id", q.UserID),
			zap.String("correlation_id", q.CorrelationKey),
			zap.String("recipient", recipient),
			zap.String("chosen_transaction_id", candidates[0].TransactionID))
	}

	charge = candidates[0]
	if err := tx.AddAlias(ctx, q.UserID, q.CorrelationKey, charge.TransactionID); err != nil {
		return nil, err
	}
	r.metrics.RecordFallback(string(r.policy))
	r.logger.Info("charge re-keyed by recipient fallback",
		zap.String("user_id", q.UserID),
		zap.String("correlation_id", q.CorrelationKey),
		zap.String("original_reference", charge.Reference),
		zap.String("transaction_id", charge.TransactionID))

	return &Match{Charge: charge, Rekeyed: true}, nil
}

func notFound(correlationKey string) error {
	return NewServiceError(constants.ErrCodePendingChargeNotFound,
		fmt.Errorf("%w: %s", ErrPendingChargeNotFound, correlationKey))
}
