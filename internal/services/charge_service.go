package services

import (
	"context"
	"fmt"

	"github.com/wadash/backend/internal/constants"
	"github.com/wadash/backend/internal/models"
	"go.uber.org/zap"
)

// PlanLookup resolves the pricing plan a user is billed on.
type PlanLookup interface {
	PlanFor(ctx context.Context, userID string) (string, error)
}

type ChargeCommand struct {
	UserID         string
	Category       models.MessageCategory
	CorrelationKey string
	Recipient      string
}

type ChargeReceipt struct {
	UserID   string                 `json:"user_id"`
	Plan     string                 `json:"plan"`
	Category models.MessageCategory `json:"category"`
	Price    int64                  `json:"price"`
	Billable bool                   `json:"billable"`
	Charge   *models.Transaction    `json:"charge,omitempty"`
}

// ChargeService prices an outbound message and reserves its cost before the
// send handler dispatches it.
type ChargeService struct {
	wallet  *WalletService
	pricing *PricingResolver
	plans   PlanLookup
	logger  *zap.Logger
}

func NewChargeService(wallet *WalletService, pricing *PricingResolver, plans PlanLookup, logger *zap.Logger) *ChargeService {
	return &ChargeService{
		wallet:  wallet,
		pricing: pricing,
		plans:   plans,
		logger:  logger,
	}
}

func (c *ChargeService) Quote(ctx context.Context, userID string, category models.MessageCategory) (*ChargeReceipt, error) {
	plan, err := c.plans.PlanFor(ctx, userID)
	if err != nil {
		return nil, NewServiceError(constants.ErrCodeOperationFailed, fmt.Errorf("resolve plan: %w", err))
	}

	price, err := c.pricing.Resolve(plan, category)
	if err != nil {
		return nil, err
	}

	return &ChargeReceipt{
		UserID:   userID,
		Plan:     plan,
		Category: category,
		Price:    price,
		Billable: price > 0,
	}, nil
}

// Charge debits the message price into suspense. Unbilled categories return a
// receipt with Billable=false and write nothing.
func (c *ChargeService) Charge(ctx context.Context, cmd ChargeCommand) (*ChargeReceipt, error) {
	receipt, err := c.Quote(ctx, cmd.UserID, cmd.Category)
	if err != nil {
		return nil, err
	}
	if !receipt.Billable {
		c.logger.Debug("category not billed on plan",
			zap.String("user_id", cmd.UserID),
			zap.String("plan", receipt.Plan),
			zap.String("category", string(cmd.Category)))
		return receipt, nil
	}

	charge, err := c.wallet.DebitToSuspense(ctx, DebitCommand{
		UserID:         cmd.UserID,
		Amount:         receipt.Price,
		Category:       cmd.Category,
		CorrelationKey: cmd.CorrelationKey,
		Recipient:      cmd.Recipient,
	})
	if err != nil {
		return nil, err
	}
	receipt.Charge = charge
	return receipt, nil
}
