package services

import (
	"fmt"
	"sort"

	"github.com/wadash/backend/internal/constants"
	"github.com/wadash/backend/internal/models"
)

// PricingResolver maps (plan, category) to a per-message price in minor units.
// It holds no state beyond the table it was built from.
type PricingResolver struct {
	plans map[string]map[models.MessageCategory]int64
}

// NewPricingResolver validates the configured table. Every category must be a
// known one and prices must not be negative; a missing category on a plan
// means it is not billed.
func NewPricingResolver(table map[string]map[string]int64) (*PricingResolver, error) {
	plans := make(map[string]map[models.MessageCategory]int64, len(table))
	for plan, prices := range table {
		parsed := make(map[models.MessageCategory]int64, len(prices))
		for rawCategory, price := range prices {
			category, err := models.ParseCategory(rawCategory)
			if err != nil {
				return nil, fmt.Errorf("plan %s: %w", plan, err)
			}
			if price < 0 {
				return nil, fmt.Errorf("plan %s: negative price %d for %s", plan, price, category)
			}
			parsed[category] = price
		}
		plans[plan] = parsed
	}
	return &PricingResolver{plans: plans}, nil
}

// Resolve returns 0 for categories that the plan does not bill.
func (p *PricingResolver) Resolve(plan string, category models.MessageCategory) (int64, error) {
	if !category.Valid() {
		return 0, NewServiceError(constants.ErrCodeUnknownCategory, fmt.Errorf("%w: %q", ErrUnknownCategory, category))
	}
	prices, ok := p.plans[plan]
	if !ok {
		return 0, NewServiceError(constants.ErrCodeUnknownPlan, fmt.Errorf("%w: %q", ErrUnknownPlan, plan))
	}
	return prices[category], nil
}

func (p *PricingResolver) Plans() []string {
	names := make([]string, 0, len(p.plans))
	for name := range p.plans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *PricingResolver) HasPlan(plan string) bool {
	_, ok := p.plans[plan]
	return ok
}
