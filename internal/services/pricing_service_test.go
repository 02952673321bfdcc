package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wadash/backend/internal/constants"
	"github.com/wadash/backend/internal/models"
)

func testPriceTable() map[string]map[string]int64 {
	return map[string]map[string]int64{
		"starter": {
			"marketing":      109,
			"utility":        16,
			"authentication": 16,
			"service":        0,
		},
		"growth": {
			"marketing": 95,
			"utility":   14,
		},
	}
}

func TestPricingResolver_Resolve(t *testing.T) {
	resolver, err := NewPricingResolver(testPriceTable())
	require.NoError(t, err)

	t.Run("configured price", func(t *testing.T) {
		price, err := resolver.Resolve("starter", models.CategoryMarketing)
		assert.NoError(t, err)
		assert.Equal(t, int64(109), price)
	})

	t.Run("zero price means not billed", func(t *testing.T) {
		price, err := resolver.Resolve("starter", models.CategoryService)
		assert.NoError(t, err)
		assert.Zero(t, price)
	})

	t.Run("category missing from plan is free", func(t *testing.T) {
		price, err := resolver.Resolve("growth", models.CategoryAuthentication)
		assert.NoError(t, err)
		assert.Zero(t, price)
	})

	t.Run("pure function of its inputs", func(t *testing.T) {
		a, _ := resolver.Resolve("growth", models.CategoryUtility)
		b, _ := resolver.Resolve("growth", models.CategoryUtility)
		assert.Equal(t, a, b)
	})

	t.Run("unknown category", func(t *testing.T) {
		_, err := resolver.Resolve("starter", models.MessageCategory("promo"))
		assert.ErrorIs(t, err, ErrUnknownCategory)
		assert.Equal(t, constants.ErrCodeUnknownCategory, ErrorCode(err))
	})

	t.Run("unknown plan", func(t *testing.T) {
		_, err := resolver.Resolve("platinum", models.CategoryMarketing)
		assert.ErrorIs(t, err, ErrUnknownPlan)
	})

	assert.Equal(t, []string{"growth", "starter"}, resolver.Plans())
	assert.True(t, resolver.HasPlan("growth"))
	assert.False(t, resolver.HasPlan("platinum"))
}

func TestNewPricingResolver_RejectsBadTables(t *testing.T) {
	_, err := NewPricingResolver(map[string]map[string]int64{"starter": {"promo": 10}})
	assert.Error(t, err)

	_, err = NewPricingResolver(map[string]map[string]int64{"starter": {"marketing": -1}})
	assert.Error(t, err)
}

func TestParseFallbackPolicy(t *testing.T) {
	p, err := ParseFallbackPolicy("")
	assert.NoError(t, err)
	assert.Equal(t, FallbackLatest, p)

	p, err = ParseFallbackPolicy("unique")
	assert.NoError(t, err)
	assert.Equal(t, FallbackUnique, p)

	_, err = ParseFallbackPolicy("newest")
	assert.Error(t, err)
}
