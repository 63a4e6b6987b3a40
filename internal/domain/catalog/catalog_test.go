package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectivePrice(t *testing.T) {
	base := decimal.RequireFromString("10.000")

	p := Product{ID: 1, BasePrice: base}
	assert.True(t, p.EffectivePrice().Equal(base), "no discount uses base price")

	p.Discount = &Discount{ProductID: 1, Percentage: decimal.NewFromInt(25)}
	assert.True(t, p.EffectivePrice().Equal(decimal.RequireFromString("7.500")))
}

func TestDiscountFromPrices(t *testing.T) {
	base := decimal.RequireFromString("20.000")

	t.Run("zero discounted price removes discount", func(t *testing.T) {
		assert.Nil(t, DiscountFromPrices(1, base, decimal.Zero))
	})

	t.Run("zero base price yields no discount", func(t *testing.T) {
		assert.Nil(t, DiscountFromPrices(1, decimal.Zero, decimal.NewFromInt(5)))
	})

	t.Run("percentage round-trips through DiscountedPrice", func(t *testing.T) {
		discounted := decimal.RequireFromString("15.000")
		d := DiscountFromPrices(1, base, discounted)
		require.NotNil(t, d)
		assert.True(t, d.Percentage.Equal(decimal.NewFromInt(25)))
		assert.True(t, d.DiscountedPrice(base).Equal(discounted))
	})
}
