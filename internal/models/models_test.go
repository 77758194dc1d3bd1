package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSalePatchRejectsImmutableFields(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		fields []string
	}{
		{"total", `{"isPaid":true,"total":"10"}`, []string{"total"}},
		{"items", `{"items":[]}`, []string{"items"}},
		{"createdAt and id", `{"createdAt":1,"id":"x"}`, []string{"createdAt", "id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var patch SalePatch
			err := json.Unmarshal([]byte(tt.body), &patch)

			var immutable *ImmutableFieldError
			require.True(t, errors.As(err, &immutable))
			assert.Equal(t, tt.fields, immutable.Fields)
		})
	}
}

func TestSalePatchDecodesFlags(t *testing.T) {
	var patch SalePatch
	require.NoError(t, json.Unmarshal([]byte(`{"isCollected":true}`), &patch))

	assert.Nil(t, patch.IsPaid)
	require.NotNil(t, patch.IsCollected)
	assert.True(t, *patch.IsCollected)
	assert.False(t, patch.Empty())
}

func TestEffectiveTotal(t *testing.T) {
	promo := decimal.NewFromInt(100)
	sale := Sale{Total: decimal.NewFromInt(150)}

	assert.True(t, sale.EffectiveTotal().Equal(decimal.NewFromInt(150)))

	sale.IsPromotion = true
	assert.True(t, sale.EffectiveTotal().Equal(decimal.NewFromInt(150)), "promotion without price keeps total")

	sale.PromotionPrice = &promo
	assert.True(t, sale.EffectiveTotal().Equal(promo))
	assert.True(t, sale.Total.Equal(decimal.NewFromInt(150)))
}

func TestAggregateLines(t *testing.T) {
	lines := AggregateLines([]StockLine{
		{ProductID: "2", Quantity: 1},
		{ProductID: "1", Quantity: 3},
		{ProductID: "2", Quantity: 4},
	})

	assert.Equal(t, []StockLine{{ProductID: "2", Quantity: 5}, {ProductID: "1", Quantity: 3}}, lines)
}

func TestLessProductID(t *testing.T) {
	assert.True(t, LessProductID("2", "10"))
	assert.False(t, LessProductID("10", "2"))
	assert.True(t, LessProductID("9", "abc"))
	assert.True(t, LessProductID("abc", "abd"))
}

func TestCloneDoesNotAlias(t *testing.T) {
	promo := decimal.NewFromInt(5)
	sale := Sale{Items: []SaleItem{{ProductID: "1", Quantity: 1}}, PromotionPrice: &promo}

	c := sale.Clone()
	c.Items[0].Quantity = 9
	*c.PromotionPrice = decimal.NewFromInt(1)

	assert.Equal(t, 1, sale.Items[0].Quantity)
	assert.True(t, sale.PromotionPrice.Equal(decimal.NewFromInt(5)))
}
