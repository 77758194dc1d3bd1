package service

import (
	"testing"

	"stall-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(policy string) *Ledger {
	return NewLedger(policy, []models.Product{
		{ID: "1", Name: "Frango", Price: decimal.NewFromInt(50), Stock: 10},
		{ID: "2", Name: "Sobrecoxa", Price: decimal.NewFromInt(5), Stock: 4},
	})
}

func stockOf(t *testing.T, l *Ledger, id string) int {
	t.Helper()
	p, ok := l.Product(id)
	require.True(t, ok, "product %s missing", id)
	return p.Stock
}

func TestLedgerSetStock(t *testing.T) {
	l := newTestLedger(models.OversellClamp)

	change, err := l.SetStock("1", 25)
	require.NoError(t, err)
	assert.Equal(t, 10, change.Previous)
	assert.Equal(t, 25, change.Current)
	assert.Equal(t, 25, stockOf(t, l, "1"))

	_, err = l.SetStock("1", -3)
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, l, "1"))
}

func TestLedgerSetStockUnknownProduct(t *testing.T) {
	l := newTestLedger(models.OversellClamp)

	_, err := l.SetStock("99", 5)
	assert.ErrorIs(t, err, ErrUnknownProduct)
	assert.Equal(t, 14, l.TotalStock())
}

func TestLedgerSetStocksIsAllOrNothing(t *testing.T) {
	l := newTestLedger(models.OversellClamp)

	_, err := l.SetStocks([]models.StockEntry{
		{ProductID: "1", Quantity: 1},
		{ProductID: "42", Quantity: 1},
	})
	assert.ErrorIs(t, err, ErrUnknownProduct)
	assert.Equal(t, 10, stockOf(t, l, "1"))

	changes, err := l.SetStocks([]models.StockEntry{
		{ProductID: "1", Quantity: 1},
		{ProductID: "2", Quantity: 2},
	})
	require.NoError(t, err)
	assert.Len(t, changes, 2)
	assert.Equal(t, 3, l.TotalStock())
}

func TestLedgerReserveClampsAtZero(t *testing.T) {
	l := newTestLedger(models.OversellClamp)

	changes, err := l.Reserve([]models.StockLine{{ProductID: "1", Quantity: 20}})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Clamped)
	assert.Equal(t, 0, stockOf(t, l, "1"))
}

func TestLedgerReserveRejectLeavesStockUntouched(t *testing.T) {
	l := newTestLedger(models.OversellReject)

	_, err := l.Reserve([]models.StockLine{
		{ProductID: "2", Quantity: 1},
		{ProductID: "1", Quantity: 20},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 10, stockOf(t, l, "1"))
	assert.Equal(t, 4, stockOf(t, l, "2"))
}

func TestLedgerReserveAggregatesRepeatedProducts(t *testing.T) {
	l := newTestLedger(models.OversellReject)

	// 3 + 2 exceeds the 4 in stock even though each line alone fits
	_, err := l.Reserve([]models.StockLine{
		{ProductID: "2", Quantity: 3},
		{ProductID: "2", Quantity: 2},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	changes, err := l.Reserve([]models.StockLine{
		{ProductID: "2", Quantity: 1},
		{ProductID: "2", Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, 1, stockOf(t, l, "2"))
}

func TestLedgerReserveUnknownProduct(t *testing.T) {
	l := newTestLedger(models.OversellClamp)

	_, err := l.Reserve([]models.StockLine{
		{ProductID: "1", Quantity: 1},
		{ProductID: "7", Quantity: 1},
	})
	assert.ErrorIs(t, err, ErrUnknownProduct)
	assert.Equal(t, 10, stockOf(t, l, "1"))
}

func TestLedgerReleaseSkipsMissingProducts(t *testing.T) {
	l := newTestLedger(models.OversellClamp)

	changes, skipped := l.Release([]models.StockLine{
		{ProductID: "1", Quantity: 5},
		{ProductID: "gone", Quantity: 2},
	})
	assert.Len(t, changes, 1)
	assert.Equal(t, []models.StockLine{{ProductID: "gone", Quantity: 2}}, skipped)
	assert.Equal(t, 15, stockOf(t, l, "1"))
}

func TestLedgerCanSell(t *testing.T) {
	l := newTestLedger(models.OversellClamp)
	assert.True(t, l.CanSell())

	_, err := l.SetStocks([]models.StockEntry{{ProductID: "1"}, {ProductID: "2"}})
	require.NoError(t, err)
	assert.False(t, l.CanSell())
	assert.Equal(t, 0, l.TotalStock())
}

func TestLedgerReplaceOrdersByNumericID(t *testing.T) {
	l := newTestLedger(models.OversellClamp)

	l.Replace([]models.Product{
		{ID: "10", Name: "Pão", Stock: 1},
		{ID: "2", Name: "Sobrecoxa", Stock: -4},
		{ID: "1", Name: "Frango", Stock: 3},
	})

	products := l.Products()
	require.Len(t, products, 3)
	assert.Equal(t, "1", products[0].ID)
	assert.Equal(t, "2", products[1].ID)
	assert.Equal(t, "10", products[2].ID)
	assert.Equal(t, 0, products[1].Stock)
}

func TestLedgerProductsReturnsCopy(t *testing.T) {
	l := newTestLedger(models.OversellClamp)

	products := l.Products()
	products[0].Stock = 999
	assert.Equal(t, 10, stockOf(t, l, "1"))
}
