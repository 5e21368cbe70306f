package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/store"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func flatProfit(_ context.Context, saleID int64, items []domain.SaleItem) (domain.ProfitTracker, error) {
	total := domain.SaleTotal(items)
	return domain.ProfitTracker{SaleID: saleID, GrossProfit: total, NetProfit: total}, nil
}

func TestReserveStockRejectsWholeBatch(t *testing.T) {
	s := NewSeededProducts()
	ctx := context.Background()

	before, err := s.GetProduct(ctx, 1)
	require.NoError(t, err)

	err = s.ReserveStock(ctx, []domain.StockItem{
		{ProductID: 1, Quantity: dec("2")},
		{ProductID: 2, Quantity: dec("9999")},
		{ProductID: 404, Quantity: dec("1")},
	}, "saga-a")

	var conflict *store.StockConflictError
	require.True(t, errors.As(err, &conflict), "expected stock conflict, got %v", err)
	assert.Equal(t, []int64{404}, conflict.Conflict.Missing)
	require.Len(t, conflict.Conflict.Insufficient, 1)
	assert.Equal(t, int64(2), conflict.Conflict.Insufficient[0].ProductID)
	assert.True(t, errors.Is(err, store.ErrInsufficientStock))

	after, err := s.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.True(t, before.Quantity.Equal(after.Quantity), "product 1 must be untouched")

	txs, err := s.ListStockTransactions(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestReserveThenRestoreReturnsToBaseline(t *testing.T) {
	s := NewSeededProducts()
	ctx := context.Background()
	items := []domain.StockItem{{ProductID: 1, Quantity: dec("5")}, {ProductID: 3, Quantity: dec("1.5")}}

	require.NoError(t, s.ReserveStock(ctx, items, "saga-b"))
	p1, _ := s.GetProduct(ctx, 1)
	assert.True(t, p1.Quantity.Equal(dec("115")))

	require.NoError(t, s.RestoreStock(ctx, items, "saga-b:compensate"))
	p1, _ = s.GetProduct(ctx, 1)
	p3, _ := s.GetProduct(ctx, 3)
	assert.True(t, p1.Quantity.Equal(dec("120")))
	assert.True(t, p3.Quantity.Equal(dec("80")))

	txs, err := s.ListStockTransactions(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, txs[0].AmountAdded.Equal(dec("5")))
	assert.True(t, txs[1].AmountAdded.Equal(dec("-5")))
}

func TestRestoreStockReportsMissingProducts(t *testing.T) {
	s := NewSeededProducts()
	err := s.RestoreStock(context.Background(), []domain.StockItem{{ProductID: 77, Quantity: dec("1")}}, "")

	var missing *store.MissingProductsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []int64{77}, missing.ProductIDs)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestLatestPurchaseItemPrefersNewestDated(t *testing.T) {
	s := NewProductStore()
	s.PutProduct(domain.Product{ID: 9, Quantity: dec("1"), Price: dec("10")})
	s.AddPurchase(domain.PurchaseItem{ID: 50, ProductID: 9, Quantity: dec("1"), PricePerUnit: dec("4")})
	s.AddPurchase(domain.PurchaseItem{ID: 10, ProductID: 9, Quantity: dec("1"), PricePerUnit: dec("6"), PurchaseDate: ptrNow()})

	item, err := s.LatestPurchaseItem(context.Background(), 9)
	require.NoError(t, err)
	assert.True(t, item.PricePerUnit.Equal(dec("6")))

	_, err = s.LatestPurchaseItem(context.Background(), 10)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSaleRollsBackWhenProfitFails(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("cost lookup failed")

	_, err := s.CreateSale(ctx, domain.NewSale{
		CustomerID: 1,
		Items:      []domain.NormalizedItem{{ProductID: 1, QuantitySold: dec("1"), SalePricePerQuantity: dec("10"), TotalSalePrice: dec("10")}},
		SagaID:     "saga-fail",
	}, func(context.Context, int64, []domain.SaleItem) (domain.ProfitTracker, error) {
		return domain.ProfitTracker{}, boom
	})
	require.ErrorIs(t, err, boom)

	sales, err := s.ListSales(ctx)
	require.NoError(t, err)
	assert.Empty(t, sales)
	committed, err := s.CommitExists(ctx, "saga-fail")
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestApplyReturnGuardsQuantityAndRecordsHistory(t *testing.T) {
	s := New()
	ctx := context.Background()

	detail, err := s.CreateSale(ctx, domain.NewSale{
		CustomerID: 1,
		Items:      []domain.NormalizedItem{{ProductID: 1, QuantitySold: dec("5"), SalePricePerQuantity: dec("10"), TotalSalePrice: dec("50")}},
	}, flatProfit)
	require.NoError(t, err)
	lineID := detail.Items[0].ID

	_, err = s.ApplyReturn(ctx, domain.ReturnApplication{SaleItemID: lineID, Quantity: dec("6")}, flatProfit)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	res, err := s.ApplyReturn(ctx, domain.ReturnApplication{SaleItemID: lineID, Quantity: dec("2"), Reason: "damaged", SagaID: "ret-1"}, flatProfit)
	require.NoError(t, err)
	assert.True(t, res.Update.NewQuantitySold.Equal(dec("3")))
	assert.True(t, res.Update.NewTotalSalePrice.Equal(dec("30")))
	assert.True(t, res.Update.SaleTotalAmount.Equal(dec("30")))

	returns, err := s.ListReturns(ctx, detail.ID)
	require.NoError(t, err)
	require.Len(t, returns, 1)
	assert.Equal(t, "damaged", returns[0].Reason)

	got, err := s.GetSale(ctx, detail.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Profit)
	assert.True(t, got.Profit.GrossProfit.Equal(dec("30")))

	committed, _ := s.CommitExists(ctx, "ret-1")
	assert.True(t, committed)
}

func TestAppendSaleItemsRejectsDuplicateProduct(t *testing.T) {
	s := New()
	ctx := context.Background()
	detail, err := s.CreateSale(ctx, domain.NewSale{
		CustomerID: 2,
		Items:      []domain.NormalizedItem{{ProductID: 4, QuantitySold: dec("1"), SalePricePerQuantity: dec("3"), TotalSalePrice: dec("3")}},
	}, flatProfit)
	require.NoError(t, err)

	_, err = s.AppendSaleItems(ctx, detail.ID, []domain.NormalizedItem{{ProductID: 4, QuantitySold: dec("1"), SalePricePerQuantity: dec("3"), TotalSalePrice: dec("3")}}, "", flatProfit)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = s.AppendSaleItems(ctx, 999, nil, "", flatProfit)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func ptrNow() *time.Time {
	now := time.Now().UTC()
	return &now
}
