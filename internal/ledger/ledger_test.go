package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/logging"
	"github.com/front-sio/pos-api/internal/store"
	"github.com/front-sio/pos-api/internal/store/memory"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestReserveMergesDuplicateProducts(t *testing.T) {
	repo := memory.NewSeededProducts()
	svc := New(repo, logging.Discard())
	ctx := context.Background()

	err := svc.Reserve(ctx, []domain.StockItem{
		{ProductID: 1, Quantity: dec("2")},
		{ProductID: 1, Quantity: dec("3")},
	}, "saga-1")
	require.NoError(t, err)

	product, err := repo.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.True(t, product.Quantity.Equal(dec("115")))

	txs, err := svc.Transactions(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].AmountAdded.Equal(dec("-5")))
	assert.Equal(t, "saga-1", txs[0].Reference)
}

func TestReserveRejectsInvalidBatchWithoutTouchingStock(t *testing.T) {
	repo := memory.NewSeededProducts()
	svc := New(repo, logging.Discard())

	err := svc.Reserve(context.Background(), nil, "")
	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	err = svc.Reserve(context.Background(), []domain.StockItem{{ProductID: 1, Quantity: dec("0")}}, "")
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, "gt", batchErr.Fields["Quantity"])

	txs, _ := svc.Transactions(context.Background(), 0, 0)
	assert.Empty(t, txs)
}

func TestReserveSurfacesConflict(t *testing.T) {
	svc := New(memory.NewSeededProducts(), logging.Discard())

	err := svc.Reserve(context.Background(), []domain.StockItem{{ProductID: 2, Quantity: dec("100000")}}, "")
	var conflict *store.StockConflictError
	require.True(t, errors.As(err, &conflict))
	require.Len(t, conflict.Conflict.Insufficient, 1)
	assert.True(t, conflict.Conflict.Insufficient[0].Requested.Equal(dec("100000")))
}

func TestRestoreReportsMissing(t *testing.T) {
	svc := New(memory.NewSeededProducts(), logging.Discard())

	err := svc.Restore(context.Background(), []domain.StockItem{{ProductID: 1, Quantity: dec("1")}, {ProductID: 99, Quantity: dec("1")}}, "x:compensate")
	var missing *store.MissingProductsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []int64{99}, missing.ProductIDs)
}
