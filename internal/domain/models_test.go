package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeInvoiceStatus(t *testing.T) {
	cases := []struct {
		name  string
		total string
		paid  string
		want  InvoiceStatus
	}{
		{"nothing paid", "100", "0", InvoiceUnpaid},
		{"negative paid", "100", "-5", InvoiceUnpaid},
		{"fully paid", "100", "100", InvoiceFull},
		{"overpaid", "100", "150", InvoiceFull},
		{"partial", "100", "40", InvoiceCredited},
		{"paid on zero total", "0", "10", InvoiceCredited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeInvoiceStatus(decimal.RequireFromString(tc.total), decimal.RequireFromString(tc.paid))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRawItemAcceptsStringsAndAliases(t *testing.T) {
	var item RawItem
	err := json.Unmarshal([]byte(`{"product_id":3,"quantity":"2","unit_price":"9.50","has_discount":"true"}`), &item)
	require.NoError(t, err)

	assert.True(t, item.Quantity.Valid)
	assert.False(t, item.QuantitySold.Valid)
	assert.True(t, item.Quantity.Decimal.Equal(decimal.NewFromInt(2)))
	assert.True(t, item.UnitPrice.Decimal.Equal(decimal.RequireFromString("9.5")))
	assert.True(t, bool(item.HasDiscount))
}

func TestRequestsAcceptNumericStringIDs(t *testing.T) {
	var sale CreateSaleRequest
	err := json.Unmarshal([]byte(`{"customer_id":"12","paid_amount":"5","items":[{"product_id":"3","quantity":1},{"product_id":4.0,"quantity":1},{"product_id":"abc","quantity":1}],"channel":"web"}`), &sale)
	require.NoError(t, err)
	assert.Equal(t, int64(12), sale.CustomerID)
	require.Len(t, sale.Items, 3)
	assert.Equal(t, int64(3), sale.Items[0].ProductID)
	assert.Equal(t, int64(4), sale.Items[1].ProductID)
	assert.Equal(t, int64(0), sale.Items[2].ProductID, "non-numeric id is left for validation")
	assert.True(t, sale.PaidAmount.Decimal.Equal(decimal.NewFromInt(5)))

	var ret ReturnRequest
	require.NoError(t, json.Unmarshal([]byte(`{"saleitem_id":" 8 ","quantity_returned":"1.5","reason":"torn"}`), &ret))
	assert.Equal(t, int64(8), ret.SaleItemID)
	assert.True(t, ret.QuantityReturned.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, "torn", ret.Reason)

	var item RawItem
	assert.Error(t, json.Unmarshal([]byte(`{"product_id":{"id":1}}`), &item))
}

func TestAggregateStockItemsMergesDuplicates(t *testing.T) {
	got := AggregateStockItems([]StockItem{
		{ProductID: 2, Quantity: decimal.NewFromInt(1)},
		{ProductID: 1, Quantity: decimal.NewFromInt(3)},
		{ProductID: 2, Quantity: decimal.RequireFromString("1.5")},
	})
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ProductID)
	assert.True(t, got[0].Quantity.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, int64(1), got[1].ProductID)
}

func TestSagaStateOpen(t *testing.T) {
	assert.True(t, SagaReserved.Open())
	assert.True(t, SagaCompensationFailed.Open())
	assert.False(t, SagaCommitted.Open())
	assert.False(t, SagaInconsistent.Open())
}
