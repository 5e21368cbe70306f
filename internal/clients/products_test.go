package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/front-sio/pos-api/internal/auth"
	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/logging"
	"github.com/front-sio/pos-api/internal/store"
)

func newClient(t *testing.T, handler http.HandlerFunc, tokens *auth.TokenManager) *ProductsClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewProductsClient(srv.URL, 2*time.Second, tokens, logging.Discard())
}

func TestReserveSendsBatchWithServiceToken(t *testing.T) {
	tokens := auth.NewServiceTokenManager("svc-secret")
	var got domain.StockBatchRequest
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/stock/sell-batch", r.URL.Path)
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		_, err := tokens.Parse(bearer)
		assert.NoError(t, err)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}, tokens)

	err := client.Reserve(context.Background(), []domain.StockItem{{ProductID: 3, Quantity: decimal.NewFromInt(2)}}, "saga-9")
	require.NoError(t, err)
	assert.Equal(t, "saga-9", got.Reference)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(3), got.Items[0].ProductID)
}

func TestReserveDecodesConflict(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"Insufficient stock","details":{"missing":[7],"insufficient":[{"product_id":2,"requested":"5","available":"1"}]}}`))
	}, nil)

	err := client.Reserve(context.Background(), []domain.StockItem{{ProductID: 2, Quantity: decimal.NewFromInt(5)}}, "")
	var conflict *store.StockConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, []int64{7}, conflict.Conflict.Missing)
	require.Len(t, conflict.Conflict.Insufficient, 1)
	assert.True(t, conflict.Conflict.Insufficient[0].Available.Equal(decimal.NewFromInt(1)))
}

func TestRestoreDecodesMissingProducts(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Some products were not found","details":{"missing":[11,12]}}`))
	}, nil)

	err := client.Restore(context.Background(), []domain.StockItem{{ProductID: 11, Quantity: decimal.NewFromInt(1)}}, "")
	var missing *store.MissingProductsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []int64{11, 12}, missing.ProductIDs)
}

func TestServerErrorsAndTimeoutsAreUpstreamUnavailable(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, nil)
	err := client.Reserve(context.Background(), []domain.StockItem{{ProductID: 1, Quantity: decimal.NewFromInt(1)}}, "")
	assert.ErrorIs(t, err, store.ErrUpstreamUnavailable)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer slow.Close()
	timeoutClient := NewProductsClient(slow.URL, 50*time.Millisecond, nil, logging.Discard())
	err = timeoutClient.Restore(context.Background(), []domain.StockItem{{ProductID: 1, Quantity: decimal.NewFromInt(1)}}, "")
	assert.ErrorIs(t, err, store.ErrUpstreamUnavailable)
}

func TestPriceLookups(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products/1":
			_, _ = w.Write([]byte(`{"id":1,"name":"Sugar","quantity":"10","price":"3500"}`))
		case "/products/purchases/latest/1":
			_, _ = w.Write([]byte(`{"id":4,"product_id":1,"price_per_quantity":"2800.50"}`))
		default:
			http.NotFound(w, r)
		}
	}, nil)
	ctx := context.Background()

	price, found, err := client.ListPrice(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, price.Equal(decimal.NewFromInt(3500)))

	cost, found, err := client.LatestCost(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, cost.Equal(decimal.RequireFromString("2800.50")))

	_, found, err = client.LatestCost(ctx, 2)
	require.NoError(t, err)
	assert.False(t, found)
}
