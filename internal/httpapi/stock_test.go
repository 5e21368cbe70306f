package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/front-sio/pos-api/internal/auth"
	"github.com/front-sio/pos-api/internal/clients"
	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/ledger"
	"github.com/front-sio/pos-api/internal/logging"
	"github.com/front-sio/pos-api/internal/store"
	"github.com/front-sio/pos-api/internal/store/memory"
)

func newTestStockAPI(t *testing.T, tokens *auth.TokenManager) (http.Handler, *memory.ProductStore) {
	t.Helper()

	logger := logging.Discard()
	products := memory.NewProductStore()
	products.PutProduct(domain.Product{ID: 1, Name: "Sugar", Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(10)})
	products.PutProduct(domain.Product{ID: 2, Name: "Tea", Quantity: decimal.NewFromInt(3), Price: decimal.NewFromInt(8)})
	products.AddPurchase(domain.PurchaseItem{ID: 1, PurchaseID: 1, ProductID: 1, Quantity: decimal.NewFromInt(10), PricePerUnit: decimal.NewFromInt(6), TotalCost: decimal.NewFromInt(60)})

	api := NewStock(ledger.New(products, logger), products, StockOptions{
		AllowedOrigin: "*",
		ServiceTokens: tokens,
		Logger:        logger,
	})
	return api.Handler(), products
}

func serve(handler http.Handler, method string, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSellBatchDecrementsStock(t *testing.T) {
	handler, products := newTestStockAPI(t, nil)

	rec := serve(handler, http.MethodPost, "/products/stock/sell-batch",
		`{"items":[{"product_id":1,"quantity":2},{"product_id":1,"quantity":1.5},{"product_id":2,"quantity":3}],"reference":"sale-1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Stock decremented (batch) successfully") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}

	sugar, _ := products.GetProduct(context.Background(), 1)
	tea, _ := products.GetProduct(context.Background(), 2)
	if !sugar.Quantity.Equal(decimal.RequireFromString("6.5")) || !tea.Quantity.IsZero() {
		t.Fatalf("unexpected quantities: sugar=%s tea=%s", sugar.Quantity, tea.Quantity)
	}

	rec = serve(handler, http.MethodGet, "/products/stock/transactions?product_id=1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transactions: %d", rec.Code)
	}
	var txs []domain.StockTransaction
	decodeBody(t, rec, &txs)
	if len(txs) != 1 || !txs[0].AmountAdded.Equal(decimal.RequireFromString("-3.5")) {
		t.Fatalf("expected one merged -3.5 row, got %+v", txs)
	}
}

func TestSellBatchConflictIsAllOrNothing(t *testing.T) {
	handler, products := newTestStockAPI(t, nil)

	rec := serve(handler, http.MethodPost, "/products/stock/sell-batch",
		`{"items":[{"product_id":1,"quantity":2},{"product_id":2,"quantity":4}]}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"missing":[]`) {
		t.Fatalf("empty missing list must be an array: %s", rec.Body.String())
	}
	var body struct {
		Details domain.StockConflict `json:"details"`
	}
	decodeBody(t, rec, &body)
	if len(body.Details.Insufficient) != 1 || body.Details.Insufficient[0].ProductID != 2 {
		t.Fatalf("unexpected conflict: %+v", body.Details)
	}

	sugar, _ := products.GetProduct(context.Background(), 1)
	if !sugar.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("product 1 must be untouched, got %s", sugar.Quantity)
	}
}

func TestSellBatchMissingOnlyConflictKeepsArrays(t *testing.T) {
	handler, _ := newTestStockAPI(t, nil)

	rec := serve(handler, http.MethodPost, "/products/stock/sell-batch", `{"items":[{"product_id":42,"quantity":1}]}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"insufficient":[]`) || !strings.Contains(rec.Body.String(), `"missing":[42]`) {
		t.Fatalf("unexpected details: %s", rec.Body.String())
	}
}

func TestSellBatchRejectsInvalidItems(t *testing.T) {
	handler, _ := newTestStockAPI(t, nil)

	for _, body := range []string{
		`{"items":[]}`,
		`{"items":[{"product_id":1,"quantity":0}]}`,
		`{"items":[{"product_id":0,"quantity":1}]}`,
	} {
		if rec := serve(handler, http.MethodPost, "/products/stock/sell-batch", body, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestRestoreBatchReportsMissingProducts(t *testing.T) {
	handler, _ := newTestStockAPI(t, nil)

	rec := serve(handler, http.MethodPost, "/products/stock/restore-batch", `{"items":[{"product_id":1,"quantity":1},{"product_id":77,"quantity":1}]}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body struct {
		Error   string `json:"error"`
		Details struct {
			Missing []int64 `json:"missing"`
		} `json:"details"`
	}
	decodeBody(t, rec, &body)
	if body.Error != "Some products were not found" || len(body.Details.Missing) != 1 || body.Details.Missing[0] != 77 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestStockTransactionsRejectsBadProductID(t *testing.T) {
	handler, _ := newTestStockAPI(t, nil)

	rec := serve(handler, http.MethodGet, "/products/stock/transactions?product_id=abc", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["error"] != "Invalid product_id" {
		t.Fatalf("unexpected error: %v", body["error"])
	}
}

func TestProductReads(t *testing.T) {
	handler, _ := newTestStockAPI(t, nil)

	if rec := serve(handler, http.MethodGet, "/products/1", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("product: %d", rec.Code)
	}
	if rec := serve(handler, http.MethodGet, "/products/404", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", rec.Code)
	}
	if rec := serve(handler, http.MethodGet, "/products/purchases/latest/2", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for never purchased product, got %d", rec.Code)
	}
}

func TestStockRoutesRequireServiceToken(t *testing.T) {
	tokens := auth.NewServiceTokenManager("shared-secret")
	handler, _ := newTestStockAPI(t, tokens)

	if rec := serve(handler, http.MethodGet, "/products/1", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := serve(handler, http.MethodGet, "/products/1", "", bearer(t, tokens, "cashier")); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-service role, got %d", rec.Code)
	}
	if rec := serve(handler, http.MethodGet, "/products/1", "", bearer(t, tokens, auth.ServiceRole)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for service role, got %d", rec.Code)
	}
}

// The sales-side client and the stock server must agree on the wire format.
func TestProductsClientAgainstStockServer(t *testing.T) {
	tokens := auth.NewServiceTokenManager("shared-secret")
	handler, products := newTestStockAPI(t, tokens)
	server := httptest.NewServer(handler)
	defer server.Close()

	client := clients.NewProductsClient(server.URL, 2*time.Second, tokens, logging.Discard())
	ctx := context.Background()

	if err := client.Reserve(ctx, []domain.StockItem{{ProductID: 1, Quantity: decimal.NewFromInt(4)}}, "sale-a"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err := client.Reserve(ctx, []domain.StockItem{{ProductID: 2, Quantity: decimal.NewFromInt(9)}, {ProductID: 55, Quantity: decimal.NewFromInt(1)}}, "sale-b")
	var conflict *store.StockConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected stock conflict, got %v", err)
	}
	if len(conflict.Conflict.Missing) != 1 || len(conflict.Conflict.Insufficient) != 1 {
		t.Fatalf("unexpected conflict: %+v", conflict.Conflict)
	}

	err = client.Restore(ctx, []domain.StockItem{{ProductID: 55, Quantity: decimal.NewFromInt(1)}}, "sale-b:compensate")
	var missing *store.MissingProductsError
	if !errors.As(err, &missing) || missing.ProductIDs[0] != 55 {
		t.Fatalf("expected missing products error, got %v", err)
	}

	price, found, err := client.ListPrice(ctx, 1)
	if err != nil || !found || !price.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("list price: %s %v %v", price, found, err)
	}
	cost, found, err := client.LatestCost(ctx, 1)
	if err != nil || !found || !cost.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("latest cost: %s %v %v", cost, found, err)
	}
	if _, found, err := client.LatestCost(ctx, 2); err != nil || found {
		t.Fatalf("expected no cost for product 2, got found=%v err=%v", found, err)
	}

	sugar, _ := products.GetProduct(ctx, 1)
	if !sugar.Quantity.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected 6 after reserve, got %s", sugar.Quantity)
	}
}
