package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/front-sio/pos-api/internal/auth"
	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/ledger"
	"github.com/front-sio/pos-api/internal/store"
)

// StockAPI is the products-side surface the sales saga calls into.
type StockAPI struct {
	base
	ledger  *ledger.Service
	catalog store.CatalogRepository
}

type StockOptions struct {
	AllowedOrigin string
	// ServiceTokens restricts every products route to the service role when set.
	ServiceTokens *auth.TokenManager
	Logger        logrus.FieldLogger
}

func NewStock(ledgerSvc *ledger.Service, catalog store.CatalogRepository, opts StockOptions) *StockAPI {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StockAPI{
		base: base{
			allowedOrigin: opts.AllowedOrigin,
			tokens:        opts.ServiceTokens,
			logger:        logger,
		},
		ledger:  ledgerSvc,
		catalog: catalog,
	}
}

func (a *StockAPI) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.NotFound(a.handleNotFound)
	r.MethodNotAllowed(a.handleMethodNotAllowed)

	r.Get("/healthz", a.handleHealth)

	r.Route("/products", func(r chi.Router) {
		r.Use(a.requireAuth(auth.ServiceRole))
		r.Post("/stock/sell-batch", a.handleSellBatch)
		r.Post("/stock/restore-batch", a.handleRestoreBatch)
		r.Get("/stock/transactions", a.handleStockTransactions)
		r.Get("/purchases/latest/{id}", a.handleLatestPurchase)
		r.Get("/{id}", a.handleGetProduct)
	})

	return a.withMiddleware(r)
}

func (a *StockAPI) handleSellBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.StockBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.ledger.Reserve(r.Context(), req.Items, req.Reference); err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Stock decremented (batch) successfully"})
}

func (a *StockAPI) handleRestoreBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.StockBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.ledger.Restore(r.Context(), req.Items, req.Reference); err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Stock restored (batch) successfully"})
}

func (a *StockAPI) handleStockTransactions(w http.ResponseWriter, r *http.Request) {
	var productID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("product_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			a.respondError(w, invalidParam("product_id"))
			return
		}
		productID = parsed
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	txs, err := a.ledger.Transactions(r.Context(), productID, limit)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (a *StockAPI) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, err)
		return
	}
	product, err := a.catalog.GetProduct(r.Context(), id)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *StockAPI) handleLatestPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, err)
		return
	}
	item, err := a.catalog.LatestPurchaseItem(r.Context(), id)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
