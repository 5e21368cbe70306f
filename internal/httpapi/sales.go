package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/front-sio/pos-api/internal/auth"
	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/service"
)

const roleAdmin = "admin"

// SalesAPI serves the sale, return and profit endpoints.
type SalesAPI struct {
	base
	service    *service.Service
	pin        *auth.PINGuard
	pinLimiter *attemptLimiter
}

type SalesOptions struct {
	AllowedOrigin string
	// Tokens enables bearer authentication on /api/v1 when set.
	Tokens *auth.TokenManager
	// ManagerPIN guards POST /api/v1/returns when set.
	ManagerPIN *auth.PINGuard
	Logger     logrus.FieldLogger
}

func NewSales(svc *service.Service, opts SalesOptions) *SalesAPI {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SalesAPI{
		base: base{
			allowedOrigin: opts.AllowedOrigin,
			tokens:        opts.Tokens,
			logger:        logger,
		},
		service:    svc,
		pin:        opts.ManagerPIN,
		pinLimiter: newAttemptLimiter(8, time.Minute),
	}
}

func (a *SalesAPI) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.NotFound(a.handleNotFound)
	r.MethodNotAllowed(a.handleMethodNotAllowed)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.requireAuth())

		r.Route("/sales", func(r chi.Router) {
			r.Get("/", a.handleListSales)
			r.Post("/", a.handleCreateSale)
			r.Get("/items/all", a.handleListSaleItems)
			r.Get("/items/{id}", a.handleGetSaleItem)
			r.Post("/returns/process", a.handleProcessReturn)
			r.Get("/profit/summary", a.handleProfitSummary)
			r.Get("/profit/timeline", a.handleProfitTimeline)
			r.Get("/profit/transactions", a.handleProfitTransactions)
			r.Get("/{id}", a.handleGetSale)
			r.Post("/{id}/items", a.handleAddSaleItems)

			r.Group(func(r chi.Router) {
				r.Use(a.requireAuth(roleAdmin))
				r.Delete("/{id}", a.handleDeleteSale)
				r.Post("/{id}/profit/recalculate", a.handleRecalculateProfit)
			})
		})

		r.Route("/returns", func(r chi.Router) {
			r.Get("/", a.handleListReturns)
			r.Post("/", a.handleCreateReturn)
			r.Get("/by-sale/{saleId}", a.handleReturnsBySale)
			r.Get("/{id}", a.handleGetReturn)
		})

		r.With(a.requireAuth(roleAdmin)).Get("/sagas", a.handleListSagas)
	})

	return a.withMiddleware(r)
}

func (a *SalesAPI) handleListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.ListSales(r.Context())
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *SalesAPI) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if err := decodeClientJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *SalesAPI) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, err)
		return
	}
	sale, err := a.service.GetSale(r.Context(), id)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *SalesAPI) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, err)
		return
	}
	if err := a.service.DeleteSale(r.Context(), id); err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Sale deleted", "id": id})
}

func (a *SalesAPI) handleAddSaleItems(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, err)
		return
	}
	var req domain.AddSaleItemsRequest
	if err := decodeClientJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.AddSaleItems(r.Context(), id, req)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *SalesAPI) handleListSaleItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListSaleItems(r.Context())
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *SalesAPI) handleGetSaleItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, err)
		return
	}
	item, err := a.service.GetSaleItem(r.Context(), id)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleProcessReturn is the sales-internal entry point; it answers 200 with
// the line update.
func (a *SalesAPI) handleProcessReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := decodeClientJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.ProcessReturn(r.Context(), req)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *SalesAPI) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	if a.pin != nil {
		if !a.pinLimiter.Allow("pin:return:" + clientKey(r)) {
			a.writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
			return
		}
		if !a.pin.Validate(r.Header.Get("X-Manager-PIN")) {
			a.writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
			return
		}
	}

	var req domain.ReturnRequest
	if err := decodeClientJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.ProcessReturn(r.Context(), req)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *SalesAPI) handleListReturns(w http.ResponseWriter, r *http.Request) {
	returns, err := a.service.ListReturns(r.Context(), 0)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, returns)
}

func (a *SalesAPI) handleReturnsBySale(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathID(r, "saleId")
	if err != nil {
		a.respondError(w, err)
		return
	}
	returns, err := a.service.ListReturns(r.Context(), saleID)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, returns)
}

func (a *SalesAPI) handleGetReturn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, err)
		return
	}
	ret, err := a.service.GetReturn(r.Context(), id)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (a *SalesAPI) handleProfitSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	summary, err := a.service.ProfitSummary(r.Context(), from, to)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *SalesAPI) handleProfitTimeline(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	points, err := a.service.ProfitTimeline(r.Context(), r.URL.Query().Get("view"), from, to)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (a *SalesAPI) handleProfitTransactions(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 100)
	offset, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("offset")))

	rows, err := a.service.ProfitTransactions(r.Context(), limit, offset)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   rows,
		"limit":  limit,
		"offset": max(offset, 0),
	})
}

func (a *SalesAPI) handleRecalculateProfit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, err)
		return
	}
	tracker, err := a.service.RecalculateProfit(r.Context(), id)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tracker)
}

func (a *SalesAPI) handleListSagas(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	records, err := a.service.ListSagas(r.Context(), r.URL.Query().Get("state"), limit)
	if err != nil {
		a.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// parseRange reads the optional from/to query parameters as RFC3339 or as a
// plain date. A plain to date covers the whole day.
func parseRange(r *http.Request) (*time.Time, *time.Time, error) {
	from, err := parseDateParam(r.URL.Query().Get("from"), false)
	if err != nil {
		return nil, nil, &paramError{name: "from", message: "from must be a date (YYYY-MM-DD) or RFC3339 timestamp"}
	}
	to, err := parseDateParam(r.URL.Query().Get("to"), true)
	if err != nil {
		return nil, nil, &paramError{name: "to", message: "to must be a date (YYYY-MM-DD) or RFC3339 timestamp"}
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, &paramError{name: "to", message: "to must not be before from"}
	}
	return from, to, nil
}

func parseDateParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		at = at.UTC()
		return &at, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}
