package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/logging"
	"github.com/front-sio/pos-api/internal/saga"
	"github.com/front-sio/pos-api/internal/xid"
)

const (
	stateNormalizing    = "NORMALIZING"
	stateReserving      = "RESERVING_STOCK"
	statePersisting     = "PERSISTING"
	stateCompensating   = "COMPENSATING"
	stateIssuingInvoice = "ISSUING_INVOICE"
	stateDone           = "DONE"
	stateAborted        = "ABORTED"
)

const noItemsMessage = "Sale created (no items provided)"

// sagaRun carries one sale saga through its states.
type sagaRun struct {
	id     string
	kind   domain.SagaKind
	logger logrus.FieldLogger
	span   trace.Span
}

func (r *sagaRun) step(state string) {
	r.logger.WithField("state", state).Debug("sale saga transition")
	r.span.AddEvent(state)
}

func (r *sagaRun) abort(err error) {
	r.step(stateAborted)
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
}

func (s *Service) newRun(ctx context.Context, kind domain.SagaKind) *sagaRun {
	id := xid.New("sale")
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("saga.id", id), attribute.String("saga.kind", string(kind)))
	return &sagaRun{
		id:     id,
		kind:   kind,
		logger: s.logger.WithFields(logrus.Fields{"saga_id": id, "kind": kind}),
		span:   span,
	}
}

// CreateSale reserves stock for every line, then persists the sale, its lines
// and its profit tracker in one local transaction. If persistence fails the
// reservation is compensated. The invoice is requested in the background.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (*domain.CreateSaleResponse, error) {
	ctx, span := s.tracer.Start(ctx, "sale.create")
	defer span.End()

	if req.CustomerID < 1 {
		return nil, &ValidationError{Index: -1, Field: "customer_id", Message: "customer_id is required"}
	}
	soldAt, err := parseSoldAt(req.SoldAt)
	if err != nil {
		return nil, err
	}
	paid := decimal.Zero
	if req.PaidAmount.Valid {
		paid = domain.Round2(req.PaidAmount.Decimal)
	}
	if paid.IsNegative() {
		return nil, &ValidationError{Index: -1, Field: "paid_amount", Message: "paid_amount must be >= 0"}
	}

	raw := req.LineItems()
	if len(raw) == 0 {
		detail, err := s.sales.CreateSale(ctx, domain.NewSale{CustomerID: req.CustomerID, SoldAt: soldAt}, nil)
		if err != nil {
			return nil, err
		}
		if paid.IsPositive() {
			s.requestInvoice(ctx, detail, paid)
		}
		return &domain.CreateSaleResponse{SaleDetail: *detail, Alerts: []domain.PricingAlert{}, Message: noItemsMessage}, nil
	}

	run := s.newRun(ctx, domain.SagaCreateSale)
	run.step(stateNormalizing)
	items, err := s.normalizeItems(ctx, raw)
	var costs map[int64]lineCost
	if err == nil {
		costs, err = s.resolveCosts(ctx, saleProductIDs(nil, items))
	}
	if err == nil {
		err = s.requireCosts(items, costs)
	}
	if err != nil {
		run.abort(err)
		return nil, err
	}

	detail, err := s.reserveAndPersist(ctx, run, 0, items, func(ctx context.Context) (*domain.SaleDetail, error) {
		return s.sales.CreateSale(ctx, domain.NewSale{
			CustomerID: req.CustomerID,
			SoldAt:     soldAt,
			Items:      items,
			SagaID:     run.id,
		}, s.profitFunc(strictSet(items), costs))
	})
	if err != nil {
		return nil, err
	}

	run.step(stateIssuingInvoice)
	s.requestInvoice(context.WithoutCancel(ctx), detail, paid)
	run.step(stateDone)
	run.logger.WithFields(logrus.Fields{"sale_id": detail.ID, "total_amount": detail.TotalAmount.StringFixed(2)}).Info("sale created")

	return &domain.CreateSaleResponse{SaleDetail: *detail, Alerts: pricingAlerts(items)}, nil
}

// AddSaleItems appends lines to an existing sale. The whole sale's profit is
// recomputed; only the new quantities are compensated on failure.
func (s *Service) AddSaleItems(ctx context.Context, saleID int64, req domain.AddSaleItemsRequest) (*domain.CreateSaleResponse, error) {
	ctx, span := s.tracer.Start(ctx, "sale.add_items")
	defer span.End()

	if saleID < 1 {
		return nil, &ValidationError{Index: -1, Field: "id", Message: "Invalid sale id"}
	}
	if len(req.Items) == 0 {
		return nil, &ValidationError{Index: -1, Field: "items", Message: "No items provided"}
	}
	existing, err := s.sales.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}

	run := s.newRun(ctx, domain.SagaAddItems)
	run.step(stateNormalizing)
	items, err := s.normalizeItems(ctx, req.Items)
	if err == nil {
		err = rejectExistingLines(existing.Items, items)
	}
	var costs map[int64]lineCost
	if err == nil {
		costs, err = s.resolveCosts(ctx, saleProductIDs(existing.Items, items))
	}
	if err == nil {
		err = s.requireCosts(items, costs)
	}
	if err != nil {
		run.abort(err)
		return nil, err
	}

	detail, err := s.reserveAndPersist(ctx, run, saleID, items, func(ctx context.Context) (*domain.SaleDetail, error) {
		return s.sales.AppendSaleItems(ctx, saleID, items, run.id, s.profitFunc(strictSet(items), costs))
	})
	if err != nil {
		return nil, err
	}

	run.step(stateDone)
	run.logger.WithFields(logrus.Fields{"sale_id": saleID, "added": len(items)}).Info("sale items added")
	return &domain.CreateSaleResponse{SaleDetail: *detail, Alerts: pricingAlerts(items)}, nil
}

// reserveAndPersist runs RESERVING_STOCK and PERSISTING. The journal record is
// written after the reservation and before the local transaction. Once stock
// is reserved the caller's cancellation no longer applies. The journal write
// plus the transaction share one step timeout; compensation gets its own.
func (s *Service) reserveAndPersist(ctx context.Context, run *sagaRun, saleID int64, items []domain.NormalizedItem, persist func(context.Context) (*domain.SaleDetail, error)) (*domain.SaleDetail, error) {
	reserved := reservationFor(items)

	run.step(stateReserving)
	if err := s.ledger.Reserve(ctx, reserved, run.id); err != nil {
		run.abort(err)
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	run.step(statePersisting)
	now := time.Now().UTC()
	rec := domain.SagaRecord{
		ID:        run.id,
		Kind:      run.kind,
		SaleID:    saleID,
		Items:     reserved,
		State:     domain.SagaReserved,
		CreatedAt: now,
		UpdatedAt: now,
	}
	stepCtx, cancel := s.detachedStep(ctx)
	if err := s.journal.Begin(stepCtx, rec); err != nil {
		cancel()
		logging.LogError(run.logger, "service", "reserveAndPersist", "write saga journal", rec, err)
		s.compensate(ctx, run, reserved, false)
		run.abort(err)
		return nil, fmt.Errorf("record saga %s: %w", run.id, err)
	}
	detail, err := persist(stepCtx)
	cancel()

	if err != nil {
		if committedID, lookupErr := s.sales.CommittedSale(ctx, run.id); lookupErr == nil {
			// The transaction landed; the reservation is consumed and must not be restored.
			run.logger.WithError(err).Warn("sale committed despite persistence error")
			s.markJournal(ctx, run, saga.Transition{State: domain.SagaCommitted, SaleID: committedID})
			return s.sales.GetSale(ctx, committedID)
		}
		logging.LogError(run.logger, "service", "reserveAndPersist", "persist sale", logrus.Fields{"sale_id": saleID}, err)
		s.compensate(ctx, run, reserved, true)
		run.abort(err)
		return nil, err
	}

	s.markJournal(ctx, run, saga.Transition{State: domain.SagaCommitted, SaleID: detail.ID})
	return detail, nil
}

// compensate puts back exactly what was reserved. It is attempted once; a
// failure is logged and, when journaled, left for recovery to replay.
func (s *Service) compensate(ctx context.Context, run *sagaRun, items []domain.StockItem, journaled bool) {
	run.step(stateCompensating)
	restoreCtx, cancel := s.detachedStep(ctx)
	err := s.ledger.Restore(restoreCtx, items, run.id+":compensate")
	cancel()
	if err != nil {
		logging.LogError(run.logger, "service", "compensate", "restore reserved stock", items, err)
		if journaled {
			s.markJournal(ctx, run, saga.Transition{State: domain.SagaCompensationFailed, Err: err})
		}
		return
	}
	run.logger.Info("reservation compensated")
	if journaled {
		s.markJournal(ctx, run, saga.Transition{State: domain.SagaCompensated})
	}
}

func (s *Service) markJournal(ctx context.Context, run *sagaRun, t saga.Transition) {
	if err := s.journal.Mark(ctx, run.id, t); err != nil {
		logging.LogError(run.logger, "service", "markJournal", "update saga journal", t.State, err)
	}
}

func (s *Service) requestInvoice(ctx context.Context, detail *domain.SaleDetail, paid decimal.Decimal) {
	if s.invoices == nil {
		return
	}
	req := domain.InvoiceRequest{
		SaleID:      detail.ID,
		CustomerID:  detail.CustomerID,
		TotalAmount: detail.TotalAmount,
		PaidAmount:  paid,
		Status:      domain.ComputeInvoiceStatus(detail.TotalAmount, paid),
		RequestedAt: time.Now().UTC(),
	}
	if !s.invoices.Dispatch(ctx, req) {
		s.logger.WithField("sale_id", detail.ID).Warn("invoice request not queued")
	}
}

func rejectExistingLines(existing []domain.SaleItem, items []domain.NormalizedItem) error {
	onSale := make(map[int64]bool, len(existing))
	for _, line := range existing {
		onSale[line.ProductID] = true
	}
	for i, item := range items {
		if onSale[item.ProductID] {
			return itemError(i, "product_id", "product_id %d is already on this sale", item.ProductID)
		}
	}
	return nil
}

func parseSoldAt(val string) (time.Time, error) {
	if val == "" {
		return time.Now().UTC(), nil
	}
	at, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, &ValidationError{Index: -1, Field: "sold_at", Message: "sold_at must be an RFC3339 timestamp"}
	}
	return at.UTC(), nil
}
