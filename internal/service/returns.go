package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/logging"
	"github.com/front-sio/pos-api/internal/saga"
	"github.com/front-sio/pos-api/internal/validation"
	"github.com/front-sio/pos-api/internal/xid"
)

var returnFieldMessages = []struct {
	field   string
	message string
}{
	{"SaleItemID", "saleitem_id is required"},
	{"QuantityReturned", "quantity_returned must be > 0"},
	{"Reason", "reason must be at most 500 characters"},
}

// ProcessReturn takes quantity back from one sale line. The cap is the
// line's current quantity_sold. Stock is restored first; if the line update
// then fails the journal record is flagged inconsistent and left for an
// operator.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (*domain.ReturnResponse, error) {
	ctx, span := s.tracer.Start(ctx, "sale.return", trace.WithAttributes(attribute.Int64("saleitem.id", req.SaleItemID)))
	defer span.End()

	req.QuantityReturned = domain.Round2(req.QuantityReturned)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validateReturn(req); err != nil {
		return nil, err
	}

	line, err := s.sales.GetSaleItem(ctx, req.SaleItemID)
	if err != nil {
		return nil, err
	}
	if req.QuantityReturned.GreaterThan(line.QuantitySold) {
		return nil, &ValidationError{Index: -1, Field: "quantity_returned", Message: "Return quantity cannot exceed item quantity_sold"}
	}

	sale, err := s.sales.GetSale(ctx, line.SaleID)
	if err != nil {
		return nil, err
	}
	costs, err := s.resolveCosts(ctx, saleProductIDs(sale.Items, nil))
	if err != nil {
		return nil, err
	}

	sagaID := xid.New("return")
	logger := s.logger.WithFields(logrus.Fields{"saga_id": sagaID, "kind": domain.SagaReturn, "saleitem_id": line.ID})
	restock := []domain.StockItem{{ProductID: line.ProductID, Quantity: req.QuantityReturned}}

	now := time.Now().UTC()
	rec := domain.SagaRecord{
		ID:         sagaID,
		Kind:       domain.SagaReturn,
		SaleID:     line.SaleID,
		SaleItemID: line.ID,
		Items:      restock,
		State:      domain.SagaReserved,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// Detached and bounded by one step timeout from here on.
	stepCtx, cancel := s.detachedStep(ctx)
	defer cancel()
	ctx = context.WithoutCancel(ctx)

	if err := s.journal.Begin(stepCtx, rec); err != nil {
		logging.LogError(logger, "service", "ProcessReturn", "write saga journal", rec, err)
		return nil, fmt.Errorf("record return saga: %w", err)
	}

	if err := s.ledger.Restore(stepCtx, restock, sagaID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restore failed")
		s.markReturn(ctx, logger, sagaID, saga.Transition{State: domain.SagaAborted, Err: err})
		logging.LogError(logger, "service", "ProcessReturn", "restore returned stock", restock, err)
		return nil, err
	}

	result, err := s.sales.ApplyReturn(stepCtx, domain.ReturnApplication{
		SaleItemID: line.ID,
		Quantity:   req.QuantityReturned,
		Reason:     req.Reason,
		SagaID:     sagaID,
		ReturnedAt: now,
	}, s.profitFunc(nil, costs))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "return inconsistent")
		s.markReturn(ctx, logger, sagaID, saga.Transition{State: domain.SagaInconsistent, Err: err})
		logging.LogError(logger, "service", "ProcessReturn", "apply return after stock restore", rec, err)
		return nil, fmt.Errorf("%w: saga %s: %v", ErrReturnInconsistent, sagaID, err)
	}

	s.markReturn(ctx, logger, sagaID, saga.Transition{State: domain.SagaCommitted, SaleID: line.SaleID})
	logger.WithFields(logrus.Fields{
		"sale_id":           line.SaleID,
		"quantity_returned": req.QuantityReturned.StringFixed(2),
		"sale_total_amount": result.Update.SaleTotalAmount.StringFixed(2),
	}).Info("return processed")

	ret := result.Return
	return &domain.ReturnResponse{SaleUpdate: result.Update, Return: &ret}, nil
}

func (s *Service) validateReturn(req domain.ReturnRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	fields := validation.Fields(err)
	if fields == nil {
		return err
	}
	for _, fm := range returnFieldMessages {
		if _, ok := fields[fm.field]; ok {
			return &ValidationError{Index: -1, Field: fm.field, Message: fm.message}
		}
	}
	return &ValidationError{Index: -1, Field: "body", Message: fmt.Sprintf("invalid return request: %v", fields)}
}

func (s *Service) markReturn(ctx context.Context, logger logrus.FieldLogger, sagaID string, t saga.Transition) {
	if err := s.journal.Mark(ctx, sagaID, t); err != nil {
		logging.LogError(logger, "service", "markReturn", "update saga journal", t.State, err)
	}
}
