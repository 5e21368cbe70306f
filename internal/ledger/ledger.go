package ledger

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/logging"
	"github.com/front-sio/pos-api/internal/store"
	"github.com/front-sio/pos-api/internal/validation"
)

// BatchError reports a malformed reserve or restore batch.
type BatchError struct {
	Fields map[string]string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("invalid stock batch: %v", e.Fields)
}

func (e *BatchError) Unwrap() error {
	return store.ErrInvalidTransaction
}

// Service is the authoritative owner of product quantities. Every batch is
// applied atomically by the repository or not at all.
type Service struct {
	repo     store.StockRepository
	validate *validator.Validate
	logger   logrus.FieldLogger
	tracer   trace.Tracer
}

func New(repo store.StockRepository, logger logrus.FieldLogger) *Service {
	return &Service{
		repo:     repo,
		validate: validation.New(),
		logger:   logger,
		tracer:   otel.Tracer("pos-api/ledger"),
	}
}

func (s *Service) Reserve(ctx context.Context, items []domain.StockItem, reference string) error {
	ctx, span := s.tracer.Start(ctx, "ledger.reserve", trace.WithAttributes(
		attribute.Int("stock.items", len(items)),
		attribute.String("stock.reference", reference),
	))
	defer span.End()

	batch, err := s.prepare(items, reference)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := s.repo.ReserveStock(ctx, batch, reference); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve rejected")
		s.logger.WithFields(logrus.Fields{"reference": reference, "items": len(batch)}).WithError(err).Info("stock reservation rejected")
		return err
	}

	s.logger.WithFields(logrus.Fields{"reference": reference, "items": len(batch)}).Debug("stock reserved")
	return nil
}

func (s *Service) Restore(ctx context.Context, items []domain.StockItem, reference string) error {
	ctx, span := s.tracer.Start(ctx, "ledger.restore", trace.WithAttributes(
		attribute.Int("stock.items", len(items)),
		attribute.String("stock.reference", reference),
	))
	defer span.End()

	batch, err := s.prepare(items, reference)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := s.repo.RestoreStock(ctx, batch, reference); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restore failed")
		logging.LogError(s.logger, "ledger", "Restore", "restore stock", logrus.Fields{"reference": reference, "items": batch}, err)
		return err
	}

	s.logger.WithFields(logrus.Fields{"reference": reference, "items": len(batch)}).Debug("stock restored")
	return nil
}

func (s *Service) Transactions(ctx context.Context, productID int64, limit int) ([]domain.StockTransaction, error) {
	return s.repo.ListStockTransactions(ctx, productID, limit)
}

// prepare validates the batch and merges duplicate product ids so the
// repository sees one row per product.
func (s *Service) prepare(items []domain.StockItem, reference string) ([]domain.StockItem, error) {
	rounded := make([]domain.StockItem, 0, len(items))
	for _, item := range items {
		rounded = append(rounded, domain.StockItem{ProductID: item.ProductID, Quantity: domain.Round2(item.Quantity)})
	}

	req := domain.StockBatchRequest{Items: rounded, Reference: reference}
	if err := s.validate.Struct(req); err != nil {
		if fields := validation.Fields(err); fields != nil {
			return nil, &BatchError{Fields: fields}
		}
		return nil, err
	}
	return domain.AggregateStockItems(rounded), nil
}
