package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/logging"
	"github.com/front-sio/pos-api/internal/pricing"
	"github.com/front-sio/pos-api/internal/saga"
	"github.com/front-sio/pos-api/internal/store"
	"github.com/front-sio/pos-api/internal/validation"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Ledger is the stock owner the sagas reserve from and compensate against.
// Both the in-process ledger and the products service client satisfy it.
type Ledger interface {
	Reserve(ctx context.Context, items []domain.StockItem, reference string) error
	Restore(ctx context.Context, items []domain.StockItem, reference string) error
}

// InvoiceDispatcher hands an invoice request to background workers and
// reports whether it was accepted. It must not block.
type InvoiceDispatcher interface {
	Dispatch(ctx context.Context, req domain.InvoiceRequest) bool
}

// CostPolicy decides the unit cost used for profit when a product has no
// purchase record.
type CostPolicy string

const (
	CostFail      CostPolicy = "fail"
	CostZero      CostPolicy = "zero"
	CostUnitPrice CostPolicy = "unit_price"
)

func ParseCostPolicy(val string) (CostPolicy, error) {
	switch policy := CostPolicy(strings.ToLower(strings.TrimSpace(val))); policy {
	case CostFail, CostZero, CostUnitPrice:
		return policy, nil
	default:
		return "", fmt.Errorf("unknown cost fallback %q: want fail, zero or unit_price", val)
	}
}

const defaultStepTimeout = 10 * time.Second

type Deps struct {
	Sales        store.SalesRepository
	Ledger       Ledger
	Resolver     pricing.Resolver
	Journal      saga.Journal
	Invoices     InvoiceDispatcher
	CostFallback string
	// StepTimeout bounds each step that runs after stock has moved: the
	// journal write plus the local transaction, and compensation. Recovery's
	// grace period must exceed twice this value.
	StepTimeout time.Duration
	Logger      logrus.FieldLogger
}

type Service struct {
	sales       store.SalesRepository
	ledger      Ledger
	resolver    pricing.Resolver
	journal     saga.Journal
	invoices    InvoiceDispatcher
	policy      CostPolicy
	stepTimeout time.Duration
	validate    *validator.Validate
	logger      logrus.FieldLogger
	tracer      trace.Tracer
}

func New(deps Deps) (*Service, error) {
	if deps.Sales == nil || deps.Ledger == nil || deps.Resolver == nil || deps.Journal == nil {
		return nil, errors.New("service: sales, ledger, resolver and journal are required")
	}
	policy, err := ParseCostPolicy(deps.CostFallback)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	stepTimeout := deps.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = defaultStepTimeout
	}

	return &Service{
		sales:       deps.Sales,
		ledger:      deps.Ledger,
		resolver:    deps.Resolver,
		journal:     deps.Journal,
		invoices:    deps.Invoices,
		policy:      policy,
		stepTimeout: stepTimeout,
		validate:    validation.New(),
		logger:      logger,
		tracer:      otel.Tracer("pos-api/service"),
	}, nil
}

func (s *Service) CostPolicy() CostPolicy {
	return s.policy
}

// detachedStep runs independently of the caller once stock has moved, but
// never longer than the step timeout.
func (s *Service) detachedStep(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.stepTimeout)
}

func (s *Service) ListSales(ctx context.Context) ([]domain.SaleSummary, error) {
	return s.sales.ListSales(ctx)
}

func (s *Service) GetSale(ctx context.Context, id int64) (*domain.SaleDetail, error) {
	if id < 1 {
		return nil, &ValidationError{Index: -1, Field: "id", Message: "Invalid sale id"}
	}
	return s.sales.GetSale(ctx, id)
}

// DeleteSale removes the header; lines, tracker and return history cascade.
// Stock is not restored.
func (s *Service) DeleteSale(ctx context.Context, id int64) error {
	if id < 1 {
		return &ValidationError{Index: -1, Field: "id", Message: "Invalid sale id"}
	}
	if err := s.sales.DeleteSale(ctx, id); err != nil {
		return err
	}

	fields := logrus.Fields{"sale_id": id}
	if actor, ok := ActorFromContext(ctx); ok {
		fields["actor"] = actor.Subject
	}
	s.logger.WithFields(fields).Info("sale deleted")
	return nil
}

func (s *Service) ListSaleItems(ctx context.Context) ([]domain.SaleItem, error) {
	return s.sales.ListSaleItems(ctx)
}

func (s *Service) GetSaleItem(ctx context.Context, id int64) (*domain.SaleItem, error) {
	if id < 1 {
		return nil, &ValidationError{Index: -1, Field: "id", Message: "Invalid sale item id"}
	}
	return s.sales.GetSaleItem(ctx, id)
}

func (s *Service) ListReturns(ctx context.Context, saleID int64) ([]domain.ProductReturn, error) {
	if saleID < 0 {
		return nil, &ValidationError{Index: -1, Field: "sale_id", Message: "Invalid sale id"}
	}
	return s.sales.ListReturns(ctx, saleID)
}

func (s *Service) GetReturn(ctx context.Context, id int64) (*domain.ProductReturn, error) {
	if id < 1 {
		return nil, &ValidationError{Index: -1, Field: "id", Message: "Invalid return id"}
	}
	return s.sales.GetReturn(ctx, id)
}

// ListSagas exposes the journal to operators. An empty state lists every record.
func (s *Service) ListSagas(ctx context.Context, state string, limit int) ([]domain.SagaRecord, error) {
	parsed := domain.SagaState(strings.ToLower(strings.TrimSpace(state)))
	switch parsed {
	case "", domain.SagaReserved, domain.SagaCommitted, domain.SagaCompensated,
		domain.SagaCompensationFailed, domain.SagaAborted, domain.SagaInconsistent:
	default:
		return nil, &ValidationError{Index: -1, Field: "state", Message: fmt.Sprintf("unknown saga state %q", state)}
	}
	return s.journal.List(ctx, parsed, limit)
}
