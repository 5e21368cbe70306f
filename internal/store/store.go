package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/front-sio/pos-api/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// StockConflictError rejects a whole reservation batch.
type StockConflictError struct {
	Conflict domain.StockConflict
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("insufficient stock: %d missing, %d insufficient", len(e.Conflict.Missing), len(e.Conflict.Insufficient))
}

func (e *StockConflictError) Unwrap() error {
	return ErrInsufficientStock
}

type MissingProductsError struct {
	ProductIDs []int64
}

func (e *MissingProductsError) Error() string {
	return fmt.Sprintf("products not found: %v", e.ProductIDs)
}

func (e *MissingProductsError) Unwrap() error {
	return ErrNotFound
}

// ProfitFunc computes the replacement tracker for a sale from its current lines.
// Repositories call it inside the same transaction that changed the lines.
type ProfitFunc func(ctx context.Context, saleID int64, items []domain.SaleItem) (domain.ProfitTracker, error)

type SalesRepository interface {
	CreateSale(ctx context.Context, sale domain.NewSale, profit ProfitFunc) (*domain.SaleDetail, error)
	AppendSaleItems(ctx context.Context, saleID int64, items []domain.NormalizedItem, sagaID string, profit ProfitFunc) (*domain.SaleDetail, error)
	ApplyReturn(ctx context.Context, app domain.ReturnApplication, profit ProfitFunc) (*domain.ReturnResult, error)
	ReplaceProfit(ctx context.Context, saleID int64, profit ProfitFunc) (*domain.ProfitTracker, error)
	GetSale(ctx context.Context, id int64) (*domain.SaleDetail, error)
	ListSales(ctx context.Context) ([]domain.SaleSummary, error)
	DeleteSale(ctx context.Context, id int64) error
	GetSaleItem(ctx context.Context, id int64) (*domain.SaleItem, error)
	ListSaleItems(ctx context.Context) ([]domain.SaleItem, error)
	ListReturns(ctx context.Context, saleID int64) ([]domain.ProductReturn, error)
	GetReturn(ctx context.Context, id int64) (*domain.ProductReturn, error)
	ListProfitRows(ctx context.Context, filter domain.ProfitFilter) ([]domain.ProfitRow, error)
	CommitExists(ctx context.Context, sagaID string) (bool, error)
	CommittedSale(ctx context.Context, sagaID string) (int64, error)
}

type StockRepository interface {
	ReserveStock(ctx context.Context, items []domain.StockItem, reference string) error
	RestoreStock(ctx context.Context, items []domain.StockItem, reference string) error
	ListStockTransactions(ctx context.Context, productID int64, limit int) ([]domain.StockTransaction, error)
}

type CatalogRepository interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	LatestPurchaseItem(ctx context.Context, productID int64) (*domain.PurchaseItem, error)
}
