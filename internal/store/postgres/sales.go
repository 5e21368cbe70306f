package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/store"
)

// Store is the postgres sales repository.
type Store struct {
	db *sql.DB
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return migrate(ctx, s.db, salesSchema)
}

func (s *Store) CreateSale(ctx context.Context, sale domain.NewSale, profit store.ProfitFunc) (*domain.SaleDetail, error) {
	if sale.CustomerID < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if sale.SoldAt.IsZero() {
		sale.SoldAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var saleID int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO accounts_sale (customer_id, sold_at)
		VALUES ($1, $2)
		RETURNING id
	`, sale.CustomerID, sale.SoldAt).Scan(&saleID); err != nil {
		return nil, err
	}

	if len(sale.Items) > 0 {
		if err := insertSaleItems(ctx, tx, saleID, sale.Items); err != nil {
			return nil, err
		}
		if err := replaceProfit(ctx, tx, saleID, profit); err != nil {
			return nil, err
		}
	}
	if err := insertCommitMarker(ctx, tx, sale.SagaID, saleID); err != nil {
		return nil, err
	}

	detail, err := loadSaleDetail(ctx, tx, saleID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *Store) AppendSaleItems(ctx context.Context, saleID int64, items []domain.NormalizedItem, sagaID string, profit store.ProfitFunc) (*domain.SaleDetail, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockSale(ctx, tx, saleID); err != nil {
		return nil, err
	}
	if err := insertSaleItems(ctx, tx, saleID, items); err != nil {
		return nil, err
	}
	if err := replaceProfit(ctx, tx, saleID, profit); err != nil {
		return nil, err
	}
	if err := insertCommitMarker(ctx, tx, sagaID, saleID); err != nil {
		return nil, err
	}

	detail, err := loadSaleDetail(ctx, tx, saleID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *Store) ApplyReturn(ctx context.Context, app domain.ReturnApplication, profit store.ProfitFunc) (*domain.ReturnResult, error) {
	if !app.Quantity.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}
	if app.ReturnedAt.IsZero() {
		app.ReturnedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var line domain.SaleItem
	err = tx.QueryRowContext(ctx, `
		UPDATE accounts_saleitem
		SET quantity_sold = quantity_sold - $2,
			total_sale_price = ROUND((quantity_sold - $2) * sale_price_per_quantity, 2)
		WHERE id = $1 AND quantity_sold >= $2
		RETURNING id, sale_id, product_id, quantity_sold, sale_price_per_quantity, total_sale_price
	`, app.SaleItemID, app.Quantity).Scan(&line.ID, &line.SaleID, &line.ProductID, &line.QuantitySold, &line.SalePricePerQuantity, &line.TotalSalePrice)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts_saleitem WHERE id = $1)`, app.SaleItemID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrInvalidTransaction
	}

	record := domain.ProductReturn{
		SaleItemID:       line.ID,
		SaleID:           line.SaleID,
		ProductID:        line.ProductID,
		QuantityReturned: domain.Round2(app.Quantity),
		Reason:           app.Reason,
		ReturnedAt:       app.ReturnedAt,
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO accounts_productreturn (saleitem_id, sale_id, product_id, quantity_returned, reason, returned_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, record.SaleItemID, record.SaleID, record.ProductID, record.QuantityReturned, record.Reason, record.ReturnedAt).Scan(&record.ID); err != nil {
		return nil, err
	}

	if err := replaceProfit(ctx, tx, line.SaleID, profit); err != nil {
		return nil, err
	}
	if err := insertCommitMarker(ctx, tx, app.SagaID, line.SaleID); err != nil {
		return nil, err
	}

	lines, err := loadSaleItems(ctx, tx, line.SaleID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.ReturnResult{
		Update: domain.SaleUpdate{
			SaleID:            line.SaleID,
			SaleItemID:        line.ID,
			NewQuantitySold:   line.QuantitySold,
			NewTotalSalePrice: line.TotalSalePrice,
			SaleTotalAmount:   domain.SaleTotal(lines),
		},
		Return: record,
	}, nil
}

func (s *Store) ReplaceProfit(ctx context.Context, saleID int64, profit store.ProfitFunc) (*domain.ProfitTracker, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockSale(ctx, tx, saleID); err != nil {
		return nil, err
	}
	if err := replaceProfit(ctx, tx, saleID, profit); err != nil {
		return nil, err
	}
	tracker, err := loadProfit(ctx, tx, saleID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return tracker, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.SaleDetail, error) {
	return loadSaleDetail(ctx, s.db, id)
}

func (s *Store) ListSales(ctx context.Context) ([]domain.SaleSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.customer_id, s.sold_at, COALESCE(SUM(i.total_sale_price), 0)
		FROM accounts_sale s
		LEFT JOIN accounts_saleitem i ON i.sale_id = s.id
		GROUP BY s.id, s.customer_id, s.sold_at
		ORDER BY s.sold_at, s.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.SaleSummary, 0, 64)
	for rows.Next() {
		var sale domain.SaleSummary
		if err := rows.Scan(&sale.ID, &sale.CustomerID, &sale.SoldAt, &sale.TotalAmount); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

// DeleteSale removes the header; lines, tracker and return history cascade.
func (s *Store) DeleteSale(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts_sale WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetSaleItem(ctx context.Context, id int64) (*domain.SaleItem, error) {
	var item domain.SaleItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sale_id, product_id, quantity_sold, sale_price_per_quantity, total_sale_price
		FROM accounts_saleitem
		WHERE id = $1
	`, id).Scan(&item.ID, &item.SaleID, &item.ProductID, &item.QuantitySold, &item.SalePricePerQuantity, &item.TotalSalePrice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSaleItems(ctx context.Context) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, quantity_sold, sale_price_per_quantity, total_sale_price
		FROM accounts_saleitem
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return scanSaleItems(rows)
}

func (s *Store) ListReturns(ctx context.Context, saleID int64) ([]domain.ProductReturn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, saleitem_id, sale_id, product_id, quantity_returned, reason, returned_at
		FROM accounts_productreturn
		WHERE ($1 = 0 OR sale_id = $1)
		ORDER BY id DESC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ProductReturn, 0, 16)
	for rows.Next() {
		var ret domain.ProductReturn
		if err := rows.Scan(&ret.ID, &ret.SaleItemID, &ret.SaleID, &ret.ProductID, &ret.QuantityReturned, &ret.Reason, &ret.ReturnedAt); err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetReturn(ctx context.Context, id int64) (*domain.ProductReturn, error) {
	var ret domain.ProductReturn
	err := s.db.QueryRowContext(ctx, `
		SELECT id, saleitem_id, sale_id, product_id, quantity_returned, reason, returned_at
		FROM accounts_productreturn
		WHERE id = $1
	`, id).Scan(&ret.ID, &ret.SaleItemID, &ret.SaleID, &ret.ProductID, &ret.QuantityReturned, &ret.Reason, &ret.ReturnedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &ret, nil
}

func (s *Store) ListProfitRows(ctx context.Context, filter domain.ProfitFilter) ([]domain.ProfitRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.customer_id, s.sold_at,
			COALESCE((SELECT SUM(i.total_sale_price) FROM accounts_saleitem i WHERE i.sale_id = s.id), 0),
			COALESCE(p.gross_profit, 0),
			COALESCE(p.net_profit, 0)
		FROM accounts_sale s
		LEFT JOIN accounts_profittracker p ON p.sale_id = s.id
		WHERE ($1::timestamptz IS NULL OR s.sold_at >= $1)
			AND ($2::timestamptz IS NULL OR s.sold_at <= $2)
		ORDER BY s.sold_at DESC, s.id DESC
		LIMIT $3 OFFSET $4
	`, nullTime(filter.From), nullTime(filter.To), nullLimit(filter.Limit), filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ProfitRow, 0, 64)
	for rows.Next() {
		var row domain.ProfitRow
		if err := rows.Scan(&row.SaleID, &row.CustomerID, &row.SoldAt, &row.TotalAmount, &row.GrossProfit, &row.NetProfit); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CommitExists(ctx context.Context, sagaID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sale_saga_commits WHERE saga_id = $1)`, sagaID).Scan(&exists)
	return exists, err
}

// CommittedSale returns the sale written by the saga's local transaction.
func (s *Store) CommittedSale(ctx context.Context, sagaID string) (int64, error) {
	var saleID int64
	err := s.db.QueryRowContext(ctx, `SELECT sale_id FROM sale_saga_commits WHERE saga_id = $1`, sagaID).Scan(&saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	return saleID, err
}

func lockSale(ctx context.Context, tx *sql.Tx, saleID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM accounts_sale WHERE id = $1 FOR UPDATE`, saleID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func insertSaleItems(ctx context.Context, tx *sql.Tx, saleID int64, items []domain.NormalizedItem) error {
	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts_saleitem (sale_id, product_id, quantity_sold, sale_price_per_quantity, total_sale_price)
			VALUES ($1,$2,$3,$4,$5)
		`, saleID, item.ProductID, domain.Round2(item.QuantitySold), domain.Round2(item.SalePricePerQuantity), domain.Round2(item.TotalSalePrice))
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrInvalidTransaction
			}
			return err
		}
	}
	return nil
}

// replaceProfit recomputes the tracker from the lines visible inside tx and upserts it.
func replaceProfit(ctx context.Context, tx *sql.Tx, saleID int64, profit store.ProfitFunc) error {
	if profit == nil {
		return nil
	}
	lines, err := loadSaleItems(ctx, tx, saleID)
	if err != nil {
		return err
	}
	tracker, err := profit(ctx, saleID, lines)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts_profittracker (sale_id, gross_profit, net_profit, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (sale_id)
		DO UPDATE SET gross_profit = EXCLUDED.gross_profit, net_profit = EXCLUDED.net_profit
	`, saleID, domain.Round2(tracker.GrossProfit), domain.Round2(tracker.NetProfit))
	return err
}

func insertCommitMarker(ctx context.Context, tx *sql.Tx, sagaID string, saleID int64) error {
	if sagaID == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sale_saga_commits (saga_id, sale_id, committed_at)
		VALUES ($1, $2, now())
	`, sagaID, saleID)
	return err
}

func loadSaleItems(ctx context.Context, q queryer, saleID int64) ([]domain.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, quantity_sold, sale_price_per_quantity, total_sale_price
		FROM accounts_saleitem
		WHERE sale_id = $1
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, err
	}
	return scanSaleItems(rows)
}

func scanSaleItems(rows *sql.Rows) ([]domain.SaleItem, error) {
	defer rows.Close()
	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.QuantitySold, &item.SalePricePerQuantity, &item.TotalSalePrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func loadProfit(ctx context.Context, q queryer, saleID int64) (*domain.ProfitTracker, error) {
	var tracker domain.ProfitTracker
	err := q.QueryRowContext(ctx, `
		SELECT id, sale_id, gross_profit, net_profit, created_at
		FROM accounts_profittracker
		WHERE sale_id = $1
	`, saleID).Scan(&tracker.ID, &tracker.SaleID, &tracker.GrossProfit, &tracker.NetProfit, &tracker.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &tracker, nil
}

func loadSaleDetail(ctx context.Context, q queryer, saleID int64) (*domain.SaleDetail, error) {
	detail := &domain.SaleDetail{TotalAmount: decimal.Zero}
	err := q.QueryRowContext(ctx, `
		SELECT id, customer_id, sold_at
		FROM accounts_sale
		WHERE id = $1
	`, saleID).Scan(&detail.ID, &detail.CustomerID, &detail.SoldAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := loadSaleItems(ctx, q, saleID)
	if err != nil {
		return nil, err
	}
	detail.Items = items
	detail.TotalAmount = domain.SaleTotal(items)

	tracker, err := loadProfit(ctx, q, saleID)
	if err != nil {
		return nil, err
	}
	detail.Profit = tracker
	return detail, nil
}
