package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/store"
)

// ProductStore owns product quantities and the stock audit log.
type ProductStore struct {
	db *sql.DB
}

func NewProductStore(ctx context.Context, databaseURL string) (*ProductStore, error) {
	db, err := open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &ProductStore{db: db}, nil
}

func (s *ProductStore) Close() error {
	return s.db.Close()
}

func (s *ProductStore) Migrate(ctx context.Context) error {
	return migrate(ctx, s.db, productsSchema)
}

func (s *ProductStore) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, quantity, price, updated_at
		FROM accounts_product
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Quantity, &product.Price, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *ProductStore) LatestPurchaseItem(ctx context.Context, productID int64) (*domain.PurchaseItem, error) {
	var item domain.PurchaseItem
	var purchasedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT pi.id, pi.purchase_id, pi.product_id, pi.quantity, pi.price_per_unit, pi.total_cost, p.date
		FROM accounts_purchase_item pi
		JOIN accounts_purchase p ON p.id = pi.purchase_id
		WHERE pi.product_id = $1
		ORDER BY p.date DESC NULLS LAST, pi.id DESC
		LIMIT 1
	`, productID).Scan(&item.ID, &item.PurchaseID, &item.ProductID, &item.Quantity, &item.PricePerUnit, &item.TotalCost, &purchasedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if purchasedAt.Valid {
		at := purchasedAt.Time.UTC()
		item.PurchaseDate = &at
	}
	return &item, nil
}

// ReserveStock decrements every item or none. Rows are locked up front so the
// conflict report is computed against a stable snapshot; the guarded UPDATE
// keeps quantity non-negative even if a lock was skipped.
func (s *ProductStore) ReserveStock(ctx context.Context, items []domain.StockItem, reference string) error {
	if len(items) == 0 {
		return store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	quantities, err := lockProducts(ctx, tx, productIDs(items))
	if err != nil {
		return err
	}

	conflict := domain.NewStockConflict()
	for _, item := range items {
		available, ok := quantities[item.ProductID]
		if !ok {
			conflict.Missing = append(conflict.Missing, item.ProductID)
			continue
		}
		if available.LessThan(item.Quantity) {
			conflict.Insufficient = append(conflict.Insufficient, domain.InsufficientStock{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: available,
			})
		}
	}
	if !conflict.Empty() {
		return &store.StockConflictError{Conflict: conflict}
	}

	for _, item := range items {
		var price decimal.Decimal
		err := tx.QueryRowContext(ctx, `
			UPDATE accounts_product
			SET quantity = quantity - $1, updated_at = now()
			WHERE id = $2 AND quantity >= $1
			RETURNING price
		`, item.Quantity, item.ProductID).Scan(&price)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				conflict.Insufficient = append(conflict.Insufficient, domain.InsufficientStock{ProductID: item.ProductID, Requested: item.Quantity, Available: quantities[item.ProductID]})
				return &store.StockConflictError{Conflict: conflict}
			}
			return err
		}
		if err := insertStockTransaction(ctx, tx, item.ProductID, item.Quantity.Neg(), price, reference); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *ProductStore) RestoreStock(ctx context.Context, items []domain.StockItem, reference string) error {
	if len(items) == 0 {
		return store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	quantities, err := lockProducts(ctx, tx, productIDs(items))
	if err != nil {
		return err
	}
	missing := make([]int64, 0)
	for _, item := range items {
		if _, ok := quantities[item.ProductID]; !ok {
			missing = append(missing, item.ProductID)
		}
	}
	if len(missing) > 0 {
		return &store.MissingProductsError{ProductIDs: missing}
	}

	for _, item := range items {
		var price decimal.Decimal
		err := tx.QueryRowContext(ctx, `
			UPDATE accounts_product
			SET quantity = quantity + $1, updated_at = now()
			WHERE id = $2
			RETURNING price
		`, item.Quantity, item.ProductID).Scan(&price)
		if err != nil {
			return err
		}
		if err := insertStockTransaction(ctx, tx, item.ProductID, item.Quantity, price, reference); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *ProductStore) ListStockTransactions(ctx context.Context, productID int64, limit int) ([]domain.StockTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, user_id, amount_added, price_per_unit, total_cost, COALESCE(reference, ''), timestamp
		FROM accounts_stocktransaction
		WHERE ($1 = 0 OR product_id = $1)
		ORDER BY id DESC
		LIMIT $2
	`, productID, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StockTransaction, 0, 32)
	for rows.Next() {
		var tx domain.StockTransaction
		var userID sql.NullInt64
		if err := rows.Scan(&tx.ID, &tx.ProductID, &userID, &tx.AmountAdded, &tx.PricePerUnit, &tx.TotalCost, &tx.Reference, &tx.Timestamp); err != nil {
			return nil, err
		}
		if userID.Valid {
			id := userID.Int64
			tx.UserID = &id
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func lockProducts(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]decimal.Decimal, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, quantity
		FROM accounts_product
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quantities := make(map[int64]decimal.Decimal, len(ids))
	for rows.Next() {
		var id int64
		var qty decimal.Decimal
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		quantities[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return quantities, nil
}

func insertStockTransaction(ctx context.Context, tx *sql.Tx, productID int64, amount decimal.Decimal, price decimal.Decimal, reference string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts_stocktransaction (product_id, amount_added, price_per_unit, total_cost, reference, timestamp)
		VALUES ($1,$2,$3,$4,$5,now())
	`, productID, amount, price, domain.Round2(amount.Mul(price)), nullIfEmpty(reference))
	return err
}

func productIDs(items []domain.StockItem) []int64 {
	set := make(map[int64]struct{}, len(items))
	for _, item := range items {
		set[item.ProductID] = struct{}{}
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
