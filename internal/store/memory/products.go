package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/store"
)

// ProductStore keeps product quantities, the stock audit log and purchase history.
type ProductStore struct {
	mu           sync.RWMutex
	products     map[int64]domain.Product
	transactions []domain.StockTransaction
	purchases    []domain.PurchaseItem
	nextTxID     int64
}

func NewProductStore() *ProductStore {
	return &ProductStore{
		products: make(map[int64]domain.Product),
		nextTxID: 1,
	}
}

// NewSeededProducts returns a store with a small demo catalog for dev mode.
func NewSeededProducts() *ProductStore {
	s := NewProductStore()
	seed := []struct {
		id    int64
		name  string
		qty   string
		price string
		cost  string
	}{
		{1, "Sugar 1kg", "120", "3500", "2800"},
		{2, "Rice 5kg", "60", "18000", "15200"},
		{3, "Cooking Oil 1L", "80", "6200", "5100"},
		{4, "Soap Bar", "200", "1200", "850"},
		{5, "Bottled Water 500ml", "300", "700", "450"},
		{6, "Tea Leaves 250g", "45", "4300", ""},
	}
	purchasedAt := time.Now().UTC().Add(-72 * time.Hour)
	for i, p := range seed {
		s.PutProduct(domain.Product{
			ID:       p.id,
			Name:     p.name,
			Quantity: decimal.RequireFromString(p.qty),
			Price:    decimal.RequireFromString(p.price),
		})
		if p.cost == "" {
			continue
		}
		s.AddPurchase(domain.PurchaseItem{
			ID:           int64(i + 1),
			PurchaseID:   int64(i + 1),
			ProductID:    p.id,
			Quantity:     decimal.RequireFromString(p.qty),
			PricePerUnit: decimal.RequireFromString(p.cost),
			PurchaseDate: &purchasedAt,
		})
	}
	return s
}

func (s *ProductStore) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
}

func (s *ProductStore) AddPurchase(item domain.PurchaseItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.TotalCost.IsZero() {
		item.TotalCost = domain.Round2(item.Quantity.Mul(item.PricePerUnit))
	}
	s.purchases = append(s.purchases, item)
}

func (s *ProductStore) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

// LatestPurchaseItem orders by purchase date (undated last), then by item id.
func (s *ProductStore) LatestPurchaseItem(_ context.Context, productID int64) (*domain.PurchaseItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.PurchaseItem
	for i := range s.purchases {
		candidate := s.purchases[i]
		if candidate.ProductID != productID {
			continue
		}
		if latest == nil || purchaseIsNewer(candidate, *latest) {
			c := candidate
			latest = &c
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func purchaseIsNewer(a domain.PurchaseItem, b domain.PurchaseItem) bool {
	switch {
	case a.PurchaseDate != nil && b.PurchaseDate == nil:
		return true
	case a.PurchaseDate == nil && b.PurchaseDate != nil:
		return false
	case a.PurchaseDate != nil && b.PurchaseDate != nil && !a.PurchaseDate.Equal(*b.PurchaseDate):
		return a.PurchaseDate.After(*b.PurchaseDate)
	}
	return a.ID > b.ID
}

func (s *ProductStore) ReserveStock(_ context.Context, items []domain.StockItem, reference string) error {
	if len(items) == 0 {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conflict := domain.NewStockConflict()
	for _, item := range items {
		product, ok := s.products[item.ProductID]
		if !ok {
			conflict.Missing = append(conflict.Missing, item.ProductID)
			continue
		}
		if product.Quantity.LessThan(item.Quantity) {
			conflict.Insufficient = append(conflict.Insufficient, domain.InsufficientStock{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: product.Quantity,
			})
		}
	}
	if !conflict.Empty() {
		return &store.StockConflictError{Conflict: conflict}
	}

	now := time.Now().UTC()
	for _, item := range items {
		product := s.products[item.ProductID]
		product.Quantity = product.Quantity.Sub(item.Quantity)
		product.UpdatedAt = now
		s.products[item.ProductID] = product
		s.appendTransaction(item.ProductID, item.Quantity.Neg(), product.Price, reference, now)
	}
	return nil
}

func (s *ProductStore) RestoreStock(_ context.Context, items []domain.StockItem, reference string) error {
	if len(items) == 0 {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	missing := make([]int64, 0)
	for _, item := range items {
		if _, ok := s.products[item.ProductID]; !ok {
			missing = append(missing, item.ProductID)
		}
	}
	if len(missing) > 0 {
		return &store.MissingProductsError{ProductIDs: missing}
	}

	now := time.Now().UTC()
	for _, item := range items {
		product := s.products[item.ProductID]
		product.Quantity = product.Quantity.Add(item.Quantity)
		product.UpdatedAt = now
		s.products[item.ProductID] = product
		s.appendTransaction(item.ProductID, item.Quantity, product.Price, reference, now)
	}
	return nil
}

func (s *ProductStore) ListStockTransactions(_ context.Context, productID int64, limit int) ([]domain.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockTransaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if productID > 0 && tx.ProductID != productID {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// must hold s.mu
func (s *ProductStore) appendTransaction(productID int64, amount decimal.Decimal, price decimal.Decimal, reference string, at time.Time) {
	s.transactions = append(s.transactions, domain.StockTransaction{
		ID:           s.nextTxID,
		ProductID:    productID,
		AmountAdded:  amount,
		PricePerUnit: price,
		TotalCost:    domain.Round2(amount.Mul(price)),
		Reference:    reference,
		Timestamp:    at,
	})
	s.nextTxID++
}
