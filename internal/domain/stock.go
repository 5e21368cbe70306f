package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type StockItem struct {
	ProductID int64           `json:"product_id" validate:"gt=0"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
}

type StockBatchRequest struct {
	Items     []StockItem `json:"items" validate:"required,min=1,dive"`
	Reference string      `json:"reference,omitempty" validate:"max=120"`
}

type InsufficientStock struct {
	ProductID int64           `json:"product_id"`
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
}

// StockConflict lists every reason a reservation batch was rejected.
type StockConflict struct {
	Missing      []int64             `json:"missing"`
	Insufficient []InsufficientStock `json:"insufficient"`
}

func NewStockConflict() StockConflict {
	return StockConflict{Missing: []int64{}, Insufficient: []InsufficientStock{}}
}

// MarshalJSON always emits both lists as arrays.
func (c StockConflict) MarshalJSON() ([]byte, error) {
	type plain StockConflict
	if c.Missing == nil {
		c.Missing = []int64{}
	}
	if c.Insufficient == nil {
		c.Insufficient = []InsufficientStock{}
	}
	return json.Marshal(plain(c))
}

func (c StockConflict) Empty() bool {
	return len(c.Missing) == 0 && len(c.Insufficient) == 0
}

// StockTransaction is one signed row of the stock audit log.
type StockTransaction struct {
	ID           int64           `json:"id"`
	ProductID    int64           `json:"product_id"`
	UserID       *int64          `json:"user_id,omitempty"`
	AmountAdded  decimal.Decimal `json:"amount_added"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Reference    string          `json:"reference,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

type PurchaseItem struct {
	ID           int64           `json:"id"`
	PurchaseID   int64           `json:"purchase_id"`
	ProductID    int64           `json:"product_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_quantity"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	PurchaseDate *time.Time      `json:"purchase_date,omitempty"`
}

// AggregateStockItems merges duplicate product ids, preserving first-seen order.
func AggregateStockItems(items []StockItem) []StockItem {
	index := make(map[int64]int, len(items))
	out := make([]StockItem, 0, len(items))
	for _, item := range items {
		if pos, ok := index[item.ProductID]; ok {
			out[pos].Quantity = out[pos].Quantity.Add(item.Quantity)
			continue
		}
		index[item.ProductID] = len(out)
		out = append(out, item)
	}
	return out
}
