package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache holds product list prices. Costs are never cached.
type PriceCache interface {
	GetListPrice(ctx context.Context, productID int64) (decimal.Decimal, bool, error)
	SetListPrice(ctx context.Context, productID int64, price decimal.Decimal, ttl time.Duration) error
}

type NoopPriceCache struct{}

func (NoopPriceCache) GetListPrice(_ context.Context, _ int64) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (NoopPriceCache) SetListPrice(_ context.Context, _ int64, _ decimal.Decimal, _ time.Duration) error {
	return nil
}
