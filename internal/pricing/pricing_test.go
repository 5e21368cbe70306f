package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/front-sio/pos-api/internal/logging"
	"github.com/front-sio/pos-api/internal/store/memory"
)

type mapCache struct {
	prices map[int64]decimal.Decimal
	sets   int
}

func (c *mapCache) GetListPrice(_ context.Context, productID int64) (decimal.Decimal, bool, error) {
	price, ok := c.prices[productID]
	return price, ok, nil
}

func (c *mapCache) SetListPrice(_ context.Context, productID int64, price decimal.Decimal, _ time.Duration) error {
	c.prices[productID] = price
	c.sets++
	return nil
}

type countingResolver struct {
	Resolver
	listCalls int
	costCalls int
}

func (r *countingResolver) ListPrice(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	r.listCalls++
	return r.Resolver.ListPrice(ctx, productID)
}

func (r *countingResolver) LatestCost(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	r.costCalls++
	return r.Resolver.LatestCost(ctx, productID)
}

func TestStoreResolverReadsCatalog(t *testing.T) {
	r := NewStoreResolver(memory.NewSeededProducts())
	ctx := context.Background()

	price, found, err := r.ListPrice(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, price.Equal(decimal.NewFromInt(3500)))

	cost, found, err := r.LatestCost(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, cost.Equal(decimal.NewFromInt(2800)))

	_, found, err = r.LatestCost(ctx, 6)
	require.NoError(t, err)
	assert.False(t, found, "product 6 has never been purchased")

	_, found, err = r.ListPrice(ctx, 404)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCachedResolverCachesListPriceOnly(t *testing.T) {
	inner := &countingResolver{Resolver: NewStoreResolver(memory.NewSeededProducts())}
	c := &mapCache{prices: map[int64]decimal.Decimal{}}
	r := NewCachedResolver(inner, c, time.Minute, logging.Discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, found, err := r.ListPrice(ctx, 1)
		require.NoError(t, err)
		require.True(t, found)
		_, _, err = r.LatestCost(ctx, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.listCalls)
	assert.Equal(t, 1, c.sets)
	assert.Equal(t, 3, inner.costCalls)

	_, found, err := r.ListPrice(ctx, 404)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, c.sets, "misses are not cached")
}
