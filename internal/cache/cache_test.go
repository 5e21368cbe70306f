package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopPriceCacheAlwaysMisses(t *testing.T) {
	var c PriceCache = NoopPriceCache{}
	require.NoError(t, c.SetListPrice(context.Background(), 1, decimal.NewFromInt(5), time.Minute))

	_, ok, err := c.GetListPrice(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListPriceKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "pos:list-price:42", listPriceKey(42))
}
