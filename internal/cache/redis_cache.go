package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const listPriceKeyPrefix = "pos:list-price:"

type RedisPriceCache struct {
	client redis.UniversalClient
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisPriceCache wraps a client that may be shared with other components.
func NewRedisPriceCache(client redis.UniversalClient) *RedisPriceCache {
	return &RedisPriceCache{client: client}
}

func (c *RedisPriceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisPriceCache) GetListPrice(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, listPriceKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	price, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, err
	}
	return price, true, nil
}

func (c *RedisPriceCache) SetListPrice(ctx context.Context, productID int64, price decimal.Decimal, ttl time.Duration) error {
	return c.client.Set(ctx, listPriceKey(productID), price.StringFixed(2), ttl).Err()
}

func listPriceKey(productID int64) string {
	return fmt.Sprintf("%s%d", listPriceKeyPrefix, productID)
}
