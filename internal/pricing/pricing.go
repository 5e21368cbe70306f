package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/front-sio/pos-api/internal/cache"
	"github.com/front-sio/pos-api/internal/store"
)

// Resolver answers read-only price questions about products. found is false
// when the product or its purchase history does not exist.
type Resolver interface {
	ListPrice(ctx context.Context, productID int64) (price decimal.Decimal, found bool, err error)
	LatestCost(ctx context.Context, productID int64) (cost decimal.Decimal, found bool, err error)
}

// StoreResolver reads prices straight from the catalog.
type StoreResolver struct {
	catalog store.CatalogRepository
}

func NewStoreResolver(catalog store.CatalogRepository) *StoreResolver {
	return &StoreResolver{catalog: catalog}
}

func (r *StoreResolver) ListPrice(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	product, err := r.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	return product.Price, true, nil
}

// LatestCost is the unit price of the most recent purchase line for the product.
func (r *StoreResolver) LatestCost(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	item, err := r.catalog.LatestPurchaseItem(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	return item.PricePerUnit, true, nil
}

// CachedResolver serves list prices from a cache in front of another resolver.
// Cache failures degrade to the inner resolver.
type CachedResolver struct {
	inner  Resolver
	cache  cache.PriceCache
	ttl    time.Duration
	logger logrus.FieldLogger
}

func NewCachedResolver(inner Resolver, priceCache cache.PriceCache, ttl time.Duration, logger logrus.FieldLogger) *CachedResolver {
	if priceCache == nil {
		priceCache = cache.NoopPriceCache{}
	}
	return &CachedResolver{inner: inner, cache: priceCache, ttl: ttl, logger: logger}
}

func (r *CachedResolver) ListPrice(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	price, ok, err := r.cache.GetListPrice(ctx, productID)
	if err != nil {
		r.logger.WithError(err).WithField("product_id", productID).Warn("price cache read failed")
	} else if ok {
		return price, true, nil
	}

	price, found, err := r.inner.ListPrice(ctx, productID)
	if err != nil || !found {
		return price, found, err
	}
	if err := r.cache.SetListPrice(ctx, productID, price, r.ttl); err != nil {
		r.logger.WithError(err).WithField("product_id", productID).Warn("price cache write failed")
	}
	return price, true, nil
}

func (r *CachedResolver) LatestCost(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	return r.inner.LatestCost(ctx, productID)
}
