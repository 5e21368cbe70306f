package service

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/front-sio/pos-api/internal/domain"
)

// normalizeItems resolves every raw line in order; the first failure wins.
func (s *Service) normalizeItems(ctx context.Context, raw []domain.RawItem) ([]domain.NormalizedItem, error) {
	out := make([]domain.NormalizedItem, 0, len(raw))
	seen := make(map[int64]int, len(raw))
	for i, item := range raw {
		normalized, err := s.normalizeItem(ctx, item, i)
		if err != nil {
			return nil, err
		}
		if first, dup := seen[normalized.ProductID]; dup {
			return nil, itemError(i, "product_id", "product_id %d duplicates items[%d]", normalized.ProductID, first)
		}
		seen[normalized.ProductID] = i
		out = append(out, normalized)
	}
	return out, nil
}

func (s *Service) normalizeItem(ctx context.Context, raw domain.RawItem, index int) (domain.NormalizedItem, error) {
	quantity := firstValid(raw.QuantitySold, raw.Quantity)
	explicitUnit := firstValid(raw.SalePricePerQuantity, raw.UnitPrice)
	discount := valueOrZero(raw.DiscountAmount)

	listPrice := valueOrZero(raw.ListPrice)
	if !listPrice.IsPositive() && raw.ProductID > 0 {
		listPrice = s.lookupListPrice(ctx, raw.ProductID)
	}

	unit := valueOrZero(explicitUnit)
	if unit.IsZero() && discount.IsPositive() {
		unit = decimal.Max(decimal.Zero, listPrice.Sub(discount))
	}
	if unit.IsZero() {
		unit = listPrice
	}

	qty := domain.Round2(quantity.Decimal)
	unit = domain.Round2(unit)
	total := domain.Round2(qty.Mul(unit))
	provided := firstValid(raw.TotalSalePrice, raw.TotalPrice)

	switch {
	case raw.ProductID <= 0:
		return domain.NormalizedItem{}, itemError(index, "product_id", "product_id is required and must be > 0")
	case !qty.IsPositive():
		return domain.NormalizedItem{}, itemError(index, "quantity_sold", "quantity_sold/quantity must be > 0")
	case unit.IsNegative():
		return domain.NormalizedItem{}, itemError(index, "sale_price_per_quantity", "sale_price_per_quantity/unit_price must be >= 0")
	case provided.Valid && provided.Decimal.IsNegative():
		return domain.NormalizedItem{}, itemError(index, "total_sale_price", "total_sale_price/total_price must be >= 0")
	case provided.Valid && !domain.Round2(provided.Decimal).Equal(total):
		return domain.NormalizedItem{}, itemError(index, "total_sale_price", "total_sale_price/total_price must equal quantity_sold * sale_price_per_quantity (%s)", total.StringFixed(domain.MoneyPlaces))
	}

	return domain.NormalizedItem{
		ProductID:            raw.ProductID,
		QuantitySold:         qty,
		SalePricePerQuantity: unit,
		TotalSalePrice:       total,
		HasDiscount:          bool(raw.HasDiscount) || discount.IsPositive(),
		DiscountAmount:       domain.Round2(discount),
		ListPrice:            domain.Round2(listPrice),
	}, nil
}

// lookupListPrice treats a missing product or a failed lookup as no list
// price; reservation will reject unknown products anyway.
func (s *Service) lookupListPrice(ctx context.Context, productID int64) decimal.Decimal {
	price, found, err := s.resolver.ListPrice(ctx, productID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"product_id": productID}).WithError(err).Warn("list price lookup failed")
		return decimal.Zero
	}
	if !found {
		return decimal.Zero
	}
	return price
}

// pricingAlerts flags undiscounted lines sold away from the list price.
func pricingAlerts(items []domain.NormalizedItem) []domain.PricingAlert {
	alerts := make([]domain.PricingAlert, 0)
	for _, item := range items {
		if item.HasDiscount || !item.ListPrice.IsPositive() {
			continue
		}
		var flag string
		switch item.SalePricePerQuantity.Cmp(item.ListPrice) {
		case 1:
			flag = domain.PricingFlagOverList
		case -1:
			flag = domain.PricingFlagUnderList
		default:
			continue
		}
		alerts = append(alerts, domain.PricingAlert{
			ProductID: item.ProductID,
			Flag:      flag,
			UnitPrice: item.SalePricePerQuantity,
			ListPrice: item.ListPrice,
		})
	}
	return alerts
}

func reservationFor(items []domain.NormalizedItem) []domain.StockItem {
	out := make([]domain.StockItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.StockItem{ProductID: item.ProductID, Quantity: item.QuantitySold})
	}
	return domain.AggregateStockItems(out)
}

func firstValid(values ...decimal.NullDecimal) decimal.NullDecimal {
	for _, v := range values {
		if v.Valid {
			return v
		}
	}
	return decimal.NullDecimal{}
}

func valueOrZero(v decimal.NullDecimal) decimal.Decimal {
	if !v.Valid {
		return decimal.Zero
	}
	return v.Decimal
}
