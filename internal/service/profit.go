package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/store"
)

const (
	defaultProfitWindow       = 30 * 24 * time.Hour
	defaultProfitTransactions = 20
	maxProfitTransactions     = 100
)

type lineCost struct {
	cost  decimal.Decimal
	found bool
}

// computeProfit sums (unit - cost) * qty over the lines. Products in strict
// are priced with the configured policy, so a fail policy rejects them when
// their cost is unknown; every other line is being recomputed and falls back
// to zero instead of failing.
func computeProfit(saleID int64, lines []domain.SaleItem, costs map[int64]lineCost, strict map[int64]bool, policy CostPolicy) (domain.ProfitTracker, error) {
	gross := decimal.Zero
	for _, line := range lines {
		cost, err := effectiveCost(line, costs[line.ProductID], strict[line.ProductID], policy)
		if err != nil {
			return domain.ProfitTracker{}, err
		}
		gross = gross.Add(line.SalePricePerQuantity.Sub(cost).Mul(line.QuantitySold))
	}
	gross = domain.Round2(gross)
	return domain.ProfitTracker{SaleID: saleID, GrossProfit: gross, NetProfit: gross}, nil
}

func effectiveCost(line domain.SaleItem, c lineCost, strict bool, policy CostPolicy) (decimal.Decimal, error) {
	if c.found {
		return c.cost, nil
	}
	switch policy {
	case CostUnitPrice:
		return line.SalePricePerQuantity, nil
	case CostFail:
		if strict {
			return decimal.Zero, &MissingCostError{ProductID: line.ProductID}
		}
	}
	return decimal.Zero, nil
}

// resolveCosts looks up the latest purchase cost of each product once. It
// runs before any stock moves so no upstream call sits inside a transaction.
func (s *Service) resolveCosts(ctx context.Context, productIDs []int64) (map[int64]lineCost, error) {
	costs := make(map[int64]lineCost, len(productIDs))
	for _, id := range productIDs {
		if _, ok := costs[id]; ok {
			continue
		}
		cost, found, err := s.resolver.LatestCost(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("latest cost for product %d: %w", id, err)
		}
		if !found {
			s.logger.WithFields(logrus.Fields{"product_id": id, "policy": s.policy}).Warn("missing purchase cost")
		}
		costs[id] = lineCost{cost: cost, found: found}
	}
	return costs, nil
}

// requireCosts rejects new lines that the fail policy cannot price.
func (s *Service) requireCosts(items []domain.NormalizedItem, costs map[int64]lineCost) error {
	if s.policy != CostFail {
		return nil
	}
	for _, item := range items {
		if !costs[item.ProductID].found {
			return &MissingCostError{ProductID: item.ProductID}
		}
	}
	return nil
}

// profitFunc returns the tracker builder the repositories call inside their
// transaction. Costs in known are used as resolved; a product missing from
// known (a line added concurrently) is looked up on demand.
func (s *Service) profitFunc(strict map[int64]bool, known map[int64]lineCost) store.ProfitFunc {
	return func(ctx context.Context, saleID int64, lines []domain.SaleItem) (domain.ProfitTracker, error) {
		costs := make(map[int64]lineCost, len(lines))
		for id, c := range known {
			costs[id] = c
		}
		var pending []int64
		for _, line := range lines {
			if _, ok := costs[line.ProductID]; !ok {
				pending = append(pending, line.ProductID)
			}
		}
		if len(pending) > 0 {
			extra, err := s.resolveCosts(ctx, pending)
			if err != nil {
				return domain.ProfitTracker{}, err
			}
			for id, c := range extra {
				costs[id] = c
			}
		}
		return computeProfit(saleID, lines, costs, strict, s.policy)
	}
}

func saleProductIDs(lines []domain.SaleItem, items []domain.NormalizedItem) []int64 {
	ids := make([]int64, 0, len(lines)+len(items))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

func strictSet(items []domain.NormalizedItem) map[int64]bool {
	set := make(map[int64]bool, len(items))
	for _, item := range items {
		set[item.ProductID] = true
	}
	return set
}

// RecalculateProfit replaces the sale's tracker from its current lines.
func (s *Service) RecalculateProfit(ctx context.Context, saleID int64) (*domain.ProfitTracker, error) {
	if saleID < 1 {
		return nil, &ValidationError{Index: -1, Field: "id", Message: "Invalid sale id"}
	}
	ctx, span := s.tracer.Start(ctx, "profit.recalculate")
	defer span.End()

	detail, err := s.sales.GetSale(ctx, saleID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	costs, err := s.resolveCosts(ctx, saleProductIDs(detail.Items, nil))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	tracker, err := s.sales.ReplaceProfit(ctx, saleID, s.profitFunc(nil, costs))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"sale_id": saleID, "gross_profit": tracker.GrossProfit.StringFixed(2)}).Info("profit recalculated")
	return tracker, nil
}

// ProfitSummary aggregates revenue and tracked profit over [from, to]. The
// window defaults to the last 30 days.
func (s *Service) ProfitSummary(ctx context.Context, from *time.Time, to *time.Time) (domain.ProfitSummary, error) {
	start, end := profitWindow(from, to)
	rows, err := s.sales.ListProfitRows(ctx, domain.ProfitFilter{From: &start, To: &end})
	if err != nil {
		return domain.ProfitSummary{}, err
	}

	summary := domain.ProfitSummary{
		Revenue:      decimal.Zero,
		GrossProfit:  decimal.Zero,
		NetProfit:    decimal.Zero,
		ProfitMargin: decimal.Zero,
		Orders:       len(rows),
		From:         start,
		To:           end,
	}
	for _, row := range rows {
		summary.Revenue = summary.Revenue.Add(row.TotalAmount)
		summary.GrossProfit = summary.GrossProfit.Add(row.GrossProfit)
		summary.NetProfit = summary.NetProfit.Add(row.NetProfit)
	}
	if summary.Revenue.IsPositive() {
		summary.ProfitMargin = domain.Round2(summary.NetProfit.Div(summary.Revenue).Mul(decimal.NewFromInt(100)))
	}
	summary.Revenue = domain.Round2(summary.Revenue)
	summary.GrossProfit = domain.Round2(summary.GrossProfit)
	summary.NetProfit = domain.Round2(summary.NetProfit)
	return summary, nil
}

// ProfitTimeline buckets sales by day, ISO week (starting Monday) or month.
// Unknown views fall back to daily.
func (s *Service) ProfitTimeline(ctx context.Context, view string, from *time.Time, to *time.Time) ([]domain.ProfitPoint, error) {
	start, end := profitWindow(from, to)
	rows, err := s.sales.ListProfitRows(ctx, domain.ProfitFilter{From: &start, To: &end})
	if err != nil {
		return nil, err
	}

	view = strings.ToLower(strings.TrimSpace(view))
	buckets := make(map[string]*domain.ProfitPoint)
	for _, row := range rows {
		label := bucketStart(row.SoldAt, view).Format("2006-01-02")
		point, ok := buckets[label]
		if !ok {
			point = &domain.ProfitPoint{Label: label, Revenue: decimal.Zero, GrossProfit: decimal.Zero, NetProfit: decimal.Zero}
			buckets[label] = point
		}
		point.Revenue = point.Revenue.Add(row.TotalAmount)
		point.GrossProfit = point.GrossProfit.Add(row.GrossProfit)
		point.NetProfit = point.NetProfit.Add(row.NetProfit)
		point.Orders++
	}

	points := make([]domain.ProfitPoint, 0, len(buckets))
	for _, point := range buckets {
		point.Revenue = domain.Round2(point.Revenue)
		point.GrossProfit = domain.Round2(point.GrossProfit)
		point.NetProfit = domain.Round2(point.NetProfit)
		points = append(points, *point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Label < points[j].Label })
	return points, nil
}

// ProfitTransactions pages through sales newest first. limit is clamped to
// 1..100 and defaults to 20.
func (s *Service) ProfitTransactions(ctx context.Context, limit int, offset int) ([]domain.ProfitRow, error) {
	if limit == 0 {
		limit = defaultProfitTransactions
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxProfitTransactions {
		limit = maxProfitTransactions
	}
	if offset < 0 {
		offset = 0
	}
	return s.sales.ListProfitRows(ctx, domain.ProfitFilter{Limit: limit, Offset: offset})
}

func profitWindow(from *time.Time, to *time.Time) (time.Time, time.Time) {
	end := time.Now().UTC()
	if to != nil {
		end = to.UTC()
	}
	start := end.Add(-defaultProfitWindow)
	if from != nil {
		start = from.UTC()
	}
	return start, end
}

func bucketStart(at time.Time, view string) time.Time {
	at = at.UTC()
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	switch view {
	case domain.TimelineMonthly:
		return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	case domain.TimelineWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return day
	}
}
