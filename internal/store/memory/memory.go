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

// Store is the in-memory sales repository. Every mutating call stages its
// changes and applies them only after the profit callback succeeds.
type Store struct {
	mu         sync.RWMutex
	sales      map[int64]domain.Sale
	items      map[int64]domain.SaleItem
	trackers   map[int64]domain.ProfitTracker
	returns    map[int64]domain.ProductReturn
	commits    map[string]int64
	nextSale   int64
	nextItem   int64
	nextReturn int64
	nextProfit int64
}

func New() *Store {
	return &Store{
		sales:      make(map[int64]domain.Sale),
		items:      make(map[int64]domain.SaleItem),
		trackers:   make(map[int64]domain.ProfitTracker),
		returns:    make(map[int64]domain.ProductReturn),
		commits:    make(map[string]int64),
		nextSale:   1,
		nextItem:   1,
		nextReturn: 1,
		nextProfit: 1,
	}
}

func (s *Store) CreateSale(ctx context.Context, sale domain.NewSale, profit store.ProfitFunc) (*domain.SaleDetail, error) {
	if sale.CustomerID < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if sale.SoldAt.IsZero() {
		sale.SoldAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	header := domain.Sale{ID: s.nextSale, CustomerID: sale.CustomerID, SoldAt: sale.SoldAt}
	staged, err := s.stageItems(header.ID, nil, sale.Items)
	if err != nil {
		return nil, err
	}

	var tracker *domain.ProfitTracker
	if len(staged) > 0 && profit != nil {
		computed, err := profit(ctx, header.ID, staged)
		if err != nil {
			return nil, err
		}
		tracker = &computed
	}

	s.nextSale++
	s.sales[header.ID] = header
	s.commitItems(staged)
	if tracker != nil {
		s.putTracker(header.ID, *tracker)
	}
	if sale.SagaID != "" {
		s.commits[sale.SagaID] = header.ID
	}
	return s.detailLocked(header.ID), nil
}

func (s *Store) AppendSaleItems(ctx context.Context, saleID int64, items []domain.NormalizedItem, sagaID string, profit store.ProfitFunc) (*domain.SaleDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sales[saleID]; !ok {
		return nil, store.ErrNotFound
	}
	existing := s.itemsForSaleLocked(saleID)
	staged, err := s.stageItems(saleID, existing, items)
	if err != nil {
		return nil, err
	}

	all := append(cloneItems(existing), staged...)
	tracker, err := profit(ctx, saleID, all)
	if err != nil {
		return nil, err
	}

	s.commitItems(staged)
	s.putTracker(saleID, tracker)
	if sagaID != "" {
		s.commits[sagaID] = saleID
	}
	return s.detailLocked(saleID), nil
}

func (s *Store) ApplyReturn(ctx context.Context, app domain.ReturnApplication, profit store.ProfitFunc) (*domain.ReturnResult, error) {
	if !app.Quantity.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}
	if app.ReturnedAt.IsZero() {
		app.ReturnedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.items[app.SaleItemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if line.QuantitySold.LessThan(app.Quantity) {
		return nil, store.ErrInvalidTransaction
	}

	updated := line
	updated.QuantitySold = domain.Round2(line.QuantitySold.Sub(app.Quantity))
	updated.TotalSalePrice = domain.Round2(updated.QuantitySold.Mul(line.SalePricePerQuantity))

	lines := s.itemsForSaleLocked(line.SaleID)
	for i := range lines {
		if lines[i].ID == updated.ID {
			lines[i] = updated
		}
	}
	tracker, err := profit(ctx, line.SaleID, lines)
	if err != nil {
		return nil, err
	}

	record := domain.ProductReturn{
		ID:               s.nextReturn,
		SaleItemID:       line.ID,
		SaleID:           line.SaleID,
		ProductID:        line.ProductID,
		QuantityReturned: domain.Round2(app.Quantity),
		Reason:           app.Reason,
		ReturnedAt:       app.ReturnedAt,
	}
	s.nextReturn++
	s.items[updated.ID] = updated
	s.returns[record.ID] = record
	s.putTracker(line.SaleID, tracker)
	if app.SagaID != "" {
		s.commits[app.SagaID] = line.SaleID
	}

	return &domain.ReturnResult{
		Update: domain.SaleUpdate{
			SaleID:            line.SaleID,
			SaleItemID:        line.ID,
			NewQuantitySold:   updated.QuantitySold,
			NewTotalSalePrice: updated.TotalSalePrice,
			SaleTotalAmount:   domain.SaleTotal(lines),
		},
		Return: record,
	}, nil
}

func (s *Store) ReplaceProfit(ctx context.Context, saleID int64, profit store.ProfitFunc) (*domain.ProfitTracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sales[saleID]; !ok {
		return nil, store.ErrNotFound
	}
	tracker, err := profit(ctx, saleID, s.itemsForSaleLocked(saleID))
	if err != nil {
		return nil, err
	}
	s.putTracker(saleID, tracker)
	stored := s.trackers[saleID]
	return &stored, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.SaleDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sales[id]; !ok {
		return nil, store.ErrNotFound
	}
	return s.detailLocked(id), nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.SaleSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SaleSummary, 0, len(s.sales))
	for id, sale := range s.sales {
		out = append(out, domain.SaleSummary{Sale: sale, TotalAmount: domain.SaleTotal(s.itemsForSaleLocked(id))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SoldAt.Equal(out[j].SoldAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SoldAt.Before(out[j].SoldAt)
	})
	return out, nil
}

func (s *Store) DeleteSale(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sales[id]; !ok {
		return store.ErrNotFound
	}
	for itemID, item := range s.items {
		if item.SaleID == id {
			delete(s.items, itemID)
		}
	}
	for returnID, ret := range s.returns {
		if ret.SaleID == id {
			delete(s.returns, returnID)
		}
	}
	delete(s.trackers, id)
	delete(s.sales, id)
	return nil
}

func (s *Store) GetSaleItem(_ context.Context, id int64) (*domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) ListSaleItems(_ context.Context) ([]domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SaleItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListReturns(_ context.Context, saleID int64) ([]domain.ProductReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ProductReturn, 0, len(s.returns))
	for _, ret := range s.returns {
		if saleID > 0 && ret.SaleID != saleID {
			continue
		}
		out = append(out, ret)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) GetReturn(_ context.Context, id int64) (*domain.ProductReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret, ok := s.returns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ret, nil
}

func (s *Store) ListProfitRows(_ context.Context, filter domain.ProfitFilter) ([]domain.ProfitRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.ProfitRow, 0, len(s.sales))
	for id, sale := range s.sales {
		if filter.From != nil && sale.SoldAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && sale.SoldAt.After(*filter.To) {
			continue
		}
		row := domain.ProfitRow{
			SaleID:      id,
			CustomerID:  sale.CustomerID,
			SoldAt:      sale.SoldAt,
			TotalAmount: domain.SaleTotal(s.itemsForSaleLocked(id)),
			GrossProfit: decimal.Zero,
			NetProfit:   decimal.Zero,
		}
		if tracker, ok := s.trackers[id]; ok {
			row.GrossProfit = tracker.GrossProfit
			row.NetProfit = tracker.NetProfit
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SoldAt.Equal(rows[j].SoldAt) {
			return rows[i].SaleID > rows[j].SaleID
		}
		return rows[i].SoldAt.After(rows[j].SoldAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(rows) {
			return []domain.ProfitRow{}, nil
		}
		rows = rows[filter.Offset:]
	}
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}

func (s *Store) CommitExists(_ context.Context, sagaID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.commits[sagaID]
	return ok, nil
}

func (s *Store) CommittedSale(_ context.Context, sagaID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	saleID, ok := s.commits[sagaID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return saleID, nil
}

// stageItems assigns ids to new lines without committing them. A product may
// appear only once per sale.
func (s *Store) stageItems(saleID int64, existing []domain.SaleItem, items []domain.NormalizedItem) ([]domain.SaleItem, error) {
	seen := make(map[int64]struct{}, len(existing)+len(items))
	for _, item := range existing {
		seen[item.ProductID] = struct{}{}
	}
	staged := make([]domain.SaleItem, 0, len(items))
	nextID := s.nextItem
	for _, item := range items {
		if _, dup := seen[item.ProductID]; dup {
			return nil, store.ErrInvalidTransaction
		}
		seen[item.ProductID] = struct{}{}
		staged = append(staged, domain.SaleItem{
			ID:                   nextID,
			SaleID:               saleID,
			ProductID:            item.ProductID,
			QuantitySold:         domain.Round2(item.QuantitySold),
			SalePricePerQuantity: domain.Round2(item.SalePricePerQuantity),
			TotalSalePrice:       domain.Round2(item.TotalSalePrice),
		})
		nextID++
	}
	return staged, nil
}

func (s *Store) commitItems(items []domain.SaleItem) {
	for _, item := range items {
		s.items[item.ID] = item
		if item.ID >= s.nextItem {
			s.nextItem = item.ID + 1
		}
	}
}

func (s *Store) putTracker(saleID int64, tracker domain.ProfitTracker) {
	tracker.SaleID = saleID
	tracker.GrossProfit = domain.Round2(tracker.GrossProfit)
	tracker.NetProfit = domain.Round2(tracker.NetProfit)
	if existing, ok := s.trackers[saleID]; ok {
		tracker.ID = existing.ID
		tracker.CreatedAt = existing.CreatedAt
	} else {
		tracker.ID = s.nextProfit
		s.nextProfit++
		if tracker.CreatedAt.IsZero() {
			tracker.CreatedAt = time.Now().UTC()
		}
	}
	s.trackers[saleID] = tracker
}

func (s *Store) itemsForSaleLocked(saleID int64) []domain.SaleItem {
	out := make([]domain.SaleItem, 0, 4)
	for _, item := range s.items {
		if item.SaleID == saleID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) detailLocked(saleID int64) *domain.SaleDetail {
	items := s.itemsForSaleLocked(saleID)
	detail := &domain.SaleDetail{
		Sale:        s.sales[saleID],
		TotalAmount: domain.SaleTotal(items),
		Items:       items,
	}
	if tracker, ok := s.trackers[saleID]; ok {
		t := tracker
		detail.Profit = &t
	}
	return detail
}

func cloneItems(src []domain.SaleItem) []domain.SaleItem {
	out := make([]domain.SaleItem, len(src))
	copy(out, src)
	return out
}
