package saga

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/front-sio/pos-api/internal/domain"
)

type MemoryJournal struct {
	mu      sync.RWMutex
	records map[string]domain.SagaRecord
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{records: make(map[string]domain.SagaRecord)}
}

func (j *MemoryJournal) Begin(_ context.Context, rec domain.SagaRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	rec.Items = append([]domain.StockItem(nil), rec.Items...)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.records[rec.ID] = rec
	return nil
}

func (j *MemoryJournal) Mark(_ context.Context, id string, t Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, ok := j.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.State = t.State
	if t.SaleID != 0 {
		rec.SaleID = t.SaleID
	}
	if t.Err != nil {
		rec.LastError = t.Err.Error()
	}
	if t.State == domain.SagaCompensationFailed {
		rec.Attempts++
	}
	rec.UpdatedAt = time.Now().UTC()
	j.records[id] = rec
	return nil
}

func (j *MemoryJournal) Get(_ context.Context, id string) (*domain.SagaRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	rec, ok := j.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

func (j *MemoryJournal) List(_ context.Context, state domain.SagaState, limit int) ([]domain.SagaRecord, error) {
	j.mu.RLock()
	out := make([]domain.SagaRecord, 0, len(j.records))
	for _, rec := range j.records {
		if state != "" && rec.State != state {
			continue
		}
		out = append(out, rec)
	}
	j.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (j *MemoryJournal) ListOpen(_ context.Context, cutoff time.Time) ([]domain.SagaRecord, error) {
	j.mu.RLock()
	out := make([]domain.SagaRecord, 0)
	for _, rec := range j.records {
		if rec.State.Open() && rec.UpdatedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	j.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}
