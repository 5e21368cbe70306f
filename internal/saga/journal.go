package saga

import (
	"context"
	"errors"
	"time"

	"github.com/front-sio/pos-api/internal/domain"
)

var ErrRecordNotFound = errors.New("saga record not found")

// Transition moves a record to a new state. A zero SaleID keeps the stored
// one; a nil Err keeps the last recorded error.
type Transition struct {
	State  domain.SagaState
	SaleID int64
	Err    error
}

// Journal is the durable log of stock movements that may need compensating.
// A record is written before the local transaction that consumes the
// movement, so a crash between the two steps can be repaired on restart.
type Journal interface {
	Begin(ctx context.Context, rec domain.SagaRecord) error
	Mark(ctx context.Context, id string, t Transition) error
	Get(ctx context.Context, id string) (*domain.SagaRecord, error)
	List(ctx context.Context, state domain.SagaState, limit int) ([]domain.SagaRecord, error)
	// ListOpen returns reserved and compensation_failed records last touched before cutoff.
	ListOpen(ctx context.Context, cutoff time.Time) ([]domain.SagaRecord, error)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
