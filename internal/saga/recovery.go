package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/logging"
)

const (
	recoveryLockKey = "lock:saga-recovery"
	recoveryLockTTL = 30 * time.Second
)

// CommitChecker reports whether the local transaction of a saga committed.
type CommitChecker interface {
	CommitExists(ctx context.Context, sagaID string) (bool, error)
}

type Restorer interface {
	Restore(ctx context.Context, items []domain.StockItem, reference string) error
}

type Report struct {
	Skipped      bool `json:"skipped"`
	Interrupted  bool `json:"interrupted"`
	Committed    int  `json:"committed"`
	Compensated  int  `json:"compensated"`
	Failed       int  `json:"failed"`
	Inconsistent int  `json:"inconsistent"`
}

// lease is the held recovery lock. It is refreshed before each record so a
// long pass cannot outlive it.
type lease interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

type redisLease struct {
	lock *redislock.Lock
}

func (l redisLease) Refresh(ctx context.Context) error {
	return l.lock.Refresh(ctx, recoveryLockTTL, nil)
}

func (l redisLease) Release(ctx context.Context) error {
	return l.lock.Release(ctx)
}

var errLeaseBusy = errors.New("recovery lease held elsewhere")

// Recoverer settles journal records whose saga never reached a final state.
type Recoverer struct {
	journal  Journal
	commits  CommitChecker
	restorer Restorer
	acquire  func(ctx context.Context) (lease, error)
	grace    time.Duration
	logger   logrus.FieldLogger
	tracer   trace.Tracer
}

// NewRecoverer builds a recoverer. locker may be nil, in which case recovery
// runs without cross-replica coordination.
func NewRecoverer(journal Journal, commits CommitChecker, restorer Restorer, locker *redislock.Client, grace time.Duration, logger logrus.FieldLogger) *Recoverer {
	r := &Recoverer{
		journal:  journal,
		commits:  commits,
		restorer: restorer,
		grace:    grace,
		logger:   logger,
		tracer:   otel.Tracer("pos-api/saga"),
	}
	if locker != nil {
		r.acquire = func(ctx context.Context) (lease, error) {
			lock, err := locker.Obtain(ctx, recoveryLockKey, recoveryLockTTL, nil)
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, errLeaseBusy
			}
			if err != nil {
				return nil, err
			}
			return redisLease{lock: lock}, nil
		}
	}
	return r
}

func (r *Recoverer) Recover(ctx context.Context) (Report, error) {
	ctx, span := r.tracer.Start(ctx, "saga.recover")
	defer span.End()

	var held lease
	if r.acquire != nil {
		l, err := r.acquire(ctx)
		if errors.Is(err, errLeaseBusy) {
			r.logger.Debug("saga recovery already running elsewhere")
			return Report{Skipped: true}, nil
		}
		if err != nil {
			return Report{}, fmt.Errorf("obtain recovery lock: %w", err)
		}
		held = l
		defer func() { _ = held.Release(context.WithoutCancel(ctx)) }()
	}

	open, err := r.journal.ListOpen(ctx, time.Now().UTC().Add(-r.grace))
	if err != nil {
		return Report{}, err
	}

	report := Report{}
	for i, rec := range open {
		if held != nil && i > 0 {
			if err := held.Refresh(ctx); err != nil {
				r.logger.WithError(err).WithField("remaining", len(open)-i).Warn("recovery lock lost, stopping pass")
				report.Interrupted = true
				break
			}
		}
		switch r.settle(ctx, rec) {
		case domain.SagaCommitted:
			report.Committed++
		case domain.SagaCompensated:
			report.Compensated++
		case domain.SagaInconsistent:
			report.Inconsistent++
		default:
			report.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("saga.committed", report.Committed),
		attribute.Int("saga.compensated", report.Compensated),
		attribute.Int("saga.failed", report.Failed),
		attribute.Int("saga.inconsistent", report.Inconsistent),
	)
	if len(open) > 0 {
		r.logger.WithFields(logrus.Fields{
			"committed":    report.Committed,
			"compensated":  report.Compensated,
			"failed":       report.Failed,
			"inconsistent": report.Inconsistent,
		}).Info("saga recovery finished")
	}
	return report, nil
}

// settle decides one record and returns the state it ended in.
func (r *Recoverer) settle(ctx context.Context, rec domain.SagaRecord) domain.SagaState {
	log := r.logger.WithFields(logrus.Fields{"saga_id": rec.ID, "kind": rec.Kind})

	committed, err := r.commits.CommitExists(ctx, rec.ID)
	if err != nil {
		logging.LogError(r.logger, "saga", "Recover", "check commit marker", logrus.Fields{"saga_id": rec.ID}, err)
		return rec.State
	}
	if committed {
		if err := r.journal.Mark(ctx, rec.ID, Transition{State: domain.SagaCommitted}); err != nil {
			logging.LogError(r.logger, "saga", "Recover", "mark committed", logrus.Fields{"saga_id": rec.ID}, err)
			return rec.State
		}
		log.Info("saga found committed")
		return domain.SagaCommitted
	}

	// A return restores stock before its local step, so an uncommitted
	// return cannot be undone from here.
	if rec.Kind == domain.SagaReturn {
		if err := r.journal.Mark(ctx, rec.ID, Transition{State: domain.SagaInconsistent, Err: errors.New("return not committed after stock restore")}); err != nil {
			logging.LogError(r.logger, "saga", "Recover", "mark inconsistent", logrus.Fields{"saga_id": rec.ID}, err)
			return rec.State
		}
		log.Error("return left inconsistent, manual review required")
		return domain.SagaInconsistent
	}

	if err := r.restorer.Restore(ctx, rec.Items, rec.ID+":compensate"); err != nil {
		logging.LogError(r.logger, "saga", "Recover", "compensate", logrus.Fields{"saga_id": rec.ID, "attempts": rec.Attempts + 1}, err)
		if markErr := r.journal.Mark(ctx, rec.ID, Transition{State: domain.SagaCompensationFailed, Err: err}); markErr != nil {
			logging.LogError(r.logger, "saga", "Recover", "mark compensation_failed", logrus.Fields{"saga_id": rec.ID}, markErr)
		}
		return domain.SagaCompensationFailed
	}
	if err := r.journal.Mark(ctx, rec.ID, Transition{State: domain.SagaCompensated}); err != nil {
		logging.LogError(r.logger, "saga", "Recover", "mark compensated", logrus.Fields{"saga_id": rec.ID}, err)
	}
	log.Warn("orphaned reservation compensated")
	return domain.SagaCompensated
}

// Run recovers once immediately and then on every tick until ctx is done.
func (r *Recoverer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Recover(ctx); err != nil && ctx.Err() == nil {
			logging.LogError(r.logger, "saga", "Run", "recover", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
