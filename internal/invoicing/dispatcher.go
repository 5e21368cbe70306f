package invoicing

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/logging"
)

type job struct {
	span trace.SpanContext
	req  domain.InvoiceRequest
}

// Dispatcher issues invoices on a bounded pool of workers. When the queue is
// full the request is dropped and logged; the sale stays committed either way.
type Dispatcher struct {
	issuer  Issuer
	timeout time.Duration
	logger  logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

func NewDispatcher(issuer Issuer, workers int, queueSize int, timeout time.Duration, logger logrus.FieldLogger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		issuer:  issuer,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan job, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Dispatch enqueues req without blocking and reports whether it was accepted.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.InvoiceRequest) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.WithField("sale_id", req.SaleID).Warn("invoice dropped: dispatcher closed")
		return false
	}

	select {
	case d.queue <- job{span: trace.SpanContextFromContext(ctx), req: req}:
		return true
	default:
		d.logger.WithField("sale_id", req.SaleID).Error("invoice dropped: queue full")
		return false
	}
}

// Close stops accepting work and waits for queued invoices until ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		d.issue(j)
	}
}

func (d *Dispatcher) issue(j job) {
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), j.span)
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	invoiceID, err := d.issuer.Issue(ctx, j.req)
	if err != nil {
		logging.LogError(d.logger, "invoicing", "Dispatch", "issue invoice", logrus.Fields{"sale_id": j.req.SaleID, "status": j.req.Status}, err)
		return
	}
	d.logger.WithFields(logrus.Fields{"sale_id": j.req.SaleID, "invoice_id": invoiceID, "status": j.req.Status}).Info("invoice issued")
}
