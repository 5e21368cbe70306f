package invoicing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/logging"
)

type recordingIssuer struct {
	mu    sync.Mutex
	reqs  []domain.InvoiceRequest
	block chan struct{}
	err   error
}

func (r *recordingIssuer) Issue(_ context.Context, req domain.InvoiceRequest) (string, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return "inv-1", r.err
}

func (r *recordingIssuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func TestHTTPIssuerCreatesInvoiceAndPayment(t *testing.T) {
	var mu sync.Mutex
	var invoice createInvoicePayload
	var payment paymentPayload
	paths := []string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/invoices":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&invoice))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":41}`))
		case "/invoices/41/payments":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&payment))
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	issuer := NewHTTPIssuer(srv.URL, time.Second, logging.Discard())
	id, err := issuer.Issue(context.Background(), domain.InvoiceRequest{
		SaleID:      9,
		CustomerID:  3,
		TotalAmount: decimal.RequireFromString("50"),
		PaidAmount:  decimal.RequireFromString("20"),
		Status:      domain.InvoiceCredited,
	})
	require.NoError(t, err)
	assert.Equal(t, "41", id)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/invoices", "/invoices/41/payments"}, paths)
	assert.Equal(t, "50.00", invoice.TotalAmount)
	assert.Equal(t, []int64{9}, invoice.Sales)
	assert.Equal(t, domain.InvoiceCredited, invoice.Status)
	assert.Equal(t, "20.00", payment.Amount)
}

func TestHTTPIssuerSkipsPaymentWhenUnpaid(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	id, err := NewHTTPIssuer(srv.URL, time.Second, logging.Discard()).Issue(context.Background(), domain.InvoiceRequest{
		SaleID: 1, CustomerID: 1, TotalAmount: decimal.NewFromInt(10), Status: domain.InvoiceUnpaid,
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.Equal(t, 1, calls)
}

func TestDecodeInvoiceIDAcceptsNumbersAndStrings(t *testing.T) {
	cases := map[string]string{
		`41`:     "41",
		`"abc"`:  "abc",
		`" 7f "`: "7f",
		`null`:   "",
		``:       "",
		`1.5e3`:  "1.5e3",
	}
	for raw, want := range cases {
		got, err := decodeInvoiceID(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := decodeInvoiceID(json.RawMessage(`{"nested":1}`))
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaIssuerPublishesKeyedEvent(t *testing.T) {
	w := &fakeWriter{}
	issuer := &KafkaIssuer{writer: w}

	_, err := issuer.Issue(context.Background(), domain.InvoiceRequest{
		SaleID: 77, CustomerID: 5, TotalAmount: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(100), Status: domain.InvoiceFull,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "77", string(w.msgs[0].Key))

	var event invoiceEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &event))
	assert.Equal(t, EventInvoiceRequested, event.Type)
	assert.Equal(t, "100.00", event.TotalAmount)
	assert.Equal(t, domain.InvoiceFull, event.Status)
}

func TestDispatcherIssuesAsynchronouslyAndDrains(t *testing.T) {
	issuer := &recordingIssuer{}
	d := NewDispatcher(issuer, 2, 8, time.Second, logging.Discard())

	for i := 0; i < 5; i++ {
		assert.True(t, d.Dispatch(context.Background(), domain.InvoiceRequest{SaleID: int64(i + 1)}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Equal(t, 5, issuer.count())

	assert.False(t, d.Dispatch(context.Background(), domain.InvoiceRequest{SaleID: 99}), "closed dispatcher must refuse work")
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	issuer := &recordingIssuer{block: make(chan struct{})}
	d := NewDispatcher(issuer, 1, 1, time.Second, logging.Discard())

	accepted := 0
	for i := 0; i < 10; i++ {
		if d.Dispatch(context.Background(), domain.InvoiceRequest{SaleID: int64(i)}) {
			accepted++
		}
	}
	assert.Less(t, accepted, 10)
	assert.LessOrEqual(t, accepted, 2)

	close(issuer.block)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcherSwallowsIssuerErrors(t *testing.T) {
	issuer := &recordingIssuer{err: errors.New("invoices down")}
	d := NewDispatcher(issuer, 1, 4, time.Second, logging.Discard())
	assert.True(t, d.Dispatch(context.Background(), domain.InvoiceRequest{SaleID: 1}))
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 1, issuer.count())
}
