package invoicing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/front-sio/pos-api/internal/domain"
)

// Issuer creates the invoice for a committed sale. Implementations are called
// off the request path; their errors never reach the client.
type Issuer interface {
	Issue(ctx context.Context, req domain.InvoiceRequest) (string, error)
}

type NoopIssuer struct{}

func (NoopIssuer) Issue(_ context.Context, _ domain.InvoiceRequest) (string, error) {
	return "", nil
}

// HTTPIssuer posts invoices and initial payments to the invoices service.
type HTTPIssuer struct {
	baseURL string
	http    *http.Client
	logger  logrus.FieldLogger
}

type createInvoicePayload struct {
	CustomerID  int64                `json:"customer_id"`
	TotalAmount string               `json:"total_amount"`
	Status      domain.InvoiceStatus `json:"status"`
	Sales       []int64              `json:"sales"`
}

type paymentPayload struct {
	Amount string `json:"amount"`
}

func NewHTTPIssuer(baseURL string, timeout time.Duration, logger logrus.FieldLogger) *HTTPIssuer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPIssuer{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

func (i *HTTPIssuer) Issue(ctx context.Context, req domain.InvoiceRequest) (string, error) {
	var created struct {
		ID json.RawMessage `json:"id"`
	}
	err := i.post(ctx, "/invoices", createInvoicePayload{
		CustomerID:  req.CustomerID,
		TotalAmount: money(req.TotalAmount),
		Status:      req.Status,
		Sales:       []int64{req.SaleID},
	}, &created)
	if err != nil {
		return "", err
	}
	invoiceID, err := decodeInvoiceID(created.ID)
	if err != nil {
		return "", err
	}

	if req.PaidAmount.IsPositive() && invoiceID != "" {
		path := fmt.Sprintf("/invoices/%s/payments", invoiceID)
		if err := i.post(ctx, path, paymentPayload{Amount: money(req.PaidAmount)}, nil); err != nil {
			i.logger.WithError(err).WithFields(logrus.Fields{"sale_id": req.SaleID, "invoice_id": invoiceID}).Warn("initial payment not recorded")
		}
	}
	return invoiceID, nil
}

func (i *HTTPIssuer) post(ctx context.Context, path string, payload any, dest any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("invoices service %s returned %d", path, resp.StatusCode)
	}
	if dest == nil || len(body) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	return decoder.Decode(dest)
}

// decodeInvoiceID accepts numeric and string ids.
func decodeInvoiceID(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return "", fmt.Errorf("decode invoice id: %w", err)
		}
		return strings.TrimSpace(id), nil
	}
	var id json.Number
	if err := json.Unmarshal(trimmed, &id); err != nil {
		return "", fmt.Errorf("decode invoice id: %w", err)
	}
	return id.String(), nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(domain.MoneyPlaces)
}
