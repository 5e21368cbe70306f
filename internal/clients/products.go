package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/front-sio/pos-api/internal/auth"
	"github.com/front-sio/pos-api/internal/domain"
	"github.com/front-sio/pos-api/internal/store"
)

const maxResponseBytes = 1 << 20

// ProductsClient talks to the products stock service. Calls are never retried;
// a timeout or transport failure surfaces as store.ErrUpstreamUnavailable.
type ProductsClient struct {
	baseURL string
	http    *http.Client
	tokens  *auth.TokenManager
	logger  logrus.FieldLogger
}

type errorBody struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

func NewProductsClient(baseURL string, timeout time.Duration, tokens *auth.TokenManager, logger logrus.FieldLogger) *ProductsClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProductsClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tokens: tokens,
		logger: logger,
	}
}

func (c *ProductsClient) Reserve(ctx context.Context, items []domain.StockItem, reference string) error {
	status, body, err := c.do(ctx, http.MethodPost, "/products/stock/sell-batch", domain.StockBatchRequest{Items: items, Reference: reference})
	if err != nil {
		return err
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusConflict:
		var conflict domain.StockConflict
		if err := decodeDetails(body, &conflict); err != nil {
			return fmt.Errorf("%w: undecodable stock conflict: %v", store.ErrUpstreamUnavailable, err)
		}
		return &store.StockConflictError{Conflict: conflict}
	default:
		return c.statusError("reserve", status, body)
	}
}

func (c *ProductsClient) Restore(ctx context.Context, items []domain.StockItem, reference string) error {
	status, body, err := c.do(ctx, http.MethodPost, "/products/stock/restore-batch", domain.StockBatchRequest{Items: items, Reference: reference})
	if err != nil {
		return err
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		var details struct {
			Missing []int64 `json:"missing"`
		}
		if err := decodeDetails(body, &details); err != nil {
			return fmt.Errorf("%w: undecodable restore response: %v", store.ErrUpstreamUnavailable, err)
		}
		return &store.MissingProductsError{ProductIDs: details.Missing}
	default:
		return c.statusError("restore", status, body)
	}
}

func (c *ProductsClient) ListPrice(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	var product domain.Product
	found, err := c.getJSON(ctx, "/products/"+strconv.FormatInt(productID, 10), &product)
	if err != nil || !found {
		return decimal.Zero, found, err
	}
	return product.Price, true, nil
}

func (c *ProductsClient) LatestCost(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	var item domain.PurchaseItem
	found, err := c.getJSON(ctx, "/products/purchases/latest/"+strconv.FormatInt(productID, 10), &item)
	if err != nil || !found {
		return decimal.Zero, found, err
	}
	return item.PricePerUnit, true, nil
}

func (c *ProductsClient) getJSON(ctx context.Context, path string, dest any) (bool, error) {
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusNotFound:
		return false, nil
	case status >= 200 && status < 300:
		if err := json.Unmarshal(body, dest); err != nil {
			return false, fmt.Errorf("%w: decode %s: %v", store.ErrUpstreamUnavailable, path, err)
		}
		return true, nil
	default:
		return false, c.statusError(path, status, body)
	}
}

func (c *ProductsClient) do(ctx context.Context, method string, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Sign("sales-api", auth.ServiceRole)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{"method": method, "path": path}).Warn("products service unreachable")
		return 0, nil, fmt.Errorf("%w: %s %s: %v", store.ErrUpstreamUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read %s: %v", store.ErrUpstreamUnavailable, path, err)
	}
	return resp.StatusCode, body, nil
}

// statusError maps an unexpected upstream status. A 400 means our own batch was
// malformed; anything else is treated as the products service being unavailable.
func (c *ProductsClient) statusError(op string, status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	if status == http.StatusBadRequest {
		return fmt.Errorf("%w: products service rejected %s: %s", store.ErrInvalidTransaction, op, eb.Error)
	}
	c.logger.WithFields(logrus.Fields{"op": op, "status": status, "error": eb.Error}).Warn("products service failed")
	return fmt.Errorf("%w: %s returned %d", store.ErrUpstreamUnavailable, op, status)
}

func decodeDetails(body []byte, dest any) error {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return err
	}
	if len(eb.Details) == 0 {
		return errors.New("missing details")
	}
	return json.Unmarshal(eb.Details, dest)
}
