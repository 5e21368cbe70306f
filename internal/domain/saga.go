package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SagaKind string

const (
	SagaCreateSale SagaKind = "create_sale"
	SagaAddItems   SagaKind = "add_items"
	SagaReturn     SagaKind = "return"
)

type SagaState string

const (
	SagaReserved           SagaState = "reserved"
	SagaCommitted          SagaState = "committed"
	SagaCompensated        SagaState = "compensated"
	SagaCompensationFailed SagaState = "compensation_failed"
	SagaAborted            SagaState = "aborted"
	SagaInconsistent       SagaState = "inconsistent"
)

// Open reports whether recovery still has to decide the record's outcome.
func (s SagaState) Open() bool {
	return s == SagaReserved || s == SagaCompensationFailed
}

// SagaRecord is the durable intent written before a saga touches local storage.
// Items are the exact quantities a compensation has to put back.
type SagaRecord struct {
	ID         string      `json:"id"`
	Kind       SagaKind    `json:"kind"`
	SaleID     int64       `json:"sale_id,omitempty"`
	SaleItemID int64       `json:"saleitem_id,omitempty"`
	Items      []StockItem `json:"items"`
	State      SagaState   `json:"state"`
	Attempts   int         `json:"attempts"`
	LastError  string      `json:"last_error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type InvoiceStatus string

const (
	InvoiceUnpaid   InvoiceStatus = "unpaid"
	InvoiceFull     InvoiceStatus = "full"
	InvoiceCredited InvoiceStatus = "credited"
)

// ComputeInvoiceStatus derives the invoice status from the sale total and the initial payment.
func ComputeInvoiceStatus(total decimal.Decimal, paid decimal.Decimal) InvoiceStatus {
	if !paid.IsPositive() {
		return InvoiceUnpaid
	}
	if paid.GreaterThanOrEqual(total) && total.IsPositive() {
		return InvoiceFull
	}
	return InvoiceCredited
}

type InvoiceRequest struct {
	SaleID      int64           `json:"sale_id"`
	CustomerID  int64           `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Status      InvoiceStatus   `json:"status"`
	RequestedAt time.Time       `json:"requested_at"`
}
