package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const MoneyPlaces = 2

// Round2 rounds a money or quantity value to the precision of the numeric(…,2) columns.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

type Sale struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	SoldAt     time.Time `json:"sold_at"`
}

type SaleItem struct {
	ID                   int64           `json:"id"`
	SaleID               int64           `json:"sale_id"`
	ProductID            int64           `json:"product_id"`
	QuantitySold         decimal.Decimal `json:"quantity_sold"`
	SalePricePerQuantity decimal.Decimal `json:"sale_price_per_quantity"`
	TotalSalePrice       decimal.Decimal `json:"total_sale_price"`
}

type ProfitTracker struct {
	ID          int64           `json:"id"`
	SaleID      int64           `json:"sale_id"`
	GrossProfit decimal.Decimal `json:"gross_profit"`
	NetProfit   decimal.Decimal `json:"net_profit"`
	CreatedAt   time.Time       `json:"created_at"`
}

type SaleSummary struct {
	Sale
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type SaleDetail struct {
	Sale
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []SaleItem      `json:"items"`
	Profit      *ProfitTracker  `json:"profit,omitempty"`
}

// SaleTotal sums the line totals of a sale.
func SaleTotal(items []SaleItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalSalePrice)
	}
	return Round2(total)
}

// FlexBool accepts JSON booleans and the strings "true"/"false".
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*b = false
		return nil
	}
	var asBool bool
	if err := json.Unmarshal(trimmed, &asBool); err == nil {
		*b = FlexBool(asBool)
		return nil
	}
	var asString string
	if err := json.Unmarshal(trimmed, &asString); err != nil {
		return err
	}
	*b = FlexBool(strings.EqualFold(strings.TrimSpace(asString), "true"))
	return nil
}

// FlexInt accepts JSON integers and numeric strings. A string that is not a
// number decodes to zero so the id fails validation instead of decoding.
type FlexInt int64

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*n = 0
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var asString string
		if err := json.Unmarshal(trimmed, &asString); err != nil {
			return err
		}
		*n = FlexInt(parseIntLoose(asString))
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(trimmed, &asNumber); err != nil {
		return fmt.Errorf("id must be a number: %w", err)
	}
	*n = FlexInt(parseIntLoose(asNumber.String()))
	return nil
}

// parseIntLoose reads integral values such as "7" or "7.0"; anything else is 0.
func parseIntLoose(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.Equal(d.Truncate(0)) {
		return 0
	}
	return d.IntPart()
}

// RawItem is a client-submitted sale line. Several fields have aliases; the
// canonical name wins when both are present.
type RawItem struct {
	ProductID            int64               `json:"product_id"`
	QuantitySold         decimal.NullDecimal `json:"quantity_sold"`
	Quantity             decimal.NullDecimal `json:"quantity"`
	SalePricePerQuantity decimal.NullDecimal `json:"sale_price_per_quantity"`
	UnitPrice            decimal.NullDecimal `json:"unit_price"`
	TotalSalePrice       decimal.NullDecimal `json:"total_sale_price"`
	TotalPrice           decimal.NullDecimal `json:"total_price"`
	HasDiscount          FlexBool            `json:"has_discount"`
	DiscountAmount       decimal.NullDecimal `json:"discount_amount"`
	ListPrice            decimal.NullDecimal `json:"list_price"`
}

func (r *RawItem) UnmarshalJSON(data []byte) error {
	type plain RawItem
	aux := struct {
		*plain
		ProductID FlexInt `json:"product_id"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.ProductID = int64(aux.ProductID)
	return nil
}

type NormalizedItem struct {
	ProductID            int64           `json:"product_id"`
	QuantitySold         decimal.Decimal `json:"quantity_sold"`
	SalePricePerQuantity decimal.Decimal `json:"sale_price_per_quantity"`
	TotalSalePrice       decimal.Decimal `json:"total_sale_price"`
	HasDiscount          bool            `json:"has_discount"`
	DiscountAmount       decimal.Decimal `json:"discount_amount"`
	ListPrice            decimal.Decimal `json:"list_price"`
}

const (
	PricingFlagOverList  = "over_list"
	PricingFlagUnderList = "under_list"
)

type PricingAlert struct {
	ProductID int64           `json:"product_id"`
	Flag      string          `json:"flag"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ListPrice decimal.Decimal `json:"list_price"`
}

type CreateSaleRequest struct {
	CustomerID     int64               `json:"customer_id"`
	SoldAt         string              `json:"sold_at,omitempty"`
	PaidAmount     decimal.NullDecimal `json:"paid_amount"`
	Items          []RawItem           `json:"items"`
	SaleItems      []RawItem           `json:"sale_items,omitempty"`
	SaleItemsCamel []RawItem           `json:"saleItems,omitempty"`
}

func (r *CreateSaleRequest) UnmarshalJSON(data []byte) error {
	type plain CreateSaleRequest
	aux := struct {
		*plain
		CustomerID FlexInt `json:"customer_id"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.CustomerID = int64(aux.CustomerID)
	return nil
}

// LineItems returns whichever of the accepted item arrays the client used.
func (r CreateSaleRequest) LineItems() []RawItem {
	switch {
	case len(r.Items) > 0:
		return r.Items
	case len(r.SaleItems) > 0:
		return r.SaleItems
	default:
		return r.SaleItemsCamel
	}
}

type CreateSaleResponse struct {
	SaleDetail
	Alerts  []PricingAlert `json:"alerts"`
	Message string         `json:"message,omitempty"`
}

type AddSaleItemsRequest struct {
	Items []RawItem `json:"items"`
}

type ReturnRequest struct {
	SaleItemID       int64           `json:"saleitem_id" validate:"gt=0"`
	QuantityReturned decimal.Decimal `json:"quantity_returned" validate:"gt=0"`
	Reason           string          `json:"reason,omitempty" validate:"max=500"`
}

func (r *ReturnRequest) UnmarshalJSON(data []byte) error {
	type plain ReturnRequest
	aux := struct {
		*plain
		SaleItemID FlexInt `json:"saleitem_id"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.SaleItemID = int64(aux.SaleItemID)
	return nil
}

type SaleUpdate struct {
	SaleID            int64           `json:"sale_id"`
	SaleItemID        int64           `json:"saleitem_id"`
	NewQuantitySold   decimal.Decimal `json:"new_quantity_sold"`
	NewTotalSalePrice decimal.Decimal `json:"new_total_sale_price"`
	SaleTotalAmount   decimal.Decimal `json:"sale_total_amount"`
}

type ProductReturn struct {
	ID               int64           `json:"id"`
	SaleItemID       int64           `json:"saleitem_id"`
	SaleID           int64           `json:"sale_id"`
	ProductID        int64           `json:"product_id"`
	QuantityReturned decimal.Decimal `json:"quantity_returned"`
	Reason           string          `json:"reason"`
	ReturnedAt       time.Time       `json:"returned_at"`
}

type ReturnResponse struct {
	SaleUpdate SaleUpdate     `json:"sale_update"`
	Return     *ProductReturn `json:"return,omitempty"`
}

// ReturnApplication is the local half of a return: the line mutation plus its history row.
type ReturnApplication struct {
	SaleItemID int64
	Quantity   decimal.Decimal
	Reason     string
	SagaID     string
	ReturnedAt time.Time
}

type ReturnResult struct {
	Update SaleUpdate
	Return ProductReturn
}

type NewSale struct {
	CustomerID int64
	SoldAt     time.Time
	Items      []NormalizedItem
	SagaID     string
}

type ProfitFilter struct {
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// ProfitRow is one sale with its revenue and tracked profit.
type ProfitRow struct {
	SaleID      int64           `json:"id"`
	CustomerID  int64           `json:"customer_id"`
	SoldAt      time.Time       `json:"sold_at"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	GrossProfit decimal.Decimal `json:"gross_profit"`
	NetProfit   decimal.Decimal `json:"net_profit"`
}

type ProfitSummary struct {
	Revenue      decimal.Decimal `json:"revenue"`
	GrossProfit  decimal.Decimal `json:"gross_profit"`
	NetProfit    decimal.Decimal `json:"net_profit"`
	ProfitMargin decimal.Decimal `json:"profit_margin"`
	Orders       int             `json:"orders"`
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
}

type ProfitPoint struct {
	Label       string          `json:"label"`
	Revenue     decimal.Decimal `json:"revenue"`
	GrossProfit decimal.Decimal `json:"gross_profit"`
	NetProfit   decimal.Decimal `json:"net_profit"`
	Orders      int             `json:"orders"`
}

const (
	TimelineDaily   = "daily"
	TimelineWeekly  = "weekly"
	TimelineMonthly = "monthly"
)

// Actor is the authenticated caller placed on the request context.
type Actor struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}
