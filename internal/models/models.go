package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog product
type Product struct {
	ID        int64           `db:"id" json:"id"`
	SKU       string          `db:"sku" json:"sku"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Order is either a deposit (parent) order or the balance order generated for it.
// IsBalanceOrder is the discriminant.
type Order struct {
	ID               int64           `db:"id" json:"id"`
	CustomerID       int64           `db:"customer_id" json:"customer_id"`
	Status           string          `db:"status" json:"status"`
	Currency         string          `db:"currency" json:"currency"`
	Total            decimal.Decimal `db:"total" json:"total"`
	TotalTax         decimal.Decimal `db:"total_tax" json:"total_tax"`
	ShippingTotal    decimal.Decimal `db:"shipping_total" json:"shipping_total"`
	TotalRefunded    decimal.Decimal `db:"total_refunded" json:"total_refunded"`
	BillingEmail     string          `db:"billing_email" json:"billing_email"`
	BillingFirstName string          `db:"billing_first_name" json:"billing_first_name"`
	BillingAddress   Address         `db:"billing_address" json:"billing_address"`
	ShippingAddress  Address         `db:"shipping_address" json:"shipping_address"`
	CustomerNote     string          `db:"customer_note" json:"customer_note,omitempty"`

	IsBalanceOrder       bool            `db:"is_balance_order" json:"is_balance_order"`
	DepositParentOrderID int64           `db:"deposit_parent_order_id" json:"deposit_parent_order_id,omitempty"`
	BalanceOrderID       int64           `db:"balance_order_id" json:"balance_order_id,omitempty"`
	HasDeposit           bool            `db:"has_deposit" json:"has_deposit"`
	DepositAmount        decimal.Decimal `db:"deposit_amount" json:"deposit_amount"`
	RemainingAmount      decimal.Decimal `db:"remaining_amount" json:"remaining_amount"`
	BalanceDueDate       int64           `db:"balance_due_date" json:"balance_due_date,omitempty"`
	ReceiptSent          bool            `db:"receipt_sent" json:"receipt_sent"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Lines []OrderLine `db:"-" json:"lines"`
}

// LineItems returns product lines, skipping fee lines
func (o *Order) LineItems() []OrderLine {
	items := make([]OrderLine, 0, len(o.Lines))
	for _, line := range o.Lines {
		if line.Kind == LineKindProduct {
			items = append(items, line)
		}
	}
	return items
}

// IsUnpaid reports whether the order still awaits payment
func (o *Order) IsUnpaid() bool {
	return IsUnpaidStatus(o.Status)
}

// OrderLine is a product or fee line of an order
type OrderLine struct {
	ID                 int64           `db:"id" json:"id"`
	OrderID            int64           `db:"order_id" json:"order_id"`
	ProductID          int64           `db:"product_id" json:"product_id,omitempty"`
	Kind               string          `db:"kind" json:"kind"`
	Name               string          `db:"name" json:"name"`
	Quantity           int             `db:"quantity" json:"quantity"`
	Subtotal           decimal.Decimal `db:"subtotal" json:"subtotal"`
	Total              decimal.Decimal `db:"total" json:"total"`
	PaymentMode        PaymentMode     `db:"payment_mode" json:"payment_mode"`
	FullLineTotal      decimal.Decimal `db:"full_line_total" json:"full_line_total"`
	DepositLineTotal   decimal.Decimal `db:"deposit_line_total" json:"deposit_line_total"`
	RemainingLineTotal decimal.Decimal `db:"remaining_line_total" json:"remaining_line_total"`
	Meta               LineMeta        `db:"meta" json:"meta,omitempty"`
}

// OrderNote is an audit note attached to an order
type OrderNote struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	Note      string    `db:"note" json:"note"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Refund records money returned on an order
type Refund struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Reason    string          `db:"reason" json:"reason"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusOnHold     = "on-hold"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
	OrderStatusFailed     = "failed"
)

// UnpaidStatuses are the statuses of a balance order that still awaits payment
var UnpaidStatuses = []string{OrderStatusPending, OrderStatusOnHold, OrderStatusFailed}

// IsUnpaidStatus reports whether status is one of UnpaidStatuses
func IsUnpaidStatus(status string) bool {
	for _, s := range UnpaidStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsSettledStatus reports whether a balance order in this status must not be downgraded
func IsSettledStatus(status string) bool {
	switch status {
	case OrderStatusCancelled, OrderStatusCompleted, OrderStatusProcessing, OrderStatusRefunded:
		return true
	}
	return false
}

// Order line kinds
const (
	LineKindProduct = "line_item"
	LineKindFee     = "fee"
)

// Address is a billing or shipping address stored as JSON
type Address struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Company   string `json:"company,omitempty"`
	Address1  string `json:"address_1,omitempty"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode,omitempty"`
	Country   string `json:"country,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Value implements driver.Valuer
func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner
func (a *Address) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// LineMeta holds free-form line metadata such as booking dates
type LineMeta map[string]string

// Value implements driver.Valuer
func (m LineMeta) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *LineMeta) Scan(src interface{}) error {
	return scanJSON(src, m)
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
