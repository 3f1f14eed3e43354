package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is an in-progress cart priced by the deposit engine
type Cart struct {
	ID        string          `json:"id"`
	UserID    int64           `json:"user_id"`
	Currency  string          `json:"currency"`
	Lines     []CartLine      `json:"lines"`
	Coupons   []Coupon        `json:"coupons,omitempty"`
	Fees      []CartFee       `json:"fees,omitempty"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Total     decimal.Decimal `json:"total"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CartLine is a cart item together with its deposit snapshot
type CartLine struct {
	Key               string           `json:"key"`
	ProductID         int64            `json:"product_id"`
	Name              string           `json:"name"`
	Quantity          int              `json:"quantity"`
	PaymentMode       PaymentMode      `json:"payment_mode"`
	Rule              *DepositRule     `json:"rule,omitempty"`
	OriginalUnitPrice *decimal.Decimal `json:"original_unit_price,omitempty"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`

	FullLineTotal      decimal.Decimal `json:"full_line_total"`
	DepositLineTotal   decimal.Decimal `json:"deposit_line_total"`
	RemainingLineTotal decimal.Decimal `json:"remaining_line_total"`

	// LineSubtotal and LineTotal are before and after discounts
	LineSubtotal decimal.Decimal `json:"line_subtotal"`
	LineTotal    decimal.Decimal `json:"line_total"`

	Meta LineMeta `json:"meta,omitempty"`
}

// Coupon is a percentage discount on every cart line
type Coupon struct {
	Code       string          `json:"code"`
	PercentOff decimal.Decimal `json:"percent_off"`
}

// CartFee is an extra cart charge, negative for credits
type CartFee struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Line returns the cart line with the given key
func (c *Cart) Line(key string) *CartLine {
	for i := range c.Lines {
		if c.Lines[i].Key == key {
			return &c.Lines[i]
		}
	}
	return nil
}
