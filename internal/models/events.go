package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types consumed from the order platform
const (
	EventTypeCheckoutCompleted  = "CHECKOUT_COMPLETED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// Event types published by the deposit service
const (
	EventTypeBalanceOrderCreated    = "BALANCE_ORDER_CREATED"
	EventTypeDepositRefundCreated   = "DEPOSIT_REFUND_CREATED"
	EventTypeDepositRefundFailed    = "DEPOSIT_REFUND_FAILED"
	EventTypeOverdueOrdersCancelled = "OVERDUE_ORDERS_CANCELLED"
	EventTypeNotification           = "NOTIFICATION"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckoutCompletedEvent is published by the platform when checkout processing finishes
type CheckoutCompletedEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
}

// OrderStatusChangedEvent is published by the platform on every status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// BalanceOrderCreatedEvent published when a balance order is linked to its parent
type BalanceOrderCreatedEvent struct {
	BaseEvent
	ParentOrderID   int64           `json:"parent_order_id"`
	BalanceOrderID  int64           `json:"balance_order_id"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	DueDate         int64           `json:"due_date"`
}

// DepositRefundCreatedEvent published when a cancellation refund was issued
type DepositRefundCreatedEvent struct {
	BaseEvent
	OrderID  int64                  `json:"order_id"`
	RefundID int64                  `json:"refund_id"`
	Amount   decimal.Decimal        `json:"amount"`
	Policy   RefundPolicyResolution `json:"policy"`
}

// DepositRefundFailedEvent published when a cancellation refund could not be issued
type DepositRefundFailedEvent struct {
	BaseEvent
	OrderID int64                  `json:"order_id"`
	Amount  decimal.Decimal        `json:"amount"`
	Policy  RefundPolicyResolution `json:"policy"`
	Reason  string                 `json:"reason"`
}

// OverdueOrdersCancelledEvent published after every overdue sweep
type OverdueOrdersCancelledEvent struct {
	BaseEvent
	Source      string  `json:"source"`
	OverdueDays int     `json:"overdue_days"`
	DryRun      bool    `json:"dry_run"`
	Count       int     `json:"count"`
	OrderIDs    []int64 `json:"order_ids"`
}

// NotificationEvent carries an outbound message for the mail service
type NotificationEvent struct {
	BaseEvent
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
