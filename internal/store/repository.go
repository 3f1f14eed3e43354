package store

import (
	"context"
	"errors"

	"deposit-service/internal/models"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")
	// ErrAlreadyLinked is returned when a parent order already has a balance order
	ErrAlreadyLinked = errors.New("balance order already linked")
)

// BalanceOrderQuery selects balance orders
type BalanceOrderQuery struct {
	Statuses []string
	// DueOnOrBefore, when positive, keeps orders whose due date is set and not after it
	DueOnOrBefore int64
	Limit         int
	// NewestFirst orders by creation time descending; otherwise by due date ascending
	NewestFirst bool
}

// OrderStore persists orders, their audit notes and refunds
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	// SaveDepositMeta writes the deposit linkage fields and total of an order
	SaveDepositMeta(ctx context.Context, order *models.Order) error
	// CreateBalanceOrder inserts balance and writes the parent's deposit fields in one transaction.
	// It fails with ErrAlreadyLinked, writing nothing, when the parent is already linked.
	CreateBalanceOrder(ctx context.Context, parent, balance *models.Order) error
	// ClaimReceipt sets the receipt flag and reports whether this call was the one that set it
	ClaimReceipt(ctx context.Context, id int64) (bool, error)
	// UpdateOrderStatus sets the status, records note and returns the previous status
	UpdateOrderStatus(ctx context.Context, id int64, status, note string) (string, error)
	AddOrderNote(ctx context.Context, id int64, note string) error
	GetOrderNotes(ctx context.Context, id int64) ([]models.OrderNote, error)
	FindBalanceOrders(ctx context.Context, q BalanceOrderQuery) ([]models.Order, error)
	// CreateRefund records the refund and adds it to the order's refunded total
	CreateRefund(ctx context.Context, refund *models.Refund) error
}

// CatalogStore holds products and the key/value metadata of products and categories
type CatalogStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	// GetProductMeta returns "" for a missing key
	GetProductMeta(ctx context.Context, productID int64, key string) (string, error)
	SetProductMeta(ctx context.Context, productID int64, key, value string) error
	// GetProductCategoryIDs returns category ids in assignment order
	GetProductCategoryIDs(ctx context.Context, productID int64) ([]int64, error)
	GetCategoryMeta(ctx context.Context, categoryID int64, key string) (string, error)
	SetCategoryMeta(ctx context.Context, categoryID int64, key, value string) error
}

// EventLog de-duplicates consumed events
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Product and category metadata keys
const (
	MetaEnableRule           = "enable_rule"
	MetaDepositType          = "deposit_type"
	MetaDepositValue         = "deposit_value"
	MetaPaymentMode          = "payment_mode"
	MetaDueType              = "due_type"
	MetaDueFixedDate         = "due_fixed_date"
	MetaDueRelative          = "due_relative"
	MetaRefundPolicy         = "refund_policy"
	MetaRefundPartialPercent = "refund_partial_percent"
)
