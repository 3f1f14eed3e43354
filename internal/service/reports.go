package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deposit-service/internal/models"
	"deposit-service/internal/notify"
	"deposit-service/internal/store"
	"deposit-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OutstandingBalanceLimit caps the outstanding balances report
const OutstandingBalanceLimit = 200

// OutstandingBalance is one row of the outstanding balances report
type OutstandingBalance struct {
	BalanceOrderID  int64           `json:"balance_order_id"`
	ParentOrderID   int64           `json:"parent_order_id"`
	Status          string          `json:"status"`
	Currency        string          `json:"currency"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	DueDate         int64           `json:"due_date"`
	DueDateLabel    string          `json:"due_date_label"`
	Overdue         bool            `json:"overdue"`
}

// DepositSummary describes the deposit state of an order for its customer
type DepositSummary struct {
	OrderID         int64           `json:"order_id"`
	BalanceOrderID  int64           `json:"balance_order_id,omitempty"`
	Currency        string          `json:"currency"`
	DepositPaid     decimal.Decimal `json:"deposit_paid"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	DueDate         int64           `json:"due_date,omitempty"`
	DueDateLabel    string          `json:"due_date_label"`
	BalanceStatus   string          `json:"balance_status,omitempty"`
	CanPayBalance   bool            `json:"can_pay_balance"`
	PaymentURL      string          `json:"payment_url,omitempty"`
}

// ReportService builds read-only views over deposit orders
type ReportService struct {
	orders   store.OrderStore
	notifier *notify.Notifier
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// NewReportService creates a report service
func NewReportService(orders store.OrderStore, notifier *notify.Notifier, loc *time.Location) *ReportService {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportService{
		orders:   orders,
		notifier: notifier,
		loc:      loc,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// OutstandingBalances lists unpaid balance orders, newest first. A row is overdue when its due
// date falls before the start of today in the store timezone.
func (s *ReportService) OutstandingBalances(ctx context.Context, limit int) ([]OutstandingBalance, error) {
	ctx, span := util.StartSpan(ctx, "ReportService.OutstandingBalances")
	defer span.End()

	if limit <= 0 || limit > OutstandingBalanceLimit {
		limit = OutstandingBalanceLimit
	}

	orders, err := s.orders.FindBalanceOrders(ctx, store.BalanceOrderQuery{
		Statuses:    models.UnpaidStatuses,
		Limit:       limit,
		NewestFirst: true,
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to query outstanding balances: %w", err)
	}

	now := s.now().In(s.loc)
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc).Unix()

	rows := make([]OutstandingBalance, 0, len(orders))
	for _, order := range orders {
		rows = append(rows, OutstandingBalance{
			BalanceOrderID:  order.ID,
			ParentOrderID:   order.DepositParentOrderID,
			Status:          order.Status,
			Currency:        order.Currency,
			RemainingAmount: order.RemainingAmount,
			DueDate:         order.BalanceDueDate,
			DueDateLabel:    s.notifier.FormatDate(order.BalanceDueDate),
			Overdue:         order.BalanceDueDate > 0 && order.BalanceDueDate < startOfToday,
		})
	}
	return rows, nil
}

// DepositSummary returns the deposit state for a parent or balance order id
func (s *ReportService) DepositSummary(ctx context.Context, orderID int64) (*DepositSummary, error) {
	ctx, span := util.StartSpan(ctx, "ReportService.DepositSummary")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	parent := order
	if order.IsBalanceOrder && order.DepositParentOrderID > 0 {
		parent, err = s.orders.GetOrderByID(ctx, order.DepositParentOrderID)
		if errors.Is(err, store.ErrOrderNotFound) {
			parent = order
		} else if err != nil {
			util.RecordError(span, err)
			return nil, err
		}
	}

	summary := &DepositSummary{
		OrderID:         parent.ID,
		Currency:        parent.Currency,
		DepositPaid:     parent.DepositAmount,
		RemainingAmount: parent.RemainingAmount,
		DueDate:         parent.BalanceDueDate,
		DueDateLabel:    s.notifier.FormatDate(parent.BalanceDueDate),
	}

	var balance *models.Order
	switch {
	case order.IsBalanceOrder:
		balance = order
	case order.BalanceOrderID > 0:
		balance, err = s.orders.GetOrderByID(ctx, order.BalanceOrderID)
		if errors.Is(err, store.ErrOrderNotFound) {
			balance = nil
		} else if err != nil {
			util.RecordError(span, err)
			return nil, err
		}
	}

	if balance != nil {
		summary.BalanceOrderID = balance.ID
		summary.BalanceStatus = balance.Status
		if balance.IsUnpaid() {
			summary.CanPayBalance = true
			summary.PaymentURL = s.notifier.PaymentURL(balance.ID)
		}
		if summary.RemainingAmount.IsZero() {
			summary.RemainingAmount = balance.RemainingAmount
		}
		if summary.DueDate == 0 {
			summary.DueDate = balance.BalanceDueDate
			summary.DueDateLabel = s.notifier.FormatDate(balance.BalanceDueDate)
		}
	}
	return summary, nil
}
