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

	"go.uber.org/zap"
)

// ErrValidation marks bad caller input; no state has changed when it is returned
var ErrValidation = errors.New("validation failed")

// ErrNoBalanceOrder is returned when an admin action needs a linked balance order
var ErrNoBalanceOrder = errors.New("order has no balance order")

// Admin audit notes
const (
	NoteManualReminder = "Manual balance reminder sent by admin."
	NoteMarkedPaid     = "Marked as paid manually by admin."
	noteDueDateUpdated = "Due date updated to %s by admin."
)

// AdminService performs manual actions on deposit and balance orders
type AdminService struct {
	orders    store.OrderStore
	rules     *RuleResolver
	reminders *ReminderScheduler
	overdue   *OverdueCanceller
	statuses  *statusUpdater
	notifier  *notify.Notifier
	now       func() time.Time
	logger    *zap.Logger
}

// NewAdminService creates an admin service
func NewAdminService(
	orders store.OrderStore,
	rules *RuleResolver,
	reminders *ReminderScheduler,
	overdue *OverdueCanceller,
	notifier *notify.Notifier,
	publisher EventPublisher,
) *AdminService {
	s := &AdminService{
		orders:    orders,
		rules:     rules,
		reminders: reminders,
		overdue:   overdue,
		notifier:  notifier,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
	s.statuses = newStatusUpdater(orders, publisher, func() time.Time { return s.now() })
	return s
}

// UpdateDueDate moves the balance due date to the end of date in the store timezone. The new
// date is written on both the parent and the balance order, whichever id is given.
func (s *AdminService) UpdateDueDate(ctx context.Context, orderID int64, date string) (int64, error) {
	ctx, span := util.StartSpan(ctx, "AdminService.UpdateDueDate")
	defer span.End()

	due, ok := s.rules.EndOfDay(date)
	if !ok {
		return 0, fmt.Errorf("%w: invalid due date %q, expected YYYY-MM-DD", ErrValidation, date)
	}

	parent, balance, err := s.pair(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return 0, err
	}

	for _, order := range []*models.Order{parent, balance} {
		if order == nil {
			continue
		}
		order.BalanceDueDate = due
		if err := s.orders.SaveDepositMeta(ctx, order); err != nil {
			util.RecordError(span, err)
			return 0, fmt.Errorf("failed to update due date on order %d: %w", order.ID, err)
		}
	}

	note := fmt.Sprintf(noteDueDateUpdated, s.notifier.FormatDate(due))
	for _, order := range []*models.Order{parent, balance} {
		if order == nil {
			continue
		}
		if err := s.orders.AddOrderNote(ctx, order.ID, note); err != nil {
			s.logger.Error("Failed to add order note", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	s.logger.Info("Balance due date updated by admin",
		zap.Int64("order_id", orderID),
		zap.Int64("due_date", due))
	return due, nil
}

// SendReminderNow sends a due-today reminder for the balance order regardless of the schedule
func (s *AdminService) SendReminderNow(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "AdminService.SendReminderNow")
	defer span.End()

	_, balance, err := s.pair(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return err
	}
	if balance == nil {
		return ErrNoBalanceOrder
	}

	sent, err := s.reminders.HandleReminder(ctx, balance.ID, 0)
	if err != nil {
		util.RecordError(span, err)
		return err
	}
	if !sent {
		return fmt.Errorf("%w: balance order %d is not awaiting payment", ErrValidation, balance.ID)
	}

	if err := s.orders.AddOrderNote(ctx, balance.ID, NoteManualReminder); err != nil {
		s.logger.Error("Failed to add order note", zap.Int64("order_id", balance.ID), zap.Error(err))
	}
	return nil
}

// MarkBalancePaid moves the balance order to processing, which in turn sends the receipt
func (s *AdminService) MarkBalancePaid(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "AdminService.MarkBalancePaid")
	defer span.End()

	_, balance, err := s.pair(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return err
	}
	if balance == nil {
		return ErrNoBalanceOrder
	}

	if err := s.statuses.update(ctx, balance.ID, models.OrderStatusProcessing, NoteMarkedPaid); err != nil {
		util.RecordError(span, err)
		return err
	}
	s.logger.Info("Balance order marked paid by admin", zap.Int64("balance_order_id", balance.ID))
	return nil
}

// CancelOverdueNow cancels every unpaid balance order already past due, ignoring the auto-cancel setting
func (s *AdminService) CancelOverdueNow(ctx context.Context) (models.OverdueCancelResult, error) {
	return s.overdue.CancelOverdue(ctx, OverdueCancelArgs{
		OverdueDays:     0,
		Limit:           BulkAdminOverdueLimit,
		Source:          SourceBulkAdmin,
		Reason:          DefaultOverdueReason,
		SkipSettingGate: true,
	})
}

// pair loads the parent and balance order for either id. Either may be nil when not linked.
func (s *AdminService) pair(ctx context.Context, orderID int64) (*models.Order, *models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	if order.IsBalanceOrder {
		if order.DepositParentOrderID <= 0 {
			return nil, order, nil
		}
		parent, err := s.orders.GetOrderByID(ctx, order.DepositParentOrderID)
		if errors.Is(err, store.ErrOrderNotFound) {
			return nil, order, nil
		}
		if err != nil {
			return nil, nil, err
		}
		return parent, order, nil
	}

	if order.BalanceOrderID <= 0 {
		return order, nil, nil
	}
	balance, err := s.orders.GetOrderByID(ctx, order.BalanceOrderID)
	if errors.Is(err, store.ErrOrderNotFound) {
		return order, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return order, balance, nil
}
