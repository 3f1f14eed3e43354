package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"deposit-service/internal/models"
	"deposit-service/internal/notify"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"
	"deposit-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BookingStartKeys are the line metadata keys that may carry a booking start
var BookingStartKeys = []string{"_booking_start", "Booking Date", "Start Date"}

var bookingLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// BalanceOrderFactory creates the balance order linked to a paid deposit order
type BalanceOrderFactory struct {
	orders    store.OrderStore
	rules     *RuleResolver
	calc      *DepositCalculator
	settings  *settings.Provider
	reminders *ReminderScheduler
	notifier  *notify.Notifier
	publisher EventPublisher
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

// NewBalanceOrderFactory creates a balance order factory
func NewBalanceOrderFactory(
	orders store.OrderStore,
	rules *RuleResolver,
	calc *DepositCalculator,
	provider *settings.Provider,
	reminders *ReminderScheduler,
	notifier *notify.Notifier,
	publisher EventPublisher,
	loc *time.Location,
) *BalanceOrderFactory {
	if loc == nil {
		loc = time.UTC
	}
	return &BalanceOrderFactory{
		orders:    orders,
		rules:     rules,
		calc:      calc,
		settings:  provider,
		reminders: reminders,
		notifier:  notifier,
		publisher: publisher,
		loc:       loc,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// CreateBalanceOrder creates and links the balance order for a deposit order.
// Returns nil without error when the order needs none: it is missing, is itself a balance
// order, is already linked, or owes nothing.
func (f *BalanceOrderFactory) CreateBalanceOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "BalanceOrderFactory.CreateBalanceOrder")
	defer span.End()

	order, err := f.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrOrderNotFound) {
		f.skip("not_found", orderID)
		return nil, nil
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if order.IsBalanceOrder {
		f.skip("is_balance_order", orderID)
		return nil, nil
	}
	if order.BalanceOrderID > 0 {
		f.skip("already_linked", orderID)
		return nil, nil
	}

	remaining := f.calc.CalculateRemaining(ctx, order)
	if !remaining.IsPositive() {
		f.skip("nothing_remaining", orderID)
		return nil, nil
	}

	due := f.resolveDue(ctx, order)

	balance := &models.Order{
		CustomerID:       order.CustomerID,
		Status:           models.OrderStatusPending,
		Currency:         order.Currency,
		Total:            remaining,
		BillingEmail:     order.BillingEmail,
		BillingFirstName: order.BillingFirstName,
		BillingAddress:   order.BillingAddress,
		ShippingAddress:  order.ShippingAddress,
		CustomerNote:     order.CustomerNote,

		IsBalanceOrder:       true,
		DepositParentOrderID: order.ID,
		RemainingAmount:      remaining,
		BalanceDueDate:       due,

		Lines: []models.OrderLine{{
			Kind:               models.LineKindFee,
			Name:               fmt.Sprintf("Remaining balance for order #%d", order.ID),
			Quantity:           1,
			Subtotal:           remaining,
			Total:              remaining,
			PaymentMode:        models.PaymentModeFull,
			FullLineTotal:      remaining,
			DepositLineTotal:   remaining,
			RemainingLineTotal: decimal.Zero,
		}},
	}

	order.HasDeposit = true
	order.DepositAmount = order.Total
	order.RemainingAmount = remaining
	order.BalanceDueDate = due
	err = f.orders.CreateBalanceOrder(ctx, order, balance)
	if errors.Is(err, store.ErrAlreadyLinked) {
		f.skip("already_linked", orderID)
		return nil, nil
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create balance order: %w", err)
	}

	f.note(ctx, balance.ID, fmt.Sprintf("Linked to deposit order #%d.", order.ID))
	f.note(ctx, order.ID, fmt.Sprintf("Balance order #%d created. Due on %s.", balance.ID, f.notifier.FormatDate(due)))

	util.BalanceOrdersCreatedTotal.Inc()
	f.logger.Info("Balance order created",
		zap.Int64("parent_order_id", order.ID),
		zap.Int64("balance_order_id", balance.ID),
		zap.String("remaining", remaining.String()),
		zap.Int64("due_date", due))

	f.reminders.ScheduleForBalanceOrder(ctx, balance)
	f.notifier.DepositConfirmation(ctx, order, balance)
	f.publish(ctx, order, balance)

	return balance, nil
}

func (f *BalanceOrderFactory) resolveDue(ctx context.Context, order *models.Order) int64 {
	now := f.now().Unix()

	if enabled, daysBefore := f.settings.BookingDue(ctx); enabled {
		if start := f.bookingStart(order, now); start > 0 {
			due := start - int64(daysBefore)*daySeconds
			if due > now {
				return due
			}
		}
	}

	return f.rules.ResolveDueTimestamp(ctx, now, 0)
}

// bookingStart returns the first future booking start found on the order's product lines
func (f *BalanceOrderFactory) bookingStart(order *models.Order, now int64) int64 {
	for _, line := range order.LineItems() {
		for _, key := range BookingStartKeys {
			candidate := strings.TrimSpace(line.Meta[key])
			if candidate == "" {
				continue
			}
			if ts, err := strconv.ParseInt(candidate, 10, 64); err == nil {
				if ts > now {
					return ts
				}
				continue
			}
			if ts, ok := f.parseDate(candidate); ok && ts > now {
				return ts
			}
		}
	}
	return 0
}

func (f *BalanceOrderFactory) parseDate(value string) (int64, bool) {
	for _, layout := range bookingLayouts {
		if t, err := time.ParseInLocation(layout, value, f.loc); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}

func (f *BalanceOrderFactory) note(ctx context.Context, orderID int64, note string) {
	if err := f.orders.AddOrderNote(ctx, orderID, note); err != nil {
		f.logger.Error("Failed to add order note",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}

func (f *BalanceOrderFactory) skip(reason string, orderID int64) {
	util.BalanceOrdersSkippedTotal.WithLabelValues(reason).Inc()
	f.logger.Debug("No balance order needed",
		zap.Int64("order_id", orderID),
		zap.String("reason", reason))
}

func (f *BalanceOrderFactory) publish(ctx context.Context, parent, balance *models.Order) {
	if f.publisher == nil {
		return
	}
	event := &models.BalanceOrderCreatedEvent{
		BaseEvent:       newBaseEvent(models.EventTypeBalanceOrderCreated, f.now()),
		ParentOrderID:   parent.ID,
		BalanceOrderID:  balance.ID,
		RemainingAmount: balance.RemainingAmount,
		DueDate:         balance.BalanceDueDate,
	}
	if err := f.publisher.PublishBalanceOrderCreated(ctx, event); err != nil {
		f.logger.Error("Failed to publish balance order created event",
			zap.Int64("balance_order_id", balance.ID),
			zap.Error(err))
	}
}
