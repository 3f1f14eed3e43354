package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deposit-service/internal/models"
	"deposit-service/internal/notify"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"
	"deposit-service/internal/util"

	"go.uber.org/zap"
)

// DailyMaintenanceInterval is how often the overdue sweep runs
const DailyMaintenanceInterval = 24 * time.Hour

// ReminderScheduler schedules and delivers balance payment reminders
type ReminderScheduler struct {
	orders    store.OrderStore
	scheduler JobScheduler
	settings  *settings.Provider
	notifier  *notify.Notifier
	now       func() time.Time
	logger    *zap.Logger
}

// NewReminderScheduler creates a reminder scheduler
func NewReminderScheduler(orders store.OrderStore, scheduler JobScheduler, provider *settings.Provider, notifier *notify.Notifier) *ReminderScheduler {
	return &ReminderScheduler{
		orders:    orders,
		scheduler: scheduler,
		settings:  provider,
		notifier:  notifier,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// ScheduleForBalanceOrder schedules one reminder per configured offset that is still in the
// future. Past offsets are skipped, not fired. Returns the number of reminders scheduled.
func (s *ReminderScheduler) ScheduleForBalanceOrder(ctx context.Context, order *models.Order) int {
	ctx, span := util.StartSpan(ctx, "ReminderScheduler.ScheduleForBalanceOrder")
	defer span.End()

	if order.BalanceDueDate <= 0 {
		return 0
	}

	now := s.now().Unix()
	scheduled := 0
	for _, offset := range s.settings.ReminderOffsets(ctx) {
		at := order.BalanceDueDate - int64(offset)*daySeconds
		if at <= now {
			continue
		}

		job := models.ScheduledJob{Name: models.JobBalanceReminder, OrderID: order.ID, Offset: offset}
		added, err := s.scheduler.Schedule(ctx, time.Unix(at, 0), job)
		if err != nil {
			util.RecordError(span, err)
			s.logger.Error("Failed to schedule balance reminder",
				zap.Int64("order_id", order.ID),
				zap.Int("offset_days", offset),
				zap.Error(err))
			continue
		}
		if added {
			scheduled++
			util.RemindersScheduledTotal.Inc()
		}
	}

	s.logger.Info("Balance reminders scheduled",
		zap.Int64("order_id", order.ID),
		zap.Int("count", scheduled))
	return scheduled
}

// HandleReminder delivers a fired reminder if the balance order is still unpaid.
// Stale reminders are dropped. Returns whether a reminder was sent.
func (s *ReminderScheduler) HandleReminder(ctx context.Context, orderID int64, offset int) (bool, error) {
	ctx, span := util.StartSpan(ctx, "ReminderScheduler.HandleReminder")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrOrderNotFound) {
		util.RemindersDroppedTotal.Inc()
		return false, nil
	}
	if err != nil {
		util.RecordError(span, err)
		return false, fmt.Errorf("failed to load balance order: %w", err)
	}

	if !order.IsBalanceOrder || !order.IsUnpaid() {
		util.RemindersDroppedTotal.Inc()
		s.logger.Info("Dropping stale balance reminder",
			zap.Int64("order_id", orderID),
			zap.String("status", order.Status))
		return false, nil
	}

	s.notifier.BalanceReminder(ctx, order, offset)
	return true, nil
}

// EnsureDailySchedule registers the recurring maintenance job unless it is already pending.
// The first run is one hour from now.
func (s *ReminderScheduler) EnsureDailySchedule(ctx context.Context) error {
	job := models.ScheduledJob{
		Name:            models.JobDailyMaintenance,
		IntervalSeconds: int64(DailyMaintenanceInterval / time.Second),
	}

	scheduled, err := s.scheduler.IsScheduled(ctx, job.Key())
	if err != nil {
		return fmt.Errorf("failed to check daily schedule: %w", err)
	}
	if scheduled {
		return nil
	}

	if _, err := s.scheduler.Schedule(ctx, s.now().Add(time.Hour), job); err != nil {
		return fmt.Errorf("failed to schedule daily maintenance: %w", err)
	}
	s.logger.Info("Daily maintenance scheduled")
	return nil
}
