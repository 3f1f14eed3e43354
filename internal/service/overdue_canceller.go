package service

import (
	"context"
	"fmt"
	"time"

	"deposit-service/internal/models"
	"deposit-service/internal/notify"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"
	"deposit-service/internal/util"

	"go.uber.org/zap"
)

// Overdue sweep sources and defaults
const (
	SourceSystem    = "system"
	SourceDailyCron = "daily-cron"
	SourceBulkAdmin = "bulk-admin"
	SourceCLI       = "cli"

	DefaultOverdueLimit   = 100
	BulkAdminOverdueLimit = 250

	DefaultOverdueReason = "Auto-cancelled: overdue balance payment window expired."
)

// OverdueCancelArgs controls one overdue sweep
type OverdueCancelArgs struct {
	OverdueDays     int    `json:"overdue_days"`
	Limit           int    `json:"limit"`
	Source          string `json:"source"`
	Reason          string `json:"reason"`
	DryRun          bool   `json:"dry_run"`
	SkipSettingGate bool   `json:"skip_setting_gate"`
}

// OverdueCanceller cancels unpaid balance orders past their due date
type OverdueCanceller struct {
	orders    store.OrderStore
	statuses  *statusUpdater
	settings  *settings.Provider
	notifier  *notify.Notifier
	publisher EventPublisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewOverdueCanceller creates an overdue canceller
func NewOverdueCanceller(orders store.OrderStore, provider *settings.Provider, notifier *notify.Notifier, publisher EventPublisher) *OverdueCanceller {
	c := &OverdueCanceller{
		orders:    orders,
		settings:  provider,
		notifier:  notifier,
		publisher: publisher,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
	c.statuses = newStatusUpdater(orders, publisher, func() time.Time { return c.now() })
	return c
}

// DefaultArgs returns the sweep arguments used by the scheduled job
func (c *OverdueCanceller) DefaultArgs(ctx context.Context) OverdueCancelArgs {
	_, days := c.settings.AutoCancelOverdue(ctx)
	return OverdueCancelArgs{
		OverdueDays: days,
		Limit:       DefaultOverdueLimit,
		Source:      SourceSystem,
	}
}

// CancelOverdue cancels, or in a dry run only lists, unpaid balance orders whose due date is at
// least OverdueDays in the past. Orders are processed by due date, oldest first.
func (c *OverdueCanceller) CancelOverdue(ctx context.Context, args OverdueCancelArgs) (models.OverdueCancelResult, error) {
	ctx, span := util.StartSpan(ctx, "OverdueCanceller.CancelOverdue")
	defer span.End()

	result := models.OverdueCancelResult{IDs: []int64{}}

	if !args.SkipSettingGate {
		if enabled, _ := c.settings.AutoCancelOverdue(ctx); !enabled {
			return result, nil
		}
	}

	if args.OverdueDays < 0 {
		args.OverdueDays = 0
	}
	if args.Limit <= 0 {
		args.Limit = DefaultOverdueLimit
	}
	if args.Reason == "" {
		args.Reason = DefaultOverdueReason
	}
	if args.Source == "" {
		args.Source = SourceSystem
	}

	threshold := c.now().Unix() - int64(args.OverdueDays)*daySeconds

	orders, err := c.orders.FindBalanceOrders(ctx, store.BalanceOrderQuery{
		Statuses:      models.UnpaidStatuses,
		DueOnOrBefore: threshold,
		Limit:         args.Limit,
	})
	if err != nil {
		util.RecordError(span, err)
		return result, fmt.Errorf("failed to query overdue balance orders: %w", err)
	}

	for _, order := range orders {
		if args.DryRun {
			result.IDs = append(result.IDs, order.ID)
			continue
		}

		if err := c.statuses.update(ctx, order.ID, models.OrderStatusCancelled, args.Reason); err != nil {
			c.logger.Error("Failed to cancel overdue balance order",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
			continue
		}
		result.IDs = append(result.IDs, order.ID)
	}
	result.Count = len(result.IDs)

	if !args.DryRun && result.Count > 0 {
		util.OverdueOrdersCancelledTotal.WithLabelValues(args.Source).Add(float64(result.Count))
		c.notifier.OverdueSummary(ctx, args.Source, args.OverdueDays, args.DryRun, result)
	}

	c.logger.Info("Overdue balance sweep finished",
		zap.String("source", args.Source),
		zap.Int("overdue_days", args.OverdueDays),
		zap.Bool("dry_run", args.DryRun),
		zap.Int("count", result.Count),
		zap.Int64s("order_ids", result.IDs))

	c.publish(ctx, args, result)
	return result, nil
}

func (c *OverdueCanceller) publish(ctx context.Context, args OverdueCancelArgs, result models.OverdueCancelResult) {
	if c.publisher == nil {
		return
	}
	event := &models.OverdueOrdersCancelledEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOverdueOrdersCancelled, c.now()),
		Source:      args.Source,
		OverdueDays: args.OverdueDays,
		DryRun:      args.DryRun,
		Count:       result.Count,
		OrderIDs:    result.IDs,
	}
	if err := c.publisher.PublishOverdueOrdersCancelled(ctx, event); err != nil {
		c.logger.Error("Failed to publish overdue sweep event", zap.Error(err))
	}
}
