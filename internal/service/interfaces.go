package service

import (
	"context"
	"fmt"
	"time"

	"deposit-service/internal/models"
	"deposit-service/internal/store"
	"deposit-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher announces order and deposit events
type EventPublisher interface {
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishBalanceOrderCreated(ctx context.Context, event *models.BalanceOrderCreatedEvent) error
	PublishDepositRefundCreated(ctx context.Context, event *models.DepositRefundCreatedEvent) error
	PublishDepositRefundFailed(ctx context.Context, event *models.DepositRefundFailedEvent) error
	PublishOverdueOrdersCancelled(ctx context.Context, event *models.OverdueOrdersCancelledEvent) error
}

// JobScheduler registers delayed jobs
type JobScheduler interface {
	// Schedule returns false when a job with the same key is already pending
	Schedule(ctx context.Context, at time.Time, job models.ScheduledJob) (bool, error)
	IsScheduled(ctx context.Context, key string) (bool, error)
}

// CartStore keeps in-progress carts
type CartStore interface {
	GetCart(ctx context.Context, cartID string) (*models.Cart, error)
	SaveCart(ctx context.Context, cart *models.Cart, ttl time.Duration) error
	DeleteCart(ctx context.Context, cartID string) error
}

const daySeconds = 86400

func newBaseEvent(eventType string, now time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: now,
	}
}

// statusUpdater changes order statuses and announces each change on the order event stream,
// so status-changed handling runs the same way for platform and internal transitions.
type statusUpdater struct {
	orders    store.OrderStore
	publisher EventPublisher
	now       func() time.Time
	logger    *zap.Logger
}

func (u *statusUpdater) update(ctx context.Context, orderID int64, status, note string) error {
	old, err := u.orders.UpdateOrderStatus(ctx, orderID, status, note)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if old == status || u.publisher == nil {
		return nil
	}

	event := &models.OrderStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged, u.now()),
		OrderID:   orderID,
		OldStatus: old,
		NewStatus: status,
	}
	if err := u.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		u.logger.Error("Failed to publish status change",
			zap.Int64("order_id", orderID),
			zap.String("status", status),
			zap.Error(err))
	}
	return nil
}

func newStatusUpdater(orders store.OrderStore, publisher EventPublisher, now func() time.Time) *statusUpdater {
	return &statusUpdater{orders: orders, publisher: publisher, now: now, logger: util.GetLogger()}
}
