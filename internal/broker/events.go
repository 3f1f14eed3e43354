package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"deposit-service/internal/models"
	"deposit-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes order status changes to the order events topic and deposit
// lifecycle events to the deposit events topic
type EventPublisher struct {
	orders   *Producer
	deposits *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(orders, deposits *Producer) *EventPublisher {
	return &EventPublisher{orders: orders, deposits: deposits}
}

func orderKey(id int64) string {
	return fmt.Sprintf("order-%d", id)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishBalanceOrderCreated publishes BalanceOrderCreated event, keyed by the parent order
func (ep *EventPublisher) PublishBalanceOrderCreated(ctx context.Context, event *models.BalanceOrderCreatedEvent) error {
	return ep.deposits.PublishEvent(ctx, orderKey(event.ParentOrderID), event)
}

// PublishDepositRefundCreated publishes DepositRefundCreated event
func (ep *EventPublisher) PublishDepositRefundCreated(ctx context.Context, event *models.DepositRefundCreatedEvent) error {
	return ep.deposits.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishDepositRefundFailed publishes DepositRefundFailed event
func (ep *EventPublisher) PublishDepositRefundFailed(ctx context.Context, event *models.DepositRefundFailedEvent) error {
	return ep.deposits.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOverdueOrdersCancelled publishes OverdueOrdersCancelled event
func (ep *EventPublisher) PublishOverdueOrdersCancelled(ctx context.Context, event *models.OverdueOrdersCancelledEvent) error {
	return ep.deposits.PublishEvent(ctx, "overdue-"+event.Source, event)
}

// NotificationPublisher hands outbound messages to the mail service through Kafka
type NotificationPublisher struct {
	producer *Producer
}

// NewNotificationPublisher creates a notification publisher
func NewNotificationPublisher(producer *Producer) *NotificationPublisher {
	return &NotificationPublisher{producer: producer}
}

// Send publishes a Notification event
func (np *NotificationPublisher) Send(ctx context.Context, to, subject, body string) error {
	event := &models.NotificationEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeNotification,
			Timestamp: time.Now(),
		},
		To:      to,
		Subject: subject,
		Body:    body,
	}
	return np.producer.PublishEvent(ctx, to, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onCheckoutCompleted  func(context.Context, *models.CheckoutCompletedEvent) error
	onOrderStatusChanged func(context.Context, *models.OrderStatusChangedEvent) error
	logger               *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnCheckoutCompleted registers a handler for CheckoutCompleted events
func (eh *EventHandler) OnCheckoutCompleted(handler func(context.Context, *models.CheckoutCompletedEvent) error) {
	eh.onCheckoutCompleted = handler
}

// OnOrderStatusChanged registers a handler for OrderStatusChanged events
func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onOrderStatusChanged = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		// a message that can never decode would block the partition
		eh.logger.Error("Dropping undecodable message",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeCheckoutCompleted:
		if eh.onCheckoutCompleted != nil {
			var event models.CheckoutCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CheckoutCompleted event: %w", err)
			}
			return eh.onCheckoutCompleted(ctx, &event)
		}

	case models.EventTypeOrderStatusChanged:
		if eh.onOrderStatusChanged != nil {
			var event models.OrderStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderStatusChanged event: %w", err)
			}
			return eh.onOrderStatusChanged(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
