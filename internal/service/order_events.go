package service

import (
	"context"
	"errors"
	"fmt"

	"deposit-service/internal/models"
	"deposit-service/internal/notify"
	"deposit-service/internal/store"
	"deposit-service/internal/util"

	"go.uber.org/zap"
)

// OrderEventHandler maps order lifecycle triggers onto the deposit engine
type OrderEventHandler struct {
	orders       store.OrderStore
	events       store.EventLog
	factory      *BalanceOrderFactory
	cancellation *CancellationPolicyEngine
	notifier     *notify.Notifier
	logger       *zap.Logger
}

// NewOrderEventHandler creates an order event handler
func NewOrderEventHandler(
	orders store.OrderStore,
	events store.EventLog,
	factory *BalanceOrderFactory,
	cancellation *CancellationPolicyEngine,
	notifier *notify.Notifier,
) *OrderEventHandler {
	return &OrderEventHandler{
		orders:       orders,
		events:       events,
		factory:      factory,
		cancellation: cancellation,
		notifier:     notifier,
		logger:       util.GetLogger(),
	}
}

// HandleCheckoutCompleted processes a checkout-completed event once
func (h *OrderEventHandler) HandleCheckoutCompleted(ctx context.Context, event *models.CheckoutCompletedEvent) error {
	return h.once(ctx, event.BaseEvent, func(ctx context.Context) error {
		_, err := h.factory.CreateBalanceOrder(ctx, event.OrderID)
		return err
	})
}

// HandleOrderStatusChanged processes a status-changed event once
func (h *OrderEventHandler) HandleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return h.once(ctx, event.BaseEvent, func(ctx context.Context) error {
		return h.OnStatusChanged(ctx, event.OrderID, event.NewStatus)
	})
}

// OnStatusChanged sends the balance receipt when a balance order is paid and applies the
// cancellation policy when an order is cancelled or refunded
func (h *OrderEventHandler) OnStatusChanged(ctx context.Context, orderID int64, newStatus string) error {
	ctx, span := util.StartSpan(ctx, "OrderEventHandler.OnStatusChanged")
	defer span.End()

	switch newStatus {
	case models.OrderStatusProcessing, models.OrderStatusCompleted:
		if err := h.sendReceipt(ctx, orderID); err != nil {
			util.RecordError(span, err)
			return err
		}
	case models.OrderStatusCancelled, models.OrderStatusRefunded:
		if err := h.cancellation.HandleParentCancellation(ctx, orderID, newStatus); err != nil {
			util.RecordError(span, err)
			return err
		}
	}
	return nil
}

// sendReceipt sends the balance receipt at most once per balance order
func (h *OrderEventHandler) sendReceipt(ctx context.Context, orderID int64) error {
	order, err := h.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrOrderNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}

	// no recipient
	if !order.IsBalanceOrder || order.ReceiptSent || order.BillingEmail == "" {
		return nil
	}

	// claim first; a receipt is never sent twice
	claimed, err := h.orders.ClaimReceipt(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to claim receipt: %w", err)
	}
	if !claimed {
		return nil
	}

	h.notifier.BalanceReceipt(ctx, order)
	h.logger.Info("Balance receipt sent", zap.Int64("order_id", orderID))
	return nil
}

func (h *OrderEventHandler) once(ctx context.Context, base models.BaseEvent, fn func(context.Context) error) error {
	if base.EventID != "" {
		processed, err := h.events.IsEventProcessed(ctx, base.EventID)
		if err != nil {
			return fmt.Errorf("failed to check event: %w", err)
		}
		if processed {
			h.logger.Info("Event already processed, skipping",
				zap.String("event_id", base.EventID),
				zap.String("event_type", base.EventType))
			return nil
		}
	}

	if err := fn(ctx); err != nil {
		return err
	}

	if base.EventID != "" {
		if err := h.events.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
			h.logger.Error("Failed to mark event processed",
				zap.String("event_id", base.EventID),
				zap.Error(err))
		}
	}
	return nil
}
