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

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Order notes written on parent cancellation
const (
	NoteBalanceCascadeCancelled = "Cancelled because parent deposit order was cancelled/refunded."
	NoteDepositRetained         = "Deposit retained based on refund policy."
	NoteRefundFailed            = "Automatic deposit refund failed. Please review manually."
	RefundReasonCancellation    = "Deposit refund based on cancellation policy."
)

// CancellationPolicyEngine reacts to a deposit order being cancelled or refunded
type CancellationPolicyEngine struct {
	orders    store.OrderStore
	catalog   store.CatalogStore
	statuses  *statusUpdater
	rules     *RuleResolver
	settings  *settings.Provider
	notifier  *notify.Notifier
	publisher EventPublisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewCancellationPolicyEngine creates a cancellation policy engine
func NewCancellationPolicyEngine(
	orders store.OrderStore,
	catalog store.CatalogStore,
	rules *RuleResolver,
	provider *settings.Provider,
	notifier *notify.Notifier,
	publisher EventPublisher,
) *CancellationPolicyEngine {
	e := &CancellationPolicyEngine{
		orders:    orders,
		catalog:   catalog,
		rules:     rules,
		settings:  provider,
		notifier:  notifier,
		publisher: publisher,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
	e.statuses = newStatusUpdater(orders, publisher, func() time.Time { return e.now() })
	return e
}

// HandleParentCancellation cascades a parent cancellation to its unpaid balance order and,
// when the parent was cancelled rather than refunded, applies the deposit refund policy.
// Balance orders and parents without a balance order are ignored.
func (e *CancellationPolicyEngine) HandleParentCancellation(ctx context.Context, orderID int64, newStatus string) error {
	ctx, span := util.StartSpan(ctx, "CancellationPolicyEngine.HandleParentCancellation")
	defer span.End()

	order, err := e.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrOrderNotFound) {
		return nil
	}
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to load order: %w", err)
	}

	if order.IsBalanceOrder || order.BalanceOrderID <= 0 {
		return nil
	}

	balance, err := e.orders.GetOrderByID(ctx, order.BalanceOrderID)
	if errors.Is(err, store.ErrOrderNotFound) {
		e.logger.Warn("Linked balance order missing",
			zap.Int64("order_id", order.ID),
			zap.Int64("balance_order_id", order.BalanceOrderID))
		return nil
	}
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to load balance order: %w", err)
	}

	if e.settings.CancelBalanceOnParentCancel(ctx) && !models.IsSettledStatus(balance.Status) {
		if err := e.statuses.update(ctx, balance.ID, models.OrderStatusCancelled, NoteBalanceCascadeCancelled); err != nil {
			util.RecordError(span, err)
			return fmt.Errorf("failed to cancel balance order: %w", err)
		}
		e.logger.Info("Balance order cancelled with parent",
			zap.Int64("order_id", order.ID),
			zap.Int64("balance_order_id", balance.ID))
	}

	if newStatus == models.OrderStatusCancelled {
		e.applyRefundPolicy(ctx, order)
	}
	return nil
}

func (e *CancellationPolicyEngine) applyRefundPolicy(ctx context.Context, order *models.Order) {
	policy := e.ResolveRefundPolicy(ctx, order)

	var refundable decimal.Decimal
	switch policy.Policy {
	case models.RefundPolicyFull:
		refundable = order.Total
	case models.RefundPolicyPartial:
		refundable = order.Total.Mul(policy.PartialPercent).Div(hundred)
	default:
		util.DepositRefundsTotal.WithLabelValues("retained").Inc()
		e.note(ctx, order.ID, NoteDepositRetained)
		return
	}

	amount := decimal.Max(refundable.Sub(order.TotalRefunded), decimal.Zero).Round(e.settings.PriceDecimals(ctx))
	if !amount.IsPositive() {
		return
	}

	refund := &models.Refund{
		OrderID: order.ID,
		Amount:  amount,
		Reason:  RefundReasonCancellation,
	}
	if err := e.orders.CreateRefund(ctx, refund); err != nil {
		util.DepositRefundsTotal.WithLabelValues("failed").Inc()
		e.logger.Error("Automatic deposit refund failed",
			zap.Int64("order_id", order.ID),
			zap.String("amount", amount.String()),
			zap.Error(err))
		e.note(ctx, order.ID, NoteRefundFailed)
		e.publishFailed(ctx, order.ID, amount, policy, err)
		return
	}

	util.DepositRefundsTotal.WithLabelValues("created").Inc()
	e.note(ctx, order.ID, fmt.Sprintf("Automatic deposit refund created: %s (policy source: %s)",
		e.notifier.FormatAmount(ctx, amount, order.Currency), policy.Source))
	e.publishCreated(ctx, refund, policy)
}

// ResolveRefundPolicy walks the order's product lines: the first product with its own policy
// wins, then the first of its categories with one, before the global policy applies.
// Partial percentages of zero defer to the global percentage.
func (e *CancellationPolicyEngine) ResolveRefundPolicy(ctx context.Context, order *models.Order) models.RefundPolicyResolution {
	globalPolicy, globalPct := e.settings.RefundPolicy(ctx)

	resolution := func(policy models.RefundPolicy, pct decimal.Decimal, source models.RuleSource) models.RefundPolicyResolution {
		if !pct.IsPositive() {
			pct = globalPct
		}
		return models.RefundPolicyResolution{
			Policy:         policy,
			PartialPercent: clamp(pct, decimal.Zero, hundred),
			Source:         source,
		}
	}

	for _, line := range order.LineItems() {
		if line.ProductID <= 0 {
			continue
		}

		get := e.catalog.GetProductMeta
		if policy, ok := models.ParseRefundPolicy(e.rules.meta(ctx, line.ProductID, models.RuleSourceProduct, get, store.MetaRefundPolicy)); ok {
			pct := parseDecimal(e.rules.meta(ctx, line.ProductID, models.RuleSourceProduct, get, store.MetaRefundPartialPercent))
			return resolution(policy, pct, models.RuleSourceProduct)
		}

		categories, err := e.catalog.GetProductCategoryIDs(ctx, line.ProductID)
		if err != nil {
			e.logger.Warn("Failed to load product categories",
				zap.Int64("product_id", line.ProductID),
				zap.Error(err))
			continue
		}
		for _, categoryID := range categories {
			get := e.catalog.GetCategoryMeta
			policy, ok := models.ParseRefundPolicy(e.rules.meta(ctx, categoryID, models.RuleSourceCategory, get, store.MetaRefundPolicy))
			if !ok {
				continue
			}
			pct := parseDecimal(e.rules.meta(ctx, categoryID, models.RuleSourceCategory, get, store.MetaRefundPartialPercent))
			return resolution(policy, pct, models.RuleSourceCategory)
		}
	}

	return models.RefundPolicyResolution{
		Policy:         globalPolicy,
		PartialPercent: clamp(globalPct, decimal.Zero, hundred),
		Source:         models.RuleSourceGlobal,
	}
}

func (e *CancellationPolicyEngine) note(ctx context.Context, orderID int64, note string) {
	if err := e.orders.AddOrderNote(ctx, orderID, note); err != nil {
		e.logger.Error("Failed to add order note",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}

func (e *CancellationPolicyEngine) publishCreated(ctx context.Context, refund *models.Refund, policy models.RefundPolicyResolution) {
	if e.publisher == nil {
		return
	}
	event := &models.DepositRefundCreatedEvent{
		BaseEvent: newBaseEvent(models.EventTypeDepositRefundCreated, e.now()),
		OrderID:   refund.OrderID,
		RefundID:  refund.ID,
		Amount:    refund.Amount,
		Policy:    policy,
	}
	if err := e.publisher.PublishDepositRefundCreated(ctx, event); err != nil {
		e.logger.Error("Failed to publish refund created event", zap.Int64("order_id", refund.OrderID), zap.Error(err))
	}
}

func (e *CancellationPolicyEngine) publishFailed(ctx context.Context, orderID int64, amount decimal.Decimal, policy models.RefundPolicyResolution, cause error) {
	if e.publisher == nil {
		return
	}
	event := &models.DepositRefundFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypeDepositRefundFailed, e.now()),
		OrderID:   orderID,
		Amount:    amount,
		Policy:    policy,
		Reason:    cause.Error(),
	}
	if err := e.publisher.PublishDepositRefundFailed(ctx, event); err != nil {
		e.logger.Error("Failed to publish refund failed event", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
