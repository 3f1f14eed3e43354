package service

import (
	"fmt"
	"testing"

	"deposit-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusEvent(id string, orderID int64, status string) *models.OrderStatusChangedEvent {
	return &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{EventID: id, EventType: models.EventTypeOrderStatusChanged, Timestamp: testNow},
		OrderID:   orderID,
		NewStatus: status,
	}
}

func TestHandleCheckoutCompleted_Once(t *testing.T) {
	env := newTestEnv(t)
	p := env.product("Tour", "200")
	parent := env.depositOrder(p.ID, "200", "50")

	event := &models.CheckoutCompletedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: models.EventTypeCheckoutCompleted},
		OrderID:   parent.ID,
	}
	require.NoError(t, env.handler.HandleCheckoutCompleted(env.ctx, event))
	require.NoError(t, env.handler.HandleCheckoutCompleted(env.ctx, event))

	processed, err := env.store.IsEventProcessed(env.ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Len(t, env.publisher.created, 1)
	assert.NotZero(t, env.order(parent.ID).BalanceOrderID)
}

func TestBalanceReceipt_SentAtMostOnce(t *testing.T) {
	env := newTestEnv(t)
	_, _, balance := linkedOrders(t, env)

	for i := 0; i < 3; i++ {
		event := statusEvent(fmt.Sprintf("evt-%d", i), balance.ID, models.OrderStatusProcessing)
		require.NoError(t, env.handler.HandleOrderStatusChanged(env.ctx, event))
	}
	require.NoError(t, env.handler.OnStatusChanged(env.ctx, balance.ID, models.OrderStatusCompleted))

	receipts := 0
	for _, subject := range env.sender.subjects() {
		if subject == fmt.Sprintf("Balance payment received for order #%d", balance.ID) {
			receipts++
		}
	}
	assert.Equal(t, 1, receipts)
	assert.True(t, env.order(balance.ID).ReceiptSent)
}

func TestBalanceReceipt_SkipsParentAndMissingRecipient(t *testing.T) {
	env := newTestEnv(t)
	_, parent, _ := linkedOrders(t, env)
	sentBefore := len(env.sender.subjects())

	require.NoError(t, env.handler.OnStatusChanged(env.ctx, parent.ID, models.OrderStatusCompleted))
	assert.Len(t, env.sender.subjects(), sentBefore)

	orphan := &models.Order{Status: models.OrderStatusPending, IsBalanceOrder: true, Total: dec("10")}
	require.NoError(t, env.store.CreateOrder(env.ctx, orphan))
	require.NoError(t, env.handler.OnStatusChanged(env.ctx, orphan.ID, models.OrderStatusProcessing))
	assert.False(t, env.order(orphan.ID).ReceiptSent)
	assert.Len(t, env.sender.subjects(), sentBefore)
}

func TestOnStatusChanged_CancellationCascades(t *testing.T) {
	env := newTestEnv(t)
	_, parent, balance := linkedOrders(t, env)

	require.NoError(t, env.handler.HandleOrderStatusChanged(env.ctx, statusEvent("evt-c", parent.ID, models.OrderStatusCancelled)))
	assert.Equal(t, models.OrderStatusCancelled, env.order(balance.ID).Status)
	assert.Contains(t, env.notes(parent.ID), NoteDepositRetained)
}

func TestBalanceReceipt_FailedClaimNeverDuplicates(t *testing.T) {
	env := newTestEnv(t)
	_, _, balance := linkedOrders(t, env)

	orders := &flakyOrders{MemoryStore: env.store, failClaim: 1, failMeta: 1}
	handler := NewOrderEventHandler(orders, env.store, env.factory, env.cancellation, env.notifier)

	err := handler.OnStatusChanged(env.ctx, balance.ID, models.OrderStatusProcessing)
	require.ErrorIs(t, err, errFlaky)
	assert.Zero(t, env.receipts(balance.ID))

	require.NoError(t, handler.OnStatusChanged(env.ctx, balance.ID, models.OrderStatusProcessing))
	require.NoError(t, handler.OnStatusChanged(env.ctx, balance.ID, models.OrderStatusCompleted))

	assert.Equal(t, 1, env.receipts(balance.ID))
	assert.True(t, env.order(balance.ID).ReceiptSent)
}

func TestBalanceReceipt_SurvivesDueDateEdit(t *testing.T) {
	env := newTestEnv(t)
	_, _, balance := linkedOrders(t, env)

	require.NoError(t, env.handler.OnStatusChanged(env.ctx, balance.ID, models.OrderStatusProcessing))
	_, err := env.admin.UpdateDueDate(env.ctx, balance.ID, "2030-04-30")
	require.NoError(t, err)
	require.NoError(t, env.handler.OnStatusChanged(env.ctx, balance.ID, models.OrderStatusCompleted))

	assert.Equal(t, 1, env.receipts(balance.ID))
}
