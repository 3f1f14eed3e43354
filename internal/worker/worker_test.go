package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deposit-service/internal/models"
	"deposit-service/internal/notify"
	"deposit-service/internal/redisclient"
	"deposit-service/internal/service"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu       sync.Mutex
	subjects []string
}

func (s *recordingSender) Send(ctx context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, subject)
	return nil
}

type brokenOrders struct {
	*store.MemoryStore
}

func (b brokenOrders) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return nil, errors.New("connection reset")
}

type harness struct {
	ctx    context.Context
	store  *store.MemoryStore
	queue  *redisclient.Client
	sender *recordingSender
	worker *ReminderWorker
}

func newHarness(t *testing.T, orders store.OrderStore) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := store.NewMemoryStore()
	if orders == nil {
		orders = st
	}
	queue := redisclient.Wrap(rdb)
	provider := settings.NewProvider(st, nil)
	sender := &recordingSender{}
	notifier := notify.NewNotifier(sender, provider, "https://shop.example", time.UTC)

	reminders := service.NewReminderScheduler(orders, queue, provider, notifier)
	overdue := service.NewOverdueCanceller(st, provider, notifier, nil)

	return &harness{
		ctx:    context.Background(),
		store:  st,
		queue:  queue,
		sender: sender,
		worker: NewReminderWorker(queue, reminders, overdue, time.Second),
	}
}

func (h *harness) balanceOrder(t *testing.T, due time.Time) *models.Order {
	t.Helper()
	order := &models.Order{
		Status:         models.OrderStatusPending,
		Currency:       "USD",
		Total:          decimal.NewFromInt(150),
		BillingEmail:   "jane@example.com",
		IsBalanceOrder: true,
		BalanceDueDate: due.Unix(),
	}
	require.NoError(t, h.store.CreateOrder(h.ctx, order))
	return order
}

func TestReminderWorker_SendsDueReminder(t *testing.T) {
	h := newHarness(t, nil)
	order := h.balanceOrder(t, time.Now().Add(24*time.Hour))

	_, err := h.queue.Schedule(h.ctx, time.Now().Add(-time.Minute), models.ScheduledJob{
		Name: models.JobBalanceReminder, OrderID: order.ID, Offset: 1,
	})
	require.NoError(t, err)
	_, err = h.queue.Schedule(h.ctx, time.Now().Add(time.Hour), models.ScheduledJob{
		Name: models.JobBalanceReminder, OrderID: order.ID, Offset: 0,
	})
	require.NoError(t, err)

	n, err := h.worker.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"Balance payment due in 1 day(s)"}, h.sender.subjects)

	n, err = h.worker.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReminderWorker_DropsStaleReminder(t *testing.T) {
	h := newHarness(t, nil)
	order := h.balanceOrder(t, time.Now().Add(24*time.Hour))
	_, err := h.store.UpdateOrderStatus(h.ctx, order.ID, models.OrderStatusCompleted, "")
	require.NoError(t, err)

	_, err = h.queue.Schedule(h.ctx, time.Now().Add(-time.Minute), models.ScheduledJob{
		Name: models.JobBalanceReminder, OrderID: order.ID, Offset: 1,
	})
	require.NoError(t, err)

	_, err = h.worker.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, h.sender.subjects)
}

func TestReminderWorker_RetriesFailedReminder(t *testing.T) {
	h := newHarness(t, brokenOrders{store.NewMemoryStore()})
	job := models.ScheduledJob{Name: models.JobBalanceReminder, OrderID: 9, Offset: 3}

	_, err := h.queue.Schedule(h.ctx, time.Now().Add(-time.Minute), job)
	require.NoError(t, err)

	n, err := h.worker.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	next, ok, err := h.queue.NextRun(h.ctx, job.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.After(time.Now()))
}

func TestReminderWorker_DailyMaintenance(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.SetSetting(h.ctx, settings.KeyAutoCancelOverdueEnabled, "yes"))
	require.NoError(t, h.store.SetSetting(h.ctx, settings.KeyAutoCancelOverdueDays, "7"))

	overdue := h.balanceOrder(t, time.Now().Add(-10*24*time.Hour))
	recent := h.balanceOrder(t, time.Now().Add(-3*24*time.Hour))

	job := models.ScheduledJob{Name: models.JobDailyMaintenance, IntervalSeconds: 86400}
	runAt := time.Unix(time.Now().Add(-time.Minute).Unix(), 0)
	_, err := h.queue.Schedule(h.ctx, runAt, job)
	require.NoError(t, err)

	_, err = h.worker.RunOnce(h.ctx)
	require.NoError(t, err)

	o, err := h.store.GetOrderByID(h.ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, o.Status)

	o, err = h.store.GetOrderByID(h.ctx, recent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, o.Status)

	next, ok, err := h.queue.NextRun(h.ctx, job.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, runAt.Add(24*time.Hour).Unix(), next.Unix())
}

func TestReminderWorker_MaintenanceLockedElsewhere(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.SetSetting(h.ctx, settings.KeyAutoCancelOverdueEnabled, "yes"))
	overdue := h.balanceOrder(t, time.Now().Add(-10*24*time.Hour))

	token, err := h.queue.AcquireLock(h.ctx, maintenanceLock, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	job := models.ScheduledJob{Name: models.JobDailyMaintenance, IntervalSeconds: 86400}
	_, err = h.queue.Schedule(h.ctx, time.Now().Add(-time.Minute), job)
	require.NoError(t, err)

	_, err = h.worker.RunOnce(h.ctx)
	require.NoError(t, err)

	o, err := h.store.GetOrderByID(h.ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, o.Status)

	scheduled, err := h.queue.IsScheduled(h.ctx, job.Key())
	require.NoError(t, err)
	assert.True(t, scheduled)
}

func TestReminderWorker_SkipsMissedOccurrences(t *testing.T) {
	h := newHarness(t, nil)
	job := models.ScheduledJob{Name: models.JobDailyMaintenance, IntervalSeconds: 3600}
	runAt := time.Unix(time.Now().Add(-5*time.Hour-30*time.Minute).Unix(), 0)
	_, err := h.queue.Schedule(h.ctx, runAt, job)
	require.NoError(t, err)

	_, err = h.worker.RunOnce(h.ctx)
	require.NoError(t, err)

	next, ok, err := h.queue.NextRun(h.ctx, job.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, runAt.Add(6*time.Hour).Unix(), next.Unix())
}
