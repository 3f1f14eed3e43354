package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"deposit-service/internal/models"
	"deposit-service/internal/notify"
	"deposit-service/internal/redisclient"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2030, 1, 15, 12, 0, 0, 0, time.UTC)

type sentMessage struct {
	to, subject, body string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{to, subject, body})
	return nil
}

func (f *fakeSender) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.subject
	}
	return out
}

type fakePublisher struct {
	mu            sync.Mutex
	statusChanges []*models.OrderStatusChangedEvent
	created       []*models.BalanceOrderCreatedEvent
	refunds       []*models.DepositRefundCreatedEvent
	refundsFailed []*models.DepositRefundFailedEvent
	sweeps        []*models.OverdueOrdersCancelledEvent
}

func (p *fakePublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanges = append(p.statusChanges, e)
	return nil
}

func (p *fakePublisher) PublishBalanceOrderCreated(ctx context.Context, e *models.BalanceOrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *fakePublisher) PublishDepositRefundCreated(ctx context.Context, e *models.DepositRefundCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, e)
	return nil
}

func (p *fakePublisher) PublishDepositRefundFailed(ctx context.Context, e *models.DepositRefundFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refundsFailed = append(p.refundsFailed, e)
	return nil
}

func (p *fakePublisher) PublishOverdueOrdersCancelled(ctx context.Context, e *models.OverdueOrdersCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweeps = append(p.sweeps, e)
	return nil
}

type scheduledAt struct {
	at  time.Time
	job models.ScheduledJob
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[string]scheduledAt
	err  error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: map[string]scheduledAt{}}
}

func (s *fakeScheduler) Schedule(ctx context.Context, at time.Time, job models.ScheduledJob) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.jobs[job.Key()]; ok {
		return false, nil
	}
	s.jobs[job.Key()] = scheduledAt{at: at, job: job}
	return true, nil
}

func (s *fakeScheduler) IsScheduled(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok, nil
}

func (s *fakeScheduler) forOrder(orderID int64) []scheduledAt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scheduledAt
	for _, j := range s.jobs {
		if j.job.OrderID == orderID {
			out = append(out, j)
		}
	}
	return out
}

type fakeCarts struct {
	mu    sync.Mutex
	carts map[string]models.Cart
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{carts: map[string]models.Cart{}}
}

func (c *fakeCarts) GetCart(ctx context.Context, cartID string) (*models.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.carts[cartID]
	if !ok {
		return nil, redisclient.ErrCartNotFound
	}
	cart.Lines = append([]models.CartLine(nil), cart.Lines...)
	cart.Coupons = append([]models.Coupon(nil), cart.Coupons...)
	cart.Fees = append([]models.CartFee(nil), cart.Fees...)
	return &cart, nil
}

func (c *fakeCarts) SaveCart(ctx context.Context, cart *models.Cart, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carts[cart.ID] = *cart
	return nil
}

func (c *fakeCarts) DeleteCart(ctx context.Context, cartID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, cartID)
	return nil
}

// failingRefunds fails every refund
type failingRefunds struct {
	*store.MemoryStore
}

func (f failingRefunds) CreateRefund(ctx context.Context, refund *models.Refund) error {
	return errors.New("gateway unavailable")
}

var errFlaky = errors.New("db hiccup")

// flakyOrders fails the next failLink, failClaim and failMeta calls of the matching write
type flakyOrders struct {
	*store.MemoryStore
	failLink, failClaim, failMeta int
}

func (f *flakyOrders) CreateBalanceOrder(ctx context.Context, parent, balance *models.Order) error {
	if f.failLink > 0 {
		f.failLink--
		return errFlaky
	}
	return f.MemoryStore.CreateBalanceOrder(ctx, parent, balance)
}

func (f *flakyOrders) ClaimReceipt(ctx context.Context, id int64) (bool, error) {
	if f.failClaim > 0 {
		f.failClaim--
		return false, errFlaky
	}
	return f.MemoryStore.ClaimReceipt(ctx, id)
}

func (f *flakyOrders) SaveDepositMeta(ctx context.Context, order *models.Order) error {
	if f.failMeta > 0 {
		f.failMeta--
		return errFlaky
	}
	return f.MemoryStore.SaveDepositMeta(ctx, order)
}

type testEnv struct {
	t         *testing.T
	ctx       context.Context
	store     *store.MemoryStore
	settings  *settings.Provider
	sender    *fakeSender
	publisher *fakePublisher
	scheduler *fakeScheduler
	carts     *fakeCarts
	notifier  *notify.Notifier

	rules        *RuleResolver
	calc         *DepositCalculator
	pricing      *CartPricingAdjuster
	reminders    *ReminderScheduler
	factory      *BalanceOrderFactory
	overdue      *OverdueCanceller
	cancellation *CancellationPolicyEngine
	handler      *OrderEventHandler
	admin        *AdminService
	reports      *ReportService
	cartService  *CartService
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithOrders(t, nil)
}

// newTestEnvWithOrders builds the engine over a memory store; orders, when set, replaces the
// order store seen by the cancellation engine
func newTestEnvWithOrders(t *testing.T, orders store.OrderStore) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	provider := settings.NewProvider(st, nil)
	sender := &fakeSender{}
	publisher := &fakePublisher{}
	scheduler := newFakeScheduler()
	carts := newFakeCarts()
	notifier := notify.NewNotifier(sender, provider, "https://shop.example", time.UTC)
	clock := func() time.Time { return testNow }

	if orders == nil {
		orders = st
	}

	rules := NewRuleResolver(st, provider, time.UTC)
	rules.now = clock
	calc := NewDepositCalculator(provider)
	pricing := NewCartPricingAdjuster(st, rules, provider)
	reminders := NewReminderScheduler(st, scheduler, provider, notifier)
	reminders.now = clock
	factory := NewBalanceOrderFactory(st, rules, calc, provider, reminders, notifier, publisher, time.UTC)
	factory.now = clock
	overdue := NewOverdueCanceller(st, provider, notifier, publisher)
	overdue.now = clock
	cancellation := NewCancellationPolicyEngine(orders, st, rules, provider, notifier, publisher)
	cancellation.now = clock
	handler := NewOrderEventHandler(st, st, factory, cancellation, notifier)
	admin := NewAdminService(st, rules, reminders, overdue, notifier, publisher)
	admin.now = clock
	reports := NewReportService(st, notifier, time.UTC)
	reports.now = clock
	cartService := NewCartService(carts, st, st, rules, pricing, factory, provider)
	cartService.now = clock

	return &testEnv{
		t:            t,
		ctx:          context.Background(),
		store:        st,
		settings:     provider,
		sender:       sender,
		publisher:    publisher,
		scheduler:    scheduler,
		carts:        carts,
		notifier:     notifier,
		rules:        rules,
		calc:         calc,
		pricing:      pricing,
		reminders:    reminders,
		factory:      factory,
		overdue:      overdue,
		cancellation: cancellation,
		handler:      handler,
		admin:        admin,
		reports:      reports,
		cartService:  cartService,
	}
}

func (e *testEnv) set(key, value string) {
	e.t.Helper()
	require.NoError(e.t, e.settings.Set(e.ctx, key, value))
}

func (e *testEnv) product(name string, price string) *models.Product {
	return e.store.AddProduct(models.Product{Name: name, Price: dec(price)})
}

func (e *testEnv) productMeta(productID int64, values map[string]string) {
	e.t.Helper()
	for k, v := range values {
		require.NoError(e.t, e.store.SetProductMeta(e.ctx, productID, k, v))
	}
}

func (e *testEnv) categoryMeta(categoryID int64, values map[string]string) {
	e.t.Helper()
	for k, v := range values {
		require.NoError(e.t, e.store.SetCategoryMeta(e.ctx, categoryID, k, v))
	}
}

// depositOrder places a paid deposit order with one deposit line
func (e *testEnv) depositOrder(productID int64, full, deposit string) *models.Order {
	e.t.Helper()
	fullAmt, depositAmt := dec(full), dec(deposit)
	order := &models.Order{
		CustomerID:       7,
		Status:           models.OrderStatusProcessing,
		Currency:         "USD",
		Total:            depositAmt,
		BillingEmail:     "jane@example.com",
		BillingFirstName: "Jane",
		Lines: []models.OrderLine{{
			ProductID:          productID,
			Kind:               models.LineKindProduct,
			Name:               "Tour",
			Quantity:           1,
			Subtotal:           depositAmt,
			Total:              depositAmt,
			PaymentMode:        models.PaymentModeDeposit,
			FullLineTotal:      fullAmt,
			DepositLineTotal:   depositAmt,
			RemainingLineTotal: fullAmt.Sub(depositAmt),
		}},
	}
	require.NoError(e.t, e.store.CreateOrder(e.ctx, order))
	return order
}

// balanceOrder stores an unlinked balance order with the given due date
func (e *testEnv) balanceOrder(status string, due time.Time) *models.Order {
	e.t.Helper()
	order := &models.Order{
		Status:          status,
		Currency:        "USD",
		Total:           dec("100"),
		RemainingAmount: dec("100"),
		BillingEmail:    "jane@example.com",
		IsBalanceOrder:  true,
		BalanceDueDate:  due.Unix(),
	}
	require.NoError(e.t, e.store.CreateOrder(e.ctx, order))
	return order
}

// balancesFor lists the ids of every balance order pointing at parentID
func (e *testEnv) balancesFor(parentID int64) []int64 {
	e.t.Helper()
	orders, err := e.store.FindBalanceOrders(e.ctx, store.BalanceOrderQuery{})
	require.NoError(e.t, err)
	var ids []int64
	for _, o := range orders {
		if o.DepositParentOrderID == parentID {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// receipts counts balance receipts sent for orderID
func (e *testEnv) receipts(orderID int64) int {
	n := 0
	for _, subject := range e.sender.subjects() {
		if subject == fmt.Sprintf("Balance payment received for order #%d", orderID) {
			n++
		}
	}
	return n
}

func (e *testEnv) order(id int64) *models.Order {
	e.t.Helper()
	order, err := e.store.GetOrderByID(e.ctx, id)
	require.NoError(e.t, err)
	return order
}

func (e *testEnv) notes(id int64) []string {
	e.t.Helper()
	notes, err := e.store.GetOrderNotes(e.ctx, id)
	require.NoError(e.t, err)
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.Note
	}
	return out
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
