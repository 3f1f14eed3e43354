package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deposit-service/internal/models"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"
	"deposit-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartTTL is how long an idle cart is kept
const CartTTL = 72 * time.Hour

var ErrInvalidQuantity = errors.New("quantity must be positive")

// AddItemRequest adds a product to a cart
type AddItemRequest struct {
	ProductID   int64             `json:"product_id" binding:"required"`
	Quantity    int               `json:"quantity" binding:"required,min=1"`
	PaymentMode string            `json:"payment_mode"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// CheckoutRequest carries the customer details and platform-computed charges of a checkout
type CheckoutRequest struct {
	CustomerID       int64           `json:"customer_id"`
	BillingEmail     string          `json:"billing_email"`
	BillingFirstName string          `json:"billing_first_name"`
	BillingAddress   models.Address  `json:"billing_address"`
	ShippingAddress  models.Address  `json:"shipping_address"`
	CustomerNote     string          `json:"customer_note"`
	ShippingTotal    decimal.Decimal `json:"shipping_total"`
	TotalTax         decimal.Decimal `json:"total_tax"`
}

// ProductOffer is the deposit choice shown for a product
type ProductOffer struct {
	ProductID   int64              `json:"product_id"`
	Available   bool               `json:"available"`
	Price       decimal.Decimal    `json:"price"`
	Deposit     decimal.Decimal    `json:"deposit"`
	Remaining   decimal.Decimal    `json:"remaining"`
	DueDate     int64              `json:"due_date,omitempty"`
	Mandatory   bool               `json:"mandatory"`
	DefaultMode models.PaymentMode `json:"default_mode"`
	Rule        models.DepositRule `json:"rule"`
}

// CartService manages carts priced by the deposit engine and turns them into deposit orders
type CartService struct {
	carts    CartStore
	catalog  store.CatalogStore
	orders   store.OrderStore
	rules    *RuleResolver
	pricing  *CartPricingAdjuster
	factory  *BalanceOrderFactory
	settings *settings.Provider
	now      func() time.Time
	logger   *zap.Logger
}

// NewCartService creates a cart service
func NewCartService(
	carts CartStore,
	catalog store.CatalogStore,
	orders store.OrderStore,
	rules *RuleResolver,
	pricing *CartPricingAdjuster,
	factory *BalanceOrderFactory,
	provider *settings.Provider,
) *CartService {
	return &CartService{
		carts:    carts,
		catalog:  catalog,
		orders:   orders,
		rules:    rules,
		pricing:  pricing,
		factory:  factory,
		settings: provider,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// CreateCart starts an empty cart
func (s *CartService) CreateCart(ctx context.Context, userID int64, currency string) (*models.Cart, error) {
	if currency == "" {
		currency = "USD"
	}
	cart := &models.Cart{
		ID:        uuid.New().String(),
		UserID:    userID,
		Currency:  currency,
		Lines:     []models.CartLine{},
		UpdatedAt: s.now(),
	}
	if err := s.carts.SaveCart(ctx, cart, CartTTL); err != nil {
		return nil, fmt.Errorf("failed to save cart: %w", err)
	}
	return cart, nil
}

// GetCart returns a cart
func (s *CartService) GetCart(ctx context.Context, cartID string) (*models.Cart, error) {
	return s.carts.GetCart(ctx, cartID)
}

// AddItem adds a product, snapshotting its deposit rule and sanitised payment mode on the line.
// Lines without metadata merge by product and payment mode.
func (s *CartService) AddItem(ctx context.Context, cartID string, req AddItemRequest) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}

	product, err := s.catalog.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	line := models.CartLine{
		ProductID:   product.ID,
		Name:        product.Name,
		Quantity:    req.Quantity,
		PaymentMode: models.PaymentModeFull,
		Meta:        req.Meta,
	}
	if s.settings.Enabled(ctx) {
		rule := s.rules.ResolveForProduct(ctx, product.ID)
		line.Rule = &rule
		line.PaymentMode = SanitizePaymentMode(req.PaymentMode, rule)
	}

	if len(req.Meta) == 0 {
		line.Key = fmt.Sprintf("%d:%s", product.ID, line.PaymentMode)
		if existing := cart.Line(line.Key); existing != nil {
			existing.Quantity += req.Quantity
			return s.recalculate(ctx, cart)
		}
	} else {
		line.Key = uuid.New().String()
	}

	cart.Lines = append(cart.Lines, line)
	return s.recalculate(ctx, cart)
}

// RemoveItem drops a line and its snapshot
func (s *CartService) RemoveItem(ctx context.Context, cartID, key string) (*models.Cart, error) {
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}

	lines := cart.Lines[:0]
	for _, line := range cart.Lines {
		if line.Key != key {
			lines = append(lines, line)
		}
	}
	cart.Lines = lines
	return s.recalculate(ctx, cart)
}

// ApplyCoupon adds a percentage coupon
func (s *CartService) ApplyCoupon(ctx context.Context, cartID string, coupon models.Coupon) (*models.Cart, error) {
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	for _, c := range cart.Coupons {
		if c.Code == coupon.Code {
			return s.recalculate(ctx, cart)
		}
	}
	cart.Coupons = append(cart.Coupons, coupon)
	return s.recalculate(ctx, cart)
}

// Recalculate runs one totals pass and stores the result
func (s *CartService) Recalculate(ctx context.Context, cartID string) (*models.Cart, error) {
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	return s.recalculate(ctx, cart)
}

// recalculate prices deposit lines, applies coupons, then adds the coupon split fee
func (s *CartService) recalculate(ctx context.Context, cart *models.Cart) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Recalculate")
	defer span.End()

	pass := NewTotalsPass()
	decimals := s.settings.PriceDecimals(ctx)

	cart.Fees = nil
	s.pricing.ApplyDepositPrices(ctx, pass, cart)
	if !s.settings.Enabled(ctx) {
		s.applyPlainPrices(ctx, cart)
	}
	applyLineDiscounts(cart, decimals)
	s.pricing.ApplyCouponSplit(ctx, pass, cart)

	cart.Subtotal = decimal.Zero
	cart.Total = decimal.Zero
	for _, line := range cart.Lines {
		cart.Subtotal = cart.Subtotal.Add(line.LineSubtotal)
		cart.Total = cart.Total.Add(line.LineTotal)
	}
	for _, fee := range cart.Fees {
		cart.Total = cart.Total.Add(fee.Amount)
	}
	cart.UpdatedAt = s.now()

	if err := s.carts.SaveCart(ctx, cart, CartTTL); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to save cart: %w", err)
	}
	return cart, nil
}

// applyPlainPrices prices lines at catalog price when deposits are switched off
func (s *CartService) applyPlainPrices(ctx context.Context, cart *models.Cart) {
	for i := range cart.Lines {
		line := &cart.Lines[i]
		line.PaymentMode = models.PaymentModeFull
		price := line.UnitPrice
		if line.OriginalUnitPrice != nil {
			price = *line.OriginalUnitPrice
		} else if product, err := s.catalog.GetProductByID(ctx, line.ProductID); err == nil {
			price = product.Price
		}
		full := price.Mul(decimal.NewFromInt(int64(maxInt(1, line.Quantity))))
		line.UnitPrice = price
		line.FullLineTotal = full
		line.DepositLineTotal = full
		line.RemainingLineTotal = decimal.Zero
	}
}

// ProductOffer previews the deposit choice for a product. Nothing is offered when deposits are
// off or when either the deposit or the remainder would be zero.
func (s *CartService) ProductOffer(ctx context.Context, productID int64) (*ProductOffer, error) {
	product, err := s.catalog.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	offer := &ProductOffer{
		ProductID:   product.ID,
		Price:       product.Price,
		Deposit:     decimal.Zero,
		Remaining:   decimal.Zero,
		DefaultMode: models.PaymentModeFull,
	}
	if !s.settings.Enabled(ctx) {
		return offer, nil
	}

	rule := s.rules.ResolveForProduct(ctx, product.ID)
	deposit := CalculateDeposit(product.Price, rule)
	remaining := decimal.Max(product.Price.Sub(deposit), decimal.Zero)

	offer.Rule = rule
	if !deposit.IsPositive() || !remaining.IsPositive() {
		return offer, nil
	}

	offer.Available = true
	offer.Deposit = deposit
	offer.Remaining = remaining
	offer.Mandatory = rule.IsMandatory()
	offer.DueDate = s.rules.ResolveDueTimestamp(ctx, s.now().Unix(), product.ID)
	if offer.Mandatory {
		offer.DefaultMode = models.PaymentModeDeposit
	}
	return offer, nil
}

// Checkout converts the cart into a pending deposit order carrying each line's payment mode
// and full, deposit and remaining totals, then fires checkout completion.
func (s *CartService) Checkout(ctx context.Context, cartID string, req CheckoutRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Checkout")
	defer span.End()

	cart, err := s.Recalculate(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if len(cart.Lines) == 0 {
		return nil, fmt.Errorf("%w: cart %s is empty", ErrValidation, cartID)
	}

	order := &models.Order{
		CustomerID:       req.CustomerID,
		Status:           models.OrderStatusPending,
		Currency:         cart.Currency,
		TotalTax:         req.TotalTax,
		ShippingTotal:    req.ShippingTotal,
		BillingEmail:     req.BillingEmail,
		BillingFirstName: req.BillingFirstName,
		BillingAddress:   req.BillingAddress,
		ShippingAddress:  req.ShippingAddress,
		CustomerNote:     req.CustomerNote,
	}
	if order.CustomerID == 0 {
		order.CustomerID = cart.UserID
	}

	total := req.ShippingTotal.Add(req.TotalTax)
	for _, line := range cart.Lines {
		order.Lines = append(order.Lines, models.OrderLine{
			ProductID:          line.ProductID,
			Kind:               models.LineKindProduct,
			Name:               line.Name,
			Quantity:           line.Quantity,
			Subtotal:           line.LineSubtotal,
			Total:              line.LineTotal,
			PaymentMode:        line.PaymentMode,
			FullLineTotal:      line.FullLineTotal,
			DepositLineTotal:   line.DepositLineTotal,
			RemainingLineTotal: line.RemainingLineTotal,
			Meta:               line.Meta,
		})
		if line.PaymentMode == models.PaymentModeDeposit && line.RemainingLineTotal.IsPositive() {
			order.HasDeposit = true
		}
		total = total.Add(line.LineTotal)
	}
	for _, fee := range cart.Fees {
		order.Lines = append(order.Lines, models.OrderLine{
			Kind:        models.LineKindFee,
			Name:        fee.Name,
			Quantity:    1,
			Subtotal:    fee.Amount,
			Total:       fee.Amount,
			PaymentMode: models.PaymentModeFull,
		})
		total = total.Add(fee.Amount)
	}
	order.Total = total

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if err := s.carts.DeleteCart(ctx, cartID); err != nil {
		s.logger.Warn("Failed to delete checked out cart",
			zap.String("cart_id", cartID),
			zap.Error(err))
	}

	s.logger.Info("Deposit order placed",
		zap.Int64("order_id", order.ID),
		zap.Bool("has_deposit", order.HasDeposit),
		zap.String("total", order.Total.String()))

	if _, err := s.factory.CreateBalanceOrder(ctx, order.ID); err != nil {
		s.logger.Error("Failed to create balance order at checkout",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}

	return s.orders.GetOrderByID(ctx, order.ID)
}
