package service

import (
	"testing"

	"deposit-service/internal/models"
	"deposit-service/internal/redisclient"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCart(t *testing.T, env *testEnv) *models.Cart {
	t.Helper()
	cart, err := env.cartService.CreateCart(env.ctx, 7, "USD")
	require.NoError(t, err)
	return cart
}

func TestCartService_AddDepositItem(t *testing.T) {
	env := newTestEnv(t)
	env.set(settings.KeyDefaultDepositValue, "25")
	p := env.product("Tour", "200")
	cart := newCart(t, env)

	cart, err := env.cartService.AddItem(env.ctx, cart.ID, AddItemRequest{ProductID: p.ID, Quantity: 1, PaymentMode: "deposit"})
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)

	line := cart.Lines[0]
	assert.Equal(t, models.PaymentModeDeposit, line.PaymentMode)
	require.NotNil(t, line.Rule)
	require.NotNil(t, line.OriginalUnitPrice)
	assert.True(t, line.OriginalUnitPrice.Equal(dec("200")))
	assert.True(t, line.UnitPrice.Equal(dec("50")))
	assert.True(t, line.FullLineTotal.Equal(dec("200")))
	assert.True(t, line.DepositLineTotal.Equal(dec("50")))
	assert.True(t, line.RemainingLineTotal.Equal(dec("150")))
	assert.True(t, cart.Total.Equal(dec("50")))
	assert.Empty(t, cart.Fees)
}

func TestCartService_MandatoryRuleForcesDeposit(t *testing.T) {
	env := newTestEnv(t)
	env.set(settings.KeyDefaultPaymentMode, "mandatory")
	p := env.product("Tour", "100")
	cart := newCart(t, env)

	cart, err := env.cartService.AddItem(env.ctx, cart.ID, AddItemRequest{ProductID: p.ID, Quantity: 1, PaymentMode: "full"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentModeDeposit, cart.Lines[0].PaymentMode)
	assert.True(t, cart.Total.Equal(dec("20")))
}

func TestCartService_DisabledChargesFullPrice(t *testing.T) {
	env := newTestEnv(t)
	env.set(settings.KeyEnabled, "no")
	p := env.product("Tour", "200")
	cart := newCart(t, env)

	cart, err := env.cartService.AddItem(env.ctx, cart.ID, AddItemRequest{ProductID: p.ID, Quantity: 2, PaymentMode: "deposit"})
	require.NoError(t, err)

	line := cart.Lines[0]
	assert.Equal(t, models.PaymentModeFull, line.PaymentMode)
	assert.Nil(t, line.Rule)
	assert.True(t, line.RemainingLineTotal.IsZero())
	assert.True(t, cart.Total.Equal(dec("400")))
}

func TestCartService_MergesLinesWithoutMeta(t *testing.T) {
	env := newTestEnv(t)
	p := env.product("Tour", "100")
	cart := newCart(t, env)

	req := AddItemRequest{ProductID: p.ID, Quantity: 1, PaymentMode: "deposit"}
	_, err := env.cartService.AddItem(env.ctx, cart.ID, req)
	require.NoError(t, err)
	cart, err = env.cartService.AddItem(env.ctx, cart.ID, req)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, 2, cart.Lines[0].Quantity)
	assert.True(t, cart.Lines[0].DepositLineTotal.Equal(dec("40")))

	req.Meta = map[string]string{"Booking Date": "2030-03-01"}
	cart, err = env.cartService.AddItem(env.ctx, cart.ID, req)
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 2)

	cart, err = env.cartService.RemoveItem(env.ctx, cart.ID, cart.Lines[1].Key)
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 1)
}

func TestCartService_AddItemErrors(t *testing.T) {
	env := newTestEnv(t)
	cart := newCart(t, env)

	_, err := env.cartService.AddItem(env.ctx, cart.ID, AddItemRequest{ProductID: 99, Quantity: 1})
	assert.ErrorIs(t, err, store.ErrProductNotFound)

	_, err = env.cartService.AddItem(env.ctx, cart.ID, AddItemRequest{ProductID: 1, Quantity: 0})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = env.cartService.AddItem(env.ctx, "missing", AddItemRequest{ProductID: 1, Quantity: 1})
	assert.ErrorIs(t, err, redisclient.ErrCartNotFound)
}

func TestCartService_RecalculateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.set(settings.KeyDefaultDepositValue, "25")
	p := env.product("Tour", "200")
	cart := newCart(t, env)

	_, err := env.cartService.AddItem(env.ctx, cart.ID, AddItemRequest{ProductID: p.ID, Quantity: 3, PaymentMode: "deposit"})
	require.NoError(t, err)
	_, err = env.cartService.ApplyCoupon(env.ctx, cart.ID, models.Coupon{Code: "TEN", PercentOff: dec("10")})
	require.NoError(t, err)

	first, err := env.cartService.Recalculate(env.ctx, cart.ID)
	require.NoError(t, err)
	second, err := env.cartService.Recalculate(env.ctx, cart.ID)
	require.NoError(t, err)

	assert.True(t, first.Total.Equal(second.Total))
	assert.Equal(t, len(first.Fees), len(second.Fees))
	assert.True(t, first.Lines[0].LineTotal.Equal(second.Lines[0].LineTotal))
	assert.True(t, first.Lines[0].OriginalUnitPrice.Equal(dec("200")))
	assert.True(t, second.Lines[0].UnitPrice.Equal(dec("50")))
}

func TestCartPricingAdjuster_RunsOncePerPass(t *testing.T) {
	env := newTestEnv(t)
	env.set(settings.KeyDefaultDepositValue, "25")
	env.set(settings.KeyCouponSplitMode, "full")
	p := env.product("Tour", "200")

	original := dec("200")
	cart := &models.Cart{
		ID: "c1",
		Lines: []models.CartLine{{
			Key:               "1:deposit",
			ProductID:         p.ID,
			Quantity:          1,
			PaymentMode:       models.PaymentModeDeposit,
			OriginalUnitPrice: &original,
		}},
		Coupons: []models.Coupon{{Code: "TEN", PercentOff: dec("10")}},
	}

	pass := NewTotalsPass()
	env.pricing.ApplyDepositPrices(env.ctx, pass, cart)
	env.pricing.ApplyDepositPrices(env.ctx, pass, cart)
	applyLineDiscounts(cart, 2)
	env.pricing.ApplyCouponSplit(env.ctx, pass, cart)
	env.pricing.ApplyCouponSplit(env.ctx, pass, cart)

	assert.True(t, cart.Lines[0].UnitPrice.Equal(dec("50")))
	assert.True(t, cart.Lines[0].LineTotal.Equal(dec("45")))
	require.Len(t, cart.Fees, 1)
	assert.Equal(t, FeeLabelDiscountToBalance, cart.Fees[0].Name)
	assert.True(t, cart.Fees[0].Amount.Equal(dec("5")))
}

func TestCartService_CouponSplit(t *testing.T) {
	tests := []struct {
		name      string
		depositPc string
		mode      string
		wantFee   string
		wantLabel string
		wantTotal string
	}{
		{"proportional ratio one adds no fee", "100", "proportional", "", "", "80"},
		{"proportional quarter", "25", "proportional", "3.75", FeeLabelDiscountSplit, "48.75"},
		{"full moves discount to balance", "25", "full", "5", FeeLabelDiscountToBalance, "50"},
		{"deposit keeps discount", "25", "deposit", "", "", "45"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.set(settings.KeyDefaultDepositValue, tt.depositPc)
			env.set(settings.KeyCouponSplitMode, tt.mode)

			price := "200"
			coupon := "10"
			if tt.depositPc == "100" {
				price, coupon = "100", "20"
			}
			p := env.product("Tour", price)
			cart := newCart(t, env)

			_, err := env.cartService.AddItem(env.ctx, cart.ID, AddItemRequest{ProductID: p.ID, Quantity: 1, PaymentMode: "deposit"})
			require.NoError(t, err)
			cart, err = env.cartService.ApplyCoupon(env.ctx, cart.ID, models.Coupon{Code: "C", PercentOff: dec(coupon)})
			require.NoError(t, err)

			if tt.wantFee == "" {
				assert.Empty(t, cart.Fees)
			} else {
				require.Len(t, cart.Fees, 1)
				assert.Equal(t, tt.wantLabel, cart.Fees[0].Name)
				assert.True(t, cart.Fees[0].Amount.Equal(dec(tt.wantFee)), "fee %s", cart.Fees[0].Amount)
			}
			assert.True(t, cart.Total.Equal(dec(tt.wantTotal)), "total %s", cart.Total)
		})
	}
}

func TestCartService_ProductOffer(t *testing.T) {
	env := newTestEnv(t)
	env.set(settings.KeyDefaultDepositValue, "25")
	p := env.product("Tour", "200")

	offer, err := env.cartService.ProductOffer(env.ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, offer.Available)
	assert.True(t, offer.Deposit.Equal(dec("50")))
	assert.True(t, offer.Remaining.Equal(dec("150")))
	assert.Equal(t, testNow.Add(days(30)).Unix(), offer.DueDate)
	assert.Equal(t, models.PaymentModeFull, offer.DefaultMode)

	env.productMeta(p.ID, map[string]string{
		store.MetaEnableRule:   "yes",
		store.MetaDepositType:  "percentage",
		store.MetaDepositValue: "100",
	})
	offer, err = env.cartService.ProductOffer(env.ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, offer.Available)

	env.set(settings.KeyEnabled, "no")
	offer, err = env.cartService.ProductOffer(env.ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, offer.Available)
}

func TestCartService_CheckoutCreatesBalanceOrder(t *testing.T) {
	env := newTestEnv(t)
	env.set(settings.KeyDefaultDepositValue, "25")
	p := env.product("Tour", "200")
	cart := newCart(t, env)

	_, err := env.cartService.AddItem(env.ctx, cart.ID, AddItemRequest{ProductID: p.ID, Quantity: 1, PaymentMode: "deposit"})
	require.NoError(t, err)

	order, err := env.cartService.Checkout(env.ctx, cart.ID, CheckoutRequest{
		BillingEmail:     "jane@example.com",
		BillingFirstName: "Jane",
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, int64(7), order.CustomerID)
	assert.True(t, order.Total.Equal(dec("50")))
	require.Len(t, order.Lines, 1)
	assert.Equal(t, models.PaymentModeDeposit, order.Lines[0].PaymentMode)
	assert.True(t, order.Lines[0].RemainingLineTotal.Equal(dec("150")))
	require.NotZero(t, order.BalanceOrderID)

	balance := env.order(order.BalanceOrderID)
	assert.True(t, balance.IsBalanceOrder)
	assert.True(t, balance.Total.Equal(dec("150")))
	assert.Equal(t, order.ID, balance.DepositParentOrderID)

	_, err = env.cartService.GetCart(env.ctx, cart.ID)
	assert.ErrorIs(t, err, redisclient.ErrCartNotFound)
}

func TestCartService_CheckoutFullPaymentHasNoBalance(t *testing.T) {
	env := newTestEnv(t)
	p := env.product("Tour", "200")
	cart := newCart(t, env)

	_, err := env.cartService.AddItem(env.ctx, cart.ID, AddItemRequest{ProductID: p.ID, Quantity: 1, PaymentMode: "full"})
	require.NoError(t, err)

	order, err := env.cartService.Checkout(env.ctx, cart.ID, CheckoutRequest{ShippingTotal: dec("10")})
	require.NoError(t, err)
	assert.True(t, order.Total.Equal(dec("210")))
	assert.Zero(t, order.BalanceOrderID)
	assert.Empty(t, env.publisher.created)
}

func TestCartService_CheckoutEmptyCart(t *testing.T) {
	env := newTestEnv(t)
	cart := newCart(t, env)

	_, err := env.cartService.Checkout(env.ctx, cart.ID, CheckoutRequest{BillingEmail: "jane@example.com"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.cartService.GetCart(env.ctx, cart.ID)
	assert.NoError(t, err)
}
