package service

import (
	"context"

	"deposit-service/internal/models"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"
	"deposit-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Coupon split fee labels
const (
	FeeLabelDiscountToBalance = "Discount applied to balance payment"
	FeeLabelDiscountSplit     = "Discount split between deposit and balance"
)

var feeThreshold = decimal.NewFromFloat(0.01)

// TotalsPass is one cart totals recalculation. The cart framework may ask for the same
// adjustment several times within a pass; only the first request runs.
type TotalsPass struct {
	depositPrices int
	couponSplit   int
}

// NewTotalsPass starts a recalculation pass
func NewTotalsPass() *TotalsPass {
	return &TotalsPass{}
}

// CartPricingAdjuster prices cart lines for deposit or full payment
type CartPricingAdjuster struct {
	catalog  store.CatalogStore
	rules    *RuleResolver
	settings *settings.Provider
	logger   *zap.Logger
}

// NewCartPricingAdjuster creates a cart pricing adjuster
func NewCartPricingAdjuster(catalog store.CatalogStore, rules *RuleResolver, provider *settings.Provider) *CartPricingAdjuster {
	return &CartPricingAdjuster{
		catalog:  catalog,
		rules:    rules,
		settings: provider,
		logger:   util.GetLogger(),
	}
}

// ApplyDepositPrices sets each line's unit price to the deposit or full price and records the
// line snapshot. The original unit price is captured once and reused by later passes.
func (a *CartPricingAdjuster) ApplyDepositPrices(ctx context.Context, pass *TotalsPass, cart *models.Cart) {
	if !a.settings.Enabled(ctx) {
		return
	}
	pass.depositPrices++
	if pass.depositPrices > 1 {
		return
	}

	for i := range cart.Lines {
		line := &cart.Lines[i]

		if line.OriginalUnitPrice == nil {
			product, err := a.catalog.GetProductByID(ctx, line.ProductID)
			if err != nil {
				a.logger.Warn("Skipping cart line without product",
					zap.String("cart_id", cart.ID),
					zap.Int64("product_id", line.ProductID),
					zap.Error(err))
				continue
			}
			price := product.Price
			line.OriginalUnitPrice = &price
		}

		original := *line.OriginalUnitPrice
		qty := decimal.NewFromInt(int64(maxInt(1, line.Quantity)))
		full := original.Mul(qty)

		if line.PaymentMode != models.PaymentModeDeposit {
			line.UnitPrice = original
			line.FullLineTotal = full
			line.DepositLineTotal = full
			line.RemainingLineTotal = decimal.Zero
			continue
		}

		var rule models.DepositRule
		if line.Rule != nil {
			rule = *line.Rule
		} else {
			rule = a.rules.ResolveForProduct(ctx, line.ProductID)
		}

		depositUnit := CalculateDeposit(original, rule)
		depositLine := depositUnit.Mul(qty)

		line.UnitPrice = depositUnit
		line.FullLineTotal = full
		line.DepositLineTotal = depositLine
		line.RemainingLineTotal = decimal.Max(full.Sub(depositLine), decimal.Zero)
	}
}

// ApplyCouponSplit adds a fee moving part of the discount on deposit lines to the balance
func (a *CartPricingAdjuster) ApplyCouponSplit(ctx context.Context, pass *TotalsPass, cart *models.Cart) {
	if !a.settings.Enabled(ctx) {
		return
	}
	pass.couponSplit++
	if pass.couponSplit > 1 {
		return
	}

	mode := a.settings.CouponSplitMode(ctx)
	if mode == models.CouponSplitDeposit {
		return
	}

	depositSubtotal := decimal.Zero
	fullSubtotal := decimal.Zero
	discount := decimal.Zero

	for _, line := range cart.Lines {
		if line.PaymentMode != models.PaymentModeDeposit {
			continue
		}
		depositSubtotal = depositSubtotal.Add(decimal.Max(line.DepositLineTotal, decimal.Zero))
		fullSubtotal = fullSubtotal.Add(decimal.Max(line.FullLineTotal, decimal.Zero))
		discount = discount.Add(decimal.Max(line.LineSubtotal.Sub(line.LineTotal), decimal.Zero))
	}

	if !depositSubtotal.IsPositive() || !discount.IsPositive() {
		return
	}

	target := discount
	switch mode {
	case models.CouponSplitFull:
		target = decimal.Zero
	case models.CouponSplitProportional:
		ratio := decimal.NewFromInt(1)
		if fullSubtotal.IsPositive() {
			ratio = depositSubtotal.Div(fullSubtotal)
		}
		target = discount.Mul(clamp(ratio, decimal.Zero, decimal.NewFromInt(1)))
	}

	fee := discount.Sub(target)
	if fee.Abs().LessThan(feeThreshold) {
		return
	}

	label := FeeLabelDiscountSplit
	if mode == models.CouponSplitFull {
		label = FeeLabelDiscountToBalance
	}
	cart.Fees = append(cart.Fees, models.CartFee{
		Name:   label,
		Amount: fee.Round(a.settings.PriceDecimals(ctx)),
	})
}

// applyLineDiscounts computes line subtotals and totals from unit prices and coupons
func applyLineDiscounts(cart *models.Cart, decimals int32) {
	pct := decimal.Zero
	for _, c := range cart.Coupons {
		pct = pct.Add(decimal.Max(c.PercentOff, decimal.Zero))
	}
	pct = decimal.Min(pct, hundred)
	keep := hundred.Sub(pct).Div(hundred)

	for i := range cart.Lines {
		line := &cart.Lines[i]
		qty := decimal.NewFromInt(int64(maxInt(1, line.Quantity)))
		line.LineSubtotal = line.UnitPrice.Mul(qty)
		line.LineTotal = line.LineSubtotal.Mul(keep).Round(decimals)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
