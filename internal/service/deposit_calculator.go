package service

import (
	"context"

	"deposit-service/internal/models"
	"deposit-service/internal/settings"

	"github.com/shopspring/decimal"
)

var half = decimal.NewFromFloat(0.5)

// CalculateDeposit returns the deposit due on fullAmount under rule, within [0, fullAmount]
func CalculateDeposit(fullAmount decimal.Decimal, rule models.DepositRule) decimal.Decimal {
	if !fullAmount.IsPositive() {
		return decimal.Zero
	}

	value := decimal.Max(rule.DepositValue, decimal.Zero)
	if rule.DepositType == models.DepositTypeFixed {
		return decimal.Min(fullAmount, value)
	}

	pct := decimal.Min(value, hundred)
	deposit := fullAmount.Mul(pct).Div(hundred)
	return clamp(deposit, decimal.Zero, fullAmount)
}

// RemainingPolicy is the store configuration that shapes a remaining balance
type RemainingPolicy struct {
	ShippingStage models.ShippingStage
	TaxMode       models.TaxMode
	CouponSplit   models.CouponSplitMode
	Decimals      int32
}

// CalculateRemaining returns the balance still owed on a deposit order. Only deposit-mode
// product lines contribute; an order without any is owed nothing.
func CalculateRemaining(order *models.Order, policy RemainingPolicy) decimal.Decimal {
	var (
		hasDeposit    bool
		remaining     = decimal.Zero
		baseRemaining = decimal.Zero
		baseDeposit   = decimal.Zero
		discount      = decimal.Zero
	)

	for _, line := range order.LineItems() {
		if line.PaymentMode != models.PaymentModeDeposit {
			continue
		}
		hasDeposit = true

		lineRemaining := decimal.Max(line.RemainingLineTotal, decimal.Zero)
		remaining = remaining.Add(lineRemaining)
		baseRemaining = baseRemaining.Add(lineRemaining)
		baseDeposit = baseDeposit.Add(decimal.Max(line.DepositLineTotal, decimal.Zero))
		discount = discount.Add(decimal.Max(line.DepositLineTotal.Sub(line.Total), decimal.Zero))
	}

	if !hasDeposit {
		return decimal.Zero
	}

	if policy.ShippingStage == models.ShippingStageBalance {
		remaining = remaining.Add(order.ShippingTotal)
	}
	if policy.TaxMode == models.TaxModeSplit {
		remaining = remaining.Add(order.TotalTax.Mul(half))
	}

	if discount.IsPositive() {
		switch policy.CouponSplit {
		case models.CouponSplitFull:
			remaining = remaining.Sub(discount)
		case models.CouponSplitProportional:
			ratio := half
			if denominator := baseDeposit.Add(baseRemaining); denominator.IsPositive() {
				ratio = baseRemaining.Div(denominator)
			}
			remaining = remaining.Sub(discount.Mul(clamp(ratio, decimal.Zero, decimal.NewFromInt(1))))
		}
	}

	return decimal.Max(remaining.Round(policy.Decimals), decimal.Zero)
}

// DepositCalculator applies the calculation functions with the configured store policy
type DepositCalculator struct {
	settings *settings.Provider
}

// NewDepositCalculator creates a calculator reading policy from provider
func NewDepositCalculator(provider *settings.Provider) *DepositCalculator {
	return &DepositCalculator{settings: provider}
}

// CalculateDeposit returns the deposit for fullAmount under rule
func (c *DepositCalculator) CalculateDeposit(fullAmount decimal.Decimal, rule models.DepositRule) decimal.Decimal {
	return CalculateDeposit(fullAmount, rule)
}

// CalculateRemaining returns the balance owed on order under the current settings
func (c *DepositCalculator) CalculateRemaining(ctx context.Context, order *models.Order) decimal.Decimal {
	return CalculateRemaining(order, c.Policy(ctx))
}

// Policy reads the current remaining-amount policy
func (c *DepositCalculator) Policy(ctx context.Context) RemainingPolicy {
	return RemainingPolicy{
		ShippingStage: c.settings.ShippingStage(ctx),
		TaxMode:       c.settings.TaxMode(ctx),
		CouponSplit:   c.settings.CouponSplitMode(ctx),
		Decimals:      c.settings.PriceDecimals(ctx),
	}
}

// Round rounds an amount to the store currency precision
func (c *DepositCalculator) Round(ctx context.Context, amount decimal.Decimal) decimal.Decimal {
	return amount.Round(c.settings.PriceDecimals(ctx))
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(v, lo), hi)
}
