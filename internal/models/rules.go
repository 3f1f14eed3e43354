package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DepositType selects how a deposit value is interpreted
type DepositType string

const (
	DepositTypePercentage DepositType = "percentage"
	DepositTypeFixed      DepositType = "fixed"
)

// ParseDepositType returns the deposit type named by s
func ParseDepositType(s string) (DepositType, bool) {
	switch DepositType(s) {
	case DepositTypePercentage, DepositTypeFixed:
		return DepositType(s), true
	}
	return DepositTypePercentage, false
}

// RuleMode says whether a customer may choose to pay in full
type RuleMode string

const (
	RuleModeOptional  RuleMode = "optional"
	RuleModeMandatory RuleMode = "mandatory"
)

// ParseRuleMode returns the rule mode named by s
func ParseRuleMode(s string) (RuleMode, bool) {
	switch RuleMode(s) {
	case RuleModeOptional, RuleModeMandatory:
		return RuleMode(s), true
	}
	return RuleModeOptional, false
}

// PaymentMode is the choice made for a cart or order line
type PaymentMode string

const (
	PaymentModeFull    PaymentMode = "full"
	PaymentModeDeposit PaymentMode = "deposit"
)

// ParsePaymentMode returns the payment mode named by s
func ParsePaymentMode(s string) (PaymentMode, bool) {
	switch PaymentMode(s) {
	case PaymentModeFull, PaymentModeDeposit:
		return PaymentMode(s), true
	}
	return PaymentModeFull, false
}

// DueType selects how a balance due date is computed
type DueType string

const (
	DueTypeFixed    DueType = "fixed"
	DueTypeRelative DueType = "relative"
)

// ParseDueType returns the due type named by s
func ParseDueType(s string) (DueType, bool) {
	switch DueType(s) {
	case DueTypeFixed, DueTypeRelative:
		return DueType(s), true
	}
	return DueTypeRelative, false
}

// RefundPolicy governs how much of a deposit is returned on cancellation
type RefundPolicy string

const (
	RefundPolicyNone    RefundPolicy = "none"
	RefundPolicyFull    RefundPolicy = "full"
	RefundPolicyPartial RefundPolicy = "partial"
)

// ParseRefundPolicy returns the refund policy named by s
func ParseRefundPolicy(s string) (RefundPolicy, bool) {
	switch RefundPolicy(s) {
	case RefundPolicyNone, RefundPolicyFull, RefundPolicyPartial:
		return RefundPolicy(s), true
	}
	return RefundPolicyNone, false
}

// RuleSource names the level a rule or policy was resolved from
type RuleSource string

const (
	RuleSourceProduct  RuleSource = "product"
	RuleSourceCategory RuleSource = "category"
	RuleSourceGlobal   RuleSource = "global"
)

// ShippingStage says which order carries the shipping charge
type ShippingStage string

const (
	ShippingStageDeposit ShippingStage = "deposit"
	ShippingStageBalance ShippingStage = "balance"
)

// TaxMode says how order tax is divided between deposit and balance
type TaxMode string

const (
	TaxModeFullUpfront TaxMode = "full_upfront"
	TaxModeSplit       TaxMode = "split"
)

// CouponSplitMode controls how a cart discount is divided between deposit and balance
type CouponSplitMode string

const (
	CouponSplitFull         CouponSplitMode = "full"
	CouponSplitDeposit      CouponSplitMode = "deposit"
	CouponSplitProportional CouponSplitMode = "proportional"
)

// DepositRule is the effective deposit configuration for a product
type DepositRule struct {
	DepositType  DepositType     `json:"deposit_type"`
	DepositValue decimal.Decimal `json:"deposit_value"`
	PaymentMode  RuleMode        `json:"payment_mode"`
	Source       RuleSource      `json:"source,omitempty"`
}

// IsMandatory reports whether the rule forces a deposit
func (r DepositRule) IsMandatory() bool {
	return r.PaymentMode == RuleModeMandatory
}

// RefundPolicyResolution is the refund policy applying to a cancelled deposit order
type RefundPolicyResolution struct {
	Policy         RefundPolicy    `json:"policy"`
	PartialPercent decimal.Decimal `json:"partial_percent"`
	Source         RuleSource      `json:"source"`
}

// OverdueCancelResult reports the balance orders matched by an overdue sweep
type OverdueCancelResult struct {
	Count int     `json:"count"`
	IDs   []int64 `json:"ids"`
}

// ParseDepositRule builds a rule from stored strings. Unknown enum values fall back to
// percentage/optional and an unparseable value becomes zero; clamping is left to the caller.
func ParseDepositRule(depositType, value, mode string) DepositRule {
	t, _ := ParseDepositType(strings.TrimSpace(depositType))
	m, _ := ParseRuleMode(strings.TrimSpace(mode))
	v, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		v = decimal.Zero
	}
	return DepositRule{DepositType: t, DepositValue: v, PaymentMode: m}
}
