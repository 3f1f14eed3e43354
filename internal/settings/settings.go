// Package settings exposes the deposit engine's configuration table. Values are read on demand
// from a persistent source, then an optional seed file, then the built-in defaults, and are
// converted into typed values before they reach the core.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"deposit-service/internal/models"
	"deposit-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Setting keys
const (
	KeyEnabled                     = "enabled"
	KeyDefaultDepositType          = "default_deposit_type"
	KeyDefaultDepositValue         = "default_deposit_value"
	KeyDefaultPaymentMode          = "default_payment_mode"
	KeyDefaultDueType              = "default_due_type"
	KeyDefaultDueFixedDate         = "default_due_fixed_date"
	KeyDefaultDueRelative          = "default_due_relative"
	KeyEnableBookingDue            = "enable_booking_due"
	KeyBookingDueDaysBefore        = "booking_due_days_before"
	KeyReminderOffsets             = "reminder_offsets"
	KeyShippingChargeStage         = "shipping_charge_stage"
	KeyTaxMode                     = "tax_mode"
	KeyCouponSplitMode             = "coupon_split_mode"
	KeyCancelBalanceOnParentCancel = "cancel_balance_on_parent_cancel"
	KeyDepositRefundPolicy         = "deposit_refund_policy"
	KeyDepositRefundPartialPercent = "deposit_refund_partial_percent"
	KeyAutoCancelOverdueEnabled    = "auto_cancel_overdue_enabled"
	KeyAutoCancelOverdueDays       = "auto_cancel_overdue_days"
	KeyPriceDecimals               = "price_decimals"
	KeyAdminEmail                  = "admin_email"
)

var defaults = map[string]string{
	KeyEnabled:                     "yes",
	KeyDefaultDepositType:          "percentage",
	KeyDefaultDepositValue:         "20",
	KeyDefaultPaymentMode:          "optional",
	KeyDefaultDueType:              "relative",
	KeyDefaultDueFixedDate:         "",
	KeyDefaultDueRelative:          "30",
	KeyEnableBookingDue:            "no",
	KeyBookingDueDaysBefore:        "7",
	KeyReminderOffsets:             "7,3,1,0",
	KeyShippingChargeStage:         "balance",
	KeyTaxMode:                     "split",
	KeyCouponSplitMode:             "proportional",
	KeyCancelBalanceOnParentCancel: "yes",
	KeyDepositRefundPolicy:         "none",
	KeyDepositRefundPartialPercent: "50",
	KeyAutoCancelOverdueEnabled:    "no",
	KeyAutoCancelOverdueDays:       "7",
	KeyPriceDecimals:               "2",
	KeyAdminEmail:                  "",
}

// DefaultReminderOffsets is used when the configured list is empty or unparseable
var DefaultReminderOffsets = []int{7, 3, 1, 0}

// ErrUnknownKey is returned when writing a key outside the defaults table
var ErrUnknownKey = errors.New("unknown setting")

// Source is the persistent settings table
type Source interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Provider reads typed settings
type Provider struct {
	source Source
	seed   map[string]string
	logger *zap.Logger
}

// NewProvider creates a provider over source; seed values sit between the source and the defaults
func NewProvider(source Source, seed map[string]string) *Provider {
	if seed == nil {
		seed = map[string]string{}
	}
	return &Provider{
		source: source,
		seed:   seed,
		logger: util.GetLogger(),
	}
}

// Open builds a provider over source, seeded from seedFile when it is set. Every binary reads
// settings through it.
func Open(source Source, seedFile string) (*Provider, error) {
	var seed map[string]string
	if seedFile != "" {
		var err error
		if seed, err = LoadSeedFile(seedFile); err != nil {
			return nil, err
		}
	}
	return NewProvider(source, seed), nil
}

// LoadSeedFile reads a YAML mapping of setting keys to values
func LoadSeedFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	seed := make(map[string]string, len(raw))
	for key, val := range raw {
		if _, ok := defaults[key]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		switch v := val.(type) {
		case bool:
			seed[key] = yesNo(v)
		case nil:
			seed[key] = ""
		default:
			seed[key] = fmt.Sprint(v)
		}
	}
	return seed, nil
}

// Defaults returns a copy of the defaults table
func Defaults() map[string]string {
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	return out
}

// Get returns the raw value for key. Lookup failures fall back to the seed and default values.
func (p *Provider) Get(ctx context.Context, key string) string {
	if p.source != nil {
		val, ok, err := p.source.GetSetting(ctx, key)
		if err != nil {
			p.logger.Warn("Failed to read setting, using default",
				zap.String("key", key),
				zap.Error(err))
		} else if ok {
			return val
		}
	}
	if val, ok := p.seed[key]; ok {
		return val
	}
	return defaults[key]
}

// Set stores a value for a known key
func (p *Provider) Set(ctx context.Context, key, value string) error {
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return p.source.SetSetting(ctx, key, value)
}

func (p *Provider) flag(ctx context.Context, key string) bool {
	return p.Get(ctx, key) == "yes"
}

func (p *Provider) days(ctx context.Context, key string) int {
	n := toInt(p.Get(ctx, key))
	if n < 0 {
		return 0
	}
	return n
}

// Enabled reports whether deposits are offered at all
func (p *Provider) Enabled(ctx context.Context) bool {
	return p.flag(ctx, KeyEnabled)
}

// DefaultRule returns the store-wide deposit rule, not yet clamped
func (p *Provider) DefaultRule(ctx context.Context) models.DepositRule {
	rule := models.ParseDepositRule(
		p.Get(ctx, KeyDefaultDepositType),
		p.Get(ctx, KeyDefaultDepositValue),
		p.Get(ctx, KeyDefaultPaymentMode),
	)
	rule.Source = models.RuleSourceGlobal
	return rule
}

// DueDefaults returns the store-wide due date configuration
func (p *Provider) DueDefaults(ctx context.Context) (models.DueType, string, int) {
	dueType, _ := models.ParseDueType(p.Get(ctx, KeyDefaultDueType))
	return dueType, strings.TrimSpace(p.Get(ctx, KeyDefaultDueFixedDate)), p.days(ctx, KeyDefaultDueRelative)
}

// BookingDue reports whether booking-aware due dates are on and how many days before the booking
func (p *Provider) BookingDue(ctx context.Context) (bool, int) {
	return p.flag(ctx, KeyEnableBookingDue), p.days(ctx, KeyBookingDueDaysBefore)
}

// ReminderOffsets returns reminder day offsets, de-duplicated and descending
func (p *Provider) ReminderOffsets(ctx context.Context) []int {
	return ParseOffsets(p.Get(ctx, KeyReminderOffsets))
}

// ParseOffsets parses a comma separated day list; negatives become zero
func ParseOffsets(raw string) []int {
	seen := map[int]bool{}
	var days []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n := toInt(part)
		if n < 0 {
			n = 0
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		days = append(days, n)
	}

	if len(days) == 0 {
		return append([]int(nil), DefaultReminderOffsets...)
	}

	sort.Sort(sort.Reverse(sort.IntSlice(days)))
	return days
}

// ShippingStage returns which order carries shipping
func (p *Provider) ShippingStage(ctx context.Context) models.ShippingStage {
	if p.Get(ctx, KeyShippingChargeStage) == string(models.ShippingStageBalance) {
		return models.ShippingStageBalance
	}
	return models.ShippingStageDeposit
}

// TaxMode returns how tax is divided
func (p *Provider) TaxMode(ctx context.Context) models.TaxMode {
	if p.Get(ctx, KeyTaxMode) == string(models.TaxModeSplit) {
		return models.TaxModeSplit
	}
	return models.TaxModeFullUpfront
}

// CouponSplitMode returns the discount allocation mode
func (p *Provider) CouponSplitMode(ctx context.Context) models.CouponSplitMode {
	switch mode := models.CouponSplitMode(p.Get(ctx, KeyCouponSplitMode)); mode {
	case models.CouponSplitFull, models.CouponSplitDeposit, models.CouponSplitProportional:
		return mode
	}
	return models.CouponSplitProportional
}

// CancelBalanceOnParentCancel reports whether parent cancellation cascades
func (p *Provider) CancelBalanceOnParentCancel(ctx context.Context) bool {
	return p.flag(ctx, KeyCancelBalanceOnParentCancel)
}

// RefundPolicy returns the global refund policy and partial percentage
func (p *Provider) RefundPolicy(ctx context.Context) (models.RefundPolicy, decimal.Decimal) {
	policy, _ := models.ParseRefundPolicy(p.Get(ctx, KeyDepositRefundPolicy))
	return policy, toDecimal(p.Get(ctx, KeyDepositRefundPartialPercent))
}

// AutoCancelOverdue reports whether the daily sweep may cancel and its threshold in days
func (p *Provider) AutoCancelOverdue(ctx context.Context) (bool, int) {
	return p.flag(ctx, KeyAutoCancelOverdueEnabled), p.days(ctx, KeyAutoCancelOverdueDays)
}

// PriceDecimals returns the currency precision
func (p *Provider) PriceDecimals(ctx context.Context) int32 {
	n := toInt(p.Get(ctx, KeyPriceDecimals))
	if n < 0 || n > 8 {
		return 2
	}
	return int32(n)
}

// AdminEmail returns the recipient of admin summaries
func (p *Provider) AdminEmail(ctx context.Context) string {
	return strings.TrimSpace(p.Get(ctx, KeyAdminEmail))
}

// toInt reads a leading integer the way loosely typed form values are read: "7.9" is 7, junk is 0
func toInt(s string) int {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

func toDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
