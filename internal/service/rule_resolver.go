package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"deposit-service/internal/models"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"
	"deposit-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// RuleResolver resolves deposit rules, refund policies and due dates.
// Precedence is always product, then the first enabled category in assignment order, then global.
type RuleResolver struct {
	catalog  store.CatalogStore
	settings *settings.Provider
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// NewRuleResolver creates a resolver; fixed due dates are interpreted in loc
func NewRuleResolver(catalog store.CatalogStore, provider *settings.Provider, loc *time.Location) *RuleResolver {
	if loc == nil {
		loc = time.UTC
	}
	return &RuleResolver{
		catalog:  catalog,
		settings: provider,
		loc:      loc,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// ResolveForProduct returns the normalized deposit rule for a product
func (r *RuleResolver) ResolveForProduct(ctx context.Context, productID int64) models.DepositRule {
	if rule, ok := r.ruleFromMeta(ctx, productID, models.RuleSourceProduct, r.catalog.GetProductMeta); ok {
		rule.Source = models.RuleSourceProduct
		return normalizeRule(rule)
	}

	categories, err := r.catalog.GetProductCategoryIDs(ctx, productID)
	if err != nil {
		r.logger.Warn("Failed to load product categories",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
	for _, categoryID := range categories {
		if rule, ok := r.ruleFromMeta(ctx, categoryID, models.RuleSourceCategory, r.catalog.GetCategoryMeta); ok {
			rule.Source = models.RuleSourceCategory
			return normalizeRule(rule)
		}
	}

	return normalizeRule(r.settings.DefaultRule(ctx))
}

type metaGetter func(ctx context.Context, id int64, key string) (string, error)

func (r *RuleResolver) ruleFromMeta(ctx context.Context, id int64, kind models.RuleSource, get metaGetter) (models.DepositRule, bool) {
	if r.meta(ctx, id, kind, get, store.MetaEnableRule) != "yes" {
		return models.DepositRule{}, false
	}
	return models.ParseDepositRule(
		r.meta(ctx, id, kind, get, store.MetaDepositType),
		r.meta(ctx, id, kind, get, store.MetaDepositValue),
		r.meta(ctx, id, kind, get, store.MetaPaymentMode),
	), true
}

// meta reads one metadata value; read failures count as unset
func (r *RuleResolver) meta(ctx context.Context, id int64, kind models.RuleSource, get metaGetter, key string) string {
	v, err := get(ctx, id, key)
	if err != nil {
		r.logger.Warn("Failed to read rule metadata",
			zap.String("kind", string(kind)),
			zap.Int64("id", id),
			zap.String("key", key),
			zap.Error(err))
		return ""
	}
	return strings.TrimSpace(v)
}

// normalizeRule clamps the value: percentages to [0,100], fixed amounts to >= 0
func normalizeRule(rule models.DepositRule) models.DepositRule {
	if rule.DepositType != models.DepositTypeFixed {
		rule.DepositType = models.DepositTypePercentage
	}
	if rule.PaymentMode != models.RuleModeMandatory {
		rule.PaymentMode = models.RuleModeOptional
	}
	rule.DepositValue = decimal.Max(rule.DepositValue, decimal.Zero)
	if rule.DepositType == models.DepositTypePercentage {
		rule.DepositValue = decimal.Min(rule.DepositValue, hundred)
	}
	return rule
}

// SanitizePaymentMode returns the payment mode a cart line may use under rule
func SanitizePaymentMode(selected string, rule models.DepositRule) models.PaymentMode {
	if rule.IsMandatory() {
		return models.PaymentModeDeposit
	}
	if mode, ok := models.ParsePaymentMode(strings.TrimSpace(selected)); ok {
		return mode
	}
	return models.PaymentModeFull
}

// ResolveDueTimestamp returns the balance due date for an order placed at from.
// Product due settings, when present, override the global ones. A fixed date that does not
// parse falls back to the relative rule.
func (r *RuleResolver) ResolveDueTimestamp(ctx context.Context, from int64, productID int64) int64 {
	dueType, fixed, relative := r.settings.DueDefaults(ctx)

	if productID > 0 {
		get := r.catalog.GetProductMeta
		if t, ok := models.ParseDueType(r.meta(ctx, productID, models.RuleSourceProduct, get, store.MetaDueType)); ok {
			dueType = t
		}
		if f := r.meta(ctx, productID, models.RuleSourceProduct, get, store.MetaDueFixedDate); f != "" {
			fixed = f
		}
		if n, err := strconv.Atoi(r.meta(ctx, productID, models.RuleSourceProduct, get, store.MetaDueRelative)); err == nil && n > 0 {
			relative = n
		}
	}

	if dueType == models.DueTypeFixed && fixed != "" {
		if ts, ok := r.EndOfDay(fixed); ok {
			return ts
		}
		r.logger.Warn("Unparseable fixed due date, using relative due date",
			zap.String("fixed_date", fixed),
			zap.Int64("product_id", productID))
	}

	base := r.now().Unix()
	if from > base {
		base = from
	}
	return base + int64(relative)*daySeconds
}

// EndOfDay parses a YYYY-MM-DD date and returns 23:59:59 of that day in the store timezone
func (r *RuleResolver) EndOfDay(date string) (int64, bool) {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", strings.TrimSpace(date)+" 23:59:59", r.loc)
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}
