package service

import (
	"testing"
	"time"

	"deposit-service/internal/models"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveForProduct_GlobalDefault(t *testing.T) {
	env := newTestEnv(t)
	p := env.product("Tour", "200")

	rule := env.rules.ResolveForProduct(env.ctx, p.ID)

	assert.Equal(t, models.DepositTypePercentage, rule.DepositType)
	assert.True(t, rule.DepositValue.Equal(dec("20")))
	assert.Equal(t, models.RuleModeOptional, rule.PaymentMode)
	assert.Equal(t, models.RuleSourceGlobal, rule.Source)
}

func TestResolveForProduct_Precedence(t *testing.T) {
	env := newTestEnv(t)
	p := env.product("Tour", "200")
	env.store.AssignCategories(p.ID, 10, 11)

	// category 10 has values but is not enabled; 11 is the first enabled category
	env.categoryMeta(10, map[string]string{store.MetaDepositType: "fixed", store.MetaDepositValue: "5"})
	env.categoryMeta(11, map[string]string{
		store.MetaEnableRule:   "yes",
		store.MetaDepositType:  "fixed",
		store.MetaDepositValue: "30",
		store.MetaPaymentMode:  "mandatory",
	})

	rule := env.rules.ResolveForProduct(env.ctx, p.ID)
	assert.Equal(t, models.RuleSourceCategory, rule.Source)
	assert.Equal(t, models.DepositTypeFixed, rule.DepositType)
	assert.True(t, rule.DepositValue.Equal(dec("30")))
	assert.True(t, rule.IsMandatory())

	env.productMeta(p.ID, map[string]string{
		store.MetaEnableRule:   "yes",
		store.MetaDepositType:  "percentage",
		store.MetaDepositValue: "40",
	})

	rule = env.rules.ResolveForProduct(env.ctx, p.ID)
	assert.Equal(t, models.RuleSourceProduct, rule.Source)
	assert.Equal(t, models.DepositTypePercentage, rule.DepositType)
	assert.True(t, rule.DepositValue.Equal(dec("40")))
	assert.Equal(t, models.RuleModeOptional, rule.PaymentMode)
}

func TestResolveForProduct_Normalizes(t *testing.T) {
	tests := []struct {
		name      string
		depType   string
		value     string
		mode      string
		wantType  models.DepositType
		wantValue string
		wantMode  models.RuleMode
	}{
		{"percentage above 100", "percentage", "150", "optional", models.DepositTypePercentage, "100", models.RuleModeOptional},
		{"negative fixed", "fixed", "-10", "mandatory", models.DepositTypeFixed, "0", models.RuleModeMandatory},
		{"unknown enums", "weird", "15", "sometimes", models.DepositTypePercentage, "15", models.RuleModeOptional},
		{"non-numeric value", "fixed", "abc", "optional", models.DepositTypeFixed, "0", models.RuleModeOptional},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			p := env.product("Tour", "200")
			env.productMeta(p.ID, map[string]string{
				store.MetaEnableRule:   "yes",
				store.MetaDepositType:  tt.depType,
				store.MetaDepositValue: tt.value,
				store.MetaPaymentMode:  tt.mode,
			})

			rule := env.rules.ResolveForProduct(env.ctx, p.ID)
			assert.Equal(t, tt.wantType, rule.DepositType)
			assert.True(t, rule.DepositValue.Equal(dec(tt.wantValue)), "got %s", rule.DepositValue)
			assert.Equal(t, tt.wantMode, rule.PaymentMode)
		})
	}
}

func TestSanitizePaymentMode(t *testing.T) {
	optional := models.DepositRule{PaymentMode: models.RuleModeOptional}
	mandatory := models.DepositRule{PaymentMode: models.RuleModeMandatory}

	assert.Equal(t, models.PaymentModeDeposit, SanitizePaymentMode("full", mandatory))
	assert.Equal(t, models.PaymentModeDeposit, SanitizePaymentMode("", mandatory))
	assert.Equal(t, models.PaymentModeDeposit, SanitizePaymentMode("deposit", optional))
	assert.Equal(t, models.PaymentModeFull, SanitizePaymentMode("full", optional))
	assert.Equal(t, models.PaymentModeFull, SanitizePaymentMode("instalments", optional))
}

func TestResolveDueTimestamp(t *testing.T) {
	t.Run("relative from now", func(t *testing.T) {
		env := newTestEnv(t)
		due := env.rules.ResolveDueTimestamp(env.ctx, 0, 0)
		assert.Equal(t, testNow.Add(days(30)).Unix(), due)
	})

	t.Run("relative from a later start", func(t *testing.T) {
		env := newTestEnv(t)
		from := testNow.Add(days(2)).Unix()
		due := env.rules.ResolveDueTimestamp(env.ctx, from, 0)
		assert.Equal(t, from+30*daySeconds, due)
	})

	t.Run("fixed date is end of day", func(t *testing.T) {
		env := newTestEnv(t)
		env.set(settings.KeyDefaultDueType, "fixed")
		env.set(settings.KeyDefaultDueFixedDate, "2030-03-01")

		due := env.rules.ResolveDueTimestamp(env.ctx, 0, 0)
		assert.Equal(t, time.Date(2030, 3, 1, 23, 59, 59, 0, time.UTC).Unix(), due)
	})

	t.Run("fixed date in store timezone", func(t *testing.T) {
		env := newTestEnv(t)
		loc := time.FixedZone("UTC+2", 2*3600)
		env.rules.loc = loc
		env.set(settings.KeyDefaultDueType, "fixed")
		env.set(settings.KeyDefaultDueFixedDate, "2030-03-01")

		due := env.rules.ResolveDueTimestamp(env.ctx, 0, 0)
		assert.Equal(t, time.Date(2030, 3, 1, 23, 59, 59, 0, loc).Unix(), due)
	})

	t.Run("unparseable fixed date falls back to relative", func(t *testing.T) {
		env := newTestEnv(t)
		env.set(settings.KeyDefaultDueType, "fixed")
		env.set(settings.KeyDefaultDueFixedDate, "next tuesday")
		env.set(settings.KeyDefaultDueRelative, "10")

		due := env.rules.ResolveDueTimestamp(env.ctx, 0, 0)
		assert.Equal(t, testNow.Add(days(10)).Unix(), due)
	})

	t.Run("product overrides global", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.product("Tour", "200")
		env.productMeta(p.ID, map[string]string{
			store.MetaDueType:      "fixed",
			store.MetaDueFixedDate: "2030-06-30",
		})

		due := env.rules.ResolveDueTimestamp(env.ctx, 0, p.ID)
		assert.Equal(t, time.Date(2030, 6, 30, 23, 59, 59, 0, time.UTC).Unix(), due)

		env.productMeta(p.ID, map[string]string{store.MetaDueType: "relative", store.MetaDueRelative: "5"})
		due = env.rules.ResolveDueTimestamp(env.ctx, 0, p.ID)
		assert.Equal(t, testNow.Add(days(5)).Unix(), due)
	})
}

func TestEndOfDay(t *testing.T) {
	env := newTestEnv(t)

	ts, ok := env.rules.EndOfDay("2030-12-31")
	require.True(t, ok)
	assert.Equal(t, time.Date(2030, 12, 31, 23, 59, 59, 0, time.UTC).Unix(), ts)

	for _, bad := range []string{"", "31/12/2030", "2030-13-01", "tomorrow"} {
		_, ok := env.rules.EndOfDay(bad)
		assert.False(t, ok, bad)
	}
}
