package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"deposit-service/internal/models"
	"deposit-service/internal/service"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerWith(t *testing.T, values map[string]string) *settings.Provider {
	t.Helper()
	p := settings.NewProvider(store.NewMemoryStore(), nil)
	for k, v := range values {
		require.NoError(t, p.Set(context.Background(), k, v))
	}
	return p
}

func TestParseCancelOverdue_Defaults(t *testing.T) {
	args, err := parseCancelOverdue(context.Background(), nil, providerWith(t, nil))
	require.NoError(t, err)

	assert.Equal(t, 7, args.OverdueDays)
	assert.Equal(t, service.DefaultOverdueLimit, args.Limit)
	assert.Equal(t, service.SourceCLI, args.Source)
	assert.Equal(t, cliOverdueReason, args.Reason)
	assert.False(t, args.DryRun)
	assert.False(t, args.SkipSettingGate)
}

func TestParseCancelOverdue_DaysFromSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auto_cancel_overdue_enabled: yes\nauto_cancel_overdue_days: 12\n"), 0o600))

	provider, err := settings.Open(store.NewMemoryStore(), path)
	require.NoError(t, err)

	args, err := parseCancelOverdue(context.Background(), nil, provider)
	require.NoError(t, err)
	assert.Equal(t, 12, args.OverdueDays)

	enabled, _ := provider.AutoCancelOverdue(context.Background())
	assert.True(t, enabled)
}

func TestParseCancelOverdue_Flags(t *testing.T) {
	ctx := context.Background()
	args, err := parseCancelOverdue(ctx, []string{"--days", "0", "--limit", "-5", "--dry-run", "--ignore-setting-gate"}, providerWith(t, nil))
	require.NoError(t, err)

	assert.Equal(t, 1, args.OverdueDays)
	assert.Equal(t, 1, args.Limit)
	assert.True(t, args.DryRun)
	assert.True(t, args.SkipSettingGate)

	args, err = parseCancelOverdue(ctx, nil, providerWith(t, map[string]string{settings.KeyAutoCancelOverdueDays: "0"}))
	require.NoError(t, err)
	assert.Equal(t, 1, args.OverdueDays)

	_, err = parseCancelOverdue(ctx, []string{"--days", "many"}, providerWith(t, nil))
	assert.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, true, models.OverdueCancelResult{Count: 2, IDs: []int64{11, 12}})
	assert.Equal(t, "Dry run complete. 2 overdue balance order(s) matched. IDs: 11, 12\n", buf.String())

	buf.Reset()
	printResult(&buf, false, models.OverdueCancelResult{IDs: []int64{}})
	assert.Equal(t, "Cancelled 0 overdue balance order(s). IDs: none\n", buf.String())
}
