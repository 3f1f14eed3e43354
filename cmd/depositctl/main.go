// Command depositctl runs deposit maintenance operations from the shell.
//
//	depositctl cancel-overdue [--days N] [--limit N] [--dry-run] [--ignore-setting-gate]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"deposit-service/config"
	"deposit-service/internal/broker"
	"deposit-service/internal/models"
	"deposit-service/internal/notify"
	"deposit-service/internal/service"
	"deposit-service/internal/settings"
	"deposit-service/internal/store"
	"deposit-service/internal/util"

	"go.uber.org/zap"
)

const cliOverdueReason = "Cancelled via CLI overdue balance operation."

func main() {
	if len(os.Args) < 2 || os.Args[1] != "cancel-overdue" {
		fmt.Fprintln(os.Stderr, "usage: depositctl cancel-overdue [--days N] [--limit N] [--dry-run] [--ignore-setting-gate]")
		os.Exit(2)
	}

	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env, "depositctl"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	provider, err := settings.Open(db, cfg.Store.SettingsFile)
	if err != nil {
		logger.Fatal("Failed to load settings file", zap.Error(err))
	}
	ctx := context.Background()

	args, err := parseCancelOverdue(ctx, os.Args[2:], provider)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	depositProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicDepositEvents)
	defer depositProducer.Close()
	orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents)
	defer orderProducer.Close()
	notificationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer notificationProducer.Close()

	notifier := notify.NewNotifier(broker.NewNotificationPublisher(notificationProducer), provider, cfg.Store.URL, cfg.Store.Timezone)
	overdue := service.NewOverdueCanceller(db, provider, notifier, broker.NewEventPublisher(orderProducer, depositProducer))

	result, err := overdue.CancelOverdue(ctx, args)
	if err != nil {
		logger.Error("Overdue cancellation failed", zap.Error(err))
		os.Exit(1)
	}
	printResult(os.Stdout, args.DryRun, result)
}

// parseCancelOverdue reads cancel-overdue flags. Days fall back to the configured overdue days
// and never go below one; the limit defaults to 100 and never goes below one.
func parseCancelOverdue(ctx context.Context, argv []string, provider *settings.Provider) (service.OverdueCancelArgs, error) {
	_, settingDays := provider.AutoCancelOverdue(ctx)

	fs := flag.NewFlagSet("cancel-overdue", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	days := fs.Int("days", settingDays, "days past the due date")
	limit := fs.Int("limit", service.DefaultOverdueLimit, "maximum orders to process")
	dryRun := fs.Bool("dry-run", false, "list matching orders without cancelling them")
	ignoreGate := fs.Bool("ignore-setting-gate", false, "run even when auto-cancel is disabled")

	if err := fs.Parse(argv); err != nil {
		return service.OverdueCancelArgs{}, fmt.Errorf("cancel-overdue: %w", err)
	}

	return service.OverdueCancelArgs{
		OverdueDays:     maxInt(1, *days),
		Limit:           maxInt(1, *limit),
		Source:          service.SourceCLI,
		Reason:          cliOverdueReason,
		DryRun:          *dryRun,
		SkipSettingGate: *ignoreGate,
	}, nil
}

func printResult(w io.Writer, dryRun bool, result models.OverdueCancelResult) {
	ids := make([]string, len(result.IDs))
	for i, id := range result.IDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	list := strings.Join(ids, ", ")
	if list == "" {
		list = "none"
	}

	if dryRun {
		fmt.Fprintf(w, "Dry run complete. %d overdue balance order(s) matched. IDs: %s\n", result.Count, list)
		return
	}
	fmt.Fprintf(w, "Cancelled %d overdue balance order(s). IDs: %s\n", result.Count, list)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
