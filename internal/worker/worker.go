package worker

import (
	"context"
	"time"

	"deposit-service/internal/broker"
	"deposit-service/internal/models"
	"deposit-service/internal/service"
	"deposit-service/internal/util"

	"go.uber.org/zap"
)

// OrderEventWorker feeds platform order events into the deposit engine
type OrderEventWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewOrderEventWorker creates a new order event worker
func NewOrderEventWorker(consumer *broker.Consumer, handler *service.OrderEventHandler) *OrderEventWorker {
	return &OrderEventWorker{
		consumer:     consumer,
		eventHandler: NewEventRouter(handler),
		logger:       util.GetLogger(),
	}
}

// NewEventRouter routes checkout-completed and status-changed messages to handler
func NewEventRouter(handler *service.OrderEventHandler) *broker.EventHandler {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnCheckoutCompleted(handler.HandleCheckoutCompleted)
	eventHandler.OnOrderStatusChanged(handler.HandleOrderStatusChanged)
	return eventHandler
}

// Start starts the worker
func (w *OrderEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting order event worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *OrderEventWorker) Stop() error {
	w.logger.Info("Stopping order event worker")
	return w.consumer.Close()
}

// JobQueue is the delayed job store polled by the reminder worker
type JobQueue interface {
	Schedule(ctx context.Context, at time.Time, job models.ScheduledJob) (bool, error)
	PopDue(ctx context.Context, now time.Time, limit int) ([]models.DueJob, error)
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

const (
	dueBatchSize     = 50
	retryDelay       = time.Minute
	maintenanceLock  = "daily_maintenance"
	maintenanceLease = 10 * time.Minute
)

// ReminderWorker runs due reminder and maintenance jobs
type ReminderWorker struct {
	queue     JobQueue
	reminders *service.ReminderScheduler
	overdue   *service.OverdueCanceller
	interval  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewReminderWorker creates a worker polling queue every interval
func NewReminderWorker(queue JobQueue, reminders *service.ReminderScheduler, overdue *service.OverdueCanceller, interval time.Duration) *ReminderWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ReminderWorker{
		queue:     queue,
		reminders: reminders,
		overdue:   overdue,
		interval:  interval,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// Start polls until ctx is done
func (w *ReminderWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting reminder worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("Failed to run due jobs", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Stopping reminder worker")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs every job that is due and returns how many were taken
func (w *ReminderWorker) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		now := w.now()
		jobs, err := w.queue.PopDue(ctx, now, dueBatchSize)
		if err != nil {
			return total, err
		}

		for _, due := range jobs {
			util.ScheduledJobLatency.Observe(float64(now.Unix() - due.RunAt))
			w.dispatch(ctx, due)
		}
		total += len(jobs)

		if len(jobs) < dueBatchSize || ctx.Err() != nil {
			return total, nil
		}
	}
}

func (w *ReminderWorker) dispatch(ctx context.Context, due models.DueJob) {
	job := due.Job

	if job.IntervalSeconds > 0 {
		w.rearm(ctx, due)
	}

	var err error
	switch job.Name {
	case models.JobBalanceReminder:
		_, err = w.reminders.HandleReminder(ctx, job.OrderID, job.Offset)
	case models.JobDailyMaintenance:
		err = w.runMaintenance(ctx)
	default:
		w.logger.Warn("Dropping unknown scheduled job", zap.String("name", job.Name))
		return
	}

	if err == nil {
		return
	}

	w.logger.Error("Scheduled job failed",
		zap.String("job", job.Key()),
		zap.Error(err))

	// recurring jobs already have their next run
	if job.IntervalSeconds > 0 {
		return
	}
	if _, err := w.queue.Schedule(ctx, w.now().Add(retryDelay), job); err != nil {
		w.logger.Error("Failed to reschedule job", zap.String("job", job.Key()), zap.Error(err))
	}
}

// rearm schedules the next occurrence of a recurring job, skipping missed occurrences
func (w *ReminderWorker) rearm(ctx context.Context, due models.DueJob) {
	now := w.now().Unix()
	next := due.RunAt + due.Job.IntervalSeconds
	for next <= now {
		next += due.Job.IntervalSeconds
	}

	if _, err := w.queue.Schedule(ctx, time.Unix(next, 0), due.Job); err != nil {
		w.logger.Error("Failed to re-arm recurring job",
			zap.String("job", due.Job.Key()),
			zap.Error(err))
	}
}

// runMaintenance runs the gated overdue sweep on one instance at a time
func (w *ReminderWorker) runMaintenance(ctx context.Context) error {
	token, err := w.queue.AcquireLock(ctx, maintenanceLock, maintenanceLease)
	if err != nil {
		return err
	}
	if token == "" {
		w.logger.Info("Daily maintenance already running elsewhere")
		return nil
	}
	defer func() {
		if err := w.queue.ReleaseLock(ctx, maintenanceLock, token); err != nil {
			w.logger.Warn("Failed to release maintenance lock", zap.Error(err))
		}
	}()

	args := w.overdue.DefaultArgs(ctx)
	args.Source = service.SourceDailyCron
	args.Reason = service.DefaultOverdueReason

	result, err := w.overdue.CancelOverdue(ctx, args)
	if err != nil {
		return err
	}
	w.logger.Info("Daily maintenance finished", zap.Int("cancelled", result.Count))
	return nil
}
