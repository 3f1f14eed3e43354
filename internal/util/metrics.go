package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BalanceOrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "balance_orders_created_total",
		Help: "Total number of balance orders created",
	})

	BalanceOrdersSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "balance_orders_skipped_total",
		Help: "Checkout completions that did not produce a balance order",
	}, []string{"reason"})

	RemindersScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "balance_reminders_scheduled_total",
		Help: "Total number of balance reminders scheduled",
	})

	RemindersSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "balance_reminders_sent_total",
		Help: "Total number of balance reminders sent",
	})

	RemindersDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "balance_reminders_dropped_total",
		Help: "Reminders dropped because the balance order was no longer unpaid",
	})

	OverdueOrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overdue_balance_orders_cancelled_total",
		Help: "Total number of overdue balance orders cancelled",
	}, []string{"source"})

	DepositRefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_refunds_total",
		Help: "Deposit refunds attempted on parent cancellation",
	}, []string{"result"})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total number of notifications that could not be sent",
	}, []string{"kind"})

	ScheduledJobLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduled_job_latency_seconds",
		Help:    "Delay between a scheduled job's due time and its execution",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
