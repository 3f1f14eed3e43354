// Package notify composes customer and admin messages for the deposit lifecycle and hands them
// to a Sender. Delivery is fire-and-forget: failures are logged and counted, never returned.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deposit-service/internal/models"
	"deposit-service/internal/settings"
	"deposit-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DateLayout is used for due dates in messages and notes
const DateLayout = "January 2, 2006"

// Sender delivers a message
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Notifier builds lifecycle messages
type Notifier struct {
	sender   Sender
	settings *settings.Provider
	storeURL string
	loc      *time.Location
	logger   *zap.Logger
}

// NewNotifier creates a notifier; payment links are built on storeURL
func NewNotifier(sender Sender, provider *settings.Provider, storeURL string, loc *time.Location) *Notifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Notifier{
		sender:   sender,
		settings: provider,
		storeURL: strings.TrimRight(storeURL, "/"),
		loc:      loc,
		logger:   util.GetLogger(),
	}
}

// PaymentURL returns the checkout link for paying an order
func (n *Notifier) PaymentURL(orderID int64) string {
	return fmt.Sprintf("%s/checkout/order-pay/%d", n.storeURL, orderID)
}

// FormatDate renders a unix timestamp in the store timezone, "N/A" when unset
func (n *Notifier) FormatDate(ts int64) string {
	if ts <= 0 {
		return "N/A"
	}
	return time.Unix(ts, 0).In(n.loc).Format(DateLayout)
}

// FormatAmount renders an amount at store precision with its currency code
func (n *Notifier) FormatAmount(ctx context.Context, amount decimal.Decimal, currency string) string {
	value := amount.StringFixed(n.settings.PriceDecimals(ctx))
	if currency == "" {
		return value
	}
	return currency + " " + value
}

// DepositConfirmation tells the customer the deposit arrived and how to pay the balance
func (n *Notifier) DepositConfirmation(ctx context.Context, deposit, balance *models.Order) {
	if deposit.BillingEmail == "" {
		return
	}

	subject := fmt.Sprintf("Deposit received for order #%d", deposit.ID)
	body := fmt.Sprintf("Hi %s,\n\nYour deposit payment of %s was received.\nRemaining balance: %s\nDue date: %s\n\nPay remaining balance: %s\n",
		deposit.BillingFirstName,
		n.FormatAmount(ctx, deposit.Total, deposit.Currency),
		n.FormatAmount(ctx, balance.Total, balance.Currency),
		n.FormatDate(balance.BalanceDueDate),
		n.PaymentURL(balance.ID),
	)

	n.send(ctx, "deposit_confirmation", deposit.BillingEmail, subject, body)
}

// BalanceReminder reminds the customer of an upcoming or due balance
func (n *Notifier) BalanceReminder(ctx context.Context, balance *models.Order, daysBefore int) {
	if balance.BillingEmail == "" {
		return
	}

	subject := "Balance payment due today"
	if daysBefore != 0 {
		subject = fmt.Sprintf("Balance payment due in %d day(s)", daysBefore)
	}
	body := fmt.Sprintf("Your remaining balance of %s is due on %s.\n\nPay now: %s\n",
		n.FormatAmount(ctx, balance.Total, balance.Currency),
		n.FormatDate(balance.BalanceDueDate),
		n.PaymentURL(balance.ID),
	)

	if n.send(ctx, "balance_reminder", balance.BillingEmail, subject, body) {
		util.RemindersSentTotal.Inc()
	}
}

// BalanceReceipt confirms the balance payment. Returns false when the order has no recipient.
func (n *Notifier) BalanceReceipt(ctx context.Context, balance *models.Order) bool {
	if balance.BillingEmail == "" {
		return false
	}

	subject := fmt.Sprintf("Balance payment received for order #%d", balance.ID)
	body := fmt.Sprintf("We have received your remaining balance payment of %s. Thank you.",
		n.FormatAmount(ctx, balance.Total, balance.Currency))

	n.send(ctx, "balance_receipt", balance.BillingEmail, subject, body)
	return true
}

// OverdueSummary reports an overdue sweep to the store admin
func (n *Notifier) OverdueSummary(ctx context.Context, source string, overdueDays int, dryRun bool, result models.OverdueCancelResult) {
	to := n.settings.AdminEmail(ctx)
	if !strings.Contains(to, "@") {
		return
	}

	ids := make([]string, len(result.IDs))
	for i, id := range result.IDs {
		ids[i] = fmt.Sprint(id)
	}
	dry := "no"
	if dryRun {
		dry = "yes"
	}

	subject := fmt.Sprintf("[Deposits] %s overdue cancellation summary (%d)", source, result.Count)
	body := fmt.Sprintf("Source: %s\nCancelled Orders: %d\nOverdue Threshold (days): %d\nDry Run: %s\nOrder IDs: %s",
		source, result.Count, overdueDays, dry, strings.Join(ids, ","))

	n.send(ctx, "overdue_summary", to, subject, body)
}

func (n *Notifier) send(ctx context.Context, kind, to, subject, body string) bool {
	if n.sender == nil {
		return false
	}
	if err := n.sender.Send(ctx, to, subject, body); err != nil {
		util.NotificationsFailedTotal.WithLabelValues(kind).Inc()
		n.logger.Error("Failed to send notification",
			zap.String("kind", kind),
			zap.String("to", to),
			zap.Error(err))
		return false
	}
	return true
}
