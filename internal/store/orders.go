package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"deposit-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// CreateOrder creates an order together with its lines
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertOrder(ctx, tx, order); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateBalanceOrder inserts balance and links parent to it in one transaction
func (s *Store) CreateBalanceOrder(ctx context.Context, parent, balance *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// lock the parent so concurrent creations serialize on it
	var linked int64
	err = tx.GetContext(ctx, &linked,
		"SELECT balance_order_id FROM orders WHERE id = $1 FOR UPDATE", parent.ID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, parent.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock parent order: %w", err)
	}
	if linked > 0 {
		return fmt.Errorf("%w: order %d has balance order %d", ErrAlreadyLinked, parent.ID, linked)
	}

	if err := insertOrder(ctx, tx, balance); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET balance_order_id = $1, has_deposit = $2, deposit_amount = $3,
			remaining_amount = $4, balance_due_date = $5, updated_at = NOW()
		WHERE id = $6`,
		balance.ID, parent.HasDeposit, parent.DepositAmount, parent.RemainingAmount,
		parent.BalanceDueDate, parent.ID)
	if err != nil {
		return fmt.Errorf("failed to link parent order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	parent.BalanceOrderID = balance.ID
	return nil
}

func insertOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	query := `
		INSERT INTO orders (customer_id, status, currency, total, total_tax, shipping_total,
			billing_email, billing_first_name, billing_address, shipping_address, customer_note,
			is_balance_order, deposit_parent_order_id, balance_order_id, has_deposit,
			deposit_amount, remaining_amount, balance_due_date, receipt_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, created_at, updated_at`

	err := tx.QueryRowxContext(ctx, query,
		order.CustomerID, order.Status, order.Currency, order.Total, order.TotalTax, order.ShippingTotal,
		order.BillingEmail, order.BillingFirstName, order.BillingAddress, order.ShippingAddress, order.CustomerNote,
		order.IsBalanceOrder, order.DepositParentOrderID, order.BalanceOrderID, order.HasDeposit,
		order.DepositAmount, order.RemainingAmount, order.BalanceDueDate, order.ReceiptSent,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		line.OrderID = order.ID
		err = tx.GetContext(ctx, &line.ID, `
			INSERT INTO order_lines (order_id, product_id, kind, name, quantity, subtotal, total,
				payment_mode, full_line_total, deposit_line_total, remaining_line_total, meta)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id`,
			line.OrderID, line.ProductID, line.Kind, line.Name, line.Quantity, line.Subtotal, line.Total,
			line.PaymentMode, line.FullLineTotal, line.DepositLineTotal, line.RemainingLineTotal, line.Meta)
		if err != nil {
			return fmt.Errorf("failed to insert order line: %w", err)
		}
	}
	return nil
}

// GetOrderByID retrieves an order with its lines
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &order.Lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load order lines: %w", err)
	}
	return &order, nil
}

// SaveDepositMeta writes the deposit linkage fields of an order. The receipt flag is only
// written by ClaimReceipt.
func (s *Store) SaveDepositMeta(ctx context.Context, order *models.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET is_balance_order = $1, deposit_parent_order_id = $2, balance_order_id = $3,
			has_deposit = $4, deposit_amount = $5, remaining_amount = $6, balance_due_date = $7,
			total = $8, updated_at = NOW()
		WHERE id = $9`,
		order.IsBalanceOrder, order.DepositParentOrderID, order.BalanceOrderID,
		order.HasDeposit, order.DepositAmount, order.RemainingAmount, order.BalanceDueDate,
		order.Total, order.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, order.ID)
}

// ClaimReceipt flips receipt_sent from false to true; only one caller ever wins
func (s *Store) ClaimReceipt(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET receipt_sent = TRUE, updated_at = NOW() WHERE id = $1 AND receipt_sent = FALSE", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateOrderStatus updates order status and records note when given
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status, note string) (string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var old string
	err = tx.GetContext(ctx, &old, "SELECT status FROM orders WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2", status, id); err != nil {
		return "", err
	}

	if note != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO order_notes (order_id, note) VALUES ($1, $2)", id, note); err != nil {
			return "", err
		}
	}

	return old, tx.Commit()
}

// AddOrderNote appends an audit note
func (s *Store) AddOrderNote(ctx context.Context, id int64, note string) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO order_notes (order_id, note) VALUES ($1, $2)", id, note)
	return err
}

// GetOrderNotes returns the notes of an order, oldest first
func (s *Store) GetOrderNotes(ctx context.Context, id int64) ([]models.OrderNote, error) {
	var notes []models.OrderNote
	err := s.db.SelectContext(ctx, &notes,
		"SELECT * FROM order_notes WHERE order_id = $1 ORDER BY id", id)
	return notes, err
}

// FindBalanceOrders lists balance orders matching q, without lines
func (s *Store) FindBalanceOrders(ctx context.Context, q BalanceOrderQuery) ([]models.Order, error) {
	var (
		where = []string{"is_balance_order = TRUE"}
		args  []interface{}
	)

	if len(q.Statuses) > 0 {
		args = append(args, pq.Array(q.Statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if q.DueOnOrBefore > 0 {
		args = append(args, q.DueOnOrBefore)
		where = append(where, fmt.Sprintf("balance_due_date > 0 AND balance_due_date <= $%d", len(args)))
	}

	query := "SELECT * FROM orders WHERE " + strings.Join(where, " AND ")
	if q.NewestFirst {
		query += " ORDER BY created_at DESC, id DESC"
	} else {
		query += " ORDER BY balance_due_date ASC, id ASC"
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// CreateRefund records a refund and adds it to the order's refunded total
func (s *Store) CreateRefund(ctx context.Context, refund *models.Refund) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO refunds (order_id, amount, reason) VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		refund.OrderID, refund.Amount, refund.Reason).Scan(&refund.ID, &refund.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET total_refunded = total_refunded + $1, updated_at = NOW() WHERE id = $2",
		refund.Amount, refund.OrderID)
	if err != nil {
		return err
	}
	if err := requireAffected(res, refund.OrderID); err != nil {
		return err
	}

	return tx.Commit()
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

func requireAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return nil
}
