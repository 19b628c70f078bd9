package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrder inserts a new order and fills in its generated fields.
func (q *sqlQueries) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_number, buyer_id, seller_id, status, payment_status,
			total_amount, currency, shipping_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, version, created_at, updated_at`

	return sqlx.GetContext(ctx, q.ext, order, query,
		order.OrderNumber, order.BuyerID, order.SellerID, order.Status,
		order.PaymentStatus, order.TotalAmount, order.Currency, order.ShippingAddress)
}

// CreateOrderItem inserts a product snapshot line.
func (q *sqlQueries) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_name, product_type, unit_price, quantity)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return sqlx.GetContext(ctx, q.ext, &item.ID, query,
		item.OrderID, item.ProductName, item.ProductType, item.UnitPrice, item.Quantity)
}

// GetOrderByID retrieves an order by ID
func (q *sqlQueries) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.ext, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderForUpdate retrieves an order with a row lock, serializing
// concurrent transitions on the same order. Only valid inside WithTx.
func (q *sqlQueries) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.ext, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (q *sqlQueries) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, q.ext, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// ApplyOrderTransition persists a transition's field updates with an
// optimistic version check; zero rows affected means a concurrent transition
// won and the caller must re-read and retry.
func (q *sqlQueries) ApplyOrderTransition(ctx context.Context, orderID, expectedVersion int64, ch models.OrderChanges) error {
	query := `
		UPDATE orders SET
			status = $1,
			payment_status = COALESCE($2, payment_status),
			seller_dropoff_deadline = COALESCE($3, seller_dropoff_deadline),
			buyer_pickup_deadline = COALESCE($4, buyer_pickup_deadline),
			ready_for_pickup_at = COALESCE($5, ready_for_pickup_at),
			auto_cancelled_reason = COALESCE($6, auto_cancelled_reason),
			paid_at = COALESCE($7, paid_at),
			completed_at = COALESCE($8, completed_at),
			cancelled_at = COALESCE($9, cancelled_at),
			version = version + 1,
			updated_at = NOW()
		WHERE id = $10 AND version = $11`

	res, err := q.ext.ExecContext(ctx, query,
		ch.Status, ch.PaymentStatus, ch.SellerDropoffDeadline, ch.BuyerPickupDeadline,
		ch.ReadyForPickupAt, ch.AutoCancelledReason, ch.PaidAt, ch.CompletedAt,
		ch.CancelledAt, orderID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to apply transition: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: order %d version %d", ErrVersionConflict, orderID, expectedVersion)
	}
	return nil
}

// ListOverdueDropoffs returns orders still awaiting seller dropoff past
// their deadline.
func (q *sqlQueries) ListOverdueDropoffs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, q.ext, &ids, `
		SELECT id FROM orders
		WHERE status = $1 AND seller_dropoff_deadline < $2
		ORDER BY seller_dropoff_deadline
		LIMIT $3`,
		models.OrderStatusDeliveryPending, now, limit)
	return ids, err
}

// ListOverduePickups returns orders still awaiting buyer pickup past their
// deadline.
func (q *sqlQueries) ListOverduePickups(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, q.ext, &ids, `
		SELECT id FROM orders
		WHERE status = $1 AND buyer_pickup_deadline < $2
		ORDER BY buyer_pickup_deadline
		LIMIT $3`,
		models.OrderStatusDeliveryComplete, now, limit)
	return ids, err
}
