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

// CreatePayment inserts a payment attempt record.
func (q *sqlQueries) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, provider_reference, api_ref, status, amount, phone_number, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return sqlx.GetContext(ctx, q.ext, payment, query,
		payment.OrderID, payment.ProviderReference, payment.APIRef,
		payment.Status, payment.Amount, payment.PhoneNumber, payment.Metadata)
}

// GetPaymentByProviderReference retrieves a payment by the provider's
// transaction id.
func (q *sqlQueries) GetPaymentByProviderReference(ctx context.Context, ref string) (*models.Payment, error) {
	var payment models.Payment
	err := sqlx.GetContext(ctx, q.ext, &payment,
		"SELECT * FROM payments WHERE provider_reference = $1", ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: provider_reference %q", ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByAPIRef retrieves a payment by the merchant-generated
// correlation id.
func (q *sqlQueries) GetPaymentByAPIRef(ctx context.Context, ref string) (*models.Payment, error) {
	var payment models.Payment
	err := sqlx.GetContext(ctx, q.ext, &payment,
		"SELECT * FROM payments WHERE api_ref = $1", ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: api_ref %q", ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindPaymentByPhoneAmount is the documented fallback for providers that
// omit a stable reference on first delivery: newest pending payment for the
// same mobile number and amount inside the time window.
func (q *sqlQueries) FindPaymentByPhoneAmount(ctx context.Context, phone string, amount int64, since time.Time) (*models.Payment, error) {
	var payment models.Payment
	err := sqlx.GetContext(ctx, q.ext, &payment, `
		SELECT * FROM payments
		WHERE phone_number = $1 AND amount = $2 AND status = $3 AND created_at >= $4
		ORDER BY created_at DESC
		LIMIT 1`,
		phone, amount, models.PaymentRecordPending, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: phone/amount window", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// MarkPaymentTerminal moves a payment to completed or failed. The status
// guard makes the write idempotent even under concurrent deliveries.
func (q *sqlQueries) MarkPaymentTerminal(ctx context.Context, paymentID int64, status string, providerRef *string) error {
	res, err := q.ext.ExecContext(ctx, `
		UPDATE payments SET
			status = $1,
			provider_reference = COALESCE($2, provider_reference),
			updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		status, providerRef, paymentID, models.PaymentRecordPending)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: payment %d not pending", ErrVersionConflict, paymentID)
	}
	return nil
}

// RecordWebhookEvent appends an audit row for an inbound provider
// notification. Unmatched rows are the manual reconciliation queue.
func (q *sqlQueries) RecordWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (provider, payload, outcome, payment_id, received_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return sqlx.GetContext(ctx, q.ext, &ev.ID, query,
		ev.Provider, ev.Payload, ev.Outcome, ev.PaymentID, ev.ReceivedAt)
}
