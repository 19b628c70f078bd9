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

// CreateWithdrawal inserts a payout request. The owner-exclusivity CHECK in
// the schema is the last line of defense; callers validate first.
func (q *sqlQueries) CreateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawal_requests (seller_id, organizer_id, event_id, amount, status, provider_reference)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return sqlx.GetContext(ctx, q.ext, w, query,
		w.SellerID, w.OrganizerID, w.EventID, w.Amount, w.Status, w.ProviderReference)
}

// GetWithdrawalByProviderReference retrieves a withdrawal by the provider's
// transfer reference.
func (q *sqlQueries) GetWithdrawalByProviderReference(ctx context.Context, ref string) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := sqlx.GetContext(ctx, q.ext, &w,
		"SELECT * FROM withdrawal_requests WHERE provider_reference = $1", ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: withdrawal reference %q", ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// FinishWithdrawal moves a processing withdrawal to its terminal status.
// The status guard makes replayed callbacks a no-op at the row level.
func (q *sqlQueries) FinishWithdrawal(ctx context.Context, id int64, status string, failureReason *string, processedAt time.Time) error {
	res, err := q.ext.ExecContext(ctx, `
		UPDATE withdrawal_requests SET
			status = $1,
			failure_reason = $2,
			processed_at = $3
		WHERE id = $4 AND status = $5`,
		status, failureReason, processedAt, id, models.WithdrawalStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to finish withdrawal: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: withdrawal %d not processing", ErrVersionConflict, id)
	}
	return nil
}
