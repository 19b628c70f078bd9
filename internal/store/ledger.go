package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreditLedger adds funds to an owner's balance, creating the account on
// first use, and appends the entry tying the movement to its cause.
func (q *sqlQueries) CreditLedger(ctx context.Context, ownerType string, ownerID, amount int64, reason, refType string, refID int64) error {
	if amount < 0 {
		return fmt.Errorf("ledger credit amount must be non-negative: %d", amount)
	}

	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO ledger_accounts (owner_type, owner_id, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_type, owner_id)
		DO UPDATE SET balance = ledger_accounts.balance + EXCLUDED.balance, updated_at = NOW()`,
		ownerType, ownerID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit ledger: %w", err)
	}

	return q.insertLedgerEntry(ctx, ownerType, ownerID, models.LedgerDirectionCredit, amount, reason, refType, refID)
}

// DebitLedger removes funds from an owner's balance. The balance guard lives
// in the conditional UPDATE: an over-debit affects zero rows, returns
// ErrInsufficientBalance, and leaves the balance unchanged.
func (q *sqlQueries) DebitLedger(ctx context.Context, ownerType string, ownerID, amount int64, reason, refType string, refID int64) error {
	if amount < 0 {
		return fmt.Errorf("ledger debit amount must be non-negative: %d", amount)
	}

	res, err := q.ext.ExecContext(ctx, `
		UPDATE ledger_accounts
		SET balance = balance - $3, updated_at = NOW()
		WHERE owner_type = $1 AND owner_id = $2 AND balance >= $3`,
		ownerType, ownerID, amount)
	if err != nil {
		return fmt.Errorf("failed to debit ledger: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %d debit %d", ErrInsufficientBalance, ownerType, ownerID, amount)
	}

	return q.insertLedgerEntry(ctx, ownerType, ownerID, models.LedgerDirectionDebit, amount, reason, refType, refID)
}

// GetLedgerBalance returns the materialized balance; accounts that have
// never moved money report zero.
func (q *sqlQueries) GetLedgerBalance(ctx context.Context, ownerType string, ownerID int64) (int64, error) {
	var balance int64
	err := sqlx.GetContext(ctx, q.ext, &balance,
		"SELECT balance FROM ledger_accounts WHERE owner_type = $1 AND owner_id = $2",
		ownerType, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (q *sqlQueries) insertLedgerEntry(ctx context.Context, ownerType string, ownerID int64, direction string, amount int64, reason, refType string, refID int64) error {
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, owner_type, owner_id, direction, amount, reason, ref_type, ref_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), ownerType, ownerID, direction, amount, reason, refType, refID)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}
