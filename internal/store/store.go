package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrVersionConflict is returned when an optimistic version check fails,
	// meaning a concurrent transition won the race on the same order.
	ErrVersionConflict = errors.New("store: order version conflict")

	// ErrInsufficientBalance is returned when a ledger debit exceeds the
	// account's available balance. The balance is left unchanged.
	ErrInsufficientBalance = errors.New("store: insufficient ledger balance")
)

// Queries is the persistence surface consumed by the services. Every method
// is composable into a single atomic unit of work via DB.WithTx.
type Queries interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ApplyOrderTransition(ctx context.Context, orderID, expectedVersion int64, ch models.OrderChanges) error
	ListOverdueDropoffs(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ListOverduePickups(ctx context.Context, now time.Time, limit int) ([]int64, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByProviderReference(ctx context.Context, ref string) (*models.Payment, error)
	GetPaymentByAPIRef(ctx context.Context, ref string) (*models.Payment, error)
	FindPaymentByPhoneAmount(ctx context.Context, phone string, amount int64, since time.Time) (*models.Payment, error)
	MarkPaymentTerminal(ctx context.Context, paymentID int64, status string, providerRef *string) error

	CreditLedger(ctx context.Context, ownerType string, ownerID, amount int64, reason, refType string, refID int64) error
	DebitLedger(ctx context.Context, ownerType string, ownerID, amount int64, reason, refType string, refID int64) error
	GetLedgerBalance(ctx context.Context, ownerType string, ownerID int64) (int64, error)

	CreateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error
	GetWithdrawalByProviderReference(ctx context.Context, ref string) (*models.WithdrawalRequest, error)
	FinishWithdrawal(ctx context.Context, id int64, status string, failureReason *string, processedAt time.Time) error

	RecordWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error
}

// DB is the full persistence collaborator: plain queries against the pool
// plus transactional composition.
type DB interface {
	Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
}

// Store is the Postgres-backed implementation of DB.
type Store struct {
	sqlQueries
	db *sqlx.DB
}

var _ DB = (*Store)(nil)

// NewStore connects to Postgres and returns a ready store.
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{sqlQueries: sqlQueries{ext: db}, db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a single database transaction. Any error rolls the
// whole unit of work back; nothing partial is ever committed.
func (s *Store) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlQueries{ext: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// sqlQueries implements Queries against either the pool or a transaction.
type sqlQueries struct {
	ext sqlx.ExtContext
}

var _ Queries = (*sqlQueries)(nil)
