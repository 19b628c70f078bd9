package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sweepDB implements just enough of store.DB for a sweep: the embedded nil
// interface panics on anything the scheduler should never touch.
type sweepDB struct {
	store.DB
	mu       sync.Mutex
	orders   map[int64]*models.Order
	items    map[int64][]models.OrderItem
	balances map[string]int64
	credits  []models.LedgerEntry
}

func newSweepDB() *sweepDB {
	return &sweepDB{
		orders:   make(map[int64]*models.Order),
		items:    make(map[int64][]models.OrderItem),
		balances: make(map[string]int64),
	}
}

func (f *sweepDB) WithTx(_ context.Context, fn func(q store.Queries) error) error {
	return fn(f)
}

func (f *sweepDB) GetOrderForUpdate(_ context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (f *sweepDB) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderItem(nil), f.items[orderID]...), nil
}

func (f *sweepDB) ApplyOrderTransition(_ context.Context, orderID, expectedVersion int64, ch models.OrderChanges) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order := f.orders[orderID]
	if order.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	order.Status = ch.Status
	if ch.PaymentStatus != nil {
		order.PaymentStatus = *ch.PaymentStatus
	}
	if ch.AutoCancelledReason != nil {
		order.AutoCancelledReason = ch.AutoCancelledReason
	}
	if ch.CompletedAt != nil {
		order.CompletedAt = ch.CompletedAt
	}
	if ch.CancelledAt != nil {
		order.CancelledAt = ch.CancelledAt
	}
	order.Version++
	return nil
}

func (f *sweepDB) CreditLedger(_ context.Context, ownerType string, ownerID, amount int64, reason, refType string, refID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[ownerType] += amount
	f.credits = append(f.credits, models.LedgerEntry{
		OwnerType: ownerType, OwnerID: ownerID, Amount: amount, Reason: reason,
	})
	return nil
}

func (f *sweepDB) ListOverdueDropoffs(_ context.Context, now time.Time, _ int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, o := range f.orders {
		if o.Status == models.OrderStatusDeliveryPending &&
			o.SellerDropoffDeadline != nil && o.SellerDropoffDeadline.Before(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *sweepDB) ListOverduePickups(_ context.Context, now time.Time, _ int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, o := range f.orders {
		if o.Status == models.OrderStatusDeliveryComplete &&
			o.BuyerPickupDeadline != nil && o.BuyerPickupDeadline.Before(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *sweepDB) order(id int64) models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.orders[id]
}

type noopPublisher struct{}

func (noopPublisher) PublishIntent(context.Context, models.NotificationIntent) error { return nil }

func addOrder(db *sweepDB, id int64, status models.OrderStatus, dropoff, pickup *time.Time) {
	db.orders[id] = &models.Order{
		ID:                    id,
		BuyerID:               7,
		SellerID:              9,
		Status:                status,
		PaymentStatus:         models.PaymentStatusPaid,
		TotalAmount:           100000,
		Currency:              "KES",
		SellerDropoffDeadline: dropoff,
		BuyerPickupDeadline:   pickup,
		Version:               1,
	}
	db.items[id] = []models.OrderItem{
		{OrderID: id, ProductName: "widget", ProductType: models.ProductTypePhysical, UnitPrice: 100000, Quantity: 1},
	}
}

func newSweepScheduler(db *sweepDB) *DeadlineScheduler {
	sm := service.NewStateMachine(0.10, 48*time.Hour, 48*time.Hour)
	orders := service.NewOrderService(db, sm, noopPublisher{}, "KES")
	return NewDeadlineScheduler(db, orders, time.Minute)
}

func TestSweepCancelsOverdueDropoffs(t *testing.T) {
	db := newSweepDB()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	addOrder(db, 1, models.OrderStatusDeliveryPending, &past, nil)
	addOrder(db, 2, models.OrderStatusDeliveryPending, &future, nil)

	newSweepScheduler(db).sweep(context.Background())

	cancelled := db.order(1)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentStatusReversed, cancelled.PaymentStatus)
	require.NotNil(t, cancelled.AutoCancelledReason)

	// The buyer got the full amount back.
	require.Len(t, db.credits, 1)
	assert.Equal(t, models.OwnerTypeBuyer, db.credits[0].OwnerType)
	assert.Equal(t, int64(100000), db.credits[0].Amount)
	assert.Equal(t, "refund", db.credits[0].Reason)

	// The order still inside its window is untouched.
	assert.Equal(t, models.OrderStatusDeliveryPending, db.order(2).Status)
}

func TestSweepForceCompletesOverduePickups(t *testing.T) {
	db := newSweepDB()
	past := time.Now().Add(-time.Hour)

	addOrder(db, 1, models.OrderStatusDeliveryComplete, nil, &past)

	newSweepScheduler(db).sweep(context.Background())

	completed := db.order(1)
	assert.Equal(t, models.OrderStatusCompleted, completed.Status)

	// Escrow released to the seller, commission withheld.
	require.Len(t, db.credits, 1)
	assert.Equal(t, models.OwnerTypeSeller, db.credits[0].OwnerType)
	assert.Equal(t, int64(90000), db.credits[0].Amount)
	assert.Equal(t, "escrow_release", db.credits[0].Reason)
}

func TestSweepIsIdempotent(t *testing.T) {
	db := newSweepDB()
	past := time.Now().Add(-time.Hour)

	addOrder(db, 1, models.OrderStatusDeliveryPending, &past, nil)

	s := newSweepScheduler(db)
	s.sweep(context.Background())
	s.sweep(context.Background())

	// One refund, not two.
	assert.Len(t, db.credits, 1)
	assert.Equal(t, models.OrderStatusCancelled, db.order(1).Status)
}

func TestFireToleratesVanishedOrder(t *testing.T) {
	// An order deleted or transitioned between the listing query and the
	// locked read must not crash the sweep.
	s := newSweepScheduler(newSweepDB())

	assert.NotPanics(t, func() {
		s.fire(context.Background(), 999, service.EventDropoffTimeout, time.Now())
	})
}
