package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
)

// fakeDB is an in-memory store.DB for service tests. It enforces the same
// guards as the SQL implementation: optimistic version checks on order
// transitions, balance checks on debits, and status guards on terminal
// updates. WithTx has no rollback; tests only assert on committed paths.
type fakeDB struct {
	mu          sync.Mutex
	orders      map[int64]*models.Order
	items       map[int64][]models.OrderItem
	payments    map[int64]*models.Payment
	withdrawals map[int64]*models.WithdrawalRequest
	balances    map[string]int64
	entries     []models.LedgerEntry
	webhooks    []models.WebhookEvent
	nextID      int64
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		orders:      make(map[int64]*models.Order),
		items:       make(map[int64][]models.OrderItem),
		payments:    make(map[int64]*models.Payment),
		withdrawals: make(map[int64]*models.WithdrawalRequest),
		balances:    make(map[string]int64),
	}
}

var _ store.DB = (*fakeDB)(nil)

func (f *fakeDB) WithTx(_ context.Context, fn func(q store.Queries) error) error {
	return fn(f)
}

func (f *fakeDB) id() int64 {
	f.nextID++
	return f.nextID
}

func balanceKey(ownerType string, ownerID int64) string {
	return fmt.Sprintf("%s:%d", ownerType, ownerID)
}

func (f *fakeDB) CreateOrder(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order.ID = f.id()
	order.Version = 1
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeDB) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = f.id()
	f.items[item.OrderID] = append(f.items[item.OrderID], *item)
	return nil
}

func (f *fakeDB) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (f *fakeDB) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return f.GetOrderByID(ctx, id)
}

func (f *fakeDB) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderItem(nil), f.items[orderID]...), nil
}

func (f *fakeDB) ApplyOrderTransition(_ context.Context, orderID, expectedVersion int64, ch models.OrderChanges) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	if order.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	order.Status = ch.Status
	if ch.PaymentStatus != nil {
		order.PaymentStatus = *ch.PaymentStatus
	}
	if ch.SellerDropoffDeadline != nil {
		order.SellerDropoffDeadline = ch.SellerDropoffDeadline
	}
	if ch.BuyerPickupDeadline != nil {
		order.BuyerPickupDeadline = ch.BuyerPickupDeadline
	}
	if ch.ReadyForPickupAt != nil {
		order.ReadyForPickupAt = ch.ReadyForPickupAt
	}
	if ch.AutoCancelledReason != nil {
		order.AutoCancelledReason = ch.AutoCancelledReason
	}
	if ch.PaidAt != nil {
		order.PaidAt = ch.PaidAt
	}
	if ch.CompletedAt != nil {
		order.CompletedAt = ch.CompletedAt
	}
	if ch.CancelledAt != nil {
		order.CancelledAt = ch.CancelledAt
	}
	order.Version++
	order.UpdatedAt = time.Now()
	return nil
}

func (f *fakeDB) ListOverdueDropoffs(_ context.Context, now time.Time, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, o := range f.orders {
		if o.Status == models.OrderStatusDeliveryPending &&
			o.SellerDropoffDeadline != nil && o.SellerDropoffDeadline.Before(now) {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (f *fakeDB) ListOverduePickups(_ context.Context, now time.Time, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, o := range f.orders {
		if o.Status == models.OrderStatusDeliveryComplete &&
			o.BuyerPickupDeadline != nil && o.BuyerPickupDeadline.Before(now) {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (f *fakeDB) CreatePayment(_ context.Context, payment *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment.ID = f.id()
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt
	cp := *payment
	f.payments[payment.ID] = &cp
	return nil
}

func (f *fakeDB) GetPaymentByProviderReference(_ context.Context, ref string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.ProviderReference != nil && *p.ProviderReference == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeDB) GetPaymentByAPIRef(_ context.Context, ref string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.APIRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeDB) FindPaymentByPhoneAmount(_ context.Context, phone string, amount int64, since time.Time) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *models.Payment
	for _, p := range f.payments {
		if p.Status != models.PaymentRecordPending || p.PhoneNumber == nil {
			continue
		}
		if *p.PhoneNumber != phone || p.Amount != amount || p.CreatedAt.Before(since) {
			continue
		}
		if newest == nil || p.CreatedAt.After(newest.CreatedAt) {
			newest = p
		}
	}
	if newest == nil {
		return nil, store.ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (f *fakeDB) MarkPaymentTerminal(_ context.Context, paymentID int64, status string, providerRef *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok {
		return store.ErrNotFound
	}
	if p.Status != models.PaymentRecordPending {
		return store.ErrVersionConflict
	}
	p.Status = status
	if providerRef != nil {
		p.ProviderReference = providerRef
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (f *fakeDB) CreditLedger(_ context.Context, ownerType string, ownerID, amount int64, reason, refType string, refID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[balanceKey(ownerType, ownerID)] += amount
	f.entries = append(f.entries, models.LedgerEntry{
		OwnerType: ownerType, OwnerID: ownerID,
		Direction: models.LedgerDirectionCredit,
		Amount:    amount, Reason: reason, RefType: refType, RefID: refID,
		CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeDB) DebitLedger(_ context.Context, ownerType string, ownerID, amount int64, reason, refType string, refID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := balanceKey(ownerType, ownerID)
	if f.balances[key] < amount {
		return store.ErrInsufficientBalance
	}
	f.balances[key] -= amount
	f.entries = append(f.entries, models.LedgerEntry{
		OwnerType: ownerType, OwnerID: ownerID,
		Direction: models.LedgerDirectionDebit,
		Amount:    amount, Reason: reason, RefType: refType, RefID: refID,
		CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeDB) GetLedgerBalance(_ context.Context, ownerType string, ownerID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[balanceKey(ownerType, ownerID)], nil
}

func (f *fakeDB) CreateWithdrawal(_ context.Context, w *models.WithdrawalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.ID = f.id()
	w.CreatedAt = time.Now()
	cp := *w
	f.withdrawals[w.ID] = &cp
	return nil
}

func (f *fakeDB) GetWithdrawalByProviderReference(_ context.Context, ref string) (*models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.withdrawals {
		if w.ProviderReference != nil && *w.ProviderReference == ref {
			cp := *w
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeDB) FinishWithdrawal(_ context.Context, id int64, status string, failureReason *string, processedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.withdrawals[id]
	if !ok {
		return store.ErrNotFound
	}
	if w.Status != models.WithdrawalStatusProcessing {
		return store.ErrVersionConflict
	}
	w.Status = status
	w.FailureReason = failureReason
	w.ProcessedAt = &processedAt
	return nil
}

func (f *fakeDB) RecordWebhookEvent(_ context.Context, ev *models.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.ID = f.id()
	f.webhooks = append(f.webhooks, *ev)
	return nil
}

func (f *fakeDB) balance(ownerType string, ownerID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[balanceKey(ownerType, ownerID)]
}

func (f *fakeDB) order(id int64) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.orders[id]
	return &cp
}

func (f *fakeDB) payment(id int64) *models.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.payments[id]
	return &cp
}

// fakePublisher records published intents; failAll makes every publish fail.
type fakePublisher struct {
	mu      sync.Mutex
	intents []models.NotificationIntent
	failAll bool
}

func (p *fakePublisher) PublishIntent(_ context.Context, intent models.NotificationIntent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAll {
		return errors.New("broker unavailable")
	}
	p.intents = append(p.intents, intent)
	return nil
}

func (p *fakePublisher) published() []models.NotificationIntent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.NotificationIntent(nil), p.intents...)
}
