package models

import "time"

// OrderChanges is the set of order field updates a state transition
// produces. The caller persists them together with the causing event in a
// single transaction; nil pointer fields are left untouched.
type OrderChanges struct {
	Status                OrderStatus
	PaymentStatus         *PaymentStatus
	SellerDropoffDeadline *time.Time
	BuyerPickupDeadline   *time.Time
	ReadyForPickupAt      *time.Time
	AutoCancelledReason   *string
	PaidAt                *time.Time
	CompletedAt           *time.Time
	CancelledAt           *time.Time
}

// LedgerMovement is a money-movement intent produced by a transition.
type LedgerMovement struct {
	OwnerType string
	OwnerID   int64
	Direction string
	Amount    int64
	Reason    string
}
