package models

import (
	"encoding/json"
	"time"
)

// OrderStatus is the closed set of order lifecycle states. Orders move
// between states only through the state machine's transition table.
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "PENDING"
	OrderStatusDeliveryPending   OrderStatus = "DELIVERY_PENDING"
	OrderStatusDeliveryComplete  OrderStatus = "DELIVERY_COMPLETE"
	OrderStatusServicePending    OrderStatus = "SERVICE_PENDING"
	OrderStatusCollectionPending OrderStatus = "COLLECTION_PENDING"
	OrderStatusConfirmed         OrderStatus = "CONFIRMED"
	OrderStatusCompleted         OrderStatus = "COMPLETED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
	OrderStatusFailed            OrderStatus = "FAILED"
)

// IsTerminal reports whether no further transition is permitted.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// PaymentStatus is the order-level payment state.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusReversed PaymentStatus = "reversed"
)

// ProductType classifies order items; it determines which branch of the
// lifecycle the order follows after payment.
type ProductType string

const (
	ProductTypePhysical ProductType = "physical"
	ProductTypeDigital  ProductType = "digital"
	ProductTypeService  ProductType = "service"
)

// Order represents a buyer's purchase from one seller. Amounts are integer
// minor currency units; total_amount is immutable once paid.
type Order struct {
	ID                    int64         `db:"id" json:"id"`
	OrderNumber           string        `db:"order_number" json:"order_number"`
	BuyerID               int64         `db:"buyer_id" json:"buyer_id"`
	SellerID              int64         `db:"seller_id" json:"seller_id"`
	Status                OrderStatus   `db:"status" json:"status"`
	PaymentStatus         PaymentStatus `db:"payment_status" json:"payment_status"`
	TotalAmount           int64         `db:"total_amount" json:"total_amount"`
	Currency              string        `db:"currency" json:"currency"`
	ShippingAddress       *string       `db:"shipping_address" json:"shipping_address,omitempty"`
	SellerDropoffDeadline *time.Time    `db:"seller_dropoff_deadline" json:"seller_dropoff_deadline,omitempty"`
	BuyerPickupDeadline   *time.Time    `db:"buyer_pickup_deadline" json:"buyer_pickup_deadline,omitempty"`
	ReadyForPickupAt      *time.Time    `db:"ready_for_pickup_at" json:"ready_for_pickup_at,omitempty"`
	AutoCancelledReason   *string       `db:"auto_cancelled_reason" json:"auto_cancelled_reason,omitempty"`
	PaidAt                *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	CompletedAt           *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt           *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
	Version               int64         `db:"version" json:"version"`
	CreatedAt             time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time     `db:"updated_at" json:"updated_at"`
}

// OrderItem is a product snapshot captured at purchase time.
type OrderItem struct {
	ID          int64       `db:"id" json:"id"`
	OrderID     int64       `db:"order_id" json:"order_id"`
	ProductName string      `db:"product_name" json:"product_name"`
	ProductType ProductType `db:"product_type" json:"product_type"`
	UnitPrice   int64       `db:"unit_price" json:"unit_price"`
	Quantity    int         `db:"quantity" json:"quantity"`
}

// Payment statuses (provider-side collection attempts)
const (
	PaymentRecordPending   = "pending"
	PaymentRecordCompleted = "completed"
	PaymentRecordFailed    = "failed"
)

// Payment represents one attempt to collect funds via the external provider.
// ProviderReference is the idempotency key: once the record is terminal it is
// never re-processed.
type Payment struct {
	ID                int64           `db:"id" json:"id"`
	OrderID           *int64          `db:"order_id" json:"order_id,omitempty"`
	ProviderReference *string         `db:"provider_reference" json:"provider_reference,omitempty"`
	APIRef            string          `db:"api_ref" json:"api_ref"`
	Status            string          `db:"status" json:"status"`
	Amount            int64           `db:"amount" json:"amount"`
	PhoneNumber       *string         `db:"phone_number" json:"phone_number,omitempty"`
	Metadata          json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the payment has reached a final status.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentRecordCompleted || p.Status == PaymentRecordFailed
}

// Withdrawal statuses
const (
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusFailed     = "failed"
)

// WithdrawalRequest is a payout of ledger balance. Exactly one of SellerID
// or OrganizerID is set; EventID may accompany OrganizerID only.
type WithdrawalRequest struct {
	ID                int64      `db:"id" json:"id"`
	SellerID          *int64     `db:"seller_id" json:"seller_id,omitempty"`
	OrganizerID       *int64     `db:"organizer_id" json:"organizer_id,omitempty"`
	EventID           *int64     `db:"event_id" json:"event_id,omitempty"`
	Amount            int64      `db:"amount" json:"amount"`
	Status            string     `db:"status" json:"status"`
	ProviderReference *string    `db:"provider_reference" json:"provider_reference,omitempty"`
	FailureReason     *string    `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	ProcessedAt       *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// IsTerminal reports whether the withdrawal has reached a final status.
func (w *WithdrawalRequest) IsTerminal() bool {
	return w.Status == WithdrawalStatusCompleted || w.Status == WithdrawalStatusFailed
}

// Ledger account owner types
const (
	OwnerTypeSeller    = "seller"
	OwnerTypeBuyer     = "buyer"
	OwnerTypeOrganizer = "organizer"
)

// LedgerAccount holds a materialized balance per owner. The balance column
// is mutated only inside the transaction that persists the causing event.
type LedgerAccount struct {
	ID        int64     `db:"id" json:"id"`
	OwnerType string    `db:"owner_type" json:"owner_type"`
	OwnerID   int64     `db:"owner_id" json:"owner_id"`
	Balance   int64     `db:"balance" json:"balance"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Ledger movement directions
const (
	LedgerDirectionCredit = "credit"
	LedgerDirectionDebit  = "debit"
)

// LedgerEntry is an append-only signed movement tied 1:1 to the order or
// withdrawal transition that caused it.
type LedgerEntry struct {
	ID        string    `db:"id" json:"id"`
	OwnerType string    `db:"owner_type" json:"owner_type"`
	OwnerID   int64     `db:"owner_id" json:"owner_id"`
	Direction string    `db:"direction" json:"direction"`
	Amount    int64     `db:"amount" json:"amount"`
	Reason    string    `db:"reason" json:"reason"`
	RefType   string    `db:"ref_type" json:"ref_type"`
	RefID     int64     `db:"ref_id" json:"ref_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Webhook event outcomes
const (
	WebhookOutcomeProcessed    = "processed"
	WebhookOutcomeDuplicate    = "duplicate"
	WebhookOutcomeUnmatched    = "unmatched"
	WebhookOutcomeManualReview = "manual_review"
	WebhookOutcomeError        = "error"
)

// WebhookEvent is the audit record for every inbound provider notification.
// Unmatched rows form the manual reconciliation queue.
type WebhookEvent struct {
	ID         int64           `db:"id" json:"id"`
	Provider   string          `db:"provider" json:"provider"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Outcome    string          `db:"outcome" json:"outcome"`
	PaymentID  *int64          `db:"payment_id" json:"payment_id,omitempty"`
	ReceivedAt time.Time       `db:"received_at" json:"received_at"`
}
