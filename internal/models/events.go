package models

import "time"

// Recipient roles for notification intents
const (
	RecipientBuyer     = "buyer"
	RecipientSeller    = "seller"
	RecipientOrganizer = "organizer"
	RecipientLogistics = "logistics"
)

// Notification templates. Delivery channel selection (email/WhatsApp/SMS)
// belongs to the consumer, not to the state machine.
const (
	TemplateOrderPaid           = "order_paid"
	TemplateOrderReadyForPickup = "order_ready_for_pickup"
	TemplateOrderCompleted      = "order_completed"
	TemplateOrderCancelled      = "order_cancelled"
	TemplateDropoffRequested    = "dropoff_requested"
	TemplateWithdrawalCompleted = "withdrawal_completed"
	TemplateWithdrawalFailed    = "withdrawal_failed"
)

// NotificationIntent is a delivery request emitted by a state transition.
// It is published after the transaction commits; delivery failures never
// propagate back into the transition result.
type NotificationIntent struct {
	EventID       string            `json:"event_id"`
	RecipientRole string            `json:"recipient_role"`
	OrderID       int64             `json:"order_id"`
	Template      string            `json:"template"`
	Data          map[string]string `json:"data,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
