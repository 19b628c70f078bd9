package service

import (
	"fmt"
	"time"

	"marketplace-service/internal/fees"
	"marketplace-service/internal/models"

	"github.com/google/uuid"
)

// Event is a lifecycle event applied to an order.
type Event string

const (
	EventPaymentConfirmed Event = "payment_confirmed"
	EventSellerReady      Event = "seller_marked_ready"
	EventBuyerConfirmed   Event = "buyer_confirmed"
	EventCancel           Event = "cancel"
	EventDropoffTimeout   Event = "dropoff_timeout"
	EventPickupTimeout    Event = "pickup_timeout"
)

// Initiator identifies who triggered a transition.
type Initiator string

const (
	InitiatorBuyer  Initiator = "buyer"
	InitiatorSeller Initiator = "seller"
	InitiatorSystem Initiator = "system"
)

// ReasonDropoffTimeout is recorded on orders auto-cancelled because the
// seller never marked them ready within the dropoff deadline.
const ReasonDropoffTimeout = "seller dropoff timeout"

// TransitionInput carries an event and its context into the state machine.
type TransitionInput struct {
	Event     Event
	Initiator Initiator
	Reason    string
	Now       time.Time
}

// TransitionResult is what a transition yields: the target state, the field
// updates, and the effect intents for the caller to execute. The state
// machine itself performs no I/O.
type TransitionResult struct {
	From          models.OrderStatus
	To            models.OrderStatus
	NoOp          bool
	Changes       models.OrderChanges
	Ledger        []models.LedgerMovement
	Notifications []models.NotificationIntent
}

// StateMachine owns the order lifecycle rules. It is pure and safe for
// concurrent use.
type StateMachine struct {
	commissionRate  float64
	dropoffDeadline time.Duration
	pickupDeadline  time.Duration
}

// NewStateMachine creates a state machine with the platform commission rate
// and the two 48-hour-style deadline windows.
func NewStateMachine(commissionRate float64, dropoffDeadline, pickupDeadline time.Duration) *StateMachine {
	return &StateMachine{
		commissionRate:  commissionRate,
		dropoffDeadline: dropoffDeadline,
		pickupDeadline:  pickupDeadline,
	}
}

// allowedSources is the transition table: the states each event may fire
// from. Target resolution and guards live beside it in apply functions.
var allowedSources = map[Event][]models.OrderStatus{
	EventPaymentConfirmed: {models.OrderStatusPending},
	EventSellerReady:      {models.OrderStatusDeliveryPending},
	EventBuyerConfirmed: {
		models.OrderStatusDeliveryComplete,
		models.OrderStatusServicePending,
		models.OrderStatusCollectionPending,
		models.OrderStatusConfirmed,
	},
	EventCancel: {
		models.OrderStatusPending,
		models.OrderStatusDeliveryPending,
		models.OrderStatusDeliveryComplete,
		models.OrderStatusServicePending,
		models.OrderStatusCollectionPending,
		models.OrderStatusConfirmed,
	},
	EventDropoffTimeout: {models.OrderStatusDeliveryPending},
	EventPickupTimeout:  {models.OrderStatusDeliveryComplete},
}

// Apply runs one event against an order and returns the transition result.
// Re-applying an event whose target the order already occupies is a no-op,
// so webhook retries and concurrent sweeps converge instead of erroring.
func (m *StateMachine) Apply(order *models.Order, items []models.OrderItem, in TransitionInput) (*TransitionResult, error) {
	target := m.resolveTarget(order, items, in.Event)

	if order.Status == target {
		return &TransitionResult{From: order.Status, To: target, NoOp: true}, nil
	}
	if in.Event == EventPaymentConfirmed && order.PaymentStatus == models.PaymentStatusPaid {
		return &TransitionResult{From: order.Status, To: order.Status, NoOp: true}, nil
	}

	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s on order %d in %s", ErrInvalidTransition, in.Event, order.ID, order.Status)
	}

	if !sourceAllowed(in.Event, order.Status) {
		return nil, fmt.Errorf("%w: %s not applicable to order %d in %s", ErrGuardViolation, in.Event, order.ID, order.Status)
	}

	switch in.Event {
	case EventPaymentConfirmed:
		return m.applyPaymentConfirmed(order, target, in)
	case EventSellerReady:
		return m.applySellerReady(order, in)
	case EventBuyerConfirmed:
		return m.applyRelease(order, in, false)
	case EventCancel:
		return m.applyCancel(order, in)
	case EventDropoffTimeout:
		return m.applyDropoffTimeout(order, in)
	case EventPickupTimeout:
		return m.applyPickupTimeout(order, in)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrValidation, in.Event)
	}
}

// resolveTarget returns the state the event drives toward, used both for the
// idempotent no-op check and for routing the post-payment branch by item type.
func (m *StateMachine) resolveTarget(order *models.Order, items []models.OrderItem, event Event) models.OrderStatus {
	switch event {
	case EventPaymentConfirmed:
		return postPaymentStatus(items)
	case EventSellerReady:
		return models.OrderStatusDeliveryComplete
	case EventBuyerConfirmed, EventPickupTimeout:
		return models.OrderStatusCompleted
	case EventCancel, EventDropoffTimeout:
		return models.OrderStatusCancelled
	}
	return order.Status
}

// postPaymentStatus routes a freshly paid order: any physical item puts the
// order on the dropoff/pickup chain; otherwise service items take precedence
// over purely digital ones.
func postPaymentStatus(items []models.OrderItem) models.OrderStatus {
	hasService := false
	for _, item := range items {
		switch item.ProductType {
		case models.ProductTypePhysical:
			return models.OrderStatusDeliveryPending
		case models.ProductTypeService:
			hasService = true
		}
	}
	if hasService {
		return models.OrderStatusServicePending
	}
	return models.OrderStatusCollectionPending
}

func sourceAllowed(event Event, from models.OrderStatus) bool {
	for _, s := range allowedSources[event] {
		if s == from {
			return true
		}
	}
	return false
}

func (m *StateMachine) applyPaymentConfirmed(order *models.Order, target models.OrderStatus, in TransitionInput) (*TransitionResult, error) {
	paid := models.PaymentStatusPaid
	now := in.Now

	res := &TransitionResult{
		From: order.Status,
		To:   target,
		Changes: models.OrderChanges{
			Status:        target,
			PaymentStatus: &paid,
			PaidAt:        &now,
		},
	}

	res.Notifications = append(res.Notifications,
		m.intent(order, models.RecipientBuyer, models.TemplateOrderPaid, now, nil),
		m.intent(order, models.RecipientSeller, models.TemplateOrderPaid, now, nil),
	)

	if target == models.OrderStatusDeliveryPending {
		deadline := now.Add(m.dropoffDeadline)
		res.Changes.SellerDropoffDeadline = &deadline
		res.Notifications = append(res.Notifications,
			m.intent(order, models.RecipientLogistics, models.TemplateDropoffRequested, now, map[string]string{
				"dropoff_deadline": deadline.Format(time.RFC3339),
			}))
	}

	return res, nil
}

func (m *StateMachine) applySellerReady(order *models.Order, in TransitionInput) (*TransitionResult, error) {
	now := in.Now
	if order.SellerDropoffDeadline != nil && now.After(*order.SellerDropoffDeadline) {
		return nil, fmt.Errorf("%w: dropoff deadline elapsed for order %d", ErrGuardViolation, order.ID)
	}

	pickupDeadline := now.Add(m.pickupDeadline)
	return &TransitionResult{
		From: order.Status,
		To:   models.OrderStatusDeliveryComplete,
		Changes: models.OrderChanges{
			Status:              models.OrderStatusDeliveryComplete,
			BuyerPickupDeadline: &pickupDeadline,
			ReadyForPickupAt:    &now,
		},
		Notifications: []models.NotificationIntent{
			m.intent(order, models.RecipientBuyer, models.TemplateOrderReadyForPickup, now, map[string]string{
				"pickup_deadline": pickupDeadline.Format(time.RFC3339),
			}),
			m.intent(order, models.RecipientSeller, models.TemplateOrderReadyForPickup, now, nil),
		},
	}, nil
}

// applyRelease handles both buyer confirmation and the pickup-timeout
// force-release; both credit the seller with the commission-adjusted payout.
func (m *StateMachine) applyRelease(order *models.Order, in TransitionInput, forced bool) (*TransitionResult, error) {
	now := in.Now

	_, payout, err := fees.Split(order.TotalAmount, m.commissionRate)
	if err != nil {
		return nil, fmt.Errorf("computing payout for order %d: %w", order.ID, err)
	}

	var data map[string]string
	if forced {
		data = map[string]string{"forced": "true"}
	}

	return &TransitionResult{
		From: order.Status,
		To:   models.OrderStatusCompleted,
		Changes: models.OrderChanges{
			Status:      models.OrderStatusCompleted,
			CompletedAt: &now,
		},
		Ledger: []models.LedgerMovement{{
			OwnerType: models.OwnerTypeSeller,
			OwnerID:   order.SellerID,
			Direction: models.LedgerDirectionCredit,
			Amount:    payout,
			Reason:    "escrow_release",
		}},
		Notifications: []models.NotificationIntent{
			m.intent(order, models.RecipientBuyer, models.TemplateOrderCompleted, now, data),
			m.intent(order, models.RecipientSeller, models.TemplateOrderCompleted, now, data),
		},
	}, nil
}

func (m *StateMachine) applyCancel(order *models.Order, in TransitionInput) (*TransitionResult, error) {
	now := in.Now

	res := &TransitionResult{
		From: order.Status,
		To:   models.OrderStatusCancelled,
		Changes: models.OrderChanges{
			Status:      models.OrderStatusCancelled,
			CancelledAt: &now,
		},
	}

	if in.Initiator == InitiatorSystem {
		reason := in.Reason
		res.Changes.AutoCancelledReason = &reason
	}

	// Funds move back to the buyer only if the provider collected them.
	if order.PaymentStatus == models.PaymentStatusPaid {
		reversed := models.PaymentStatusReversed
		res.Changes.PaymentStatus = &reversed
		res.Ledger = append(res.Ledger, models.LedgerMovement{
			OwnerType: models.OwnerTypeBuyer,
			OwnerID:   order.BuyerID,
			Direction: models.LedgerDirectionCredit,
			Amount:    order.TotalAmount,
			Reason:    "refund",
		})
	}

	data := map[string]string{"initiator": string(in.Initiator)}
	if in.Reason != "" {
		data["reason"] = in.Reason
	}
	res.Notifications = append(res.Notifications,
		m.intent(order, models.RecipientBuyer, models.TemplateOrderCancelled, now, data),
		m.intent(order, models.RecipientSeller, models.TemplateOrderCancelled, now, data),
		m.intent(order, models.RecipientLogistics, models.TemplateOrderCancelled, now, map[string]string{
			"initiator":      string(in.Initiator),
			"do_not_process": "true",
		}),
	)

	return res, nil
}

func (m *StateMachine) applyDropoffTimeout(order *models.Order, in TransitionInput) (*TransitionResult, error) {
	if order.SellerDropoffDeadline == nil || !in.Now.After(*order.SellerDropoffDeadline) {
		return nil, fmt.Errorf("%w: dropoff deadline not elapsed for order %d", ErrGuardViolation, order.ID)
	}
	return m.applyCancel(order, TransitionInput{
		Event:     EventCancel,
		Initiator: InitiatorSystem,
		Reason:    ReasonDropoffTimeout,
		Now:       in.Now,
	})
}

// applyPickupTimeout force-releases escrow to the seller. The seller fulfilled
// their side of the order; an absent buyer forfeits the refund path.
func (m *StateMachine) applyPickupTimeout(order *models.Order, in TransitionInput) (*TransitionResult, error) {
	if order.BuyerPickupDeadline == nil || !in.Now.After(*order.BuyerPickupDeadline) {
		return nil, fmt.Errorf("%w: pickup deadline not elapsed for order %d", ErrGuardViolation, order.ID)
	}
	return m.applyRelease(order, in, true)
}

func (m *StateMachine) intent(order *models.Order, role, template string, now time.Time, data map[string]string) models.NotificationIntent {
	return models.NotificationIntent{
		EventID:       uuid.New().String(),
		RecipientRole: role,
		OrderID:       order.ID,
		Template:      template,
		Data:          data,
		CreatedAt:     now,
	}
}
