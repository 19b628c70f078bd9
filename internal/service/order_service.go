package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxTransitionRetries bounds re-reads after an optimistic version conflict.
const maxTransitionRetries = 3

// NotificationPublisher hands notification intents to the delivery pipeline.
// Publish failures are logged and swallowed; they never roll back a
// committed transition.
type NotificationPublisher interface {
	PublishIntent(ctx context.Context, intent models.NotificationIntent) error
}

// OrderService owns checkout and every order lifecycle entry point. All
// status mutations flow through the state machine; nothing else writes
// order.status or order.payment_status.
type OrderService struct {
	db        store.DB
	sm        *StateMachine
	publisher NotificationPublisher
	logger    *zap.Logger
	currency  string
}

// NewOrderService creates a new order service
func NewOrderService(db store.DB, sm *StateMachine, publisher NotificationPublisher, currency string) *OrderService {
	return &OrderService{
		db:        db,
		sm:        sm,
		publisher: publisher,
		logger:    util.GetLogger(),
		currency:  currency,
	}
}

// CreateOrderRequest represents a buyer checkout.
type CreateOrderRequest struct {
	BuyerID         int64              `json:"buyer_id" binding:"required"`
	SellerID        int64              `json:"seller_id" binding:"required"`
	Items           []OrderItemRequest `json:"items" binding:"required,min=1"`
	ShippingAddress string             `json:"shipping_address,omitempty"`
	PhoneNumber     string             `json:"phone_number,omitempty"`
}

// OrderItemRequest is a line in a checkout request.
type OrderItemRequest struct {
	ProductName string             `json:"product_name" binding:"required"`
	ProductType models.ProductType `json:"product_type" binding:"required"`
	UnitPrice   int64              `json:"unit_price" binding:"required,min=0"`
	Quantity    int                `json:"quantity" binding:"required,min=1"`
}

// CreateOrderResponse is returned after checkout; APIRef correlates the
// pending payment with the provider's asynchronous notification.
type CreateOrderResponse struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"total_amount"`
	APIRef      string `json:"api_ref"`
}

// CreateOrder creates the order, its item snapshots, and the pending payment
// attempt in one transaction. The order starts in PENDING and only the
// provider's payment confirmation moves it forward.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := validateItems(req.Items); err != nil {
		return nil, err
	}

	var total int64
	for _, item := range req.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}

	order := &models.Order{
		OrderNumber:   newOrderNumber(),
		BuyerID:       req.BuyerID,
		SellerID:      req.SellerID,
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		TotalAmount:   total,
		Currency:      s.currency,
	}
	if req.ShippingAddress != "" {
		order.ShippingAddress = &req.ShippingAddress
	}

	apiRef := uuid.New().String()

	err := s.db.WithTx(ctx, func(q store.Queries) error {
		if err := q.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		for _, item := range req.Items {
			orderItem := &models.OrderItem{
				OrderID:     order.ID,
				ProductName: item.ProductName,
				ProductType: item.ProductType,
				UnitPrice:   item.UnitPrice,
				Quantity:    item.Quantity,
			}
			if err := q.CreateOrderItem(ctx, orderItem); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
		}

		payment := &models.Payment{
			OrderID: &order.ID,
			APIRef:  apiRef,
			Status:  models.PaymentRecordPending,
			Amount:  total,
		}
		if req.PhoneNumber != "" {
			payment.PhoneNumber = &req.PhoneNumber
		}
		if err := q.CreatePayment(ctx, payment); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("total_amount", total))

	return &CreateOrderResponse{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		TotalAmount: total,
		APIRef:      apiRef,
	}, nil
}

// GetOrder retrieves an order with its items.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.db.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.db.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// MarkReadyForPickup is the seller's dropoff confirmation.
func (s *OrderService) MarkReadyForPickup(ctx context.Context, orderID, sellerID int64) (*TransitionResult, error) {
	return s.Trigger(ctx, orderID, TransitionInput{
		Event:     EventSellerReady,
		Initiator: InitiatorSeller,
		Now:       time.Now(),
	}, &sellerID)
}

// ConfirmReceipt is the buyer's confirmation; it releases escrow.
func (s *OrderService) ConfirmReceipt(ctx context.Context, orderID, buyerID int64) (*TransitionResult, error) {
	return s.Trigger(ctx, orderID, TransitionInput{
		Event:     EventBuyerConfirmed,
		Initiator: InitiatorBuyer,
		Now:       time.Now(),
	}, &buyerID)
}

// Cancel cancels a non-terminal order, refunding the buyer if funds were
// collected.
func (s *OrderService) Cancel(ctx context.Context, orderID int64, initiator Initiator, reason string) (*TransitionResult, error) {
	return s.Trigger(ctx, orderID, TransitionInput{
		Event:     EventCancel,
		Initiator: initiator,
		Reason:    reason,
		Now:       time.Now(),
	}, nil)
}

// Trigger runs one lifecycle event to completion: lock the order, apply the
// state machine, persist the transition and its ledger movements atomically,
// then dispatch notifications. Version conflicts re-read and retry a bounded
// number of times; a no-op result is returned as-is so webhook retries and
// concurrent sweeps stay silent.
func (s *OrderService) Trigger(ctx context.Context, orderID int64, in TransitionInput, actorID *int64) (*TransitionResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Trigger")
	defer span.End()

	var result *TransitionResult
	var err error

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		err = s.db.WithTx(ctx, func(q store.Queries) error {
			var txErr error
			result, txErr = s.applyEvent(ctx, q, orderID, in, actorID)
			return txErr
		})
		if errors.Is(err, store.ErrVersionConflict) {
			util.TransitionConflictsTotal.Inc()
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, result)
	return result, nil
}

// applyEvent is the transactional half of Trigger; the reconciler reuses it
// so a payment update and its order transition share one commit.
func (s *OrderService) applyEvent(ctx context.Context, q store.Queries, orderID int64, in TransitionInput, actorID *int64) (*TransitionResult, error) {
	order, err := q.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := checkActor(order, in, actorID); err != nil {
		return nil, err
	}

	items, err := q.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}

	result, err := s.sm.Apply(order, items, in)
	if err != nil {
		return nil, err
	}
	if result.NoOp {
		return result, nil
	}

	if err := q.ApplyOrderTransition(ctx, orderID, order.Version, result.Changes); err != nil {
		return nil, err
	}

	for _, mv := range result.Ledger {
		if err := applyMovement(ctx, q, mv, "order", orderID); err != nil {
			return nil, err
		}
	}

	util.OrderTransitionsTotal.WithLabelValues(string(result.From), string(result.To)).Inc()
	return result, nil
}

// dispatch publishes the transition's notification intents. Failures are
// logged and dropped: a slow or failing channel must never surface into the
// transition result.
func (s *OrderService) dispatch(ctx context.Context, result *TransitionResult) {
	if result == nil || result.NoOp {
		return
	}
	for _, intent := range result.Notifications {
		if err := s.publisher.PublishIntent(ctx, intent); err != nil {
			util.NotificationsDroppedTotal.Inc()
			s.logger.Error("Failed to publish notification intent",
				zap.Int64("order_id", intent.OrderID),
				zap.String("template", intent.Template),
				zap.Error(err))
			continue
		}
		util.NotificationsPublishedTotal.Inc()
	}
}

func applyMovement(ctx context.Context, q store.Queries, mv models.LedgerMovement, refType string, refID int64) error {
	var err error
	switch mv.Direction {
	case models.LedgerDirectionCredit:
		err = q.CreditLedger(ctx, mv.OwnerType, mv.OwnerID, mv.Amount, mv.Reason, refType, refID)
	case models.LedgerDirectionDebit:
		err = q.DebitLedger(ctx, mv.OwnerType, mv.OwnerID, mv.Amount, mv.Reason, refType, refID)
	default:
		err = fmt.Errorf("unknown ledger direction %q", mv.Direction)
	}
	if err != nil {
		return err
	}
	util.LedgerMovementsTotal.WithLabelValues(mv.Direction, mv.Reason).Inc()
	return nil
}

// checkActor enforces that buyer/seller actions come from the order's own
// parties. System events carry no actor.
func checkActor(order *models.Order, in TransitionInput, actorID *int64) error {
	if actorID == nil {
		return nil
	}
	switch in.Initiator {
	case InitiatorBuyer:
		if *actorID != order.BuyerID {
			return fmt.Errorf("%w: actor %d is not the buyer of order %d", ErrGuardViolation, *actorID, order.ID)
		}
	case InitiatorSeller:
		if *actorID != order.SellerID {
			return fmt.Errorf("%w: actor %d is not the seller of order %d", ErrGuardViolation, *actorID, order.ID)
		}
	}
	return nil
}

func validateItems(items []OrderItemRequest) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}
	for _, item := range items {
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: unit price must be non-negative", ErrValidation)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
		}
		switch item.ProductType {
		case models.ProductTypePhysical, models.ProductTypeDigital, models.ProductTypeService:
		default:
			return fmt.Errorf("%w: unknown product type %q", ErrValidation, item.ProductType)
		}
	}
	return nil
}

func newOrderNumber() string {
	return "ORD-" + strings.ToUpper(uuid.New().String()[:8])
}
