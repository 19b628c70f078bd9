package service

import (
	"context"
	"testing"
	"time"

	"marketplace-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrderService(db *fakeDB, pub *fakePublisher) *OrderService {
	return NewOrderService(db, newTestMachine(), pub, "KES")
}

func checkout(t *testing.T, svc *OrderService, items ...OrderItemRequest) *CreateOrderResponse {
	t.Helper()
	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		BuyerID:     7,
		SellerID:    9,
		Items:       items,
		PhoneNumber: "+254700111222",
	})
	require.NoError(t, err)
	return resp
}

func physicalItemRequest() OrderItemRequest {
	return OrderItemRequest{
		ProductName: "Handmade bag",
		ProductType: models.ProductTypePhysical,
		UnitPrice:   50000,
		Quantity:    3,
	}
}

func TestCreateOrderPersistsOrderItemsAndPayment(t *testing.T) {
	db := newFakeDB()
	svc := newTestOrderService(db, &fakePublisher{})

	resp := checkout(t, svc, physicalItemRequest())

	assert.Equal(t, int64(150000), resp.TotalAmount)
	assert.NotEmpty(t, resp.APIRef)
	assert.Contains(t, resp.OrderNumber, "ORD-")

	order := db.order(resp.OrderID)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)

	items, err := db.GetOrderItems(context.Background(), resp.OrderID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)

	payment, err := db.GetPaymentByAPIRef(context.Background(), resp.APIRef)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRecordPending, payment.Status)
	assert.Equal(t, resp.TotalAmount, payment.Amount)
	require.NotNil(t, payment.OrderID)
	assert.Equal(t, resp.OrderID, *payment.OrderID)
}

func TestCreateOrderRejectsBadItems(t *testing.T) {
	svc := newTestOrderService(newFakeDB(), &fakePublisher{})

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		BuyerID: 7, SellerID: 9,
		Items: []OrderItemRequest{{ProductName: "x", ProductType: "subscription", UnitPrice: 100, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateOrder(context.Background(), &CreateOrderRequest{
		BuyerID: 7, SellerID: 9,
		Items: []OrderItemRequest{{ProductName: "x", ProductType: models.ProductTypeDigital, UnitPrice: 100, Quantity: 0}},
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateOrder(context.Background(), &CreateOrderRequest{BuyerID: 7, SellerID: 9})
	assert.ErrorIs(t, err, ErrValidation)
}

// payOrder drives a pending order to its post-payment state directly through
// the service's transition path.
func payOrder(t *testing.T, svc *OrderService, orderID int64) {
	t.Helper()
	_, err := svc.Trigger(context.Background(), orderID, TransitionInput{
		Event:     EventPaymentConfirmed,
		Initiator: InitiatorSystem,
		Now:       time.Now(),
	}, nil)
	require.NoError(t, err)
}

func TestFullPhysicalOrderLifecycle(t *testing.T) {
	db := newFakeDB()
	pub := &fakePublisher{}
	svc := newTestOrderService(db, pub)

	resp := checkout(t, svc, physicalItemRequest())
	payOrder(t, svc, resp.OrderID)

	order := db.order(resp.OrderID)
	assert.Equal(t, models.OrderStatusDeliveryPending, order.Status)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	require.NotNil(t, order.SellerDropoffDeadline)

	_, err := svc.MarkReadyForPickup(context.Background(), resp.OrderID, 9)
	require.NoError(t, err)
	order = db.order(resp.OrderID)
	assert.Equal(t, models.OrderStatusDeliveryComplete, order.Status)
	require.NotNil(t, order.BuyerPickupDeadline)

	result, err := svc.ConfirmReceipt(context.Background(), resp.OrderID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, result.To)

	// Seller got the commission-adjusted payout, buyer got nothing.
	assert.Equal(t, int64(135000), db.balance(models.OwnerTypeSeller, 9))
	assert.Equal(t, int64(0), db.balance(models.OwnerTypeBuyer, 7))

	// Version bumped once per transition.
	assert.Equal(t, int64(4), db.order(resp.OrderID).Version)
}

func TestActorOwnershipIsEnforced(t *testing.T) {
	db := newFakeDB()
	svc := newTestOrderService(db, &fakePublisher{})

	resp := checkout(t, svc, physicalItemRequest())
	payOrder(t, svc, resp.OrderID)

	// A stranger can't mark the order ready.
	_, err := svc.MarkReadyForPickup(context.Background(), resp.OrderID, 12345)
	assert.ErrorIs(t, err, ErrGuardViolation)

	_, err = svc.MarkReadyForPickup(context.Background(), resp.OrderID, 9)
	require.NoError(t, err)

	// Nor can the seller confirm receipt for the buyer.
	_, err = svc.ConfirmReceipt(context.Background(), resp.OrderID, 9)
	assert.ErrorIs(t, err, ErrGuardViolation)
}

func TestBuyerCancelRefundsEscrowBalance(t *testing.T) {
	db := newFakeDB()
	svc := newTestOrderService(db, &fakePublisher{})

	resp := checkout(t, svc, physicalItemRequest())
	payOrder(t, svc, resp.OrderID)

	result, err := svc.Cancel(context.Background(), resp.OrderID, InitiatorBuyer, "wrong size")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, result.To)

	order := db.order(resp.OrderID)
	assert.Equal(t, models.PaymentStatusReversed, order.PaymentStatus)
	assert.Equal(t, int64(150000), db.balance(models.OwnerTypeBuyer, 7))
	assert.Equal(t, int64(0), db.balance(models.OwnerTypeSeller, 9))
}

func TestTriggerIsIdempotentAcrossRetries(t *testing.T) {
	db := newFakeDB()
	pub := &fakePublisher{}
	svc := newTestOrderService(db, pub)

	resp := checkout(t, svc, physicalItemRequest())
	payOrder(t, svc, resp.OrderID)

	before := len(pub.published())

	// Replaying the payment confirmation converges silently.
	result, err := svc.Trigger(context.Background(), resp.OrderID, TransitionInput{
		Event:     EventPaymentConfirmed,
		Initiator: InitiatorSystem,
		Now:       time.Now(),
	}, nil)
	require.NoError(t, err)
	assert.True(t, result.NoOp)
	assert.Len(t, pub.published(), before)
	assert.Equal(t, models.PaymentStatusPaid, db.order(resp.OrderID).PaymentStatus)
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	db := newFakeDB()
	svc := newTestOrderService(db, &fakePublisher{failAll: true})

	resp := checkout(t, svc, physicalItemRequest())

	_, err := svc.Trigger(context.Background(), resp.OrderID, TransitionInput{
		Event:     EventPaymentConfirmed,
		Initiator: InitiatorSystem,
		Now:       time.Now(),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDeliveryPending, db.order(resp.OrderID).Status)
}
