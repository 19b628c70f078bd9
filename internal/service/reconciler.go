package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// fuzzyMatchWindow bounds the phone+amount fallback: only pending payments
// created inside this window are candidates.
const fuzzyMatchWindow = 15 * time.Minute

// ProviderNotification is a normalized payment-provider callback. The HTTP
// layer extracts it from the provider's JSON; the reconciler never sees raw
// field-name variants.
type ProviderNotification struct {
	Provider  string
	Reference string
	APIRef    string
	Status    string
	Amount    int64
	Phone     string
	Timestamp time.Time
	Raw       json.RawMessage
}

// ReconciliationResult describes what a notification did.
type ReconciliationResult struct {
	Outcome    string
	PaymentID  int64
	OrderID    *int64
	Transition *TransitionResult
}

// PaymentReconciler maps asynchronous provider notifications onto payment
// records, enforcing exactly-once business-effect application. The payment's
// terminal status is the idempotency anchor: once terminal, replays are
// acknowledged as duplicates without touching the order.
type PaymentReconciler struct {
	db     store.DB
	orders *OrderService
	logger *zap.Logger
}

// NewPaymentReconciler creates a new reconciler.
func NewPaymentReconciler(db store.DB, orders *OrderService) *PaymentReconciler {
	return &PaymentReconciler{
		db:     db,
		orders: orders,
		logger: util.GetLogger(),
	}
}

// NormalizeProviderStatus maps the provider's status vocabulary onto the
// internal payment statuses.
func NormalizeProviderStatus(s string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COMPLETED", "COMPLETE", "PAID", "SUCCESS", "SUCCESSFUL":
		return models.PaymentRecordCompleted, nil
	case "FAILED", "FAILURE", "CANCELLED", "DECLINED", "REVERSED":
		return models.PaymentRecordFailed, nil
	default:
		return "", fmt.Errorf("%w: unrecognized provider status %q", ErrValidation, s)
	}
}

// Reconcile applies one provider notification. The payment update, the order
// transition, its ledger movements, and the audit row commit in a single
// transaction; a crash cannot leave the payment completed with the order
// still pending.
func (r *PaymentReconciler) Reconcile(ctx context.Context, n ProviderNotification) (*ReconciliationResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.Reconcile")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReconcileLatency.Observe(time.Since(start).Seconds())
	}()

	status, err := NormalizeProviderStatus(n.Status)
	if err != nil {
		return nil, err
	}

	var result *ReconciliationResult
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		err = r.db.WithTx(ctx, func(q store.Queries) error {
			var txErr error
			result, txErr = r.reconcileTx(ctx, q, n, status)
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

	util.PaymentsReconciledTotal.WithLabelValues(result.Outcome).Inc()

	switch result.Outcome {
	case models.WebhookOutcomeUnmatched:
		util.PaymentsUnmatchedTotal.Inc()
		r.logger.Warn("Payment notification unmatched, queued for manual reconciliation",
			zap.String("provider", n.Provider),
			zap.String("reference", n.Reference),
			zap.Int64("amount", n.Amount))
		return result, fmt.Errorf("%w: reference %q", ErrUnmatchedPayment, n.Reference)

	case models.WebhookOutcomeDuplicate:
		r.logger.Info("Duplicate payment notification, no-op",
			zap.String("reference", n.Reference),
			zap.Int64("payment_id", result.PaymentID))

	case models.WebhookOutcomeManualReview:
		r.logger.Warn("Payment matched only by phone+amount fallback, flagged for manual review",
			zap.String("provider", n.Provider),
			zap.Int64("payment_id", result.PaymentID))

	default:
		if result.Transition != nil {
			r.orders.dispatch(ctx, result.Transition)
		}
	}

	return result, nil
}

func (r *PaymentReconciler) reconcileTx(ctx context.Context, q store.Queries, n ProviderNotification, status string) (*ReconciliationResult, error) {
	payment, fuzzy, err := matchPayment(ctx, q, n)
	if err != nil {
		return nil, err
	}

	audit := &models.WebhookEvent{
		Provider:   n.Provider,
		Payload:    rawOrEmpty(n.Raw),
		ReceivedAt: time.Now(),
	}

	switch {
	case payment == nil:
		audit.Outcome = models.WebhookOutcomeUnmatched
		if err := q.RecordWebhookEvent(ctx, audit); err != nil {
			return nil, err
		}
		return &ReconciliationResult{Outcome: models.WebhookOutcomeUnmatched}, nil

	case fuzzy:
		// A fuzzy match is never trusted to move money automatically.
		audit.Outcome = models.WebhookOutcomeManualReview
		audit.PaymentID = &payment.ID
		if err := q.RecordWebhookEvent(ctx, audit); err != nil {
			return nil, err
		}
		return &ReconciliationResult{
			Outcome:   models.WebhookOutcomeManualReview,
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
		}, nil

	case payment.IsTerminal():
		audit.Outcome = models.WebhookOutcomeDuplicate
		audit.PaymentID = &payment.ID
		if err := q.RecordWebhookEvent(ctx, audit); err != nil {
			return nil, err
		}
		return &ReconciliationResult{
			Outcome:   models.WebhookOutcomeDuplicate,
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
		}, nil
	}

	var providerRef *string
	if n.Reference != "" {
		providerRef = &n.Reference
	}
	if err := q.MarkPaymentTerminal(ctx, payment.ID, status, providerRef); err != nil {
		return nil, err
	}

	result := &ReconciliationResult{
		Outcome:   models.WebhookOutcomeProcessed,
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
	}

	if status == models.PaymentRecordCompleted && payment.OrderID != nil {
		transition, err := r.orders.applyEvent(ctx, q, *payment.OrderID, TransitionInput{
			Event:     EventPaymentConfirmed,
			Initiator: InitiatorSystem,
			Now:       time.Now(),
		}, nil)
		switch {
		case errors.Is(err, ErrInvalidTransition):
			// Funds collected against an order that died first. Keep the
			// payment completed and park the money on the buyer's refund
			// balance rather than losing track of it.
			order, getErr := q.GetOrderByID(ctx, *payment.OrderID)
			if getErr != nil {
				return nil, getErr
			}
			if creditErr := q.CreditLedger(ctx, models.OwnerTypeBuyer, order.BuyerID,
				payment.Amount, "late_payment_refund", "payment", payment.ID); creditErr != nil {
				return nil, creditErr
			}
			r.logger.Warn("Payment completed for terminal order, credited buyer refund balance",
				zap.Int64("order_id", order.ID),
				zap.Int64("payment_id", payment.ID))
		case err != nil:
			return nil, err
		default:
			result.Transition = transition
		}
	}

	audit.Outcome = models.WebhookOutcomeProcessed
	audit.PaymentID = &payment.ID
	if err := q.RecordWebhookEvent(ctx, audit); err != nil {
		return nil, err
	}

	return result, nil
}

// matchPayment tries the correlation strategies in a fixed, auditable order:
// provider reference, then merchant api_ref, then the fuzzy phone+amount
// window fallback.
func matchPayment(ctx context.Context, q store.Queries, n ProviderNotification) (payment *models.Payment, fuzzy bool, err error) {
	if n.Reference != "" {
		payment, err = q.GetPaymentByProviderReference(ctx, n.Reference)
		if err == nil {
			return payment, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}

	if n.APIRef != "" {
		payment, err = q.GetPaymentByAPIRef(ctx, n.APIRef)
		if err == nil {
			return payment, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}

	if n.Phone != "" && n.Amount > 0 {
		payment, err = q.FindPaymentByPhoneAmount(ctx, n.Phone, n.Amount, time.Now().Add(-fuzzyMatchWindow))
		if err == nil {
			return payment, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}

	return nil, false, nil
}

func rawOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
