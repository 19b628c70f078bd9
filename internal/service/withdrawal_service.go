package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WithdrawalInput is a payout request from a balance holder. Exactly one of
// SellerID or OrganizerID must be set; EventID may only accompany an
// organizer.
type WithdrawalInput struct {
	SellerID    *int64 `json:"seller_id,omitempty"`
	OrganizerID *int64 `json:"organizer_id,omitempty"`
	EventID     *int64 `json:"event_id,omitempty"`
	Amount      int64  `json:"amount" binding:"required,min=1"`
}

// WithdrawalCallbackResult describes the effect of a provider callback.
type WithdrawalCallbackResult struct {
	WithdrawalID int64
	Status       string
	Duplicate    bool
}

// WithdrawalService handles payout requests and the provider's asynchronous
// transfer confirmations. The ledger debit happens up front; a failed
// transfer credits the amount back.
type WithdrawalService struct {
	db        store.DB
	publisher NotificationPublisher
	logger    *zap.Logger
}

// NewWithdrawalService creates a new withdrawal service.
func NewWithdrawalService(db store.DB, publisher NotificationPublisher) *WithdrawalService {
	return &WithdrawalService{
		db:        db,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// RequestWithdrawal debits the owner's balance and records the request in
// one transaction. The request stays in processing until the provider's
// callback confirms or fails the transfer; it is never born completed.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (*models.WithdrawalRequest, error) {
	ctx, span := util.StartSpan(ctx, "WithdrawalService.RequestWithdrawal")
	defer span.End()

	ownerType, ownerID, err := withdrawalOwner(in)
	if err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", ErrValidation)
	}

	ref := uuid.New().String()
	w := &models.WithdrawalRequest{
		SellerID:          in.SellerID,
		OrganizerID:       in.OrganizerID,
		EventID:           in.EventID,
		Amount:            in.Amount,
		Status:            models.WithdrawalStatusProcessing,
		ProviderReference: &ref,
	}

	err = s.db.WithTx(ctx, func(q store.Queries) error {
		if err := q.CreateWithdrawal(ctx, w); err != nil {
			return fmt.Errorf("failed to create withdrawal: %w", err)
		}
		return q.DebitLedger(ctx, ownerType, ownerID, in.Amount, "withdrawal", "withdrawal", w.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Withdrawal requested",
		zap.Int64("withdrawal_id", w.ID),
		zap.String("owner_type", ownerType),
		zap.Int64("owner_id", ownerID),
		zap.Int64("amount", in.Amount))

	return w, nil
}

// HandleCallback applies the provider's transfer outcome. Terminal requests
// are acknowledged as duplicates; a failed transfer refunds the amount to
// the owner's balance inside the same transaction that flips the status.
func (s *WithdrawalService) HandleCallback(ctx context.Context, providerRef, providerStatus, failureReason string) (*WithdrawalCallbackResult, error) {
	ctx, span := util.StartSpan(ctx, "WithdrawalService.HandleCallback")
	defer span.End()

	status, err := NormalizeProviderStatus(providerStatus)
	if err != nil {
		return nil, err
	}
	if status == models.PaymentRecordCompleted {
		status = models.WithdrawalStatusCompleted
	} else {
		status = models.WithdrawalStatusFailed
	}

	var result *WithdrawalCallbackResult
	var intent *models.NotificationIntent

	err = s.db.WithTx(ctx, func(q store.Queries) error {
		w, err := q.GetWithdrawalByProviderReference(ctx, providerRef)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: withdrawal reference %q", ErrUnmatchedPayment, providerRef)
			}
			return err
		}

		if w.IsTerminal() {
			result = &WithdrawalCallbackResult{WithdrawalID: w.ID, Status: w.Status, Duplicate: true}
			return nil
		}

		ownerType, ownerID, err := withdrawalOwner(WithdrawalInput{
			SellerID:    w.SellerID,
			OrganizerID: w.OrganizerID,
			EventID:     w.EventID,
		})
		if err != nil {
			return err
		}

		var reason *string
		template := models.TemplateWithdrawalCompleted
		if status == models.WithdrawalStatusFailed {
			if failureReason == "" {
				failureReason = "provider transfer failed"
			}
			reason = &failureReason
			template = models.TemplateWithdrawalFailed
		}

		if err := q.FinishWithdrawal(ctx, w.ID, status, reason, time.Now()); err != nil {
			return err
		}

		if status == models.WithdrawalStatusFailed {
			if err := q.CreditLedger(ctx, ownerType, ownerID, w.Amount,
				"withdrawal_refund", "withdrawal", w.ID); err != nil {
				return err
			}
		}

		role := models.RecipientSeller
		if ownerType == models.OwnerTypeOrganizer {
			role = models.RecipientOrganizer
		}

		intent = &models.NotificationIntent{
			EventID:       uuid.New().String(),
			RecipientRole: role,
			Template:      template,
			Data: map[string]string{
				"withdrawal_id": fmt.Sprintf("%d", w.ID),
				"amount":        fmt.Sprintf("%d", w.Amount),
			},
			CreatedAt: time.Now(),
		}
		result = &WithdrawalCallbackResult{WithdrawalID: w.ID, Status: status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		util.WithdrawalsTotal.WithLabelValues(result.Status).Inc()
		if intent != nil {
			if err := s.publisher.PublishIntent(ctx, *intent); err != nil {
				util.NotificationsDroppedTotal.Inc()
				s.logger.Error("Failed to publish withdrawal notification", zap.Error(err))
			} else {
				util.NotificationsPublishedTotal.Inc()
			}
		}
	}

	return result, nil
}

// withdrawalOwner enforces owner exclusivity and returns the ledger account
// the request draws from.
func withdrawalOwner(in WithdrawalInput) (string, int64, error) {
	switch {
	case in.SellerID != nil && in.OrganizerID == nil && in.EventID == nil:
		return models.OwnerTypeSeller, *in.SellerID, nil
	case in.SellerID == nil && in.OrganizerID != nil:
		return models.OwnerTypeOrganizer, *in.OrganizerID, nil
	default:
		return "", 0, fmt.Errorf("%w: exactly one of seller_id or organizer_id must be set", ErrValidation)
	}
}
