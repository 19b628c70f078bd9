package worker

import (
	"context"
	"errors"
	"time"

	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

const sweepBatchSize = 100

// DeadlineScheduler periodically sweeps overdue orders: sellers who missed
// the dropoff deadline get their orders auto-cancelled with a buyer refund,
// buyers who missed the pickup deadline get the order force-completed with
// the payout released to the seller.
type DeadlineScheduler struct {
	db       store.DB
	orders   *service.OrderService
	interval time.Duration
	logger   *zap.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewDeadlineScheduler creates a new scheduler.
func NewDeadlineScheduler(db store.DB, orders *service.OrderService, interval time.Duration) *DeadlineScheduler {
	return &DeadlineScheduler{
		db:       db,
		orders:   orders,
		interval: interval,
		logger:   util.GetLogger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or the context ends.
func (s *DeadlineScheduler) Start(ctx context.Context) {
	s.logger.Info("Starting deadline scheduler", zap.Duration("interval", s.interval))

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for an in-flight sweep.
func (s *DeadlineScheduler) Stop() {
	s.logger.Info("Stopping deadline scheduler")
	close(s.stop)
	<-s.done
}

func (s *DeadlineScheduler) sweep(ctx context.Context) {
	start := time.Now()
	now := time.Now()

	dropoffs, err := s.db.ListOverdueDropoffs(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Error("Failed to list overdue dropoffs", zap.Error(err))
	} else {
		for _, orderID := range dropoffs {
			s.fire(ctx, orderID, service.EventDropoffTimeout, now)
		}
	}

	pickups, err := s.db.ListOverduePickups(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Error("Failed to list overdue pickups", zap.Error(err))
	} else {
		for _, orderID := range pickups {
			s.fire(ctx, orderID, service.EventPickupTimeout, now)
		}
	}

	util.DeadlineSweepDuration.Observe(time.Since(start).Seconds())
}

// fire applies one timeout event. Orders that moved between the listing
// query and the transition are skipped silently: a concurrent webhook or
// user action winning the race is the expected outcome, not a failure.
func (s *DeadlineScheduler) fire(ctx context.Context, orderID int64, event service.Event, now time.Time) {
	result, err := s.orders.Trigger(ctx, orderID, service.TransitionInput{
		Event:     event,
		Initiator: service.InitiatorSystem,
		Now:       now,
	}, nil)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTransition) || errors.Is(err, service.ErrGuardViolation) || errors.Is(err, store.ErrNotFound) {
			return
		}
		s.logger.Error("Deadline transition failed",
			zap.Int64("order_id", orderID),
			zap.String("event", string(event)),
			zap.Error(err))
		return
	}
	if result.NoOp {
		return
	}

	switch event {
	case service.EventDropoffTimeout:
		util.OrdersAutoCancelledTotal.WithLabelValues("dropoff_timeout").Inc()
		s.logger.Info("Order auto-cancelled after dropoff deadline", zap.Int64("order_id", orderID))
	case service.EventPickupTimeout:
		util.OrdersForceCompletedTotal.Inc()
		s.logger.Info("Order force-completed after pickup deadline", zap.Int64("order_id", orderID))
	}
}
