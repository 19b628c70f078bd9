package service

import "errors"

// Business-rule error taxonomy. The HTTP layer owns the mapping to status
// codes; services return these sentinels wrapped with context.
var (
	// ErrInvalidTransition is returned when an event is applied to an order
	// in a terminal state.
	ErrInvalidTransition = errors.New("invalid transition: order is in a terminal state")

	// ErrGuardViolation is returned when a transition's precondition fails,
	// e.g. confirming receipt on an order that is not awaiting pickup.
	ErrGuardViolation = errors.New("transition guard violation")

	// ErrUnmatchedPayment is returned when a provider notification cannot be
	// correlated with any payment record.
	ErrUnmatchedPayment = errors.New("payment notification could not be matched")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation error")
)
