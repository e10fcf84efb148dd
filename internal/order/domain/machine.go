package domain

import (
	"errors"
	"fmt"
	"time"
)

// Trigger is the cause of an order state change. Webhook-driven triggers carry
// the provider event id separately, as the transition's idempotency cause.
type Trigger string

const (
	TriggerCheckoutStarted    Trigger = "checkout_started"
	TriggerCheckoutRetried    Trigger = "checkout_retried"
	TriggerPaymentSucceeded   Trigger = "payment_succeeded"
	TriggerPaymentFailed      Trigger = "payment_failed"
	TriggerCancelled          Trigger = "cancelled"
	TriggerFulfillmentStarted Trigger = "fulfillment_started"
	TriggerFulfillmentDone    Trigger = "fulfillment_done"
	TriggerRefundCompleted    Trigger = "refund_completed"
	TriggerPartialRefund      Trigger = "partial_refund"
)

var ErrInvalidTransition = errors.New("invalid order transition")

// transitions is the full set of legal edges. Anything not listed here fails
// with ErrInvalidTransition and leaves the stored status untouched.
var transitions = map[Status]map[Trigger]Status{
	StatusPending: {
		TriggerCheckoutStarted: StatusAwaitingPayment,
		TriggerCancelled:       StatusCancelled,
	},
	StatusAwaitingPayment: {
		TriggerPaymentSucceeded: StatusPaid,
		TriggerPaymentFailed:    StatusPaymentFailed,
		TriggerCancelled:        StatusCancelled,
	},
	StatusPaymentFailed: {
		TriggerCheckoutRetried: StatusAwaitingPayment,
	},
	StatusPaid: {
		TriggerFulfillmentStarted: StatusProcessing,
		TriggerRefundCompleted:    StatusRefunded,
		TriggerPartialRefund:      StatusPartiallyRefunded,
	},
	StatusProcessing: {
		TriggerFulfillmentDone: StatusFulfilled,
		TriggerRefundCompleted: StatusRefunded,
		TriggerPartialRefund:   StatusPartiallyRefunded,
	},
	StatusPartiallyRefunded: {
		TriggerRefundCompleted: StatusRefunded,
		TriggerPartialRefund:   StatusPartiallyRefunded,
	},
}

// Next resolves the target state for a trigger applied to the current state.
func Next(from Status, trigger Trigger) (Status, error) {
	if to, ok := transitions[from][trigger]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %q on %q", ErrInvalidTransition, trigger, from)
}

// Stamp records the lifecycle timestamp that belongs to the state being
// entered.
func Stamp(o *Order, to Status, now time.Time) {
	o.Status = to
	o.UpdatedAt = now
	switch to {
	case StatusPaid:
		o.PaidAt = &now
	case StatusPaymentFailed:
		o.FailedAt = &now
	case StatusFulfilled:
		o.FulfilledAt = &now
	case StatusCancelled:
		o.CancelledAt = &now
	}
}
