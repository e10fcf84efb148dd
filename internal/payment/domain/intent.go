package domain

import "time"

// Provider identifies one of the two supported payment backends.
type Provider string

const (
	ProviderCardgate  Provider = "cardgate"
	ProviderWalletpay Provider = "walletpay"
)

type IntentStatus string

const (
	IntentCreated           IntentStatus = "created"
	IntentRequiresAction    IntentStatus = "requires_action"
	IntentSucceeded         IntentStatus = "succeeded"
	IntentFailed            IntentStatus = "failed"
	IntentRefunded          IntentStatus = "refunded"
	IntentPartiallyRefunded IntentStatus = "partially_refunded"
)

// PaymentIntent is the durable record of one payment attempt, keyed by the
// provider-assigned intent id.
type PaymentIntent struct {
	ID             string
	OrderID        string
	Provider       Provider
	AmountCents    int64
	Currency       string
	Status         IntentStatus
	ClientToken    string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the intent still represents an in-flight payment
// attempt. At most one active intent may exist per order.
func (i PaymentIntent) Active() bool {
	return i.Status == IntentCreated || i.Status == IntentRequiresAction
}

// CanBecome guards status updates: a succeeded intent is immutable except for
// refund-status changes, and terminal failures stay failed. A stale
// succeeded->failed overwrite racing a fresher succeeded write is rejected
// here rather than silently applied.
func (i PaymentIntent) CanBecome(next IntentStatus) bool {
	switch i.Status {
	case IntentCreated, IntentRequiresAction:
		return next != i.Status
	case IntentSucceeded:
		return next == IntentRefunded || next == IntentPartiallyRefunded
	case IntentPartiallyRefunded:
		return next == IntentRefunded || next == IntentPartiallyRefunded
	default:
		return false
	}
}
