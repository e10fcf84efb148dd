package application

import (
	"context"
	"errors"

	"github.com/robokitlabs/orderflow/internal/payment/domain"
)

// Normalized adapter errors. The order service and reconciler branch on these,
// never on provider-specific shapes.
var (
	// ErrProviderUnavailable is transient: the caller may retry with the same
	// idempotency key, never a fresh one.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrInvalidRequest is permanent (bad amount, unsupported currency).
	ErrInvalidRequest        = errors.New("invalid payment request")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrAlreadyRefunded       = errors.New("intent already fully refunded")
	ErrAmountExceedsCaptured = errors.New("refund amount exceeds captured amount")
	ErrActiveIntentExists    = errors.New("order already has an active payment intent")
	ErrIntentNotFound        = errors.New("payment intent not found")
	ErrStaleStatus           = errors.New("stale intent status update rejected")
	// ErrDuplicateSuccess marks a second succeeded intent for one order. It is
	// a reconciliation conflict, never a silent overwrite.
	ErrDuplicateSuccess = errors.New("duplicate payment success for order")
)

type CreateIntentParams struct {
	OrderID        string
	AmountCents    int64
	Currency       string
	Customer       string
	IdempotencyKey string
}

// IntentResult carries the provider intent id plus the client-side
// continuation token needed to complete the payment in the browser.
type IntentResult struct {
	IntentID    string
	ClientToken string
	Status      domain.IntentStatus
}

type RefundResult struct {
	RefundID string
	Status   domain.RefundStatus
}

// Provider is the uniform contract over both payment backends. Implementations
// must verify webhook signatures before reading anything else from a payload.
type Provider interface {
	Name() domain.Provider

	// CreateIntent passes the caller's idempotency key through verbatim so a
	// retried request never creates two intents for one logical attempt.
	CreateIntent(ctx context.Context, p CreateIntentParams) (IntentResult, error)

	// ConfirmOrCapture is idempotent: capturing an already-captured intent
	// returns succeeded without side effects.
	ConfirmOrCapture(ctx context.Context, intentID string) (domain.IntentStatus, error)

	// GetIntent re-queries the provider's view of an intent, used after a
	// capture timeout instead of assuming failure.
	GetIntent(ctx context.Context, intentID string) (domain.IntentStatus, error)

	// Refund with amountCents == 0 refunds the full remaining amount.
	Refund(ctx context.Context, intentID string, amountCents int64, reason string) (RefundResult, error)

	// ParseWebhook verifies the signature and normalizes the event. An
	// unverifiable payload is never trusted, not even for id extraction.
	ParseWebhook(payload []byte, signatureHeader string) (domain.NormalizedEvent, error)
}

// IntentStore persists payment attempts. All writes must be safe under
// concurrent webhook delivery.
type IntentStore interface {
	// Save rejects a new intent with ErrActiveIntentExists while the order
	// still has one in a non-terminal state.
	Save(ctx context.Context, intent domain.PaymentIntent) error
	FindByID(ctx context.Context, id string) (domain.PaymentIntent, error)
	FindActiveByOrder(ctx context.Context, orderID string) (domain.PaymentIntent, error)
	// FindCapturedByOrder returns the intent that succeeded for the order,
	// including one since moved to a refund status.
	FindCapturedByOrder(ctx context.Context, orderID string) (domain.PaymentIntent, error)

	// UpdateStatus is a compare-and-set on the current status; a stale writer
	// gets ErrStaleStatus instead of overwriting a fresher state.
	UpdateStatus(ctx context.Context, id string, from, to domain.IntentStatus) error

	// SaveRefund upserts by refund id, so a synchronous refund result and the
	// later webhook for the same refund converge on one record.
	SaveRefund(ctx context.Context, r domain.Refund) error
	// SumRefunded returns the total of non-failed refund amounts for an intent.
	SumRefunded(ctx context.Context, intentID string) (int64, error)
}
