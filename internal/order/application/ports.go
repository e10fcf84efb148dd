package application

import (
	"context"
	"errors"

	"github.com/robokitlabs/orderflow/internal/order/domain"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotPayable    = errors.New("order not payable in its current state")
	ErrOrderNotRefundable = errors.New("order not refundable in its current state")
)

// Event is a side-effect record written to the outbox in the same transaction
// as the state change it belongs to.
type Event struct {
	Type    string
	Payload []byte
}

// OrderRepository is the single mutation path for orders. ApplyTransition
// serializes per order (row lock), resolves the legal edge, and records the
// transition idempotently keyed on (order id, target state, causing event id):
// a repeat of the same cause commits nothing and returns applied=false, so
// side effects run exactly once per transition.
type OrderRepository interface {
	Create(ctx context.Context, o domain.Order, evt Event) error
	Get(ctx context.Context, id string) (domain.Order, error)
	ApplyTransition(ctx context.Context, orderID string, trigger domain.Trigger, causeEventID string, events []Event) (domain.Order, bool, error)
}

// TemplateKind selects the customer notification to send.
type TemplateKind string

const (
	TemplatePaymentConfirmed TemplateKind = "payment_confirmed"
	TemplatePaymentFailed    TemplateKind = "payment_failed"
	TemplateOrderFulfilled   TemplateKind = "order_fulfilled"
	TemplateRefundIssued     TemplateKind = "refund_issued"
)

// FulfillmentTrigger starts fulfillment for a paid order. Implementations must
// tolerate being called more than once for the same order.
type FulfillmentTrigger interface {
	Start(ctx context.Context, orderID string) error
}

// Notifier delivers customer notices. Same at-least-once-safe contract.
type Notifier interface {
	Send(ctx context.Context, orderID string, template TemplateKind) error
}
