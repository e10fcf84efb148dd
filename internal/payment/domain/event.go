package domain

// EventType is the provider-agnostic classification of an inbound webhook
// event. Provider-specific event names never leave the adapter boundary.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"
	EventRequiresAction   EventType = "requires_action"
	EventRefundCompleted  EventType = "refund_completed"
	EventDisputeOpened    EventType = "dispute_opened"
)

// NormalizedEvent is the uniform shape both adapters produce from a verified
// webhook payload.
type NormalizedEvent struct {
	ProviderEventID string
	Provider        Provider
	Type            EventType
	IntentID        string
	RefundID        string
	AmountCents     int64
	OrderHint       string
	Reason          string
}
