package domain

import "time"

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

// Refund is one provider-side refund against a captured intent. The sum of
// non-failed refund amounts for an intent never exceeds the captured amount.
type Refund struct {
	ID          string
	IntentID    string
	OrderID     string
	AmountCents int64
	Reason      string
	Status      RefundStatus
	CreatedAt   time.Time
}
