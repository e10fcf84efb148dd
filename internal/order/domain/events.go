package domain

// Outbox event payloads. Published on the order events topic once the owning
// transition commits.

type OrderCreated struct {
	OrderID    string
	Number     string
	Customer   string
	TotalCents int64
	Currency   string
	Items      []LineItem
}

type OrderPaid struct {
	OrderID     string
	IntentID    string
	AmountCents int64
	Currency    string
}

type OrderPaymentFailed struct {
	OrderID  string
	IntentID string
	Reason   string
}

type OrderCancelled struct {
	OrderID  string
	IntentID string
}

type OrderFulfilled struct {
	OrderID string
}

type OrderRefunded struct {
	OrderID     string
	RefundID    string
	AmountCents int64
	Partial     bool
}
