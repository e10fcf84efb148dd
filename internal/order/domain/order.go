package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusAwaitingPayment   Status = "awaiting_payment"
	StatusPaid              Status = "paid"
	StatusProcessing        Status = "processing"
	StatusFulfilled         Status = "fulfilled"
	StatusPaymentFailed     Status = "payment_failed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

type Order struct {
	ID          string
	Number      string
	Customer    string
	Items       []LineItem
	TotalCents  int64
	Currency    string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
	FailedAt    *time.Time
	FulfilledAt *time.Time
	CancelledAt *time.Time
}

// LineItem snapshots the unit price at order time. Totals are never recomputed
// from live catalog prices after creation.
type LineItem struct {
	SKU            string
	Quantity       int
	UnitPriceCents int64
}

func NewOrder(id, customer, currency string, items []LineItem) Order {
	var total int64
	for _, item := range items {
		total += int64(item.Quantity) * item.UnitPriceCents
	}
	now := time.Now().UTC()
	return Order{
		ID:         id,
		Number:     NewOrderNumber(now),
		Customer:   customer,
		Items:      items,
		TotalCents: total,
		Currency:   currency,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewOrderNumber returns a lexicographically sortable, never-reused order number.
func NewOrderNumber(t time.Time) string {
	return "RK-" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// Payable reports whether checkout may be started or retried for the order.
func (o Order) Payable() bool {
	return o.Status == StatusPending || o.Status == StatusAwaitingPayment || o.Status == StatusPaymentFailed
}

// Refundable reports whether a refund may be requested for the order.
func (o Order) Refundable() bool {
	return o.Status == StatusPaid || o.Status == StatusProcessing || o.Status == StatusPartiallyRefunded
}
