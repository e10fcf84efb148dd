package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextLegalEdges(t *testing.T) {
	cases := []struct {
		from    Status
		trigger Trigger
		want    Status
	}{
		{StatusPending, TriggerCheckoutStarted, StatusAwaitingPayment},
		{StatusPending, TriggerCancelled, StatusCancelled},
		{StatusAwaitingPayment, TriggerPaymentSucceeded, StatusPaid},
		{StatusAwaitingPayment, TriggerPaymentFailed, StatusPaymentFailed},
		{StatusAwaitingPayment, TriggerCancelled, StatusCancelled},
		{StatusPaymentFailed, TriggerCheckoutRetried, StatusAwaitingPayment},
		{StatusPaid, TriggerFulfillmentStarted, StatusProcessing},
		{StatusPaid, TriggerRefundCompleted, StatusRefunded},
		{StatusPaid, TriggerPartialRefund, StatusPartiallyRefunded},
		{StatusProcessing, TriggerFulfillmentDone, StatusFulfilled},
		{StatusProcessing, TriggerRefundCompleted, StatusRefunded},
		{StatusProcessing, TriggerPartialRefund, StatusPartiallyRefunded},
		{StatusPartiallyRefunded, TriggerRefundCompleted, StatusRefunded},
		{StatusPartiallyRefunded, TriggerPartialRefund, StatusPartiallyRefunded},
	}
	for _, tc := range cases {
		got, err := Next(tc.from, tc.trigger)
		require.NoError(t, err, "%s on %s", tc.trigger, tc.from)
		assert.Equal(t, tc.want, got)
	}
}

func TestNextRejectsOffTableEdges(t *testing.T) {
	cases := []struct {
		from    Status
		trigger Trigger
	}{
		{StatusPending, TriggerPaymentSucceeded},
		{StatusPaid, TriggerPaymentSucceeded},
		{StatusPaid, TriggerCancelled},
		{StatusFulfilled, TriggerRefundCompleted},
		{StatusFulfilled, TriggerFulfillmentDone},
		{StatusCancelled, TriggerCheckoutStarted},
		{StatusRefunded, TriggerPartialRefund},
		{StatusPaymentFailed, TriggerPaymentSucceeded},
	}
	for _, tc := range cases {
		_, err := Next(tc.from, tc.trigger)
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s on %s", tc.trigger, tc.from)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, terminal := range []Status{StatusCancelled, StatusRefunded, StatusFulfilled} {
		assert.Empty(t, transitions[terminal], "no edges out of %s", terminal)
	}
}

func TestStampRecordsLifecycleTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	o := NewOrder("o-1", "ada@example.com", "eur", []LineItem{{SKU: "sku-1", Quantity: 1, UnitPriceCents: 500}})
	require.Nil(t, o.PaidAt)

	Stamp(&o, StatusPaid, now)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, now, *o.PaidAt)
	assert.Equal(t, StatusPaid, o.Status)
	assert.Equal(t, now, o.UpdatedAt)

	Stamp(&o, StatusFulfilled, now.Add(time.Hour))
	require.NotNil(t, o.FulfilledAt)
	assert.Equal(t, now.Add(time.Hour), *o.FulfilledAt)
	// Earlier stamps are kept.
	assert.Equal(t, now, *o.PaidAt)
}

func TestNewOrderSnapshotsTotal(t *testing.T) {
	o := NewOrder("o-2", "grace@example.com", "eur", []LineItem{
		{SKU: "sku-a", Quantity: 3, UnitPriceCents: 199},
		{SKU: "sku-b", Quantity: 1, UnitPriceCents: 2500},
	})
	assert.Equal(t, int64(3*199+2500), o.TotalCents)
	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, o.Payable())
	assert.False(t, o.Refundable())
}

func TestOrderNumbersSortByTime(t *testing.T) {
	early := NewOrderNumber(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	late := NewOrderNumber(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.Less(t, early, late)
}
