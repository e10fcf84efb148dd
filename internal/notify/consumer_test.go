package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderapp "github.com/robokitlabs/orderflow/internal/order/application"
	"github.com/robokitlabs/orderflow/internal/order/domain"
)

type memNotifier struct {
	mu   sync.Mutex
	sent []orderapp.TemplateKind
}

func (m *memNotifier) Send(_ context.Context, _ string, template orderapp.TemplateKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, template)
	return nil
}

type memFulfillment struct {
	mu     sync.Mutex
	starts []string
}

func (m *memFulfillment) Start(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, orderID)
	return nil
}

type memOrders struct {
	mu     sync.Mutex
	begun  []string
	err    error
	status domain.Status
}

func (m *memOrders) BeginFulfillment(_ context.Context, orderID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begun = append(m.begun, orderID)
	return domain.Order{ID: orderID, Status: m.status}, m.err
}

func newTestConsumer(orders *memOrders) (*Consumer, *memNotifier, *memFulfillment) {
	notifier := &memNotifier{}
	fulfillment := &memFulfillment{}
	return &Consumer{
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		notifier:    notifier,
		fulfillment: fulfillment,
		orders:      orders,
	}, notifier, fulfillment
}

func TestOrderPaidTriggersNotificationAndFulfillment(t *testing.T) {
	orders := &memOrders{status: domain.StatusProcessing}
	c, notifier, fulfillment := newTestConsumer(orders)

	payload, _ := json.Marshal(domain.OrderPaid{OrderID: "order-1", IntentID: "pi_1", AmountCents: 14197, Currency: "eur"})
	require.NoError(t, c.handle(context.Background(), "OrderPaid", payload))

	assert.Equal(t, []orderapp.TemplateKind{orderapp.TemplatePaymentConfirmed}, notifier.sent)
	assert.Equal(t, []string{"order-1"}, fulfillment.starts)
	assert.Equal(t, []string{"order-1"}, orders.begun)
}

func TestOrderPaidToleratesAlreadyProcessingOrder(t *testing.T) {
	orders := &memOrders{err: domain.ErrInvalidTransition}
	c, _, _ := newTestConsumer(orders)

	payload, _ := json.Marshal(domain.OrderPaid{OrderID: "order-1"})
	assert.NoError(t, c.handle(context.Background(), "OrderPaid", payload),
		"a redelivered OrderPaid for an order already in processing is not an error")
}

func TestTemplatesPerEventType(t *testing.T) {
	cases := []struct {
		eventType string
		payload   any
		want      orderapp.TemplateKind
	}{
		{"OrderPaymentFailed", domain.OrderPaymentFailed{OrderID: "o"}, orderapp.TemplatePaymentFailed},
		{"OrderFulfilled", domain.OrderFulfilled{OrderID: "o"}, orderapp.TemplateOrderFulfilled},
		{"OrderRefunded", domain.OrderRefunded{OrderID: "o", AmountCents: 100}, orderapp.TemplateRefundIssued},
	}
	for _, tc := range cases {
		c, notifier, _ := newTestConsumer(&memOrders{})
		payload, _ := json.Marshal(tc.payload)
		require.NoError(t, c.handle(context.Background(), tc.eventType, payload))
		assert.Equal(t, []orderapp.TemplateKind{tc.want}, notifier.sent, tc.eventType)
	}
}

func TestUnknownAndSilentEventTypes(t *testing.T) {
	c, notifier, fulfillment := newTestConsumer(&memOrders{})

	payload, _ := json.Marshal(domain.OrderCreated{OrderID: "o"})
	require.NoError(t, c.handle(context.Background(), "OrderCreated", payload))
	require.NoError(t, c.handle(context.Background(), "SomethingNew", []byte(`{}`)))

	assert.Empty(t, notifier.sent)
	assert.Empty(t, fulfillment.starts)
}

func TestMalformedPayloadReturnsError(t *testing.T) {
	c, _, _ := newTestConsumer(&memOrders{})
	err := c.handle(context.Background(), "OrderPaid", []byte(`{not json`))
	var syntaxErr *json.SyntaxError
	assert.True(t, errors.As(err, &syntaxErr))
}
