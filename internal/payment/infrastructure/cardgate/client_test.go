package cardgate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robokitlabs/orderflow/internal/payment/application"
	"github.com/robokitlabs/orderflow/internal/payment/domain"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(log, srv.URL, "sk_test", "whsec_test", 2*time.Second)
}

func TestCreateIntentPassesIdempotencyKeyThrough(t *testing.T) {
	var gotKey, gotAuth string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1/intents", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id": "pi_123", "status": "requires_action", "client_secret": "cs_abc",
		})
	})

	res, err := c.CreateIntent(context.Background(), application.CreateIntentParams{
		OrderID:        "order-1",
		AmountCents:    14197,
		Currency:       "eur",
		Customer:       "lin@example.com",
		IdempotencyKey: "retry-key-7",
	})
	require.NoError(t, err)
	assert.Equal(t, "retry-key-7", gotKey)
	assert.Equal(t, "Bearer sk_test", gotAuth)
	assert.Equal(t, "pi_123", res.IntentID)
	assert.Equal(t, "cs_abc", res.ClientToken)
	assert.Equal(t, domain.IntentRequiresAction, res.Status)
}

func TestCreateIntentRejectsBadInputLocally(t *testing.T) {
	called := false
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	_, err := c.CreateIntent(context.Background(), application.CreateIntentParams{
		AmountCents: -5, Currency: "eur", IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, application.ErrInvalidRequest)

	_, err = c.CreateIntent(context.Background(), application.CreateIntentParams{
		AmountCents: 100, Currency: "xxx", IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, application.ErrInvalidRequest)

	assert.False(t, called, "invalid requests never reach the wire")
}

func TestServerErrorsAreRetryable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.ConfirmOrCapture(context.Background(), "pi_1")
	assert.ErrorIs(t, err, application.ErrProviderUnavailable)
}

func TestRefundErrorCodesAreMapped(t *testing.T) {
	cases := map[string]error{
		"already_refunded":        application.ErrAlreadyRefunded,
		"amount_exceeds_captured": application.ErrAmountExceedsCaptured,
	}
	for code, want := range cases {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprintf(w, `{"error":{"code":%q,"message":"nope"}}`, code)
		})
		_, err := c.Refund(context.Background(), "pi_1", 100, "test")
		assert.ErrorIs(t, err, want, code)
	}
}

func TestParseWebhookAcceptsSignedPayload(t *testing.T) {
	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)), "", "sk", "whsec_test", time.Second)
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	c.nowFunc = func() time.Time { return now }

	payload := []byte(`{"id":"evt_9","type":"payment_intent.succeeded","data":{"intent_id":"pi_9","order_id":"order-9","amount":14197}}`)
	evt, err := c.ParseWebhook(payload, Sign(payload, "whsec_test", now))
	require.NoError(t, err)
	assert.Equal(t, "evt_9", evt.ProviderEventID)
	assert.Equal(t, domain.EventPaymentSucceeded, evt.Type)
	assert.Equal(t, "pi_9", evt.IntentID)
	assert.Equal(t, "order-9", evt.OrderHint)
	assert.Equal(t, int64(14197), evt.AmountCents)
}

func TestParseWebhookRejectsBadSignatures(t *testing.T) {
	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)), "", "sk", "whsec_test", time.Second)
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	c.nowFunc = func() time.Time { return now }

	payload := []byte(`{"id":"evt_9","type":"payment_intent.succeeded","data":{}}`)

	_, err := c.ParseWebhook(payload, "t=123,v1=deadbeef")
	assert.ErrorIs(t, err, application.ErrInvalidSignature)

	// Wrong secret.
	_, err = c.ParseWebhook(payload, Sign(payload, "whsec_other", now))
	assert.ErrorIs(t, err, application.ErrInvalidSignature)

	// Valid but stale: outside the replay tolerance.
	_, err = c.ParseWebhook(payload, Sign(payload, "whsec_test", now.Add(-10*time.Minute)))
	assert.ErrorIs(t, err, application.ErrInvalidSignature)

	// Tampered payload under a real signature.
	sig := Sign(payload, "whsec_test", now)
	_, err = c.ParseWebhook([]byte(`{"id":"evt_9","type":"refund.succeeded","data":{}}`), sig)
	assert.ErrorIs(t, err, application.ErrInvalidSignature)
}

func TestParseWebhookRejectsUnknownTypes(t *testing.T) {
	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)), "", "sk", "whsec_test", time.Second)
	now := time.Now()

	payload := []byte(`{"id":"evt_1","type":"balance.updated","data":{}}`)
	_, err := c.ParseWebhook(payload, Sign(payload, "whsec_test", now))
	assert.ErrorIs(t, err, application.ErrInvalidRequest)
}
