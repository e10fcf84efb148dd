package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robokitlabs/orderflow/internal/order/application"
	"github.com/robokitlabs/orderflow/internal/order/domain"
	payapp "github.com/robokitlabs/orderflow/internal/payment/application"
	paydomain "github.com/robokitlabs/orderflow/internal/payment/domain"
)

type memOrders struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	applied map[string]bool
}

func (m *memOrders) Create(_ context.Context, o domain.Order, _ application.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *memOrders) Get(_ context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, application.ErrOrderNotFound
	}
	return o, nil
}

func (m *memOrders) ApplyTransition(_ context.Context, orderID string, trigger domain.Trigger, causeEventID string, _ []application.Event) (domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, false, application.ErrOrderNotFound
	}
	if m.applied[orderID+"|"+causeEventID] {
		return o, false, nil
	}
	to, err := domain.Next(o.Status, trigger)
	if err != nil {
		return o, false, err
	}
	m.applied[orderID+"|"+causeEventID] = true
	domain.Stamp(&o, to, time.Now().UTC())
	m.orders[orderID] = o
	return o, true, nil
}

type memIntents struct {
	mu      sync.Mutex
	intents map[string]paydomain.PaymentIntent
	refunds map[string]paydomain.Refund
}

func (m *memIntents) Save(_ context.Context, i paydomain.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[i.ID]; ok {
		return nil
	}
	if i.Active() {
		for _, cur := range m.intents {
			if cur.OrderID == i.OrderID && cur.Active() {
				return payapp.ErrActiveIntentExists
			}
		}
	}
	m.intents[i.ID] = i
	return nil
}

func (m *memIntents) FindByID(_ context.Context, id string) (paydomain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.intents[id]
	if !ok {
		return paydomain.PaymentIntent{}, payapp.ErrIntentNotFound
	}
	return i, nil
}

func (m *memIntents) FindActiveByOrder(_ context.Context, orderID string) (paydomain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.intents {
		if i.OrderID == orderID && i.Active() {
			return i, nil
		}
	}
	return paydomain.PaymentIntent{}, payapp.ErrIntentNotFound
}

func (m *memIntents) FindCapturedByOrder(_ context.Context, orderID string) (paydomain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.intents {
		if i.OrderID != orderID {
			continue
		}
		switch i.Status {
		case paydomain.IntentSucceeded, paydomain.IntentPartiallyRefunded, paydomain.IntentRefunded:
			return i, nil
		}
	}
	return paydomain.PaymentIntent{}, payapp.ErrIntentNotFound
}

func (m *memIntents) UpdateStatus(_ context.Context, id string, from, to paydomain.IntentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.intents[id]
	if !ok || i.Status != from {
		return payapp.ErrStaleStatus
	}
	i.Status = to
	m.intents[id] = i
	return nil
}

func (m *memIntents) SaveRefund(_ context.Context, r paydomain.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[r.ID] = r
	return nil
}

func (m *memIntents) SumRefunded(_ context.Context, intentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, r := range m.refunds {
		if r.IntentID == intentID && r.Status != paydomain.RefundFailed {
			sum += r.AmountCents
		}
	}
	return sum, nil
}

type memProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *memProvider) Name() paydomain.Provider { return paydomain.ProviderCardgate }

func (p *memProvider) CreateIntent(_ context.Context, params payapp.CreateIntentParams) (payapp.IntentResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return payapp.IntentResult{
		IntentID:    fmt.Sprintf("pi_%d", p.calls),
		ClientToken: "tok",
		Status:      paydomain.IntentCreated,
	}, nil
}

func (p *memProvider) ConfirmOrCapture(context.Context, string) (paydomain.IntentStatus, error) {
	return paydomain.IntentSucceeded, nil
}

func (p *memProvider) GetIntent(context.Context, string) (paydomain.IntentStatus, error) {
	return paydomain.IntentSucceeded, nil
}

func (p *memProvider) Refund(_ context.Context, _ string, _ int64, _ string) (payapp.RefundResult, error) {
	return payapp.RefundResult{RefundID: "re_1", Status: paydomain.RefundSucceeded}, nil
}

func (p *memProvider) ParseWebhook([]byte, string) (paydomain.NormalizedEvent, error) {
	return paydomain.NormalizedEvent{}, payapp.ErrInvalidRequest
}

func newTestServer(t *testing.T) (*httptest.Server, *application.Service) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	orders := &memOrders{orders: map[string]domain.Order{}, applied: map[string]bool{}}
	intents := &memIntents{intents: map[string]paydomain.PaymentIntent{}, refunds: map[string]paydomain.Refund{}}
	svc := application.NewService(log, orders, intents, payapp.NewRegistry(&memProvider{}))
	srv := httptest.NewServer(NewHandler(log, svc).Routes())
	t.Cleanup(srv.Close)
	return srv, svc
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := srv.Client().Post(srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createOrder(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := postJSON(t, srv, "/orders", map[string]any{
		"customer": "lin@example.com",
		"currency": "eur",
		"items": []map[string]any{
			{"sku": "sku-1", "quantity": 1, "unit_price_cents": 14197},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func TestCreateAndGetOrder(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createOrder(t, srv)

	resp, err := srv.Client().Get(srv.URL + "/orders/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body orderResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(14197), body.TotalCents)
	assert.Equal(t, domain.StatusPending, body.Status)
	assert.Contains(t, body.Number, "RK-")
}

func TestCreateOrderValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := postJSON(t, srv, "/orders", map[string]any{
		"customer": "lin@example.com",
		"currency": "eur",
		"items":    []map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "empty items rejected")

	resp, _ = postJSON(t, srv, "/orders", map[string]any{
		"customer": "lin@example.com",
		"currency": "eur",
		"items": []map[string]any{
			{"sku": "sku-1", "quantity": 0, "unit_price_cents": 100},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "zero quantity rejected")
}

func TestGetMissingOrderIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/orders/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckoutAndCaptureFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createOrder(t, srv)

	resp, body := postJSON(t, srv, "/orders/"+id+"/checkout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["intent_id"])
	assert.Equal(t, "cardgate", body["provider"])

	resp, body = postJSON(t, srv, "/orders/"+id+"/capture", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(domain.StatusPaid), body["status"])
}

func TestCheckoutOnCancelledOrderIs409(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createOrder(t, srv)

	resp, _ := postJSON(t, srv, "/orders/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, srv, "/orders/"+id+"/checkout", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRefundStatusMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createOrder(t, srv)

	// Not paid yet: not refundable.
	resp, _ := postJSON(t, srv, "/orders/"+id+"/refunds", map[string]any{"amount_cents": 100})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, _ = postJSON(t, srv, "/orders/"+id+"/checkout", nil)
	resp, _ = postJSON(t, srv, "/orders/"+id+"/capture", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, srv, "/orders/"+id+"/refunds", map[string]any{"amount_cents": 99999})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body := postJSON(t, srv, "/orders/"+id+"/refunds", map[string]any{"amount_cents": 5000, "reason": "damaged"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(domain.StatusPartiallyRefunded), body["order_status"])
}
