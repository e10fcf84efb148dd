package cardgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/robokitlabs/orderflow/internal/payment/application"
	"github.com/robokitlabs/orderflow/internal/payment/domain"
)

var supportedCurrencies = map[string]bool{
	"usd": true, "eur": true, "gbp": true, "cad": true, "aud": true, "chf": true,
}

// Client talks to the card/bank-debit processor's REST API.
type Client struct {
	log           *slog.Logger
	httpc         *http.Client
	baseURL       string
	apiKey        string
	webhookSecret string
	nowFunc       func() time.Time
}

func New(log *slog.Logger, baseURL, apiKey, webhookSecret string, timeout time.Duration) *Client {
	return &Client{
		log:           log,
		httpc:         &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		nowFunc:       time.Now,
	}
}

func (c *Client) Name() domain.Provider { return domain.ProviderCardgate }

type intentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
}

func (c *Client) CreateIntent(ctx context.Context, p application.CreateIntentParams) (application.IntentResult, error) {
	if p.AmountCents <= 0 {
		return application.IntentResult{}, fmt.Errorf("%w: amount must be positive", application.ErrInvalidRequest)
	}
	if !supportedCurrencies[p.Currency] {
		return application.IntentResult{}, fmt.Errorf("%w: unsupported currency %q", application.ErrInvalidRequest, p.Currency)
	}
	if p.IdempotencyKey == "" {
		return application.IntentResult{}, fmt.Errorf("%w: missing idempotency key", application.ErrInvalidRequest)
	}

	body := map[string]any{
		"amount":   p.AmountCents,
		"currency": p.Currency,
		"customer": p.Customer,
		"metadata": map[string]string{"order_id": p.OrderID},
	}
	var resp intentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/intents", p.IdempotencyKey, body, &resp); err != nil {
		return application.IntentResult{}, err
	}
	return application.IntentResult{
		IntentID:    resp.ID,
		ClientToken: resp.ClientSecret,
		Status:      mapStatus(resp.Status),
	}, nil
}

func (c *Client) ConfirmOrCapture(ctx context.Context, intentID string) (domain.IntentStatus, error) {
	var resp intentResponse
	// The processor treats capture of an already-captured intent as a plain
	// success, which keeps this call idempotent.
	if err := c.do(ctx, http.MethodPost, "/v1/intents/"+intentID+"/capture", "", nil, &resp); err != nil {
		return "", err
	}
	return mapStatus(resp.Status), nil
}

func (c *Client) GetIntent(ctx context.Context, intentID string) (domain.IntentStatus, error) {
	var resp intentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/intents/"+intentID, "", nil, &resp); err != nil {
		return "", err
	}
	return mapStatus(resp.Status), nil
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *Client) Refund(ctx context.Context, intentID string, amountCents int64, reason string) (application.RefundResult, error) {
	body := map[string]any{"reason": reason}
	if amountCents > 0 {
		body["amount"] = amountCents
	}
	var resp refundResponse
	if err := c.do(ctx, http.MethodPost, "/v1/intents/"+intentID+"/refunds", "", body, &resp); err != nil {
		return application.RefundResult{}, err
	}
	return application.RefundResult{RefundID: resp.ID, Status: mapRefundStatus(resp.Status)}, nil
}

type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		IntentID string `json:"intent_id"`
		OrderID  string `json:"order_id"`
		RefundID string `json:"refund_id"`
		Amount   int64  `json:"amount"`
		Reason   string `json:"reason"`
	} `json:"data"`
}

// ParseWebhook verifies the signature header before anything in the payload is
// read, then normalizes the event.
func (c *Client) ParseWebhook(payload []byte, signatureHeader string) (domain.NormalizedEvent, error) {
	if err := verifySignature(payload, signatureHeader, c.webhookSecret, c.nowFunc()); err != nil {
		return domain.NormalizedEvent{}, err
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("%w: malformed event payload", application.ErrInvalidRequest)
	}

	var typ domain.EventType
	switch env.Type {
	case "payment_intent.succeeded":
		typ = domain.EventPaymentSucceeded
	case "payment_intent.payment_failed":
		typ = domain.EventPaymentFailed
	case "payment_intent.requires_action":
		typ = domain.EventRequiresAction
	case "refund.succeeded":
		typ = domain.EventRefundCompleted
	case "dispute.created":
		typ = domain.EventDisputeOpened
	default:
		return domain.NormalizedEvent{}, fmt.Errorf("%w: unhandled event type %q", application.ErrInvalidRequest, env.Type)
	}

	return domain.NormalizedEvent{
		ProviderEventID: env.ID,
		Provider:        domain.ProviderCardgate,
		Type:            typ,
		IntentID:        env.Data.IntentID,
		RefundID:        env.Data.RefundID,
		AmountCents:     env.Data.Amount,
		OrderHint:       env.Data.OrderID,
		Reason:          env.Data.Reason,
	}, nil
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable with the same
		// idempotency key.
		return fmt.Errorf("%w: %v", application.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", application.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", application.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var ae apiError
		_ = json.Unmarshal(raw, &ae)
		switch ae.Error.Code {
		case "already_refunded":
			return application.ErrAlreadyRefunded
		case "amount_exceeds_captured":
			return application.ErrAmountExceedsCaptured
		}
		return fmt.Errorf("%w: status %d: %s", application.ErrInvalidRequest, resp.StatusCode, ae.Error.Message)
	}
	return json.Unmarshal(raw, out)
}

func mapStatus(s string) domain.IntentStatus {
	switch s {
	case "requires_action":
		return domain.IntentRequiresAction
	case "succeeded":
		return domain.IntentSucceeded
	case "failed", "canceled":
		return domain.IntentFailed
	case "refunded":
		return domain.IntentRefunded
	case "partially_refunded":
		return domain.IntentPartiallyRefunded
	default:
		return domain.IntentCreated
	}
}

func mapRefundStatus(s string) domain.RefundStatus {
	switch s {
	case "succeeded":
		return domain.RefundSucceeded
	case "failed":
		return domain.RefundFailed
	default:
		return domain.RefundPending
	}
}
