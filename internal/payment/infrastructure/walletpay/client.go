package walletpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/robokitlabs/orderflow/internal/payment/application"
	"github.com/robokitlabs/orderflow/internal/payment/domain"
)

var supportedCurrencies = map[string]bool{
	"usd": true, "eur": true, "gbp": true, "pln": true, "sek": true,
}

// Client talks to the wallet processor's REST API. Its wire shapes differ from
// cardgate's in nearly every detail; none of them leak past this package.
type Client struct {
	log           *slog.Logger
	httpc         *http.Client
	baseURL       string
	apiKey        string
	webhookSecret string
}

func New(log *slog.Logger, baseURL, apiKey, webhookSecret string, timeout time.Duration) *Client {
	return &Client{
		log:           log,
		httpc:         &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
	}
}

func (c *Client) Name() domain.Provider { return domain.ProviderWalletpay }

type walletOrder struct {
	OrderID      string `json:"order_id"`
	State        string `json:"state"`
	ApproveToken string `json:"approve_token"`
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
		"reference": p.OrderID,
		"payer":     p.Customer,
		"total": map[string]any{
			"units":    p.AmountCents,
			"currency": p.Currency,
		},
	}
	var resp walletOrder
	if err := c.do(ctx, http.MethodPost, "/v2/wallet/orders", p.IdempotencyKey, body, &resp); err != nil {
		return application.IntentResult{}, err
	}
	return application.IntentResult{
		IntentID:    resp.OrderID,
		ClientToken: resp.ApproveToken,
		Status:      mapState(resp.State),
	}, nil
}

func (c *Client) ConfirmOrCapture(ctx context.Context, intentID string) (domain.IntentStatus, error) {
	var resp walletOrder
	err := c.do(ctx, http.MethodPost, "/v2/wallet/orders/"+intentID+"/capture", "", nil, &resp)
	if err != nil {
		// Capturing an already-captured wallet order is reported as an error
		// code rather than a success; fold it back into the idempotent
		// contract.
		if isCode(err, "ORDER_ALREADY_CAPTURED") {
			return domain.IntentSucceeded, nil
		}
		return "", err
	}
	return mapState(resp.State), nil
}

func (c *Client) GetIntent(ctx context.Context, intentID string) (domain.IntentStatus, error) {
	var resp walletOrder
	if err := c.do(ctx, http.MethodGet, "/v2/wallet/orders/"+intentID, "", nil, &resp); err != nil {
		return "", err
	}
	return mapState(resp.State), nil
}

type walletRefund struct {
	RefundID string `json:"refund_id"`
	State    string `json:"state"`
}

func (c *Client) Refund(ctx context.Context, intentID string, amountCents int64, reason string) (application.RefundResult, error) {
	body := map[string]any{"note": reason}
	if amountCents > 0 {
		body["units"] = amountCents
	}
	var resp walletRefund
	if err := c.do(ctx, http.MethodPost, "/v2/wallet/orders/"+intentID+"/refund", "", body, &resp); err != nil {
		if isCode(err, "REFUND_EXCEEDS_CAPTURE") {
			return application.RefundResult{}, application.ErrAmountExceedsCaptured
		}
		if isCode(err, "ALREADY_REFUNDED") {
			return application.RefundResult{}, application.ErrAlreadyRefunded
		}
		return application.RefundResult{}, err
	}
	status := domain.RefundPending
	switch resp.State {
	case "COMPLETED":
		status = domain.RefundSucceeded
	case "DENIED":
		status = domain.RefundFailed
	}
	return application.RefundResult{RefundID: resp.RefundID, Status: status}, nil
}

type walletEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Resource  struct {
		OrderID   string `json:"order_id"`
		Reference string `json:"reference"`
		RefundID  string `json:"refund_id"`
		Units     int64  `json:"units"`
		Note      string `json:"note"`
	} `json:"resource"`
}

func (c *Client) ParseWebhook(payload []byte, signatureHeader string) (domain.NormalizedEvent, error) {
	if err := verifySignature(payload, signatureHeader, c.webhookSecret); err != nil {
		return domain.NormalizedEvent{}, err
	}

	var env walletEvent
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("%w: malformed event payload", application.ErrInvalidRequest)
	}

	var typ domain.EventType
	switch env.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		typ = domain.EventPaymentSucceeded
	case "PAYMENT.CAPTURE.DENIED":
		typ = domain.EventPaymentFailed
	case "CHECKOUT.PAYER-ACTION.REQUIRED":
		typ = domain.EventRequiresAction
	case "PAYMENT.REFUND.COMPLETED":
		typ = domain.EventRefundCompleted
	case "CUSTOMER.DISPUTE.CREATED":
		typ = domain.EventDisputeOpened
	default:
		return domain.NormalizedEvent{}, fmt.Errorf("%w: unhandled event type %q", application.ErrInvalidRequest, env.EventType)
	}

	return domain.NormalizedEvent{
		ProviderEventID: env.EventID,
		Provider:        domain.ProviderWalletpay,
		Type:            typ,
		IntentID:        env.Resource.OrderID,
		RefundID:        env.Resource.RefundID,
		AmountCents:     env.Resource.Units,
		OrderHint:       env.Resource.Reference,
		Reason:          env.Resource.Note,
	}, nil
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type codeError struct {
	code    string
	wrapped error
}

func (e *codeError) Error() string { return e.wrapped.Error() }
func (e *codeError) Unwrap() error { return e.wrapped }

func isCode(err error, code string) bool {
	var ce *codeError
	return errors.As(err, &ce) && ce.code == code
}

func (c *Client) do(ctx context.Context, method, path, requestID string, body, out any) error {
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
	if requestID != "" {
		req.Header.Set("Wallet-Request-Id", requestID)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
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
		return &codeError{
			code:    ae.Code,
			wrapped: fmt.Errorf("%w: status %d: %s", application.ErrInvalidRequest, resp.StatusCode, ae.Message),
		}
	}
	return json.Unmarshal(raw, out)
}

func mapState(s string) domain.IntentStatus {
	switch s {
	case "PAYER_ACTION_REQUIRED":
		return domain.IntentRequiresAction
	case "COMPLETED":
		return domain.IntentSucceeded
	case "DECLINED", "VOIDED":
		return domain.IntentFailed
	case "REFUNDED":
		return domain.IntentRefunded
	case "PARTIALLY_REFUNDED":
		return domain.IntentPartiallyRefunded
	default:
		return domain.IntentCreated
	}
}
