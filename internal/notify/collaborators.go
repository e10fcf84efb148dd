package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	orderapp "github.com/robokitlabs/orderflow/internal/order/application"
)

// HTTPNotifier posts notification requests to the notification gateway. The
// gateway dedupes on (order id, template), so repeats are harmless.
type HTTPNotifier struct {
	httpc   *http.Client
	baseURL string
}

func NewHTTPNotifier(baseURL string, timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{
		httpc:   &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (n *HTTPNotifier) Send(ctx context.Context, orderID string, template orderapp.TemplateKind) error {
	body, _ := json.Marshal(map[string]string{
		"order_id": orderID,
		"template": string(template),
	})
	return post(ctx, n.httpc, n.baseURL+"/v1/notifications", body)
}

// HTTPFulfillment asks the warehouse system to start picking an order.
// The endpoint is idempotent on order id.
type HTTPFulfillment struct {
	httpc   *http.Client
	baseURL string
}

func NewHTTPFulfillment(baseURL string, timeout time.Duration) *HTTPFulfillment {
	return &HTTPFulfillment{
		httpc:   &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (f *HTTPFulfillment) Start(ctx context.Context, orderID string) error {
	body, _ := json.Marshal(map[string]string{"order_id": orderID})
	return post(ctx, f.httpc, f.baseURL+"/v1/shipments", body)
}

func post(ctx context.Context, httpc *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s responded %d", url, resp.StatusCode)
	}
	return nil
}
