package x608

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPWebhookNotifier posts payment events as JSON to a fixed endpoint.
// Deliveries are best-effort; callers swallow the returned error after
// logging it.
type HTTPWebhookNotifier struct {
	URL    string
	Client *http.Client
}

// NewHTTPWebhookNotifier creates a notifier with a 10 second request timeout.
func NewHTTPWebhookNotifier(url string) *HTTPWebhookNotifier {
	return &HTTPWebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify delivers the event. A non-2xx response counts as a failure.
func (n *HTTPWebhookNotifier) Notify(ctx context.Context, event PaymentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

var _ WebhookNotifier = (*HTTPWebhookNotifier)(nil)
