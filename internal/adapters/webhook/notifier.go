package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"swingbot/internal/ports"
)

// Notifier posts lifecycle events to a webhook endpoint as a JSON payload
// with a single "content" field (the shape Discord and most chat webhooks
// accept). Delivery is best effort; the executor degrades on failure.
type Notifier struct {
	url    string
	client *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// New creates a webhook notifier. The timeout bounds each delivery attempt so
// a slow endpoint cannot stall a trading tick.
func New(url string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Notify delivers one message.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	payload, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery failed: %s", resp.Status)
	}
	return nil
}
