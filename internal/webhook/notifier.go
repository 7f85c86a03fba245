// Package webhook posts escalation alerts to a chat webhook in the
// Slack incoming-webhook format.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
)

const defaultTimeout = 10 * time.Second

// Notifier implements ports.AlertNotifier over an HTTP webhook.
type Notifier struct {
	url    string
	client *http.Client
}

var _ ports.AlertNotifier = (*Notifier)(nil)

// NotifierOption configures the Notifier.
type NotifierOption func(*Notifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) NotifierOption {
	return func(n *Notifier) {
		n.client = client
	}
}

func New(url string, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type payload struct {
	Text string `json:"text"`
}

// Notify posts the alert as a single text message.
func (n *Notifier) Notify(ctx context.Context, alert *domain.Alert) error {
	text := fmt.Sprintf("*%s* [%s]\n%s", alert.Subject, alert.Priority, alert.Body)
	body, err := json.Marshal(payload{Text: text})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
