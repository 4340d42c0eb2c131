// Package notify delivers screening outcomes to caller webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hmoriya/tradegate/internal/common"
	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/service"
)

// Default delivery policy.
const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	requestTimeout     = 10 * time.Second
)

// DefaultRetryOptions returns the standard delivery retry policy. Callers
// tuning individual knobs from configuration start from this.
func DefaultRetryOptions() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  defaultMaxAttempts,
		InitialDelay: defaultBaseDelay,
		Multiplier:   2.0,
	}
}

// WebhookNotifier posts notifications with bounded exponential backoff.
// Delivery failure never rolls back pipeline results; callers record the
// error and move on.
type WebhookNotifier struct {
	client *http.Client
	opts   service.RetryOptions
}

// Option configures a WebhookNotifier.
type Option func(*WebhookNotifier)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(n *WebhookNotifier) { n.client = client }
}

// WithRetryOptions overrides the delivery retry policy.
func WithRetryOptions(opts service.RetryOptions) Option {
	return func(n *WebhookNotifier) { n.opts = opts }
}

// NewWebhookNotifier creates a notifier with the default retry policy.
func NewWebhookNotifier(options ...Option) *WebhookNotifier {
	n := &WebhookNotifier{
		client: &http.Client{Timeout: requestTimeout},
		opts:   DefaultRetryOptions(),
	}
	for _, opt := range options {
		opt(n)
	}
	return n
}

// Notify delivers one notification to url. Connection errors and 5xx
// responses are retried with doubling delays; 4xx responses fail immediately
// because the receiver rejected the payload.
func (n *WebhookNotifier) Notify(ctx context.Context, url string, note *model.Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	err = common.WithRetry(ctx, func() error {
		return n.post(ctx, url, body)
	}, n.opts)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrDeliveryFailed, err)
	}

	slog.Info("notification delivered",
		"request_id", note.RequestID, "status", note.Status, "url", url)
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &common.RetryableError{Err: err, Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return &common.RetryableError{Err: err, Retryable: true}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return &common.RetryableError{
			Err:       fmt.Errorf("webhook returned %d", resp.StatusCode),
			Retryable: true,
		}
	default:
		return &common.RetryableError{
			Err:       fmt.Errorf("webhook rejected payload with %d", resp.StatusCode),
			Retryable: false,
		}
	}
}
