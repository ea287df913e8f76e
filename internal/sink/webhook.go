package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// EventIDHeader carries Event.ID on every webhook delivery. Retries reuse
// it, so receivers deduplicate on it.
const EventIDHeader = "X-Codedrop-Event"

// Webhook POSTs outcome events as JSON to a URL. Transport errors, 5xx and
// 429 are retried with doubling delays; other 4xx answers are final.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many times a failed delivery is retried.
// Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) {
		if n >= 0 {
			w.maxRetries = n
		}
	}
}

// WithWebhookBackoff sets the first retry delay. Default: 1s, capped at 30s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a Webhook sink posting to url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		maxBackoff: 30 * time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

var errPermanent = errors.New("sink: webhook rejected event")

func (w *Webhook) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sink: webhook marshal: %w", err)
	}

	delay := w.backoff
	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = min(delay*2, w.maxBackoff)
		}

		wait, err := w.deliver(ctx, ev.ID, body)
		if err == nil {
			return nil
		}
		if errors.Is(err, errPermanent) || ctx.Err() != nil {
			return err
		}
		if wait > delay {
			delay = min(wait, w.maxBackoff)
		}
		lastErr = err
		w.logger.Warn("sink: webhook delivery failed",
			"event", ev.ID, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("sink: webhook gave up after %d attempts: %w", w.maxRetries+1, lastErr)
}

// deliver makes one POST. On a retryable failure it also returns the
// delay the receiver asked for with Retry-After, if any.
func (w *Webhook) deliver(ctx context.Context, id string, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventIDHeader, id)

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return 0, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		var wait time.Duration
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			wait = time.Duration(s) * time.Second
		}
		return wait, fmt.Errorf("sink: webhook status %d", resp.StatusCode)
	default:
		return 0, fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}
}

func (w *Webhook) Close() error { return nil }
