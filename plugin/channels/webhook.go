package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// webhookTimeout bounds one outbound webhook request.
var webhookTimeout = 30 * time.Second

// Webhook posts deliveries as JSON to a fixed endpoint. Used as the
// "secondary" channel when an external consumer is configured.
type Webhook struct {
	ChannelName string
	URL         string
	client      *http.Client
}

// NewWebhook creates a webhook channel posting to url.
func NewWebhook(name, url string) *Webhook {
	return &Webhook{
		ChannelName: name,
		URL:         url,
		client:      &http.Client{Timeout: webhookTimeout},
	}
}

func (w *Webhook) Name() string { return w.ChannelName }

// Deliver posts the payload and treats any non-2xx status as a failure.
func (w *Webhook) Deliver(ctx context.Context, delivery *Delivery) error {
	body, err := json.Marshal(delivery)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal webhook request to %s", w.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrapf(err, "failed to construct webhook request to %s", w.URL)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post webhook to %s", w.URL)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "failed to read webhook response from %s", w.URL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("failed to post webhook %s, status code: %d, response body: %s", w.URL, resp.StatusCode, b)
	}
	return nil
}
