// Package notify delivers handoff packets to the human reviewer's webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/sjson"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Webhook{url: cfg.URL, client: hc}
}

// Payload renders the webhook body: a chat-style "text" line plus the full
// packet under "escalation".
func Payload(p *domain.HandoffPacket) ([]byte, error) {
	packet, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	body := []byte(`{}`)
	body, err = sjson.SetBytes(body, "text",
		fmt.Sprintf("[%s] %s escalation from %s: %s", p.Severity, p.Trigger, p.From, p.Summary))
	if err != nil {
		return nil, err
	}
	body, err = sjson.SetBytes(body, "to", p.To)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(body, "escalation", packet)
}

func (w *Webhook) Notify(ctx context.Context, p *domain.HandoffPacket) error {
	body, err := Payload(p)
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
	return nil
}
