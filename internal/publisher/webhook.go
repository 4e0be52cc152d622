package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"boxoffice/internal/models"
)

// WebhookSink POSTs the JSON envelope of each event to the publisher target.
type WebhookSink struct {
	client *http.Client
}

func NewWebhookSink(timeout time.Duration) *WebhookSink {
	return &WebhookSink{client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Publish(ctx context.Context, target string, ev models.DomainEvent) error {
	if target == "" {
		return fmt.Errorf("webhook publisher has no target url")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal domain event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Domain-Event-Id", ev.ID.String())
	req.Header.Set("X-Domain-Event-Type", string(ev.EventType))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
