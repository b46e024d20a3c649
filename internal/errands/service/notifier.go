package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/25x8/campus-errands/internal/errands/models"
)

// WebhookNotifier posts lifecycle events to an observer endpoint
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

// NewWebhookNotifier creates a notifier posting to url
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type eventBatch struct {
	Events []models.Event `json:"events"`
}

// Notify sends one batch of events as JSON
func (n *WebhookNotifier) Notify(ctx context.Context, events []models.Event) error {
	body, err := json.Marshal(eventBatch{Events: events})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
