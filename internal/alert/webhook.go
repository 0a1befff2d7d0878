package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookChannel posts alert events as chat embeds to a single channel
// endpoint, the way the original watchdog posted to the Discord REST API.
type WebhookChannel struct {
	baseURL   string
	channelID string
	token     string
	client    *http.Client
}

// NewWebhookChannel creates a channel posting to
// {baseURL}/channels/{channelID}/messages with a bot authorization header.
func NewWebhookChannel(baseURL, channelID, token string) *WebhookChannel {
	return &WebhookChannel{
		baseURL:   baseURL,
		channelID: channelID,
		token:     token,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Name identifies the channel in logs and metrics.
func (c *WebhookChannel) Name() string {
	return "webhook:" + c.channelID
}

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type messagePayload struct {
	Embeds []embed `json:"embeds"`
}

// Deliver posts the event; any non-2xx response is an error so the notifier
// can retry.
func (c *WebhookChannel) Deliver(ctx context.Context, ev Event) error {
	payload := messagePayload{Embeds: []embed{{
		Title:       ev.Title,
		Description: ev.Body,
		Color:       ev.Severity.Color(),
		Timestamp:   ev.Timestamp.Format(time.RFC3339),
	}}}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, c.channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("alert request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert request returned status %d", resp.StatusCode)
	}
	return nil
}
