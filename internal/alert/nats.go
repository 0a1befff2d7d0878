package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSChannel publishes alert events as JSON to a NATS subject so other
// systems can react to thermal events.
type NATSChannel struct {
	conn    *nats.Conn
	subject string
}

// NewNATSChannel connects to NATS and returns a publishing channel.
func NewNATSChannel(url, subject string) (*NATSChannel, error) {
	conn, err := nats.Connect(url,
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	slog.Info("NATS alert channel initialized", "url", url, "subject", subject)
	return &NATSChannel{conn: conn, subject: subject}, nil
}

// Name identifies the channel in logs and metrics.
func (c *NATSChannel) Name() string { return "nats" }

type natsAlert struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Deliver publishes the event and flushes so connectivity errors surface to
// the notifier's retry loop.
func (c *NATSChannel) Deliver(ctx context.Context, ev Event) error {
	data, err := json.Marshal(natsAlert{
		ID:        ev.ID,
		Title:     ev.Title,
		Body:      ev.Body,
		Severity:  string(ev.Severity),
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	if err := c.conn.Publish(c.subject, data); err != nil {
		return fmt.Errorf("failed to publish alert event: %w", err)
	}

	deadline := 2 * time.Second
	if d, ok := ctx.Deadline(); ok {
		if until := time.Until(d); until < deadline {
			deadline = until
		}
	}
	if err := c.conn.FlushTimeout(deadline); err != nil {
		return fmt.Errorf("failed to flush alert event: %w", err)
	}
	return nil
}

// Close drains the connection.
func (c *NATSChannel) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
