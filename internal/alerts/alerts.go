// Package alerts turns price.dropped events into webhook notifications.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maltedev/price-tracker/internal/events"
)

// DropPercent is the relative drop from old to new, in percent. It is
// negative for increases and 0 when old is not positive.
func DropPercent(old, new float64) float64 {
	if old <= 0 {
		return 0
	}
	return (old - new) / old * 100
}

// Notifier posts Discord-style {"content": ...} messages to a webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

func NewNotifier(webhookURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "alerts"),
	}
}

func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

func (n *Notifier) Send(ctx context.Context, content string) error {
	if !n.Enabled() {
		n.logger.Debug("webhook not configured, dropping alert")
		return nil
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// FormatDrop renders the alert text for one drop.
func FormatDrop(d events.PriceDropped) string {
	name := d.ProductName
	if name == "" {
		name = fmt.Sprintf("product #%d", d.ProductID)
	}
	return fmt.Sprintf("📉 %s on %s: %.2f € → %.2f € (-%.1f%%)\n%s",
		name, d.SiteName, d.OldPrice, d.NewPrice, d.DropPercent, d.URL)
}
