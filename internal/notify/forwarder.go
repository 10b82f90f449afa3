// Package notify forwards settlement events to an operations chat webhook
// (Slack-compatible "text" payloads).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/consulting-marketplace/backend/internal/events"
	"go.uber.org/zap"
)

type Forwarder struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

func NewForwarder(url string, log *zap.Logger) *Forwarder {
	return &Forwarder{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Message renders an event as one line of text. Events without a message
// return "".
func Message(event events.Event) string {
	dealID, _ := event.Payload["deal_id"].(string)

	switch event.Type {
	case events.EventDealStatusChanged:
		from, _ := event.Payload["old_status"].(string)
		to, _ := event.Payload["new_status"].(string)
		return fmt.Sprintf("Deal %s: %s -> %s", dealID, from, to)
	case events.EventPaymentConfirmed:
		return fmt.Sprintf("Payment confirmed for deal %s", dealID)
	case events.EventPaymentRefunded:
		return fmt.Sprintf("Payment refunded for deal %s", dealID)
	}
	return ""
}

// Forward posts the event's message. Delivery is best effort.
func (f *Forwarder) Forward(ctx context.Context, event events.Event) {
	text := Message(event)
	if text == "" {
		return
	}

	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		f.log.Warn("failed to build notification", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("failed to forward notification", zap.String("type", event.Type), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		f.log.Warn("notification webhook returned non-2xx", zap.Int("status", resp.StatusCode))
	}
}
