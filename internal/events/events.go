package events

import (
	"context"
	"time"
)

// Streams
const (
	StreamDeal    = "events:deal"
	StreamPayment = "events:payment"
)

// Event types
const (
	EventDealStatusChanged = "deal_status_changed"
	EventPaymentConfirmed  = "payment_confirmed"
	EventPaymentRefunded   = "payment_refunded"
)

type Event struct {
	Type       string         `json:"type"`
	Stream     string         `json:"stream,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

// Subscriber delivers events from one or more streams until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(Event), streams ...string) error
}
