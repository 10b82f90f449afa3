// Package gateway is the payment processor boundary used by the payment and
// payout services.
package gateway

import (
	"context"
	"errors"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("gateway: invalid webhook signature")

// Webhook event types handled by the payment service.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventChargeRefunded    = "charge.refunded"
)

type CheckoutRequest struct {
	SuccessURL  string
	CancelURL   string
	Currency    string
	AmountCents int64
	Description string
	Metadata    map[string]string
}

type CheckoutSession struct {
	ID              string
	URL             string
	PaymentIntentID string // empty until the customer pays
}

type Refund struct {
	ID     string
	Status string
}

type TransferRequest struct {
	AmountCents    int64
	Currency       string
	Destination    string
	IdempotencyKey string
	Metadata       map[string]string
}

type Transfer struct {
	ID string
}

// WebhookEvent is a verified gateway event reduced to the fields the payment
// service reads.
type WebhookEvent struct {
	ID              string
	Type            string
	ObjectID        string
	PaymentIntentID string
	Metadata        map[string]string
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	ExpireCheckoutSession(ctx context.Context, sessionID string) error
	CreateRefund(ctx context.Context, paymentIntentID, reason string, metadata map[string]string) (*Refund, error)
	ConstructWebhookEvent(payload []byte, signature string) (*WebhookEvent, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
}
