package models

import (
	"time"

	"github.com/google/uuid"
)

const PaymentProviderStripe = "STRIPE"

const (
	PaymentStatusCreated  = "CREATED"
	PaymentStatusPaid     = "PAID"
	PaymentStatusRefunded = "REFUNDED"
	PaymentStatusFailed   = "FAILED"
)

type DealPayment struct {
	ID                uuid.UUID `json:"id"`
	DealID            uuid.UUID `json:"deal_id"`
	Provider          string    `json:"provider"`
	CheckoutSessionID *string   `json:"checkout_session_id,omitempty"`
	CheckoutURL       *string   `json:"checkout_url,omitempty"`
	PaymentIntentID   *string   `json:"payment_intent_id,omitempty"`
	Status            string    `json:"status"`
	AmountCents       int64     `json:"amount_cents"`
	Currency          string    `json:"currency"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

const (
	OfferStatusActive   = "ACTIVE"
	OfferStatusInactive = "INACTIVE"
)

// Offer is the priced catalogue item a deal was sold from.
type Offer struct {
	Slug       string    `json:"slug"`
	Title      string    `json:"title"`
	PriceCents *int64    `json:"price_cents,omitempty"`
	Currency   *string   `json:"currency,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func (o *Offer) IsActive() bool { return o.Status == OfferStatusActive }

func (o *Offer) HasPrice() bool {
	return o.PriceCents != nil && o.Currency != nil && *o.Currency != ""
}
