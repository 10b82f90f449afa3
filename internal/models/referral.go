package models

import (
	"time"

	"github.com/google/uuid"
)

type ReferralCode struct {
	Code        string    `json:"code"`
	OwnerUserID uuid.UUID `json:"owner_user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type ReferralConversion struct {
	DealID         uuid.UUID `json:"deal_id"`
	ReferrerUserID uuid.UUID `json:"referrer_user_id"`
	ConvertedAt    time.Time `json:"converted_at"`
}

// ReferrerCommissionRow is one line of the admin commission report.
type ReferrerCommissionRow struct {
	DealID          uuid.UUID `json:"deal_id"`
	OfferSlug       string    `json:"offer_slug"`
	DealStatus      string    `json:"deal_status"`
	ReferrerUserID  uuid.UUID `json:"referrer_user_id"`
	GrossCents      int64     `json:"gross_cents"`
	CommissionCents int64     `json:"commission_cents"`
	Currency        string    `json:"currency"`
}
