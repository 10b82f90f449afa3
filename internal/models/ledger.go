package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EntryTypeProviderPayout     = "PROVIDER_PAYOUT"
	EntryTypeReferrerCommission = "REFERRER_COMMISSION"
	EntryTypePlatformRevenue    = "PLATFORM_REVENUE"
)

const (
	LedgerStatusEarned   = "EARNED"
	LedgerStatusApproved = "APPROVED"
	LedgerStatusPaid     = "PAID"
	LedgerStatusVoid     = "VOID"
)

type LedgerEntry struct {
	ID                uuid.UUID  `json:"id"`
	DealID            uuid.UUID  `json:"deal_id"`
	EntryType         string     `json:"entry_type"`
	BeneficiaryUserID *uuid.UUID `json:"beneficiary_user_id,omitempty"`
	AmountCents       int64      `json:"amount_cents"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	EarnedAt          time.Time  `json:"earned_at"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	ApprovedByUserID  *uuid.UUID `json:"approved_by_user_id,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	VoidedAt          *time.Time `json:"voided_at,omitempty"`
}

// IsPayable reports whether a payout transfer may be issued for the entry.
func (e *LedgerEntry) IsPayable() bool {
	return e.Status == LedgerStatusApproved &&
		e.EntryType != EntryTypePlatformRevenue &&
		e.BeneficiaryUserID != nil &&
		e.AmountCents > 0
}

const (
	PayoutStatusPending   = "PENDING"
	PayoutStatusSucceeded = "SUCCEEDED"
	PayoutStatusFailed    = "FAILED"
)

type PayoutExecution struct {
	ID             uuid.UUID `json:"id"`
	LedgerEntryID  uuid.UUID `json:"ledger_entry_id"`
	Provider       string    `json:"provider"`
	IdempotencyKey string    `json:"idempotency_key"`
	Status         string    `json:"status"`
	TransferID     *string   `json:"transfer_id,omitempty"`
	AttemptCount   int       `json:"attempt_count"`
	LastError      *string   `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PayoutAccount maps a beneficiary to their connected gateway account.
type PayoutAccount struct {
	UserID          uuid.UUID `json:"user_id"`
	StripeAccountID string    `json:"stripe_account_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
