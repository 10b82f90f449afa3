package models

import (
	"time"

	"github.com/google/uuid"
)

// Deal statuses
const (
	DealStatusQueued          = "QUEUED"
	DealStatusAssigned        = "ASSIGNED"
	DealStatusMaestroApproved = "MAESTRO_APPROVED"
	DealStatusPaid            = "PAID"
	DealStatusInProgress      = "IN_PROGRESS"
	DealStatusDelivered       = "DELIVERED"
	DealStatusClosed          = "CLOSED"
	DealStatusRefunded        = "REFUNDED"
)

// Valid state transitions: from -> []to
var ValidDealTransitions = map[string][]string{
	DealStatusQueued:          {DealStatusAssigned},
	DealStatusAssigned:        {DealStatusAssigned, DealStatusMaestroApproved},
	DealStatusMaestroApproved: {DealStatusAssigned, DealStatusPaid},
	DealStatusPaid:            {DealStatusInProgress, DealStatusRefunded},
	DealStatusInProgress:      {DealStatusDelivered, DealStatusRefunded},
	DealStatusDelivered:       {DealStatusClosed, DealStatusRefunded},
	DealStatusClosed:          {},
	DealStatusRefunded:        {},
}

// Targets only the payment flow may drive a deal into. Admin transitions to
// these are rejected even when the edge exists.
var systemOnlyTargets = map[string]bool{
	DealStatusPaid:     true,
	DealStatusRefunded: true,
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidDealTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsValidDealStatus(status string) bool {
	_, ok := ValidDealTransitions[status]
	return ok
}

func IsSystemOnlyTarget(status string) bool {
	return systemOnlyTargets[status]
}

func IsTerminalDealStatus(status string) bool {
	allowed, ok := ValidDealTransitions[status]
	return ok && len(allowed) == 0
}

// HasReachedPaid reports whether payment was confirmed at some point in the
// deal's lifecycle.
func HasReachedPaid(status string) bool {
	switch status {
	case DealStatusPaid, DealStatusInProgress, DealStatusDelivered, DealStatusClosed, DealStatusRefunded:
		return true
	}
	return false
}

// IsRefundable reports whether a refund may move the deal to REFUNDED.
func IsRefundable(status string) bool {
	return IsValidTransition(status, DealStatusRefunded)
}

type Deal struct {
	ID                      uuid.UUID  `json:"id"`
	IntakeID                uuid.UUID  `json:"intake_id"`
	OfferSlug               string     `json:"offer_slug"`
	Status                  string     `json:"status"`
	ReferrerUserID          *uuid.UUID `json:"referrer_user_id,omitempty"`
	RequestedProviderUserID *uuid.UUID `json:"requested_provider_user_id,omitempty"`
	ProviderUserID          *uuid.UUID `json:"provider_user_id,omitempty"`
	MaestroUserID           *uuid.UUID `json:"maestro_user_id,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// DealStatusChange is one guarded status write. Optional assignment fields are
// written in the same statement as the status.
type DealStatusChange struct {
	DealID         uuid.UUID
	From           string
	To             string
	Note           string
	ActorUserID    *uuid.UUID
	ActorType      string // admin / system / webhook
	ProviderUserID *uuid.UUID
	MaestroUserID  *uuid.UUID
}

type DealStatusHistory struct {
	ID          uuid.UUID  `json:"id"`
	DealID      uuid.UUID  `json:"deal_id"`
	FromStatus  *string    `json:"from_status,omitempty"`
	ToStatus    string     `json:"to_status"`
	Note        *string    `json:"note,omitempty"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`
	ActorType   string     `json:"actor_type"`
	CreatedAt   time.Time  `json:"created_at"`
}
