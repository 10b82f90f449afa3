package dto

type CreateDealRequest struct {
	IntakeID                string  `json:"intake_id"`
	OfferSlug               string  `json:"offer_slug"`
	RequestedProviderUserID *string `json:"requested_provider_user_id,omitempty"`
	ReferralCode            string  `json:"referral_code,omitempty"`
}

type AssignProviderRequest struct {
	ProviderUserID string `json:"provider_user_id"`
}

type ApproveDealRequest struct {
	// Defaults to the caller when empty.
	MaestroUserID string `json:"maestro_user_id,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status"` // IN_PROGRESS / DELIVERED / CLOSED
	Note   string `json:"note,omitempty"`
}

type RefundRequest struct {
	Reason  string `json:"reason,omitempty"`
	Confirm bool   `json:"confirm"`
}

type LedgerBatchRequest struct {
	EntryIDs []string `json:"entry_ids"`
	Confirm  bool     `json:"confirm"`
}

type PayoutAccountRequest struct {
	StripeAccountID string `json:"stripe_account_id"`
}
