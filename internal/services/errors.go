package services

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure. Handlers map kinds to HTTP status codes.
type Kind int

const (
	KindPrecondition Kind = iota + 1
	KindConflict
	KindInvalidTransition
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindConflict:
		return "conflict"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

type Reason string

const (
	ReasonAlreadyPaid            Reason = "already_paid"
	ReasonAlreadyRefunded        Reason = "already_refunded"
	ReasonCheckoutInProgress     Reason = "checkout_in_progress"
	ReasonConfirmRequired        Reason = "confirm_required"
	ReasonPaymentNotPaid         Reason = "payment_not_paid"
	ReasonPaymentNotFound        Reason = "payment_not_found"
	ReasonDealNotFound           Reason = "deal_not_found"
	ReasonOfferNotFound          Reason = "offer_not_found"
	ReasonOfferInactive          Reason = "offer_inactive"
	ReasonOfferPriceMissing      Reason = "offer_price_missing"
	ReasonDealNotApproved        Reason = "deal_not_approved"
	ReasonDealNotPaid            Reason = "deal_not_paid"
	ReasonDealNotRefundable      Reason = "deal_not_refundable"
	ReasonDealNotDelivered       Reason = "deal_not_delivered"
	ReasonIntakeAlreadyHasDeal   Reason = "intake_already_has_deal"
	ReasonInvalidTransition      Reason = "invalid_transition"
	ReasonSystemOnlyTransition   Reason = "system_only_transition"
	ReasonStatusChanged          Reason = "status_changed"
	ReasonWebhookMetadataMissing Reason = "webhook_metadata_missing"
	ReasonPaymentIntentMissing   Reason = "payment_intent_missing"
	ReasonEntryNotFound          Reason = "entry_not_found"
	ReasonReferralCodeUnknown    Reason = "referral_code_unknown"
	ReasonPayoutAccountInvalid   Reason = "payout_account_invalid"
)

// reasonKinds fixes the kind of every reason. newError refuses reasons that
// are not listed here.
var reasonKinds = map[Reason]Kind{
	ReasonAlreadyPaid:            KindConflict,
	ReasonAlreadyRefunded:        KindConflict,
	ReasonCheckoutInProgress:     KindConflict,
	ReasonIntakeAlreadyHasDeal:   KindConflict,
	ReasonStatusChanged:          KindConflict,
	ReasonConfirmRequired:        KindPrecondition,
	ReasonPaymentNotPaid:         KindPrecondition,
	ReasonOfferInactive:          KindPrecondition,
	ReasonOfferPriceMissing:      KindPrecondition,
	ReasonOfferNotFound:          KindPrecondition,
	ReasonDealNotApproved:        KindPrecondition,
	ReasonDealNotPaid:            KindPrecondition,
	ReasonDealNotRefundable:      KindPrecondition,
	ReasonDealNotDelivered:       KindPrecondition,
	ReasonWebhookMetadataMissing: KindPrecondition,
	ReasonPaymentIntentMissing:   KindPrecondition,
	ReasonReferralCodeUnknown:    KindPrecondition,
	ReasonPayoutAccountInvalid:   KindPrecondition,
	ReasonInvalidTransition:      KindInvalidTransition,
	ReasonSystemOnlyTransition:   KindInvalidTransition,
	ReasonDealNotFound:           KindNotFound,
	ReasonPaymentNotFound:        KindNotFound,
	ReasonEntryNotFound:          KindNotFound,
}

// ErrWebhookSignature is returned when a webhook payload cannot be verified.
var ErrWebhookSignature = errors.New("webhook signature verification failed")

type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Reason)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(reason Reason, format string, args ...any) *Error {
	kind, ok := reasonKinds[reason]
	if !ok {
		panic(fmt.Sprintf("services: reason %q has no kind", reason))
	}
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsError unwraps err into a service error.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsReason reports whether err carries the given reason.
func IsReason(err error, reason Reason) bool {
	se, ok := AsError(err)
	return ok && se.Reason == reason
}
