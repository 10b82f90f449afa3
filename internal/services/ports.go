package services

import (
	"context"
	"time"

	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/consulting-marketplace/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Storage ports. The repositories package satisfies all of them against
// Postgres; tests use in-memory fakes.

type DealStore interface {
	Create(ctx context.Context, d *models.Deal, actorID *uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	TransitionStatus(ctx context.Context, change models.DealStatusChange) error
	History(ctx context.Context, dealID uuid.UUID) ([]models.DealStatusHistory, error)
	List(ctx context.Context, f repositories.DealFilter) ([]models.Deal, error)
	ListDeliveredWithoutLedger(ctx context.Context, limit int) ([]models.Deal, error)
	ListReferredWithPrice(ctx context.Context, referrerID *uuid.UUID) ([]repositories.ReferredDeal, error)
}

type OfferStore interface {
	GetBySlug(ctx context.Context, slug string) (*models.Offer, error)
}

type PaymentStore interface {
	Create(ctx context.Context, p *models.DealPayment) error
	AttachSession(ctx context.Context, id uuid.UUID, sessionID, checkoutURL string, paymentIntentID *string) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.DealPayment, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.DealPayment, error)
	GetByCheckoutSession(ctx context.Context, sessionID string) (*models.DealPayment, error)
	LatestForDeal(ctx context.Context, dealID uuid.UUID) (*models.DealPayment, error)
	ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.DealPayment, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paymentIntentID *string) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
	FailOtherCreated(ctx context.Context, dealID, keepID uuid.UUID) ([]models.DealPayment, error)
	ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

type WebhookEventStore interface {
	Receive(ctx context.Context, eventID, eventType string) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, message string) error
}

type LedgerStore interface {
	InsertEarned(ctx context.Context, dealID uuid.UUID, entries []models.LedgerEntry, audit models.AuditLog) error
	ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.LedgerEntry, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.LedgerEntry, error)
	List(ctx context.Context, f repositories.LedgerFilter) ([]models.LedgerEntry, error)
	Approve(ctx context.Context, id uuid.UUID, approverID *uuid.UUID) (bool, error)
	VoidOutstanding(ctx context.Context, dealID uuid.UUID) (int64, error)
}

type PayoutStore interface {
	Reserve(ctx context.Context, provider, key string, entryID uuid.UUID) (*models.PayoutExecution, error)
	StartAttempt(ctx context.Context, id, entryID uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id, entryID uuid.UUID, message string) (bool, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, transferID string, entryID uuid.UUID) (bool, error)
}

type PayoutAccountStore interface {
	Upsert(ctx context.Context, a *models.PayoutAccount) error
	GetByUser(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error)
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

// AuditStore adds the read side used to reconstruct an entity's trail.
type AuditStore interface {
	AuditLogger
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// ReferralAttribution is the referral collaborator: code lookup at deal
// creation, conversion recording once a deal is paid.
type ReferralAttribution interface {
	LookupCodeOwner(ctx context.Context, code string) (uuid.UUID, error)
	RecordDealPaid(ctx context.Context, referrerID, dealID uuid.UUID) error
}

// CommissionRates are the fractions of gross owed to the provider and the
// referrer. The platform keeps the remainder.
type CommissionRates struct {
	Provider decimal.Decimal
	Referrer decimal.Decimal
}

var (
	_ DealStore           = (*repositories.DealRepo)(nil)
	_ OfferStore          = (*repositories.OfferRepo)(nil)
	_ PaymentStore        = (*repositories.PaymentRepo)(nil)
	_ WebhookEventStore   = (*repositories.WebhookEventRepo)(nil)
	_ LedgerStore         = (*repositories.LedgerRepo)(nil)
	_ PayoutStore         = (*repositories.PayoutRepo)(nil)
	_ PayoutAccountStore  = (*repositories.PayoutAccountRepo)(nil)
	_ AuditStore          = (*repositories.AuditRepo)(nil)
	_ ReferralAttribution = (*repositories.ReferralRepo)(nil)
)
