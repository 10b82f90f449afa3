package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/consulting-marketplace/backend/internal/events"
	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/consulting-marketplace/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Earner creates ledger entries once a deal is delivered.
type Earner interface {
	EarnForDeliveredDeal(ctx context.Context, dealID uuid.UUID) (*EarnResult, error)
}

type DealService struct {
	dealRepo  DealStore
	offerRepo OfferStore
	auditRepo AuditStore
	referrals ReferralAttribution
	earner    Earner
	publisher events.Publisher
	log       *zap.Logger
}

func NewDealService(
	dealRepo DealStore,
	offerRepo OfferStore,
	auditRepo AuditStore,
	referrals ReferralAttribution,
	earner Earner,
	publisher events.Publisher,
	log *zap.Logger,
) *DealService {
	return &DealService{
		dealRepo:  dealRepo,
		offerRepo: offerRepo,
		auditRepo: auditRepo,
		referrals: referrals,
		earner:    earner,
		publisher: publisher,
		log:       log,
	}
}

type CreateDealInput struct {
	IntakeID                uuid.UUID
	OfferSlug               string
	RequestedProviderUserID *uuid.UUID
	ReferralCode            string
}

func (s *DealService) CreateDeal(ctx context.Context, in CreateDealInput, actorID *uuid.UUID) (*models.Deal, error) {
	if _, err := s.offerRepo.GetBySlug(ctx, in.OfferSlug); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newError(ReasonOfferNotFound, "offer %q", in.OfferSlug)
		}
		return nil, fmt.Errorf("get offer: %w", err)
	}

	deal := &models.Deal{
		IntakeID:                in.IntakeID,
		OfferSlug:               in.OfferSlug,
		Status:                  models.DealStatusQueued,
		RequestedProviderUserID: in.RequestedProviderUserID,
	}

	if in.ReferralCode != "" {
		owner, err := s.referrals.LookupCodeOwner(ctx, in.ReferralCode)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, newError(ReasonReferralCodeUnknown, "referral code %q", in.ReferralCode)
			}
			return nil, fmt.Errorf("lookup referral code: %w", err)
		}
		deal.ReferrerUserID = &owner
	}

	if err := s.dealRepo.Create(ctx, deal, actorID); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, newError(ReasonIntakeAlreadyHasDeal, "intake %s", in.IntakeID)
		}
		return nil, fmt.Errorf("create deal: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   models.ActorTypeAdmin,
		Action:      "deal_created",
		EntityType:  "deal",
		EntityID:    &deal.ID,
		Meta:        map[string]any{"offer_slug": deal.OfferSlug, "intake_id": deal.IntakeID.String()},
	})
	return deal, nil
}

// AssignProvider (re)assigns the provider. Allowed until the deal is paid.
func (s *DealService) AssignProvider(ctx context.Context, dealID, providerID uuid.UUID, actorID *uuid.UUID) (*models.Deal, error) {
	deal, err := s.getDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	change := models.DealStatusChange{
		To:             models.DealStatusAssigned,
		Note:           "provider assigned",
		ActorUserID:    actorID,
		ActorType:      models.ActorTypeAdmin,
		ProviderUserID: &providerID,
	}
	if err := s.adminTransition(ctx, deal, change); err != nil {
		return nil, err
	}
	return deal, nil
}

func (s *DealService) ApproveDeal(ctx context.Context, dealID, maestroID uuid.UUID, actorID *uuid.UUID) (*models.Deal, error) {
	deal, err := s.getDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	change := models.DealStatusChange{
		To:            models.DealStatusMaestroApproved,
		Note:          "maestro approved",
		ActorUserID:   actorID,
		ActorType:     models.ActorTypeAdmin,
		MaestroUserID: &maestroID,
	}
	if err := s.adminTransition(ctx, deal, change); err != nil {
		return nil, err
	}
	return deal, nil
}

// AdminTransition moves a paid deal through delivery. Assignment and approval
// have their own operations; PAID and REFUNDED are reachable only through the
// payment flow.
func (s *DealService) AdminTransition(ctx context.Context, dealID uuid.UUID, to, note string, actorID *uuid.UUID) (*models.Deal, error) {
	switch to {
	case models.DealStatusInProgress, models.DealStatusDelivered, models.DealStatusClosed:
	case models.DealStatusAssigned, models.DealStatusMaestroApproved:
		return nil, newError(ReasonInvalidTransition, "use the assign or approve operation to move to %s", to)
	default:
		if models.IsSystemOnlyTarget(to) {
			return nil, newError(ReasonSystemOnlyTransition, "%s is set by the payment flow", to)
		}
		return nil, newError(ReasonInvalidTransition, "unknown target status %q", to)
	}

	deal, err := s.getDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	change := models.DealStatusChange{
		To:          to,
		Note:        note,
		ActorUserID: actorID,
		ActorType:   models.ActorTypeAdmin,
	}
	if err := s.adminTransition(ctx, deal, change); err != nil {
		return nil, err
	}

	if deal.Status == models.DealStatusDelivered {
		// The worker catch-up job retries deals left without entries.
		if _, err := s.earner.EarnForDeliveredDeal(ctx, deal.ID); err != nil {
			s.log.Error("earn on delivery failed", zap.String("deal_id", deal.ID.String()), zap.Error(err))
		}
	}
	return deal, nil
}

// adminTransition enforces the full guard set for staff-initiated changes.
func (s *DealService) adminTransition(ctx context.Context, deal *models.Deal, change models.DealStatusChange) error {
	if models.IsSystemOnlyTarget(change.To) {
		return newError(ReasonSystemOnlyTransition, "%s is set by the payment flow", change.To)
	}
	if change.To == models.DealStatusInProgress && !models.HasReachedPaid(deal.Status) {
		return newError(ReasonDealNotPaid, "deal is %s, payment not confirmed", deal.Status)
	}
	if !models.IsValidTransition(deal.Status, change.To) {
		return newError(ReasonInvalidTransition, "cannot move deal from %s to %s", deal.Status, change.To)
	}
	return s.apply(ctx, deal, change)
}

// systemTransition is the payment flow's entry point. Payment confirmation
// may move any not-yet-paid deal to PAID; a refund may move any refundable
// deal to REFUNDED. Nothing else passes.
func (s *DealService) systemTransition(ctx context.Context, deal *models.Deal, to, note, actorType string) error {
	allowed := false
	switch to {
	case models.DealStatusPaid:
		allowed = !models.HasReachedPaid(deal.Status)
	case models.DealStatusRefunded:
		allowed = models.IsRefundable(deal.Status)
	}
	if !allowed {
		return newError(ReasonInvalidTransition, "payment flow cannot move deal from %s to %s", deal.Status, to)
	}
	return s.apply(ctx, deal, models.DealStatusChange{To: to, Note: note, ActorType: actorType})
}

func (s *DealService) apply(ctx context.Context, deal *models.Deal, change models.DealStatusChange) error {
	change.DealID = deal.ID
	change.From = deal.Status

	if err := s.dealRepo.TransitionStatus(ctx, change); err != nil {
		switch {
		case errors.Is(err, repositories.ErrStaleStatus):
			return newError(ReasonStatusChanged, "deal is no longer %s", change.From)
		case errors.Is(err, repositories.ErrNotFound):
			return newError(ReasonDealNotFound, "deal %s", deal.ID)
		}
		return fmt.Errorf("transition deal: %w", err)
	}

	deal.Status = change.To
	if change.ProviderUserID != nil {
		deal.ProviderUserID = change.ProviderUserID
	}
	if change.MaestroUserID != nil {
		deal.MaestroUserID = change.MaestroUserID
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: change.ActorUserID,
		ActorType:   change.ActorType,
		Action:      fmt.Sprintf("deal_status_%s_to_%s", change.From, change.To),
		EntityType:  "deal",
		EntityID:    &deal.ID,
		Meta:        map[string]any{"old_status": change.From, "new_status": change.To, "note": change.Note},
	})

	if err := s.publisher.Publish(ctx, events.StreamDeal, events.Event{
		Type: events.EventDealStatusChanged,
		Payload: map[string]any{
			"deal_id":    deal.ID.String(),
			"old_status": change.From,
			"new_status": change.To,
		},
	}); err != nil {
		s.log.Warn("publish deal event failed", zap.String("deal_id", deal.ID.String()), zap.Error(err))
	}
	return nil
}

func (s *DealService) getDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	deal, err := s.dealRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newError(ReasonDealNotFound, "deal %s", id)
		}
		return nil, fmt.Errorf("get deal: %w", err)
	}
	return deal, nil
}

func (s *DealService) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return s.getDeal(ctx, id)
}

func (s *DealService) ListDeals(ctx context.Context, f repositories.DealFilter) ([]models.Deal, error) {
	return s.dealRepo.List(ctx, f)
}

func (s *DealService) History(ctx context.Context, dealID uuid.UUID) ([]models.DealStatusHistory, error) {
	if _, err := s.getDeal(ctx, dealID); err != nil {
		return nil, err
	}
	return s.dealRepo.History(ctx, dealID)
}

// AuditTrail returns the audit rows recorded against the deal, newest first.
func (s *DealService) AuditTrail(ctx context.Context, dealID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.getDeal(ctx, dealID); err != nil {
		return nil, err
	}
	return s.auditRepo.GetByEntity(ctx, "deal", dealID, limit, offset)
}
