package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/consulting-marketplace/backend/internal/money"
	"github.com/consulting-marketplace/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Split is one deal's gross divided into the three ledger shares.
type Split struct {
	Gross              money.Money
	ProviderPayout     money.Money
	ReferrerCommission money.Money
	PlatformRevenue    money.Money
}

// ComputeSplit derives the provider and referrer shares with MultiplyRate and
// gives the platform the remainder, so the three always sum to gross.
func ComputeSplit(gross money.Money, hasProvider, hasReferrer bool, rates CommissionRates) (Split, error) {
	s := Split{
		Gross:              gross,
		ProviderPayout:     money.Zero(gross.Currency),
		ReferrerCommission: money.Zero(gross.Currency),
	}
	if hasProvider {
		s.ProviderPayout = gross.MultiplyRate(rates.Provider)
	}
	if hasReferrer {
		s.ReferrerCommission = gross.MultiplyRate(rates.Referrer)
	}

	rest, err := gross.Subtract(s.ProviderPayout)
	if err != nil {
		return Split{}, err
	}
	if rest, err = rest.Subtract(s.ReferrerCommission); err != nil {
		return Split{}, err
	}
	if rest.Amount < 0 {
		return Split{}, fmt.Errorf("split of %s exceeds gross by %d", gross, -rest.Amount)
	}
	s.PlatformRevenue = rest
	return s, nil
}

type LedgerService struct {
	deals  DealStore
	offers OfferStore
	ledger LedgerStore
	audit  AuditLogger
	rates  CommissionRates
	log    *zap.Logger
}

func NewLedgerService(deals DealStore, offers OfferStore, ledger LedgerStore, audit AuditLogger, rates CommissionRates, log *zap.Logger) *LedgerService {
	return &LedgerService{deals: deals, offers: offers, ledger: ledger, audit: audit, rates: rates, log: log}
}

// EarnResult reports what EarnForDeliveredDeal wrote. Created is false when
// the entries already existed.
type EarnResult struct {
	Created bool                 `json:"created"`
	Entries []models.LedgerEntry `json:"entries"`
}

// EarnForDeliveredDeal writes the deal's ledger entries, splitting the offer
// price. It is safe to call concurrently for the same deal: the (deal_id,
// entry_type) unique index lets exactly one caller write and the rest return
// the existing entries. A zero-priced offer yields no entries and writes
// nothing.
func (s *LedgerService) EarnForDeliveredDeal(ctx context.Context, dealID uuid.UUID) (*EarnResult, error) {
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newError(ReasonDealNotFound, "deal %s", dealID)
		}
		return nil, fmt.Errorf("get deal: %w", err)
	}
	if deal.Status != models.DealStatusDelivered && deal.Status != models.DealStatusClosed {
		return nil, newError(ReasonDealNotDelivered, "deal is %s", deal.Status)
	}

	offer, err := s.offers.GetBySlug(ctx, deal.OfferSlug)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newError(ReasonOfferNotFound, "offer %q", deal.OfferSlug)
		}
		return nil, fmt.Errorf("get offer: %w", err)
	}
	if !offer.HasPrice() {
		return nil, newError(ReasonOfferPriceMissing, "offer %q", offer.Slug)
	}

	split, err := ComputeSplit(money.New(*offer.PriceCents, *offer.Currency),
		deal.ProviderUserID != nil, deal.ReferrerUserID != nil, s.rates)
	if err != nil {
		return nil, err
	}

	entries := buildEntries(deal, split)
	if len(entries) == 0 {
		return &EarnResult{Created: false, Entries: entries}, nil
	}
	err = s.ledger.InsertEarned(ctx, deal.ID, entries, models.AuditLog{
		ActorType:  models.ActorTypeSystem,
		Action:     "ledger_earned",
		EntityType: "deal",
		EntityID:   &deal.ID,
		Meta: map[string]any{
			"gross_cents":    split.Gross.Amount,
			"provider_cents": split.ProviderPayout.Amount,
			"referrer_cents": split.ReferrerCommission.Amount,
			"platform_cents": split.PlatformRevenue.Amount,
			"currency":       split.Gross.Currency,
		},
	})
	if errors.Is(err, repositories.ErrDuplicate) {
		existing, err := s.ledger.ListByDeal(ctx, deal.ID)
		if err != nil {
			return nil, fmt.Errorf("list ledger entries: %w", err)
		}
		return &EarnResult{Created: false, Entries: existing}, nil
	}
	if errors.Is(err, repositories.ErrStaleStatus) {
		return nil, newError(ReasonDealNotDelivered, "deal %s left %s before entries were written", deal.ID, deal.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("insert ledger entries: %w", err)
	}

	s.log.Info("ledger entries earned",
		zap.String("deal_id", deal.ID.String()),
		zap.Int("entries", len(entries)),
		zap.String("gross", split.Gross.String()),
	)
	return &EarnResult{Created: true, Entries: entries}, nil
}

// buildEntries keeps only strictly positive shares.
func buildEntries(deal *models.Deal, split Split) []models.LedgerEntry {
	candidates := []struct {
		entryType   string
		beneficiary *uuid.UUID
		amount      money.Money
	}{
		{models.EntryTypeProviderPayout, deal.ProviderUserID, split.ProviderPayout},
		{models.EntryTypeReferrerCommission, deal.ReferrerUserID, split.ReferrerCommission},
		{models.EntryTypePlatformRevenue, nil, split.PlatformRevenue},
	}

	entries := make([]models.LedgerEntry, 0, len(candidates))
	for _, c := range candidates {
		if !c.amount.IsPositive() {
			continue
		}
		entries = append(entries, models.LedgerEntry{
			DealID:            deal.ID,
			EntryType:         c.entryType,
			BeneficiaryUserID: c.beneficiary,
			AmountCents:       c.amount.Amount,
			Currency:          c.amount.Currency,
			Status:            models.LedgerStatusEarned,
		})
	}
	return entries
}

// ApproveEntries moves EARNED entries to APPROVED and returns how many rows
// actually changed. Entries approved concurrently are not counted twice. An
// unknown id fails the whole batch before anything is approved.
func (s *LedgerService) ApproveEntries(ctx context.Context, ids []uuid.UUID, confirm bool, approverID *uuid.UUID) (int, error) {
	if !confirm {
		return 0, newError(ReasonConfirmRequired, "approving ledger entries requires confirm=true")
	}

	found, err := s.ledger.GetByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("load ledger entries: %w", err)
	}
	if missing := missingIDs(ids, found); len(missing) > 0 {
		return 0, newError(ReasonEntryNotFound, "unknown ledger entries %v", missing)
	}

	approved := 0
	for _, id := range ids {
		ok, err := s.ledger.Approve(ctx, id, approverID)
		if err != nil {
			return approved, fmt.Errorf("approve entry %s: %w", id, err)
		}
		if !ok {
			continue
		}
		approved++
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorUserID: approverID,
			ActorType:   models.ActorTypeAdmin,
			Action:      "ledger_approved",
			EntityType:  "ledger_entry",
			EntityID:    &id,
		})
	}

	s.log.Info("ledger entries approved", zap.Int("requested", len(ids)), zap.Int("approved", approved))
	return approved, nil
}

func missingIDs(ids []uuid.UUID, found []models.LedgerEntry) []uuid.UUID {
	have := make(map[uuid.UUID]bool, len(found))
	for _, e := range found {
		have[e.ID] = true
	}
	var missing []uuid.UUID
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// VoidForRefund voids every EARNED or APPROVED entry of the deal, platform
// revenue included. PAID entries stay PAID, and an entry with a transfer in
// flight is settled by the payout that claimed it. Calling it again is a
// no-op.
func (s *LedgerService) VoidForRefund(ctx context.Context, dealID uuid.UUID) (int64, error) {
	n, err := s.ledger.VoidOutstanding(ctx, dealID)
	if err != nil {
		return 0, fmt.Errorf("void ledger entries: %w", err)
	}
	if n > 0 {
		s.log.Info("ledger entries voided", zap.String("deal_id", dealID.String()), zap.Int64("count", n))
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorType:  models.ActorTypeSystem,
			Action:     "ledger_voided",
			EntityType: "deal",
			EntityID:   &dealID,
			Meta:       map[string]any{"count": n},
		})
	}
	return n, nil
}

func (s *LedgerService) ListEntries(ctx context.Context, f repositories.LedgerFilter) ([]models.LedgerEntry, error) {
	return s.ledger.List(ctx, f)
}

// EarnPending catches up deals that were delivered while the inline trigger
// failed. It returns how many deals got new entries.
func (s *LedgerService) EarnPending(ctx context.Context, limit int) (int, error) {
	deals, err := s.deals.ListDeliveredWithoutLedger(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list delivered deals: %w", err)
	}

	created := 0
	for _, d := range deals {
		res, err := s.EarnForDeliveredDeal(ctx, d.ID)
		if err != nil {
			s.log.Error("earn for delivered deal failed", zap.String("deal_id", d.ID.String()), zap.Error(err))
			continue
		}
		if res.Created {
			created++
		}
	}
	return created, nil
}
