package services

import (
	"context"
	"sync"
	"testing"

	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/consulting-marketplace/backend/internal/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSplitSumsToGross(t *testing.T) {
	rateSets := []CommissionRates{
		testRates,
		{Provider: decimal.RequireFromString("0.333"), Referrer: decimal.RequireFromString("0.333")},
		{Provider: decimal.RequireFromString("0.6667"), Referrer: decimal.RequireFromString("0.1111")},
		{Provider: decimal.RequireFromString("0.5"), Referrer: decimal.RequireFromString("0.25")},
		{Provider: decimal.Zero, Referrer: decimal.Zero},
	}
	grosses := []int64{0, 1, 2, 3, 7, 99, 1_000_000, 999_999_999, 123_456_789_012}
	for g := int64(0); g < 2000; g++ {
		grosses = append(grosses, g)
	}

	for _, rates := range rateSets {
		for _, hasProvider := range []bool{true, false} {
			for _, hasReferrer := range []bool{true, false} {
				for _, g := range grosses {
					s, err := ComputeSplit(money.New(g, "usd"), hasProvider, hasReferrer, rates)
					if err != nil {
						t.Fatalf("ComputeSplit(%d) error = %v", g, err)
					}
					sum := s.ProviderPayout.Amount + s.ReferrerCommission.Amount + s.PlatformRevenue.Amount
					if sum != g {
						t.Fatalf("gross %d rates %s/%s: shares sum to %d", g, rates.Provider, rates.Referrer, sum)
					}
					if s.PlatformRevenue.Amount < 0 {
						t.Fatalf("gross %d: negative platform revenue %d", g, s.PlatformRevenue.Amount)
					}
				}
			}
		}
	}
}

func TestComputeSplitZeroesAbsentParties(t *testing.T) {
	s, err := ComputeSplit(money.New(10_000, "USD"), false, false, testRates)
	require.NoError(t, err)
	assert.True(t, s.ProviderPayout.IsZero())
	assert.True(t, s.ReferrerCommission.IsZero())
	assert.Equal(t, int64(10_000), s.PlatformRevenue.Amount)
}

func TestComputeSplitRejectsOvershoot(t *testing.T) {
	half := decimal.RequireFromString("0.5")
	_, err := ComputeSplit(money.New(1, "USD"), true, true, CommissionRates{Provider: half, Referrer: half})
	assert.Error(t, err)
}

func TestEarnForDeliveredDeal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	provider, referrer := uuid.New(), uuid.New()
	deal := h.seedDeal(models.DealStatusDelivered, &provider, &referrer)

	res, err := h.ledgerSvc.EarnForDeliveredDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.True(t, res.Created)

	byType := map[string]models.LedgerEntry{}
	for _, e := range res.Entries {
		byType[e.EntryType] = e
	}
	require.Len(t, byType, 3)
	assert.Equal(t, int64(700_000), byType[models.EntryTypeProviderPayout].AmountCents)
	assert.Equal(t, provider, *byType[models.EntryTypeProviderPayout].BeneficiaryUserID)
	assert.Equal(t, int64(200_000), byType[models.EntryTypeReferrerCommission].AmountCents)
	assert.Equal(t, referrer, *byType[models.EntryTypeReferrerCommission].BeneficiaryUserID)
	assert.Equal(t, int64(100_000), byType[models.EntryTypePlatformRevenue].AmountCents)
	assert.Nil(t, byType[models.EntryTypePlatformRevenue].BeneficiaryUserID)

	require.Len(t, h.ledger.audits, 1)
	assert.Equal(t, "ledger_earned", h.ledger.audits[0].Action)
}

func TestEarnWithoutReferrerInsertsNoCommissionEntry(t *testing.T) {
	h := newHarness(t)
	provider := uuid.New()
	deal := h.seedDeal(models.DealStatusDelivered, &provider, nil)

	_, err := h.ledgerSvc.EarnForDeliveredDeal(context.Background(), deal.ID)
	require.NoError(t, err)

	entries, _ := h.ledger.ListByDeal(context.Background(), deal.ID)
	require.Len(t, entries, 2)
	var total int64
	for _, e := range entries {
		assert.NotEqual(t, models.EntryTypeReferrerCommission, e.EntryType)
		total += e.AmountCents
	}
	assert.Equal(t, int64(1_000_000), total)
}

func TestEarnIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	provider := uuid.New()
	deal := h.seedDeal(models.DealStatusClosed, &provider, nil)

	first, err := h.ledgerSvc.EarnForDeliveredDeal(ctx, deal.ID)
	require.NoError(t, err)
	second, err := h.ledgerSvc.EarnForDeliveredDeal(ctx, deal.ID)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Len(t, second.Entries, 2)
	entries, _ := h.ledger.ListByDeal(ctx, deal.ID)
	assert.Len(t, entries, 2)
}

func TestEarnConcurrentTriggersWriteOnce(t *testing.T) {
	h := newHarness(t)
	provider, referrer := uuid.New(), uuid.New()
	deal := h.seedDeal(models.DealStatusDelivered, &provider, &referrer)

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.ledgerSvc.EarnForDeliveredDeal(context.Background(), deal.ID)
			if err != nil {
				t.Errorf("EarnForDeliveredDeal: %v", err)
				return
			}
			if res.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	entries, _ := h.ledger.ListByDeal(context.Background(), deal.ID)
	assert.Len(t, entries, 3)
}

func TestEarnRequiresDelivery(t *testing.T) {
	h := newHarness(t)
	deal := h.seedDeal(models.DealStatusInProgress, ptr(uuid.New()), nil)

	_, err := h.ledgerSvc.EarnForDeliveredDeal(context.Background(), deal.ID)
	require.Error(t, err)
	assert.True(t, IsReason(err, ReasonDealNotDelivered))
	assert.Equal(t, KindPrecondition, kindOf(err))
}

func TestEarnRequiresOfferPrice(t *testing.T) {
	h := newHarness(t)
	h.offers.offers["free-call"] = models.Offer{Slug: "free-call", Status: models.OfferStatusActive}
	deal := h.seedDeal(models.DealStatusDelivered, nil, nil)
	h.deals.mu.Lock()
	d := h.deals.deals[deal.ID]
	d.OfferSlug = "free-call"
	h.deals.deals[deal.ID] = d
	h.deals.mu.Unlock()

	_, err := h.ledgerSvc.EarnForDeliveredDeal(context.Background(), deal.ID)
	assert.True(t, IsReason(err, ReasonOfferPriceMissing))
}

func TestApproveEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deal := h.seedDeal(models.DealStatusDelivered, ptr(uuid.New()), ptr(uuid.New()))
	res, err := h.ledgerSvc.EarnForDeliveredDeal(ctx, deal.ID)
	require.NoError(t, err)

	ids := []uuid.UUID{res.Entries[0].ID, res.Entries[1].ID}
	approver := uuid.New()

	_, err = h.ledgerSvc.ApproveEntries(ctx, ids, false, &approver)
	assert.Equal(t, KindPrecondition, kindOf(err))
	assert.True(t, IsReason(err, ReasonConfirmRequired))

	n, err := h.ledgerSvc.ApproveEntries(ctx, ids, true, &approver)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A second approval changes nothing.
	n, err = h.ledgerSvc.ApproveEntries(ctx, ids, true, &approver)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	entries, _ := h.ledger.GetByIDs(ctx, ids)
	for _, e := range entries {
		assert.Equal(t, models.LedgerStatusApproved, e.Status)
		assert.Equal(t, approver, *e.ApprovedByUserID)
	}
}

func TestApproveEntriesUnknownID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deal := h.seedDeal(models.DealStatusDelivered, ptr(uuid.New()), nil)
	res, err := h.ledgerSvc.EarnForDeliveredDeal(ctx, deal.ID)
	require.NoError(t, err)

	unknown := uuid.New()
	n, err := h.ledgerSvc.ApproveEntries(ctx, []uuid.UUID{res.Entries[0].ID, unknown}, true, nil)
	require.Error(t, err)
	assert.True(t, IsReason(err, ReasonEntryNotFound))
	assert.Equal(t, KindNotFound, kindOf(err))
	assert.Contains(t, err.Error(), unknown.String())
	assert.Zero(t, n)

	entries, _ := h.ledger.ListByDeal(ctx, deal.ID)
	for _, e := range entries {
		assert.Equal(t, models.LedgerStatusEarned, e.Status)
	}
}

func TestVoidForRefundLeavesPaidEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deal := h.seedDeal(models.DealStatusDelivered, ptr(uuid.New()), ptr(uuid.New()))
	res, err := h.ledgerSvc.EarnForDeliveredDeal(ctx, deal.ID)
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)

	h.ledger.setStatus(res.Entries[0].ID, models.LedgerStatusPaid)
	h.ledger.setStatus(res.Entries[1].ID, models.LedgerStatusApproved)

	n, err := h.ledgerSvc.VoidForRefund(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, _ := h.ledger.ListByDeal(ctx, deal.ID)
	statuses := map[uuid.UUID]string{}
	for _, e := range entries {
		statuses[e.ID] = e.Status
	}
	assert.Equal(t, models.LedgerStatusPaid, statuses[res.Entries[0].ID])
	assert.Equal(t, models.LedgerStatusVoid, statuses[res.Entries[1].ID])
	assert.Equal(t, models.LedgerStatusVoid, statuses[res.Entries[2].ID])

	n, err = h.ledgerSvc.VoidForRefund(ctx, deal.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEarnPendingCatchesUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seedDeal(models.DealStatusDelivered, ptr(uuid.New()), nil)
	b := h.seedDeal(models.DealStatusClosed, ptr(uuid.New()), nil)
	h.seedDeal(models.DealStatusInProgress, ptr(uuid.New()), nil)

	_, err := h.ledgerSvc.EarnForDeliveredDeal(ctx, a.ID)
	require.NoError(t, err)

	n, err := h.ledgerSvc.EarnPending(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, _ := h.ledger.ListByDeal(ctx, b.ID)
	assert.Len(t, entries, 2)
}

func TestEarnLosesToRefundCommittedMidway(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deal := h.seedDeal(models.DealStatusDelivered, ptr(uuid.New()), ptr(uuid.New()))
	h.seedPayment(deal.ID, models.PaymentStatusPaid)

	h.offers.onGet = func() {
		_, err := h.paymentSvc.RefundPayment(ctx, deal.ID, "client cancelled", true, nil)
		require.NoError(t, err)
	}

	_, err := h.ledgerSvc.EarnForDeliveredDeal(ctx, deal.ID)
	require.Error(t, err)
	assert.True(t, IsReason(err, ReasonDealNotDelivered))

	assert.Equal(t, models.DealStatusRefunded, h.deal(deal.ID).Status)
	entries, _ := h.ledger.ListByDeal(ctx, deal.ID)
	assert.Empty(t, entries)
	assert.Empty(t, h.ledger.audits)
}

func TestEarnZeroPricedOfferWritesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	zero, usd := int64(0), "USD"
	h.offers.offers["intro-call"] = models.Offer{Slug: "intro-call", PriceCents: &zero, Currency: &usd, Status: models.OfferStatusActive}
	deal := h.seedDeal(models.DealStatusDelivered, ptr(uuid.New()), nil)
	h.deals.mu.Lock()
	d := h.deals.deals[deal.ID]
	d.OfferSlug = "intro-call"
	h.deals.deals[deal.ID] = d
	h.deals.mu.Unlock()

	res, err := h.ledgerSvc.EarnForDeliveredDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Empty(t, res.Entries)
	assert.Empty(t, h.ledger.audits)

	pending, err := h.deals.ListDeliveredWithoutLedger(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err := h.ledgerSvc.EarnPending(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.ledger.audits)
}

func TestEarnSplitsOfferPriceAsGross(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	referrer := uuid.New()
	deal := h.seedDeal(models.DealStatusDelivered, ptr(uuid.New()), &referrer)
	paid := h.seedPayment(deal.ID, models.PaymentStatusPaid)
	h.payments.mu.Lock()
	for _, r := range h.payments.rows {
		if r.ID == paid.ID {
			r.AmountCents = 900_000
		}
	}
	h.payments.mu.Unlock()

	res, err := h.ledgerSvc.EarnForDeliveredDeal(ctx, deal.ID)
	require.NoError(t, err)
	var total, commission int64
	for _, e := range res.Entries {
		total += e.AmountCents
		if e.EntryType == models.EntryTypeReferrerCommission {
			commission = e.AmountCents
		}
	}
	assert.Equal(t, int64(1_000_000), total)
	assert.Equal(t, int64(200_000), commission)
}
