package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/consulting-marketplace/backend/internal/events"
	"github.com/consulting-marketplace/backend/internal/gateway"
	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/consulting-marketplace/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// In-memory stores. Each one enforces the same uniqueness and conditional
// update rules as its Postgres table.

type fakeDeals struct {
	mu      sync.Mutex
	deals   map[uuid.UUID]models.Deal
	history []models.DealStatusHistory
	offers  *fakeOffers
	ledger  *fakeLedger
}

func (f *fakeDeals) Create(_ context.Context, d *models.Deal, actorID *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.deals {
		if existing.IntakeID == d.IntakeID {
			return repositories.ErrDuplicate
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	f.deals[d.ID] = *d
	f.history = append(f.history, models.DealStatusHistory{
		ID: uuid.New(), DealID: d.ID, ToStatus: d.Status, ActorUserID: actorID, ActorType: models.ActorTypeAdmin,
	})
	return nil
}

func (f *fakeDeals) GetByID(_ context.Context, id uuid.UUID) (*models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deals[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &d, nil
}

func (f *fakeDeals) TransitionStatus(_ context.Context, c models.DealStatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deals[c.DealID]
	if !ok {
		return repositories.ErrNotFound
	}
	if d.Status != c.From {
		return repositories.ErrStaleStatus
	}
	d.Status = c.To
	if c.ProviderUserID != nil {
		d.ProviderUserID = c.ProviderUserID
	}
	if c.MaestroUserID != nil {
		d.MaestroUserID = c.MaestroUserID
	}
	f.deals[d.ID] = d
	from := c.From
	f.history = append(f.history, models.DealStatusHistory{
		ID: uuid.New(), DealID: d.ID, FromStatus: &from, ToStatus: c.To, ActorUserID: c.ActorUserID, ActorType: c.ActorType,
	})
	return nil
}

func (f *fakeDeals) History(_ context.Context, dealID uuid.UUID) ([]models.DealStatusHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DealStatusHistory
	for _, h := range f.history {
		if h.DealID == dealID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeDeals) List(_ context.Context, flt repositories.DealFilter) ([]models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Deal
	for _, d := range f.deals {
		if flt.Status != nil && d.Status != *flt.Status {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDeals) ListDeliveredWithoutLedger(ctx context.Context, limit int) ([]models.Deal, error) {
	f.mu.Lock()
	var candidates []models.Deal
	for _, d := range f.deals {
		if d.Status != models.DealStatusDelivered && d.Status != models.DealStatusClosed {
			continue
		}
		if o, ok := f.offers.offers[d.OfferSlug]; ok && o.PriceCents != nil && *o.PriceCents == 0 {
			continue
		}
		candidates = append(candidates, d)
	}
	f.mu.Unlock()

	var out []models.Deal
	for _, d := range candidates {
		entries, _ := f.ledger.ListByDeal(ctx, d.ID)
		if len(entries) == 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDeals) ListReferredWithPrice(_ context.Context, referrerID *uuid.UUID) ([]repositories.ReferredDeal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repositories.ReferredDeal
	for _, d := range f.deals {
		if d.ReferrerUserID == nil || (referrerID != nil && *d.ReferrerUserID != *referrerID) {
			continue
		}
		switch d.Status {
		case models.DealStatusPaid, models.DealStatusInProgress, models.DealStatusDelivered, models.DealStatusClosed:
		default:
			continue
		}
		o := f.offers.offers[d.OfferSlug]
		out = append(out, repositories.ReferredDeal{Deal: d, PriceCents: o.PriceCents, Currency: o.Currency})
	}
	return out, nil
}

func (f *fakeDeals) status(id uuid.UUID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deals[id]
	return d.Status, ok
}

func (f *fakeDeals) historyFor(dealID uuid.UUID) []models.DealStatusHistory {
	h, _ := f.History(context.Background(), dealID)
	return h
}

type fakeOffers struct {
	offers map[string]models.Offer
	// onGet runs before each lookup, standing in for work that commits
	// while the caller is between reads.
	onGet func()
}

func (f *fakeOffers) GetBySlug(_ context.Context, slug string) (*models.Offer, error) {
	if hook := f.onGet; hook != nil {
		f.onGet = nil
		hook()
	}
	o, ok := f.offers[slug]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &o, nil
}

type fakePayments struct {
	mu   sync.Mutex
	rows []*models.DealPayment
	// hideLatest makes LatestForDeal miss existing rows, as a concurrent
	// reader would before the other insert commits.
	hideLatest bool
}

func (f *fakePayments) Create(_ context.Context, p *models.DealPayment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.DealID == p.DealID && r.Status == models.PaymentStatusCreated {
			return repositories.ErrDuplicate
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().Add(time.Duration(len(f.rows)) * time.Millisecond)
	p.UpdatedAt = p.CreatedAt
	cp := *p
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakePayments) AttachSession(_ context.Context, id uuid.UUID, sessionID, url string, pi *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == id {
			r.CheckoutSessionID = &sessionID
			r.CheckoutURL = &url
			r.PaymentIntentID = pi
		}
	}
	return nil
}

func (f *fakePayments) find(match func(*models.DealPayment) bool) (*models.DealPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		if match(f.rows[i]) {
			cp := *f.rows[i]
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakePayments) GetByID(_ context.Context, id uuid.UUID) (*models.DealPayment, error) {
	return f.find(func(p *models.DealPayment) bool { return p.ID == id })
}

func (f *fakePayments) GetByPaymentIntent(_ context.Context, pi string) (*models.DealPayment, error) {
	return f.find(func(p *models.DealPayment) bool { return p.PaymentIntentID != nil && *p.PaymentIntentID == pi })
}

func (f *fakePayments) GetByCheckoutSession(_ context.Context, sid string) (*models.DealPayment, error) {
	return f.find(func(p *models.DealPayment) bool { return p.CheckoutSessionID != nil && *p.CheckoutSessionID == sid })
}

func (f *fakePayments) LatestForDeal(_ context.Context, dealID uuid.UUID) (*models.DealPayment, error) {
	if f.hideLatest {
		return nil, repositories.ErrNotFound
	}
	return f.find(func(p *models.DealPayment) bool { return p.DealID == dealID })
}

func (f *fakePayments) ListByDeal(_ context.Context, dealID uuid.UUID) ([]models.DealPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DealPayment
	for _, r := range f.rows {
		if r.DealID == dealID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakePayments) setStatus(id uuid.UUID, from []string, to string, pi *string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID != id {
			continue
		}
		for _, s := range from {
			if r.Status == s {
				r.Status = to
				if pi != nil {
					r.PaymentIntentID = pi
				}
				return true
			}
		}
	}
	return false
}

func (f *fakePayments) MarkPaid(_ context.Context, id uuid.UUID, pi *string) (bool, error) {
	return f.setStatus(id, []string{models.PaymentStatusCreated, models.PaymentStatusFailed}, models.PaymentStatusPaid, pi), nil
}

func (f *fakePayments) MarkRefunded(_ context.Context, id uuid.UUID) (bool, error) {
	return f.setStatus(id, []string{models.PaymentStatusPaid}, models.PaymentStatusRefunded, nil), nil
}

func (f *fakePayments) MarkFailed(_ context.Context, id uuid.UUID) (bool, error) {
	return f.setStatus(id, []string{models.PaymentStatusCreated}, models.PaymentStatusFailed, nil), nil
}

func (f *fakePayments) FailOtherCreated(_ context.Context, dealID, keepID uuid.UUID) ([]models.DealPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DealPayment
	for _, r := range f.rows {
		if r.DealID == dealID && r.ID != keepID && r.Status == models.PaymentStatusCreated {
			r.Status = models.PaymentStatusFailed
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakePayments) ExpireStale(_ context.Context, maxAge time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.Status == models.PaymentStatusCreated && time.Since(r.CreatedAt) > maxAge {
			r.Status = models.PaymentStatusFailed
			n++
		}
	}
	return n, nil
}

type fakeWebhooks struct {
	mu     sync.Mutex
	events map[string]*models.WebhookEvent
}

func (f *fakeWebhooks) Receive(_ context.Context, id, typ string) (*models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		e = &models.WebhookEvent{EventID: id, EventType: typ, Status: models.WebhookStatusReceived, AttemptCount: 1}
		f.events[id] = e
	} else {
		e.AttemptCount++
	}
	cp := *e
	return &cp, nil
}

func (f *fakeWebhooks) MarkProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[id].Status = models.WebhookStatusProcessed
	f.events[id].LastError = nil
	return nil
}

func (f *fakeWebhooks) MarkFailed(_ context.Context, id, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e := f.events[id]; e.Status != models.WebhookStatusProcessed {
		e.Status = models.WebhookStatusFailed
		e.LastError = &msg
	}
	return nil
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []*models.LedgerEntry
	audits  []models.AuditLog
	deals   *fakeDeals
	payouts *fakePayouts
}

func (f *fakeLedger) InsertEarned(_ context.Context, dealID uuid.UUID, entries []models.LedgerEntry, audit models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.deals.status(dealID)
	if !ok {
		return repositories.ErrNotFound
	}
	if status != models.DealStatusDelivered && status != models.DealStatusClosed {
		return repositories.ErrStaleStatus
	}
	for _, e := range entries {
		for _, existing := range f.entries {
			if existing.DealID == e.DealID && existing.EntryType == e.EntryType {
				return repositories.ErrDuplicate
			}
		}
	}
	for i := range entries {
		entries[i].ID = uuid.New()
		entries[i].Status = models.LedgerStatusEarned
		entries[i].EarnedAt = time.Now()
		cp := entries[i]
		f.entries = append(f.entries, &cp)
	}
	f.audits = append(f.audits, audit)
	return nil
}

func (f *fakeLedger) filter(match func(*models.LedgerEntry) bool) []models.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range f.entries {
		if match(e) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryType < out[j].EntryType })
	return out
}

func (f *fakeLedger) ListByDeal(_ context.Context, dealID uuid.UUID) ([]models.LedgerEntry, error) {
	return f.filter(func(e *models.LedgerEntry) bool { return e.DealID == dealID }), nil
}

func (f *fakeLedger) GetByIDs(_ context.Context, ids []uuid.UUID) ([]models.LedgerEntry, error) {
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	return f.filter(func(e *models.LedgerEntry) bool { return want[e.ID] }), nil
}

func (f *fakeLedger) List(_ context.Context, flt repositories.LedgerFilter) ([]models.LedgerEntry, error) {
	return f.filter(func(e *models.LedgerEntry) bool {
		return (flt.DealID == nil || e.DealID == *flt.DealID) && (flt.Status == nil || e.Status == *flt.Status)
	}), nil
}

func (f *fakeLedger) Approve(_ context.Context, id uuid.UUID, approverID *uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id && e.Status == models.LedgerStatusEarned {
			now := time.Now()
			e.Status = models.LedgerStatusApproved
			e.ApprovedAt = &now
			e.ApprovedByUserID = approverID
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) VoidOutstanding(_ context.Context, dealID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.entries {
		if e.DealID != dealID || f.payouts.inFlight(e.ID) {
			continue
		}
		if e.Status == models.LedgerStatusEarned || e.Status == models.LedgerStatusApproved {
			now := time.Now()
			e.Status = models.LedgerStatusVoid
			e.VoidedAt = &now
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) markPaid(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id && e.Status == models.LedgerStatusApproved {
			now := time.Now()
			e.Status = models.LedgerStatusPaid
			e.PaidAt = &now
			return true
		}
	}
	return false
}

func (f *fakeLedger) isApproved(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id {
			return e.Status == models.LedgerStatusApproved
		}
	}
	return false
}

func (f *fakeLedger) voidIfRefunded(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID != id || e.Status != models.LedgerStatusApproved {
			continue
		}
		if status, _ := f.deals.status(e.DealID); status == models.DealStatusRefunded {
			now := time.Now()
			e.Status = models.LedgerStatusVoid
			e.VoidedAt = &now
			return true
		}
	}
	return false
}

func (f *fakeLedger) setStatus(id uuid.UUID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id {
			e.Status = status
		}
	}
}

type fakePayouts struct {
	mu        sync.Mutex
	execs     map[string]*models.PayoutExecution
	ledger    *fakeLedger
	onReserve func()
}

func (f *fakePayouts) Reserve(_ context.Context, provider, key string, entryID uuid.UUID) (*models.PayoutExecution, error) {
	if hook := f.onReserve; hook != nil {
		f.onReserve = nil
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := provider + "|" + key
	e, ok := f.execs[k]
	if !ok {
		e = &models.PayoutExecution{ID: uuid.New(), LedgerEntryID: entryID, Provider: provider, IdempotencyKey: key, Status: models.PayoutStatusPending}
		f.execs[k] = e
	}
	cp := *e
	return &cp, nil
}

func (f *fakePayouts) byID(id uuid.UUID) *models.PayoutExecution {
	for _, e := range f.execs {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (f *fakePayouts) StartAttempt(_ context.Context, id, entryID uuid.UUID) (bool, error) {
	if !f.ledger.isApproved(entryID) {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.byID(id)
	if e == nil || e.Status == models.PayoutStatusSucceeded {
		return false, nil
	}
	e.AttemptCount++
	e.Status = models.PayoutStatusPending
	return true, nil
}

func (f *fakePayouts) MarkFailed(_ context.Context, id, entryID uuid.UUID, msg string) (bool, error) {
	f.mu.Lock()
	if e := f.byID(id); e != nil && e.Status != models.PayoutStatusSucceeded {
		e.Status = models.PayoutStatusFailed
		e.LastError = &msg
	}
	f.mu.Unlock()
	return f.ledger.voidIfRefunded(entryID), nil
}

// inFlight reports an attempt that was claimed and has not finished.
func (f *fakePayouts) inFlight(entryID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.execs {
		if e.LedgerEntryID == entryID && e.Status == models.PayoutStatusPending && e.AttemptCount > 0 {
			return true
		}
	}
	return false
}

func (f *fakePayouts) MarkSucceeded(_ context.Context, id uuid.UUID, transferID string, entryID uuid.UUID) (bool, error) {
	f.mu.Lock()
	e := f.byID(id)
	e.Status = models.PayoutStatusSucceeded
	e.TransferID = &transferID
	e.LastError = nil
	f.mu.Unlock()
	return f.ledger.markPaid(entryID), nil
}

func (f *fakePayouts) forEntry(entryID uuid.UUID) *models.PayoutExecution {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.execs {
		if e.LedgerEntryID == entryID {
			cp := *e
			return &cp
		}
	}
	return nil
}

type fakeAccounts struct {
	accounts map[uuid.UUID]string
}

func (f *fakeAccounts) Upsert(_ context.Context, a *models.PayoutAccount) error {
	f.accounts[a.UserID] = a.StripeAccountID
	return nil
}

func (f *fakeAccounts) GetByUser(_ context.Context, userID uuid.UUID) (*models.PayoutAccount, error) {
	acct, ok := f.accounts[userID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &models.PayoutAccount{UserID: userID, StripeAccountID: acct}, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (f *fakeAudit) Log(_ context.Context, e models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) GetByEntity(_ context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AuditLog
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeReferrals struct {
	mu          sync.Mutex
	codes       map[string]uuid.UUID
	conversions map[uuid.UUID]uuid.UUID
	recordErr   error
}

func (f *fakeReferrals) LookupCodeOwner(_ context.Context, code string) (uuid.UUID, error) {
	owner, ok := f.codes[code]
	if !ok {
		return uuid.Nil, repositories.ErrNotFound
	}
	return owner, nil
}

func (f *fakeReferrals) RecordDealPaid(_ context.Context, referrerID, dealID uuid.UUID) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conversions[dealID]; !ok {
		f.conversions[dealID] = referrerID
	}
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

// fakeGateway resolves webhook payloads by signature and honours transfer
// idempotency keys the way the processor does.
type fakeGateway struct {
	mu            sync.Mutex
	checkoutCalls int
	refundCalls   int
	transferCalls int
	checkoutErr   error
	refundErr     error
	transferErr   map[string]error // by destination
	events        map[string]*gateway.WebhookEvent
	transfers     map[string]string // idempotency key -> transfer id
	lastCheckout  gateway.CheckoutRequest
	expired       []string
	onTransfer    func()
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkoutCalls++
	g.lastCheckout = req
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	id := "cs_" + uuid.NewString()
	return &gateway.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (g *fakeGateway) ExpireCheckoutSession(_ context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expired = append(g.expired, sessionID)
	return nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, pi, _ string, _ map[string]string) (*gateway.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls++
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &gateway.Refund{ID: "re_" + pi, Status: "succeeded"}, nil
}

func (g *fakeGateway) ConstructWebhookEvent(_ []byte, signature string) (*gateway.WebhookEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	evt, ok := g.events[signature]
	if !ok {
		return nil, gateway.ErrInvalidSignature
	}
	cp := *evt
	return &cp, nil
}

func (g *fakeGateway) CreateTransfer(_ context.Context, req gateway.TransferRequest) (*gateway.Transfer, error) {
	if hook := g.onTransfer; hook != nil {
		g.onTransfer = nil
		hook()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.transferErr[req.Destination]; err != nil {
		return nil, err
	}
	if id, ok := g.transfers[req.IdempotencyKey]; ok {
		return &gateway.Transfer{ID: id}, nil
	}
	g.transferCalls++
	id := "tr_" + uuid.NewString()
	g.transfers[req.IdempotencyKey] = id
	return &gateway.Transfer{ID: id}, nil
}

var testRates = CommissionRates{
	Provider: decimal.RequireFromString("0.70"),
	Referrer: decimal.RequireFromString("0.20"),
}

const testOffer = "strategy-sprint"

type harness struct {
	deals     *fakeDeals
	offers    *fakeOffers
	payments  *fakePayments
	webhooks  *fakeWebhooks
	ledger    *fakeLedger
	payouts   *fakePayouts
	accounts  *fakeAccounts
	audit     *fakeAudit
	referrals *fakeReferrals
	publisher *fakePublisher
	gw        *fakeGateway

	dealSvc    *DealService
	ledgerSvc  *LedgerService
	paymentSvc *PaymentService
	payoutSvc  *PayoutService
	reportSvc  *ReportService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	price := int64(1_000_000)
	usd := "USD"

	h := &harness{
		offers: &fakeOffers{offers: map[string]models.Offer{
			testOffer: {Slug: testOffer, Title: "Strategy sprint", PriceCents: &price, Currency: &usd, Status: models.OfferStatusActive},
		}},
		payments:  &fakePayments{},
		webhooks:  &fakeWebhooks{events: map[string]*models.WebhookEvent{}},
		ledger:    &fakeLedger{},
		accounts:  &fakeAccounts{accounts: map[uuid.UUID]string{}},
		audit:     &fakeAudit{},
		referrals: &fakeReferrals{codes: map[string]uuid.UUID{}, conversions: map[uuid.UUID]uuid.UUID{}},
		publisher: &fakePublisher{},
		gw: &fakeGateway{
			transferErr: map[string]error{},
			events:      map[string]*gateway.WebhookEvent{},
			transfers:   map[string]string{},
		},
	}
	h.deals = &fakeDeals{deals: map[uuid.UUID]models.Deal{}, offers: h.offers, ledger: h.ledger}
	h.payouts = &fakePayouts{execs: map[string]*models.PayoutExecution{}, ledger: h.ledger}
	h.ledger.deals = h.deals
	h.ledger.payouts = h.payouts

	log := zap.NewNop()
	h.ledgerSvc = NewLedgerService(h.deals, h.offers, h.ledger, h.audit, testRates, log)
	h.dealSvc = NewDealService(h.deals, h.offers, h.audit, h.referrals, h.ledgerSvc, h.publisher, log)
	h.paymentSvc = NewPaymentService(h.dealSvc, h.offers, h.payments, h.webhooks, h.ledgerSvc, h.referrals,
		h.gw, h.audit, h.publisher, "https://app.test", log)
	h.payoutSvc = NewPayoutService(h.ledger, h.payouts, h.accounts, h.gw, h.audit, log)
	h.reportSvc = NewReportService(h.deals, testRates, log)
	return h
}

// seedDeal stores a deal directly in the given status.
func (h *harness) seedDeal(status string, provider, referrer *uuid.UUID) models.Deal {
	d := models.Deal{
		ID:             uuid.New(),
		IntakeID:       uuid.New(),
		OfferSlug:      testOffer,
		Status:         status,
		ProviderUserID: provider,
		ReferrerUserID: referrer,
	}
	h.deals.mu.Lock()
	h.deals.deals[d.ID] = d
	h.deals.mu.Unlock()
	return d
}

func (h *harness) deal(id uuid.UUID) models.Deal {
	d, _ := h.deals.GetByID(context.Background(), id)
	return *d
}

// seedPayment stores a payment in the given status with a payment intent.
func (h *harness) seedPayment(dealID uuid.UUID, status string) *models.DealPayment {
	pi := "pi_" + uuid.NewString()
	p := &models.DealPayment{
		DealID:          dealID,
		Provider:        models.PaymentProviderStripe,
		Status:          status,
		AmountCents:     1_000_000,
		Currency:        "USD",
		PaymentIntentID: &pi,
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	h.payments.mu.Lock()
	h.payments.rows = append(h.payments.rows, p)
	h.payments.mu.Unlock()
	cp := *p
	return &cp
}

// signedEvent registers evt with the fake gateway and returns the signature
// that resolves to it.
func (h *harness) signedEvent(evt gateway.WebhookEvent) string {
	sig := "sig_" + evt.ID
	h.gw.mu.Lock()
	h.gw.events[sig] = &evt
	h.gw.mu.Unlock()
	return sig
}

func ptr[T any](v T) *T { return &v }

func kindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
