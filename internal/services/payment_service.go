package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/consulting-marketplace/backend/internal/events"
	"github.com/consulting-marketplace/backend/internal/gateway"
	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/consulting-marketplace/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Checkout and payment-intent metadata keys.
const (
	metaDealID    = "deal_id"
	metaPaymentID = "payment_id"
)

// Voider voids a deal's outstanding ledger entries after a refund.
type Voider interface {
	VoidForRefund(ctx context.Context, dealID uuid.UUID) (int64, error)
}

type PaymentService struct {
	deals     *DealService
	offers    OfferStore
	payments  PaymentStore
	webhooks  WebhookEventStore
	ledger    Voider
	referrals ReferralAttribution
	gw        gateway.Gateway
	audit     AuditLogger
	publisher events.Publisher
	baseURL   string
	log       *zap.Logger
}

func NewPaymentService(
	deals *DealService,
	offers OfferStore,
	payments PaymentStore,
	webhooks WebhookEventStore,
	ledger Voider,
	referrals ReferralAttribution,
	gw gateway.Gateway,
	audit AuditLogger,
	publisher events.Publisher,
	baseURL string,
	log *zap.Logger,
) *PaymentService {
	return &PaymentService{
		deals:     deals,
		offers:    offers,
		payments:  payments,
		webhooks:  webhooks,
		ledger:    ledger,
		referrals: referrals,
		gw:        gw,
		audit:     audit,
		publisher: publisher,
		baseURL:   baseURL,
		log:       log,
	}
}

// CreateCheckout opens a gateway checkout for an approved deal. The latest
// payment is checked first; the partial unique index on CREATED rows catches
// the concurrent case the check cannot see.
func (s *PaymentService) CreateCheckout(ctx context.Context, dealID uuid.UUID, actorID *uuid.UUID) (*models.DealPayment, error) {
	deal, err := s.deals.getDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	offer, err := s.offers.GetBySlug(ctx, deal.OfferSlug)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newError(ReasonOfferNotFound, "offer %q", deal.OfferSlug)
		}
		return nil, fmt.Errorf("get offer: %w", err)
	}
	if !offer.IsActive() {
		return nil, newError(ReasonOfferInactive, "offer %q is %s", offer.Slug, offer.Status)
	}
	if !offer.HasPrice() {
		return nil, newError(ReasonOfferPriceMissing, "offer %q", offer.Slug)
	}

	latest, err := s.payments.LatestForDeal(ctx, deal.ID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("latest payment: %w", err)
	}
	if latest != nil {
		switch latest.Status {
		case models.PaymentStatusPaid:
			return nil, newError(ReasonAlreadyPaid, "deal %s", deal.ID)
		case models.PaymentStatusRefunded:
			return nil, newError(ReasonAlreadyRefunded, "deal %s", deal.ID)
		case models.PaymentStatusCreated:
			return nil, newError(ReasonCheckoutInProgress, "payment %s", latest.ID)
		}
	}

	if deal.Status != models.DealStatusMaestroApproved {
		return nil, newError(ReasonDealNotApproved, "deal is %s", deal.Status)
	}

	payment := &models.DealPayment{
		DealID:      deal.ID,
		Provider:    models.PaymentProviderStripe,
		Status:      models.PaymentStatusCreated,
		AmountCents: *offer.PriceCents,
		Currency:    *offer.Currency,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, newError(ReasonCheckoutInProgress, "concurrent checkout for deal %s", deal.ID)
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}

	session, err := s.gw.CreateCheckoutSession(ctx, gateway.CheckoutRequest{
		SuccessURL:  fmt.Sprintf("%s/deals/%s/payment/success?session_id={CHECKOUT_SESSION_ID}", s.baseURL, deal.ID),
		CancelURL:   fmt.Sprintf("%s/deals/%s/payment/cancel", s.baseURL, deal.ID),
		Currency:    payment.Currency,
		AmountCents: payment.AmountCents,
		Description: offer.Title,
		Metadata: map[string]string{
			metaDealID:    deal.ID.String(),
			metaPaymentID: payment.ID.String(),
		},
	})
	if err != nil {
		// Release the CREATED slot so the admin can retry.
		if _, ferr := s.payments.MarkFailed(ctx, payment.ID); ferr != nil {
			s.log.Error("release failed checkout", zap.String("payment_id", payment.ID.String()), zap.Error(ferr))
		}
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	var pi *string
	if session.PaymentIntentID != "" {
		pi = &session.PaymentIntentID
	}
	if err := s.payments.AttachSession(ctx, payment.ID, session.ID, session.URL, pi); err != nil {
		return nil, fmt.Errorf("attach checkout session: %w", err)
	}
	payment.CheckoutSessionID = &session.ID
	payment.CheckoutURL = &session.URL
	payment.PaymentIntentID = pi

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   models.ActorTypeAdmin,
		Action:      "checkout_created",
		EntityType:  "deal",
		EntityID:    &deal.ID,
		Meta:        map[string]any{"payment_id": payment.ID.String(), "session_id": session.ID, "amount_cents": payment.AmountCents},
	})
	s.log.Info("checkout created",
		zap.String("deal_id", deal.ID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.Int64("amount_cents", payment.AmountCents),
	)
	return payment, nil
}

type WebhookResult struct {
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
}

// HandleWebhook verifies and applies one gateway event. An event already
// PROCESSED is reported as a duplicate and not applied again. Processing
// errors are recorded on the event and returned so the gateway retries.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	evt, err := s.gw.ConstructWebhookEvent(payload, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}
	res := &WebhookResult{EventID: evt.ID, EventType: evt.Type}

	rec, err := s.webhooks.Receive(ctx, evt.ID, evt.Type)
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if rec.Status == models.WebhookStatusProcessed {
		res.Duplicate = true
		return res, nil
	}

	if err := s.applyEvent(ctx, evt); err != nil {
		s.log.Error("webhook processing failed",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type),
			zap.Int("attempt", rec.AttemptCount),
			zap.Error(err),
		)
		if merr := s.webhooks.MarkFailed(ctx, evt.ID, err.Error()); merr != nil {
			s.log.Error("mark webhook failed", zap.String("event_id", evt.ID), zap.Error(merr))
		}
		return nil, err
	}

	if err := s.webhooks.MarkProcessed(ctx, evt.ID); err != nil {
		return nil, fmt.Errorf("mark webhook processed: %w", err)
	}
	res.Processed = true
	return res, nil
}

func (s *PaymentService) applyEvent(ctx context.Context, evt *gateway.WebhookEvent) error {
	switch evt.Type {
	case gateway.EventCheckoutCompleted:
		return s.onCheckoutCompleted(ctx, evt)
	case gateway.EventCheckoutExpired:
		return s.onCheckoutExpired(ctx, evt)
	case gateway.EventChargeRefunded:
		return s.onChargeRefunded(ctx, evt)
	default:
		s.log.Debug("ignoring webhook event", zap.String("event_type", evt.Type))
		return nil
	}
}

func (s *PaymentService) onCheckoutCompleted(ctx context.Context, evt *gateway.WebhookEvent) error {
	dealID, paymentID, err := metadataIDs(evt.Metadata)
	if err != nil {
		return err
	}

	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return newError(ReasonPaymentNotFound, "payment %s", paymentID)
		}
		return fmt.Errorf("get payment: %w", err)
	}
	if payment.DealID != dealID {
		return newError(ReasonWebhookMetadataMissing, "payment %s does not belong to deal %s", paymentID, dealID)
	}

	var pi *string
	if evt.PaymentIntentID != "" {
		pi = &evt.PaymentIntentID
	}
	marked, err := s.payments.MarkPaid(ctx, payment.ID, pi)
	if err != nil {
		return fmt.Errorf("mark payment paid: %w", err)
	}
	if marked {
		if err := s.releaseOtherCheckouts(ctx, dealID, payment.ID); err != nil {
			return err
		}
	}

	deal, err := s.deals.getDeal(ctx, dealID)
	if err != nil {
		return err
	}
	if !models.HasReachedPaid(deal.Status) {
		err := s.deals.systemTransition(ctx, deal, models.DealStatusPaid, "payment confirmed", models.ActorTypeWebhook)
		if err != nil && !s.reachedPaidConcurrently(ctx, dealID, err) {
			return err
		}
	}

	if deal.ReferrerUserID != nil {
		if err := s.referrals.RecordDealPaid(ctx, *deal.ReferrerUserID, deal.ID); err != nil {
			s.log.Warn("record referral conversion failed", zap.String("deal_id", deal.ID.String()), zap.Error(err))
		}
	}

	if marked {
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorType:  models.ActorTypeWebhook,
			Action:     "payment_confirmed",
			EntityType: "deal",
			EntityID:   &deal.ID,
			Meta:       map[string]any{"payment_id": payment.ID.String(), "event_id": evt.ID},
		})
		s.publish(ctx, events.EventPaymentConfirmed, deal.ID, payment.ID)
		s.log.Info("payment confirmed", zap.String("deal_id", deal.ID.String()), zap.String("payment_id", payment.ID.String()))
	}
	return nil
}

// releaseOtherCheckouts fails the deal's other open attempts once one is
// paid and expires their sessions, so a checkout opened after a stale one
// cannot charge the customer a second time.
func (s *PaymentService) releaseOtherCheckouts(ctx context.Context, dealID, paidID uuid.UUID) error {
	others, err := s.payments.FailOtherCreated(ctx, dealID, paidID)
	if err != nil {
		return fmt.Errorf("fail other checkouts: %w", err)
	}
	for _, p := range others {
		if p.CheckoutSessionID == nil {
			continue
		}
		if err := s.gw.ExpireCheckoutSession(ctx, *p.CheckoutSessionID); err != nil {
			s.log.Warn("expire superseded checkout failed",
				zap.String("payment_id", p.ID.String()),
				zap.String("session_id", *p.CheckoutSessionID),
				zap.Error(err),
			)
			continue
		}
		s.log.Info("superseded checkout expired", zap.String("deal_id", dealID.String()), zap.String("payment_id", p.ID.String()))
	}
	return nil
}

// reachedPaidConcurrently tolerates a racing delivery that already moved the
// deal to PAID.
func (s *PaymentService) reachedPaidConcurrently(ctx context.Context, dealID uuid.UUID, err error) bool {
	if !IsReason(err, ReasonStatusChanged) {
		return false
	}
	deal, gerr := s.deals.getDeal(ctx, dealID)
	return gerr == nil && models.HasReachedPaid(deal.Status)
}

func (s *PaymentService) onCheckoutExpired(ctx context.Context, evt *gateway.WebhookEvent) error {
	payment, err := s.payments.GetByCheckoutSession(ctx, evt.ObjectID)
	if errors.Is(err, repositories.ErrNotFound) {
		s.log.Info("expired session has no payment", zap.String("session_id", evt.ObjectID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("get payment by session: %w", err)
	}
	if _, err := s.payments.MarkFailed(ctx, payment.ID); err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	return nil
}

// onChargeRefunded also covers refunds issued outside this service, e.g. from
// the gateway dashboard.
func (s *PaymentService) onChargeRefunded(ctx context.Context, evt *gateway.WebhookEvent) error {
	if evt.PaymentIntentID == "" {
		return newError(ReasonPaymentIntentMissing, "event %s", evt.ID)
	}
	payment, err := s.payments.GetByPaymentIntent(ctx, evt.PaymentIntentID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return newError(ReasonPaymentNotFound, "payment intent %s", evt.PaymentIntentID)
		}
		return fmt.Errorf("get payment by intent: %w", err)
	}

	marked, err := s.payments.MarkRefunded(ctx, payment.ID)
	if err != nil {
		return fmt.Errorf("mark payment refunded: %w", err)
	}

	deal, err := s.deals.getDeal(ctx, payment.DealID)
	if err != nil {
		return err
	}
	if models.IsRefundable(deal.Status) {
		if err := s.deals.systemTransition(ctx, deal, models.DealStatusRefunded, "charge refunded", models.ActorTypeWebhook); err != nil {
			return err
		}
	}

	if _, err := s.ledger.VoidForRefund(ctx, deal.ID); err != nil {
		return err
	}

	if marked {
		s.publish(ctx, events.EventPaymentRefunded, deal.ID, payment.ID)
	}
	return nil
}

type RefundResult struct {
	Payment       *models.DealPayment `json:"payment"`
	RefundID      string              `json:"refund_id"`
	RefundStatus  string              `json:"refund_status"`
	VoidedEntries int64               `json:"voided_entries"`
}

// RefundPayment refunds the deal's paid payment. It never reaches the gateway
// unless confirm is set, the payment is PAID and the deal is refundable.
func (s *PaymentService) RefundPayment(ctx context.Context, dealID uuid.UUID, reason string, confirm bool, actorID *uuid.UUID) (*RefundResult, error) {
	if !confirm {
		return nil, newError(ReasonConfirmRequired, "refunds require confirm=true")
	}

	deal, err := s.deals.getDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	payment, err := s.refundablePayment(ctx, deal.ID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case models.PaymentStatusPaid:
	case models.PaymentStatusRefunded:
		return nil, newError(ReasonAlreadyRefunded, "payment %s", payment.ID)
	default:
		return nil, newError(ReasonPaymentNotPaid, "payment %s is %s", payment.ID, payment.Status)
	}
	if payment.PaymentIntentID == nil || *payment.PaymentIntentID == "" {
		return nil, newError(ReasonPaymentIntentMissing, "payment %s", payment.ID)
	}
	if !models.IsRefundable(deal.Status) {
		return nil, newError(ReasonDealNotRefundable, "deal is %s", deal.Status)
	}

	refund, err := s.gw.CreateRefund(ctx, *payment.PaymentIntentID, reason, map[string]string{
		metaDealID:    deal.ID.String(),
		metaPaymentID: payment.ID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}

	if _, err := s.payments.MarkRefunded(ctx, payment.ID); err != nil {
		return nil, fmt.Errorf("mark payment refunded: %w", err)
	}
	payment.Status = models.PaymentStatusRefunded

	note := "refunded"
	if reason != "" {
		note = "refunded: " + reason
	}
	if err := s.deals.systemTransition(ctx, deal, models.DealStatusRefunded, note, models.ActorTypeAdmin); err != nil {
		return nil, err
	}

	voided, err := s.ledger.VoidForRefund(ctx, deal.ID)
	if err != nil {
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   models.ActorTypeAdmin,
		Action:      "payment_refunded",
		EntityType:  "deal",
		EntityID:    &deal.ID,
		Meta:        map[string]any{"payment_id": payment.ID.String(), "refund_id": refund.ID, "reason": reason},
	})
	s.publish(ctx, events.EventPaymentRefunded, deal.ID, payment.ID)
	s.log.Info("payment refunded",
		zap.String("deal_id", deal.ID.String()),
		zap.String("refund_id", refund.ID),
		zap.Int64("voided_entries", voided),
	)

	return &RefundResult{Payment: payment, RefundID: refund.ID, RefundStatus: refund.Status, VoidedEntries: voided}, nil
}

// refundablePayment prefers the deal's PAID attempt, then a REFUNDED one, and
// otherwise returns the newest attempt so its status can be reported.
func (s *PaymentService) refundablePayment(ctx context.Context, dealID uuid.UUID) (*models.DealPayment, error) {
	payments, err := s.payments.ListByDeal(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	if len(payments) == 0 {
		return nil, newError(ReasonPaymentNotFound, "deal %s has no payment", dealID)
	}

	var refunded, newest *models.DealPayment
	for i := range payments {
		p := &payments[i]
		switch p.Status {
		case models.PaymentStatusPaid:
			return p, nil
		case models.PaymentStatusRefunded:
			if refunded == nil {
				refunded = p
			}
		}
		if newest == nil || p.CreatedAt.After(newest.CreatedAt) {
			newest = p
		}
	}
	if refunded != nil {
		return refunded, nil
	}
	return newest, nil
}

func (s *PaymentService) ListPayments(ctx context.Context, dealID uuid.UUID) ([]models.DealPayment, error) {
	if _, err := s.deals.getDeal(ctx, dealID); err != nil {
		return nil, err
	}
	return s.payments.ListByDeal(ctx, dealID)
}

// ExpireStaleCheckouts fails CREATED payments older than maxAge.
func (s *PaymentService) ExpireStaleCheckouts(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := s.payments.ExpireStale(ctx, maxAge)
	if err != nil {
		return 0, fmt.Errorf("expire stale checkouts: %w", err)
	}
	if n > 0 {
		s.log.Info("stale checkouts expired", zap.Int64("count", n))
	}
	return n, nil
}

func (s *PaymentService) publish(ctx context.Context, eventType string, dealID, paymentID uuid.UUID) {
	if err := s.publisher.Publish(ctx, events.StreamPayment, events.Event{
		Type:    eventType,
		Payload: map[string]any{"deal_id": dealID.String(), "payment_id": paymentID.String()},
	}); err != nil {
		s.log.Warn("publish payment event failed", zap.String("deal_id", dealID.String()), zap.Error(err))
	}
}

func metadataIDs(meta map[string]string) (dealID, paymentID uuid.UUID, err error) {
	dealID, derr := uuid.Parse(meta[metaDealID])
	paymentID, perr := uuid.Parse(meta[metaPaymentID])
	if derr != nil || perr != nil {
		return uuid.Nil, uuid.Nil, newError(ReasonWebhookMetadataMissing, "deal_id=%q payment_id=%q", meta[metaDealID], meta[metaPaymentID])
	}
	return dealID, paymentID, nil
}
