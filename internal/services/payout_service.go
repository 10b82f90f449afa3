package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/consulting-marketplace/backend/internal/gateway"
	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/consulting-marketplace/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PayoutService struct {
	ledger   LedgerStore
	payouts  PayoutStore
	accounts PayoutAccountStore
	gw       gateway.Gateway
	audit    AuditLogger
	log      *zap.Logger
}

func NewPayoutService(ledger LedgerStore, payouts PayoutStore, accounts PayoutAccountStore, gw gateway.Gateway, audit AuditLogger, log *zap.Logger) *PayoutService {
	return &PayoutService{ledger: ledger, payouts: payouts, accounts: accounts, gw: gw, audit: audit, log: log}
}

// PayoutResult counts per-entry outcomes of one ExecutePayouts call. Skipped
// entries were unknown or not payable, or could not be claimed.
type PayoutResult struct {
	Attempted int `json:"attempted"`
	Paid      int `json:"paid"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func payoutIdempotencyKey(entryID uuid.UUID) string {
	return "ledger_entry:" + entryID.String()
}

// ExecutePayouts transfers each payable entry to its beneficiary. A transfer
// is issued only while the entry's execution record has not SUCCEEDED, and
// the gateway receives the same idempotency key on every retry. Each entry is
// claimed under a row lock before the gateway is called, so a concurrent
// refund void cannot slip in between. One entry failing does not stop the
// batch.
func (s *PayoutService) ExecutePayouts(ctx context.Context, ids []uuid.UUID, confirm bool, actorID *uuid.UUID) (*PayoutResult, error) {
	if !confirm {
		return nil, newError(ReasonConfirmRequired, "payouts require confirm=true")
	}

	entries, err := s.ledger.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load ledger entries: %w", err)
	}

	res := &PayoutResult{Skipped: len(ids) - len(entries)}
	for i := range entries {
		e := &entries[i]
		if !e.IsPayable() {
			res.Skipped++
			continue
		}
		paid, err := s.payEntry(ctx, e)
		switch {
		case err != nil:
			res.Attempted++
			res.Failed++
			s.log.Error("payout failed", zap.String("entry_id", e.ID.String()), zap.Error(err))
		case paid:
			res.Attempted++
			res.Paid++
		default:
			// Voided, paid or claimed since the batch was loaded.
			res.Skipped++
		}
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   models.ActorTypeAdmin,
		Action:      "payout_executed",
		EntityType:  "ledger",
		Meta: map[string]any{
			"requested": len(ids),
			"attempted": res.Attempted,
			"paid":      res.Paid,
			"failed":    res.Failed,
		},
	})
	return res, nil
}

// payEntry reports whether the entry ended up PAID by this call. A false
// result with no error means the entry could not be claimed.
func (s *PayoutService) payEntry(ctx context.Context, e *models.LedgerEntry) (bool, error) {
	exec, err := s.payouts.Reserve(ctx, models.PaymentProviderStripe, payoutIdempotencyKey(e.ID), e.ID)
	if err != nil {
		return false, fmt.Errorf("reserve payout: %w", err)
	}

	if exec.Status == models.PayoutStatusSucceeded {
		// A previous run transferred; make sure the entry reflects it.
		if exec.TransferID == nil {
			return false, nil
		}
		marked, err := s.payouts.MarkSucceeded(ctx, exec.ID, *exec.TransferID, e.ID)
		if err != nil {
			return false, fmt.Errorf("mark payout succeeded: %w", err)
		}
		return marked, nil
	}

	claimed, err := s.payouts.StartAttempt(ctx, exec.ID, e.ID)
	if err != nil {
		return false, fmt.Errorf("start payout attempt: %w", err)
	}
	if !claimed {
		return false, nil
	}

	account, err := s.accounts.GetByUser(ctx, *e.BeneficiaryUserID)
	if err != nil {
		msg := "no payout account for beneficiary"
		if !errors.Is(err, repositories.ErrNotFound) {
			msg = err.Error()
		}
		return false, s.fail(ctx, exec.ID, e.ID, errors.New(msg))
	}

	transfer, err := s.gw.CreateTransfer(ctx, gateway.TransferRequest{
		AmountCents:    e.AmountCents,
		Currency:       e.Currency,
		Destination:    account.StripeAccountID,
		IdempotencyKey: exec.IdempotencyKey,
		Metadata: map[string]string{
			"ledger_entry_id": e.ID.String(),
			"deal_id":         e.DealID.String(),
			"entry_type":      e.EntryType,
		},
	})
	if err != nil {
		return false, s.fail(ctx, exec.ID, e.ID, err)
	}

	marked, err := s.payouts.MarkSucceeded(ctx, exec.ID, transfer.ID, e.ID)
	if err != nil {
		return false, fmt.Errorf("mark payout succeeded: %w", err)
	}
	if !marked {
		return false, fmt.Errorf("transfer %s completed but entry was no longer APPROVED", transfer.ID)
	}
	s.log.Info("payout transferred",
		zap.String("entry_id", e.ID.String()),
		zap.String("transfer_id", transfer.ID),
		zap.Int64("amount_cents", e.AmountCents),
	)
	return true, nil
}

func (s *PayoutService) fail(ctx context.Context, execID, entryID uuid.UUID, cause error) error {
	voided, err := s.payouts.MarkFailed(ctx, execID, entryID, cause.Error())
	if err != nil {
		s.log.Error("record payout failure", zap.String("execution_id", execID.String()), zap.Error(err))
	}
	if voided {
		s.log.Info("payout entry voided after refund", zap.String("entry_id", entryID.String()))
	}
	return cause
}

// SetPayoutAccount records the connected account transfers to userID go to.
func (s *PayoutService) SetPayoutAccount(ctx context.Context, userID uuid.UUID, stripeAccountID string, actorID *uuid.UUID) (*models.PayoutAccount, error) {
	stripeAccountID = strings.TrimSpace(stripeAccountID)
	if !strings.HasPrefix(stripeAccountID, "acct_") {
		return nil, newError(ReasonPayoutAccountInvalid, "expected a connected account id (acct_...)")
	}

	acct := &models.PayoutAccount{UserID: userID, StripeAccountID: stripeAccountID}
	if err := s.accounts.Upsert(ctx, acct); err != nil {
		return nil, fmt.Errorf("upsert payout account: %w", err)
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   models.ActorTypeAdmin,
		Action:      "payout_account_set",
		EntityType:  "payout_account",
		EntityID:    &userID,
		Meta:        map[string]any{"stripe_account_id": stripeAccountID},
	})
	return acct, nil
}
