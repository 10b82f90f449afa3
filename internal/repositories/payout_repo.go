package repositories

import (
	"context"
	"errors"

	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PayoutRepo struct {
	pool *pgxpool.Pool
}

func NewPayoutRepo(pool *pgxpool.Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

// Reserve returns the execution record for (provider, key), creating it in
// PENDING on first use.
func (r *PayoutRepo) Reserve(ctx context.Context, provider, key string, entryID uuid.UUID) (*models.PayoutExecution, error) {
	var p models.PayoutExecution
	err := r.pool.QueryRow(ctx, `
		INSERT INTO stripe_payout_executions (ledger_entry_id, provider, idempotency_key, status)
		VALUES ($1, $2, $3, 'PENDING')
		ON CONFLICT (provider, idempotency_key) DO UPDATE SET updated_at = now()
		RETURNING id, ledger_entry_id, provider, idempotency_key, status, transfer_id, attempt_count, last_error, created_at, updated_at
	`, entryID, provider, key).Scan(&p.ID, &p.LedgerEntryID, &p.Provider, &p.IdempotencyKey, &p.Status, &p.TransferID,
		&p.AttemptCount, &p.LastError, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// StartAttempt claims the entry for one transfer attempt. The ledger row is
// locked and must still be APPROVED, and the execution must not have
// SUCCEEDED. A VoidOutstanding that commits first makes the claim fail; one
// that commits later skips the claimed entry.
func (r *PayoutRepo) StartAttempt(ctx context.Context, id, entryID uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM ledger_entries WHERE id = $1 AND status = 'APPROVED' FOR UPDATE
	`, entryID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE stripe_payout_executions SET attempt_count = attempt_count + 1, status = 'PENDING', updated_at = now()
		WHERE id = $1 AND status <> 'SUCCEEDED'
	`, id)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// MarkFailed records the failed attempt. An entry whose deal was refunded
// while the attempt was in flight is voided here, since the refund skipped it.
// It reports whether the entry was voided.
func (r *PayoutRepo) MarkFailed(ctx context.Context, id, entryID uuid.UUID, message string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE stripe_payout_executions SET status = 'FAILED', last_error = $1, updated_at = now()
		WHERE id = $2 AND status <> 'SUCCEEDED'
	`, message, id); err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ledger_entries le SET status = 'VOID', voided_at = now()
		WHERE le.id = $1 AND le.status = 'APPROVED'
		  AND EXISTS (SELECT 1 FROM deals d WHERE d.id = le.deal_id AND d.status = 'REFUNDED')
	`, entryID)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSucceeded records the transfer and moves the ledger entry APPROVED ->
// PAID in one transaction. It reports whether the entry changed.
func (r *PayoutRepo) MarkSucceeded(ctx context.Context, id uuid.UUID, transferID string, entryID uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE stripe_payout_executions SET status = 'SUCCEEDED', transfer_id = $1, last_error = NULL, updated_at = now()
		WHERE id = $2
	`, transferID, id); err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ledger_entries SET status = 'PAID', paid_at = now()
		WHERE id = $1 AND status = 'APPROVED'
	`, entryID)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
