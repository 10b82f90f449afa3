package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/consulting-marketplace/backend/internal/db"
	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ledgerColumns = `id, deal_id, entry_type, beneficiary_user_id, amount_cents, currency, status,
		       earned_at, approved_at, approved_by_user_id, paid_at, voided_at`

type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

func scanLedgerEntry(row pgx.Row, e *models.LedgerEntry) error {
	return row.Scan(&e.ID, &e.DealID, &e.EntryType, &e.BeneficiaryUserID, &e.AmountCents, &e.Currency, &e.Status,
		&e.EarnedAt, &e.ApprovedAt, &e.ApprovedByUserID, &e.PaidAt, &e.VoidedAt)
}

// InsertEarned writes all entries and the audit row in one transaction. The
// deal row is share-locked for the whole transaction and must be DELIVERED or
// CLOSED, otherwise ErrStaleStatus is returned. If any (deal_id, entry_type)
// already exists nothing is written and ErrDuplicate is returned.
func (r *LedgerRepo) InsertEarned(ctx context.Context, dealID uuid.UUID, entries []models.LedgerEntry, audit models.AuditLog) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM deals WHERE id = $1 FOR SHARE`, dealID).Scan(&status); err != nil {
		return notFound(err)
	}
	if status != models.DealStatusDelivered && status != models.DealStatusClosed {
		return ErrStaleStatus
	}

	for i := range entries {
		e := &entries[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO ledger_entries (deal_id, entry_type, beneficiary_user_id, amount_cents, currency, status)
			VALUES ($1, $2, $3, $4, $5, 'EARNED')
			RETURNING id, status, earned_at
		`, e.DealID, e.EntryType, e.BeneficiaryUserID, e.AmountCents, e.Currency).Scan(&e.ID, &e.Status, &e.EarnedAt)
		if err != nil {
			if db.IsUniqueViolation(err, "ledger_entries_deal_type_key") {
				return ErrDuplicate
			}
			return fmt.Errorf("insert %s: %w", e.EntryType, err)
		}
	}

	if err := insertAudit(ctx, tx, audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *LedgerRepo) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.LedgerEntry, error) {
	return r.query(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE deal_id = $1 ORDER BY entry_type`, dealID)
}

func (r *LedgerRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.LedgerEntry, error) {
	return r.query(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = ANY($1) ORDER BY earned_at`, ids)
}

type LedgerFilter struct {
	DealID            *uuid.UUID
	Status            *string
	BeneficiaryUserID *uuid.UUID
	Limit             int
	Offset            int
}

func (r *LedgerRepo) List(ctx context.Context, f LedgerFilter) ([]models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.DealID != nil {
		where = append(where, fmt.Sprintf("deal_id = $%d", argIdx))
		args = append(args, *f.DealID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if f.BeneficiaryUserID != nil {
		where = append(where, fmt.Sprintf("beneficiary_user_id = $%d", argIdx))
		args = append(args, *f.BeneficiaryUserID)
		argIdx++
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY earned_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	return r.query(ctx, query, args...)
}

func (r *LedgerRepo) query(ctx context.Context, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := scanLedgerEntry(rows, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Approve moves EARNED -> APPROVED. Concurrent approvals of the same row see
// false for all but one caller.
func (r *LedgerRepo) Approve(ctx context.Context, id uuid.UUID, approverID *uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ledger_entries SET status = 'APPROVED', approved_at = now(), approved_by_user_id = $1
		WHERE id = $2 AND status = 'EARNED'
	`, approverID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// VoidOutstanding voids EARNED and APPROVED entries of the deal. PAID and VOID
// entries are left untouched, and so is an entry whose payout attempt is in
// flight (PENDING with at least one attempt): its transfer either completes
// and the entry becomes PAID, or fails and MarkFailed voids it.
func (r *LedgerRepo) VoidOutstanding(ctx context.Context, dealID uuid.UUID) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Wait for in-progress payout claims before reading execution state.
	if _, err := tx.Exec(ctx, `
		SELECT id FROM ledger_entries WHERE deal_id = $1 AND status IN ('EARNED', 'APPROVED') FOR UPDATE
	`, dealID); err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ledger_entries le SET status = 'VOID', voided_at = now()
		WHERE le.deal_id = $1 AND le.status IN ('EARNED', 'APPROVED')
		  AND NOT EXISTS (
		      SELECT 1 FROM stripe_payout_executions pe
		      WHERE pe.ledger_entry_id = le.id AND pe.status = 'PENDING' AND pe.attempt_count > 0
		  )
	`, dealID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
