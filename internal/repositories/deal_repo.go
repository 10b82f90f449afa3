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

const dealColumns = `id, intake_id, offer_slug, status, referrer_user_id, requested_provider_user_id,
		       provider_user_id, maestro_user_id, created_at, updated_at`

type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

func scanDeal(row pgx.Row, d *models.Deal) error {
	return row.Scan(&d.ID, &d.IntakeID, &d.OfferSlug, &d.Status, &d.ReferrerUserID, &d.RequestedProviderUserID,
		&d.ProviderUserID, &d.MaestroUserID, &d.CreatedAt, &d.UpdatedAt)
}

// Create inserts the deal and its initial history row. A second deal for the
// same intake returns ErrDuplicate.
func (r *DealRepo) Create(ctx context.Context, d *models.Deal, actorID *uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO deals (intake_id, offer_slug, status, referrer_user_id, requested_provider_user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, d.IntakeID, d.OfferSlug, d.Status, d.ReferrerUserID, d.RequestedProviderUserID,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "deals_intake_id_key") {
			return ErrDuplicate
		}
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO deal_status_history (deal_id, from_status, to_status, note, actor_user_id, actor_type)
		VALUES ($1, NULL, $2, 'created', $3, $4)
	`, d.ID, d.Status, actorID, models.ActorTypeAdmin); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *DealRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	var d models.Deal
	err := scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id), &d)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// TransitionStatus writes the new status only if the deal is still in
// change.From, and appends the history row in the same transaction.
func (r *DealRepo) TransitionStatus(ctx context.Context, change models.DealStatusChange) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE deals SET
			status = $1,
			provider_user_id = COALESCE($2, provider_user_id),
			maestro_user_id = COALESCE($3, maestro_user_id),
			updated_at = now()
		WHERE id = $4 AND status = $5
	`, change.To, change.ProviderUserID, change.MaestroUserID, change.DealID, change.From)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM deals WHERE id = $1)`, change.DealID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStaleStatus
	}

	var note *string
	if change.Note != "" {
		note = &change.Note
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO deal_status_history (deal_id, from_status, to_status, note, actor_user_id, actor_type)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, change.DealID, change.From, change.To, note, change.ActorUserID, change.ActorType); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *DealRepo) History(ctx context.Context, dealID uuid.UUID) ([]models.DealStatusHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, from_status, to_status, note, actor_user_id, actor_type, created_at
		FROM deal_status_history WHERE deal_id = $1
		ORDER BY created_at ASC, id ASC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.DealStatusHistory
	for rows.Next() {
		var h models.DealStatusHistory
		if err := rows.Scan(&h.ID, &h.DealID, &h.FromStatus, &h.ToStatus, &h.Note, &h.ActorUserID, &h.ActorType, &h.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

type DealFilter struct {
	Status         *string
	ReferrerUserID *uuid.UUID
	ProviderUserID *uuid.UUID
	Limit          int
	Offset         int
}

func (r *DealRepo) List(ctx context.Context, f DealFilter) ([]models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals d`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.Status != nil {
		where = append(where, fmt.Sprintf("d.status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if f.ReferrerUserID != nil {
		where = append(where, fmt.Sprintf("d.referrer_user_id = $%d", argIdx))
		args = append(args, *f.ReferrerUserID)
		argIdx++
	}
	if f.ProviderUserID != nil {
		where = append(where, fmt.Sprintf("d.provider_user_id = $%d", argIdx))
		args = append(args, *f.ProviderUserID)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY d.created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	return r.queryDeals(ctx, query, args...)
}

// ListDeliveredWithoutLedger returns delivered or closed deals that have no
// ledger entries yet. Deals on a zero-priced offer never get entries and are
// left out.
func (r *DealRepo) ListDeliveredWithoutLedger(ctx context.Context, limit int) ([]models.Deal, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryDeals(ctx, `
		SELECT `+dealColumns+`
		FROM deals d
		WHERE d.status IN ('DELIVERED', 'CLOSED')
		  AND NOT EXISTS (SELECT 1 FROM ledger_entries le WHERE le.deal_id = d.id)
		  AND NOT EXISTS (SELECT 1 FROM offers o WHERE o.slug = d.offer_slug AND o.price_cents = 0)
		ORDER BY d.updated_at ASC
		LIMIT $1
	`, limit)
}

func (r *DealRepo) queryDeals(ctx context.Context, query string, args ...any) ([]models.Deal, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		var d models.Deal
		if err := scanDeal(rows, &d); err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

// ReferredDeal is a referred deal joined with its offer price.
type ReferredDeal struct {
	models.Deal
	PriceCents *int64
	Currency   *string
}

// ListReferredWithPrice returns referred deals whose payment was confirmed and
// not refunded.
func (r *DealRepo) ListReferredWithPrice(ctx context.Context, referrerID *uuid.UUID) ([]ReferredDeal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.id, d.intake_id, d.offer_slug, d.status, d.referrer_user_id, d.requested_provider_user_id,
		       d.provider_user_id, d.maestro_user_id, d.created_at, d.updated_at,
		       o.price_cents, o.currency
		FROM deals d
		JOIN offers o ON o.slug = d.offer_slug
		WHERE d.referrer_user_id IS NOT NULL
		  AND ($1::uuid IS NULL OR d.referrer_user_id = $1)
		  AND d.status IN ('PAID', 'IN_PROGRESS', 'DELIVERED', 'CLOSED')
		ORDER BY d.created_at DESC
	`, referrerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReferredDeal
	for rows.Next() {
		var rd ReferredDeal
		d := &rd.Deal
		if err := rows.Scan(&d.ID, &d.IntakeID, &d.OfferSlug, &d.Status, &d.ReferrerUserID, &d.RequestedProviderUserID,
			&d.ProviderUserID, &d.MaestroUserID, &d.CreatedAt, &d.UpdatedAt,
			&rd.PriceCents, &rd.Currency); err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}
