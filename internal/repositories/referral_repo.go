package repositories

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReferralRepo struct {
	pool *pgxpool.Pool
}

func NewReferralRepo(pool *pgxpool.Pool) *ReferralRepo {
	return &ReferralRepo{pool: pool}
}

func (r *ReferralRepo) LookupCodeOwner(ctx context.Context, code string) (uuid.UUID, error) {
	var owner uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT owner_user_id FROM referral_codes WHERE code = $1
	`, strings.ToUpper(strings.TrimSpace(code))).Scan(&owner)
	if err != nil {
		return uuid.Nil, notFound(err)
	}
	return owner, nil
}

// RecordDealPaid is idempotent per deal.
func (r *ReferralRepo) RecordDealPaid(ctx context.Context, referrerID, dealID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO referral_conversions (deal_id, referrer_user_id)
		VALUES ($1, $2)
		ON CONFLICT (deal_id) DO NOTHING
	`, dealID, referrerID)
	return err
}
