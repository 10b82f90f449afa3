package repositories

import (
	"context"

	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PayoutAccountRepo struct {
	pool *pgxpool.Pool
}

func NewPayoutAccountRepo(pool *pgxpool.Pool) *PayoutAccountRepo {
	return &PayoutAccountRepo{pool: pool}
}

func (r *PayoutAccountRepo) Upsert(ctx context.Context, a *models.PayoutAccount) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO payout_accounts (user_id, stripe_account_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			stripe_account_id = EXCLUDED.stripe_account_id,
			updated_at = now()
		RETURNING created_at, updated_at
	`, a.UserID, a.StripeAccountID).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *PayoutAccountRepo) GetByUser(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error) {
	var a models.PayoutAccount
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, stripe_account_id, created_at, updated_at
		FROM payout_accounts WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.StripeAccountID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}
