package repositories

import (
	"context"

	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OfferRepo struct {
	pool *pgxpool.Pool
}

func NewOfferRepo(pool *pgxpool.Pool) *OfferRepo {
	return &OfferRepo{pool: pool}
}

func (r *OfferRepo) GetBySlug(ctx context.Context, slug string) (*models.Offer, error) {
	var o models.Offer
	err := r.pool.QueryRow(ctx, `
		SELECT slug, title, price_cents, currency, status, created_at
		FROM offers WHERE slug = $1
	`, slug).Scan(&o.Slug, &o.Title, &o.PriceCents, &o.Currency, &o.Status, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *OfferRepo) ListActive(ctx context.Context) ([]models.Offer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slug, title, price_cents, currency, status, created_at
		FROM offers WHERE status = 'ACTIVE'
		ORDER BY slug
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		var o models.Offer
		if err := rows.Scan(&o.Slug, &o.Title, &o.PriceCents, &o.Currency, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}
