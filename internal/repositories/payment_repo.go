package repositories

import (
	"context"
	"time"

	"github.com/consulting-marketplace/backend/internal/db"
	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentColumns = `id, deal_id, provider, checkout_session_id, checkout_url, payment_intent_id,
		       status, amount_cents, currency, created_at, updated_at`

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

func scanPayment(row pgx.Row, p *models.DealPayment) error {
	return row.Scan(&p.ID, &p.DealID, &p.Provider, &p.CheckoutSessionID, &p.CheckoutURL, &p.PaymentIntentID,
		&p.Status, &p.AmountCents, &p.Currency, &p.CreatedAt, &p.UpdatedAt)
}

// Create inserts a payment attempt. A second CREATED row for the same deal
// violates deal_payments_one_created_per_deal and returns ErrDuplicate.
func (r *PaymentRepo) Create(ctx context.Context, p *models.DealPayment) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO deal_payments (deal_id, provider, status, amount_cents, currency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, p.DealID, p.Provider, p.Status, p.AmountCents, p.Currency).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err, "deal_payments_one_created_per_deal") {
		return ErrDuplicate
	}
	return err
}

func (r *PaymentRepo) AttachSession(ctx context.Context, id uuid.UUID, sessionID, checkoutURL string, paymentIntentID *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deal_payments SET checkout_session_id = $1, checkout_url = $2, payment_intent_id = $3, updated_at = now()
		WHERE id = $4
	`, sessionID, checkoutURL, paymentIntentID, id)
	return err
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.DealPayment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM deal_payments WHERE id = $1`, id)
}

func (r *PaymentRepo) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.DealPayment, error) {
	return r.getOne(ctx, `
		SELECT `+paymentColumns+` FROM deal_payments WHERE payment_intent_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, paymentIntentID)
}

func (r *PaymentRepo) GetByCheckoutSession(ctx context.Context, sessionID string) (*models.DealPayment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM deal_payments WHERE checkout_session_id = $1`, sessionID)
}

// LatestForDeal returns the deal's most recent payment attempt.
func (r *PaymentRepo) LatestForDeal(ctx context.Context, dealID uuid.UUID) (*models.DealPayment, error) {
	return r.getOne(ctx, `
		SELECT `+paymentColumns+` FROM deal_payments WHERE deal_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, dealID)
}

func (r *PaymentRepo) getOne(ctx context.Context, query string, args ...any) (*models.DealPayment, error) {
	var p models.DealPayment
	if err := scanPayment(r.pool.QueryRow(ctx, query, args...), &p); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *PaymentRepo) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.DealPayment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM deal_payments WHERE deal_id = $1 ORDER BY created_at DESC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []models.DealPayment
	for rows.Next() {
		var p models.DealPayment
		if err := scanPayment(rows, &p); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// MarkPaid moves CREATED -> PAID. A FAILED row is accepted too: the stale
// checkout job may have expired a session the customer still completed. It
// reports false when the row was already PAID or REFUNDED.
func (r *PaymentRepo) MarkPaid(ctx context.Context, id uuid.UUID, paymentIntentID *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deal_payments SET status = 'PAID', payment_intent_id = COALESCE($1, payment_intent_id), updated_at = now()
		WHERE id = $2 AND status IN ('CREATED', 'FAILED')
	`, paymentIntentID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PaymentRepo) MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deal_payments SET status = 'REFUNDED', updated_at = now()
		WHERE id = $1 AND status = 'PAID'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deal_payments SET status = 'FAILED', updated_at = now()
		WHERE id = $1 AND status = 'CREATED'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FailOtherCreated fails the deal's CREATED attempts other than keepID and
// returns them, so their checkout sessions can be expired at the gateway.
func (r *PaymentRepo) FailOtherCreated(ctx context.Context, dealID, keepID uuid.UUID) ([]models.DealPayment, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE deal_payments SET status = 'FAILED', updated_at = now()
		WHERE deal_id = $1 AND id <> $2 AND status = 'CREATED'
		RETURNING `+paymentColumns, dealID, keepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failed []models.DealPayment
	for rows.Next() {
		var p models.DealPayment
		if err := scanPayment(rows, &p); err != nil {
			return nil, err
		}
		failed = append(failed, p)
	}
	return failed, rows.Err()
}

// ExpireStale fails CREATED checkouts older than maxAge so the deal can be
// offered a fresh checkout.
func (r *PaymentRepo) ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deal_payments SET status = 'FAILED', updated_at = now()
		WHERE status = 'CREATED' AND created_at < now() - make_interval(secs => $1)
	`, maxAge.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
