package repositories

import (
	"context"

	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WebhookEventRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookEventRepo(pool *pgxpool.Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

// Receive records a delivery of eventID and returns the current record. A
// redelivery bumps attempt_count and keeps the existing status.
func (r *WebhookEventRepo) Receive(ctx context.Context, eventID, eventType string) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	err := r.pool.QueryRow(ctx, `
		INSERT INTO stripe_webhook_events (event_id, event_type, status)
		VALUES ($1, $2, 'RECEIVED')
		ON CONFLICT (event_id) DO UPDATE SET attempt_count = stripe_webhook_events.attempt_count + 1
		RETURNING event_id, event_type, status, attempt_count, last_error, received_at, processed_at
	`, eventID, eventType).Scan(&e.EventID, &e.EventType, &e.Status, &e.AttemptCount, &e.LastError, &e.ReceivedAt, &e.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *WebhookEventRepo) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE stripe_webhook_events SET status = 'PROCESSED', last_error = NULL, processed_at = now()
		WHERE event_id = $1
	`, eventID)
	return err
}

func (r *WebhookEventRepo) MarkFailed(ctx context.Context, eventID, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE stripe_webhook_events SET status = 'FAILED', last_error = $1
		WHERE event_id = $2 AND status <> 'PROCESSED'
	`, message, eventID)
	return err
}
