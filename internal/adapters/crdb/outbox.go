package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/capacity-bookings/internal/domain"
)

const aggregateBooking = "booking"

type OutboxRecord struct {
	ID            uuid.UUID
	Seq           int64 // insertion order, also within one transaction
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED
}

func (q *queries) Enqueue(ctx context.Context, evt domain.Event) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, created_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'NEW')
	`, evt.ID, aggregateBooking, evt.AggregateID, evt.Type, evt.Payload, evt.OccurredAt)
	return mapErr(err)
}

// GetUnpublishedOutbox returns the oldest NEW records in insertion order.
// Delivery is at-least-once; consumers dedupe on the record id.
func (r *Repository) GetUnpublishedOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, seq, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status
		FROM outbox WHERE status = 'NEW' ORDER BY seq ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.Seq, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return mapErr(err)
}
