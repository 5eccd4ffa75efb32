package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventBookingCreated       = "booking.created"
	EventBookingStatusChanged = "booking.status_changed"
	EventPaymentRecorded      = "payment.recorded"
	EventBookingCancelled     = "booking.cancelled"
	EventRefundIssued         = "refund.issued"
)

// Event is a domain fact written to the outbox alongside the booking.
type Event struct {
	ID          uuid.UUID
	Type        string
	AggregateID uuid.UUID
	Payload     []byte
	OccurredAt  time.Time
}

func NewEvent(eventType string, b *Booking, data map[string]any, now time.Time) (Event, error) {
	body := map[string]any{
		"booking_id": b.ID,
		"reference":  b.Reference,
		"status":     b.Status,
		"version":    b.Version,
	}
	for k, v := range data {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: b.ID,
		Payload:     payload,
		OccurredAt:  now.UTC(),
	}, nil
}
