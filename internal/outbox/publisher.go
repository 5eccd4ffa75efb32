package outbox

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/capacity-bookings/internal/adapters/crdb"
	"github.com/robertarktes/capacity-bookings/internal/observability"
)

type Source interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type Sink interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher relays committed outbox records to the broker in the order the
// source returns them, which is insertion order. A record is marked
// published only after the broker accepted it, so delivery is at-least-once
// and consumers dedupe on MessageId.
type Publisher struct {
	source   Source
	sink     Sink
	logger   observability.Logger
	batch    int
	interval time.Duration
	now      func() time.Time
}

func NewPublisher(source Source, sink Sink, logger observability.Logger, batch int, interval time.Duration) *Publisher {
	if batch <= 0 {
		batch = 50
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Publisher{
		source:   source,
		sink:     sink,
		logger:   logger.WithField("component", "outbox"),
		batch:    batch,
		interval: interval,
		now:      time.Now,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("outbox publisher started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := p.Flush(ctx)
				if err != nil {
					p.logger.WithError(err).Error("outbox flush failed")
					break
				}
				if n < p.batch {
					break
				}
			}
		}
	}
}

// Flush publishes one batch and returns how many records were relayed. It
// stops at the first failure so later records never overtake earlier ones.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	records, err := p.source.GetUnpublishedOutbox(ctx, p.batch)
	if err != nil {
		return 0, errors.Wrap(err, "load outbox")
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(p.now().Sub(records[0].CreatedAt).Seconds())

	for i, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.ID.String(),
			Type:        rec.EventType,
			ContentType: "application/json",
			Timestamp:   rec.CreatedAt,
			Headers:     amqp.Table{"aggregate_id": rec.AggregateID.String()},
			Body:        rec.Payload,
		}
		if err := p.sink.Publish(ctx, rec.EventType, msg); err != nil {
			return i, errors.Wrapf(err, "publish outbox record %s", rec.ID)
		}
		if err := p.source.MarkPublished(ctx, rec.ID, p.now()); err != nil {
			return i, errors.Wrapf(err, "mark outbox record %s", rec.ID)
		}
	}
	p.logger.WithField("count", len(records)).Debug("outbox batch published")
	return len(records), nil
}
