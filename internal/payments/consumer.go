// Package payments turns verified gateway events from the broker into engine
// calls.
package payments

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/capacity-bookings/internal/booking"
	"github.com/robertarktes/capacity-bookings/internal/domain"
	"github.com/robertarktes/capacity-bookings/internal/observability"
)

const (
	KeyPaymentCaptured = "payment.captured"
	KeyPaymentFailed   = "payment.failed"
	KeyRefundIssued    = "refund.issued"
)

// RoutingKeys are the gateway events the consumer binds to.
var RoutingKeys = []string{KeyPaymentCaptured, KeyPaymentFailed, KeyRefundIssued}

type Engine interface {
	ConfirmPayment(ctx context.Context, pc booking.PaymentConfirmation) (*domain.Booking, error)
	MarkRefundIssued(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, gatewayReference string) (*domain.Booking, error)
}

type GatewayEvent struct {
	BookingID        uuid.UUID `json:"booking_id"`
	Amount           float64   `json:"amount"`
	Method           string    `json:"method"`
	GatewayReference string    `json:"gateway_reference"`
}

type Disposition int

const (
	Ack Disposition = iota
	// Reject drops a message that can never succeed.
	Reject
	// Requeue hands the message back for another attempt.
	Requeue
)

type Consumer struct {
	engine Engine
	logger observability.Logger
}

func NewConsumer(engine Engine, logger observability.Logger) *Consumer {
	return &Consumer{engine: engine, logger: logger.WithField("component", "payments")}
}

// Handle applies one gateway event and decides what to tell the broker.
// Domain rejections are acknowledged; redelivering them cannot help.
func (c *Consumer) Handle(ctx context.Context, routingKey string, body []byte) Disposition {
	log := c.logger.WithField("routing_key", routingKey)

	var evt GatewayEvent
	if err := json.Unmarshal(body, &evt); err != nil || evt.BookingID == uuid.Nil || evt.GatewayReference == "" {
		log.WithField("body", string(body)).Warn("dropping malformed gateway event")
		return Reject
	}
	log = log.WithFields(map[string]interface{}{
		"booking_id":        evt.BookingID,
		"gateway_reference": evt.GatewayReference,
	})

	var err error
	switch routingKey {
	case KeyPaymentCaptured, KeyPaymentFailed:
		outcome := domain.OutcomeCaptured
		if routingKey == KeyPaymentFailed {
			outcome = domain.OutcomeFailed
		}
		_, err = c.engine.ConfirmPayment(ctx, booking.PaymentConfirmation{
			BookingID:        evt.BookingID,
			Amount:           evt.Amount,
			Method:           evt.Method,
			GatewayReference: evt.GatewayReference,
			Outcome:          outcome,
		})
	case KeyRefundIssued:
		_, err = c.engine.MarkRefundIssued(ctx, domain.System("payment-gateway"), evt.BookingID, evt.GatewayReference)
	default:
		log.Warn("dropping gateway event with unknown routing key")
		return Reject
	}

	switch {
	case err == nil:
		log.Debug("gateway event applied")
		return Ack
	case isRejection(err):
		log.WithError(err).Warn("gateway event rejected")
		return Ack
	default:
		log.WithError(err).Error("gateway event failed, requeueing")
		return Requeue
	}
}

func isRejection(err error) bool {
	for _, target := range []error{
		domain.ErrIllegalTransition,
		domain.ErrInvalidPaymentAmount,
		domain.ErrInvalidInput,
		domain.ErrNotFound,
		domain.ErrForbidden,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Run settles deliveries until the channel closes or ctx is done.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("gateway delivery channel closed")
			}
			var err error
			switch c.Handle(ctx, d.RoutingKey, d.Body) {
			case Ack:
				err = d.Ack(false)
			case Reject:
				err = d.Nack(false, false)
			case Requeue:
				err = d.Nack(false, true)
			}
			if err != nil {
				c.logger.WithError(err).Error("failed to settle delivery")
			}
		}
	}
}
