package payments

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/capacity-bookings/internal/adapters/memory"
	"github.com/robertarktes/capacity-bookings/internal/booking"
	"github.com/robertarktes/capacity-bookings/internal/domain"
	"github.com/robertarktes/capacity-bookings/internal/observability"
)

type fakeEngine struct {
	confirmed []booking.PaymentConfirmation
	refunded  []string
	err       error
}

func (f *fakeEngine) ConfirmPayment(_ context.Context, pc booking.PaymentConfirmation) (*domain.Booking, error) {
	f.confirmed = append(f.confirmed, pc)
	return nil, f.err
}

func (f *fakeEngine) MarkRefundIssued(_ context.Context, _ domain.Actor, _ uuid.UUID, ref string) (*domain.Booking, error) {
	f.refunded = append(f.refunded, ref)
	return nil, f.err
}

func body(id uuid.UUID) []byte {
	return []byte(`{"booking_id":"` + id.String() + `","amount":120.5,"method":"card","gateway_reference":"gw-9"}`)
}

func TestHandle_Routing(t *testing.T) {
	eng := &fakeEngine{}
	c := NewConsumer(eng, observability.NewDiscardLogger())
	id := uuid.New()

	assert.Equal(t, Ack, c.Handle(context.Background(), KeyPaymentCaptured, body(id)))
	assert.Equal(t, Ack, c.Handle(context.Background(), KeyPaymentFailed, body(id)))
	assert.Equal(t, Ack, c.Handle(context.Background(), KeyRefundIssued, body(id)))

	require.Len(t, eng.confirmed, 2)
	assert.Equal(t, domain.OutcomeCaptured, eng.confirmed[0].Outcome)
	assert.Equal(t, domain.OutcomeFailed, eng.confirmed[1].Outcome)
	assert.InDelta(t, 120.5, eng.confirmed[0].Amount, 1e-9)
	assert.Equal(t, id, eng.confirmed[0].BookingID)
	assert.Equal(t, []string{"gw-9"}, eng.refunded)
}

func TestHandle_Dispositions(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name string
		key  string
		body []byte
		err  error
		want Disposition
	}{
		{"malformed json", KeyPaymentCaptured, []byte(`{`), nil, Reject},
		{"missing reference", KeyPaymentCaptured, []byte(`{"booking_id":"` + id.String() + `"}`), nil, Reject},
		{"unknown key", "payment.disputed", body(id), nil, Reject},
		{"terminal booking", KeyPaymentCaptured, body(id), errors.Wrap(domain.ErrIllegalTransition, "cancelled"), Ack},
		{"overpayment", KeyPaymentCaptured, body(id), domain.ErrInvalidPaymentAmount, Ack},
		{"unknown booking", KeyPaymentCaptured, body(id), domain.ErrNotFound, Ack},
		{"lost race", KeyPaymentCaptured, body(id), domain.ErrVersionConflict, Requeue},
		{"database down", KeyRefundIssued, body(id), errors.New("connection refused"), Requeue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConsumer(&fakeEngine{err: tt.err}, observability.NewDiscardLogger())
			assert.Equal(t, tt.want, c.Handle(context.Background(), tt.key, tt.body))
		})
	}
}

type ackRecorder struct {
	acks, nacks, requeues int
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acks++; return nil }
func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	if requeue {
		a.requeues++
	} else {
		a.nacks++
	}
	return nil
}
func (a *ackRecorder) Reject(uint64, bool) error { a.nacks++; return nil }

func TestRun_SettlesAgainstEngine(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	catalog := memory.NewCatalog()
	svc := booking.NewService(store, catalog, observability.NewDiscardLogger())

	user := uuid.New()
	start := time.Now().Add(48 * time.Hour)
	o := domain.Offering{ID: uuid.New(), ServiceType: domain.ServiceFreight, BasePrice: 120.5, Currency: "EUR", Capacity: 2, StartAt: &start}
	require.NoError(t, svc.PublishOffering(ctx, domain.System("seed"), o))
	b, err := svc.CreateBooking(ctx, domain.Customer(user), booking.CreateRequest{
		UserID: user, OfferingID: o.ID, Quantity: 1, Contact: domain.Contact{Name: "Ken"}, PaymentMethod: "card",
	})
	require.NoError(t, err)

	acks := &ackRecorder{}
	deliveries := make(chan amqp.Delivery, 3)
	deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 1, RoutingKey: KeyPaymentCaptured, Body: body(b.ID)}
	deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 2, RoutingKey: KeyPaymentCaptured, Body: body(b.ID)}
	deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 3, RoutingKey: KeyPaymentCaptured, Body: []byte("nope")}
	close(deliveries)

	c := NewConsumer(svc, observability.NewDiscardLogger())
	err = c.Run(ctx, deliveries)
	assert.Error(t, err)

	assert.Equal(t, 2, acks.acks)
	assert.Equal(t, 1, acks.nacks)
	assert.Zero(t, acks.requeues)

	got, err := svc.GetBooking(ctx, domain.Customer(user), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.Len(t, got.Payment.Transactions, 1)
}
