package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/capacity-bookings/internal/adapters/memory"
	"github.com/robertarktes/capacity-bookings/internal/booking"
	"github.com/robertarktes/capacity-bookings/internal/domain"
	"github.com/robertarktes/capacity-bookings/internal/observability"
)

func TestSweep_CancelsOnlyUnpaidExpired(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	svc := booking.NewService(store, memory.NewCatalog(), observability.NewDiscardLogger(),
		booking.WithClock(func() time.Time { return clock }))

	user := uuid.New()
	start := clock.Add(72 * time.Hour)
	o := domain.Offering{ID: uuid.New(), ServiceType: domain.ServiceRental, BasePrice: 50, Currency: "EUR", Capacity: 3, StartAt: &start}
	require.NoError(t, svc.PublishOffering(ctx, domain.System("seed"), o))
	create := func() *domain.Booking {
		b, err := svc.CreateBooking(ctx, domain.Customer(user), booking.CreateRequest{
			UserID: user, OfferingID: o.ID, Quantity: 1, Contact: domain.Contact{Name: "Barbara"}, PaymentMethod: "card",
		})
		require.NoError(t, err)
		return b
	}
	unpaid := create()
	partial := create()
	_, err := svc.ConfirmPayment(ctx, booking.PaymentConfirmation{
		BookingID: partial.ID, Amount: 10, GatewayReference: "gw-1", Outcome: domain.OutcomeCaptured,
	})
	require.NoError(t, err)

	clock = clock.Add(20 * time.Minute)
	fresh := create()

	w := NewWorker(store, svc, Config{TTL: 15 * time.Minute, Backoff: time.Millisecond}, observability.NewDiscardLogger())
	w.now = func() time.Time { return clock }

	n, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	admin := domain.Admin(uuid.New())
	got, err := svc.GetBooking(ctx, admin, unpaid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, domain.ReasonExpired, got.Cancellation.Reason)

	for _, id := range []uuid.UUID{partial.ID, fresh.ID} {
		got, err := svc.GetBooking(ctx, admin, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
	}

	c, err := svc.Availability(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.CapacityAvailable)

	n, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type staticLister []uuid.UUID

func (s staticLister) ExpiredPending(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return s, nil
}

type flakyCanceller struct {
	failures int
	calls    int
	err      error
}

func (f *flakyCanceller) Cancel(context.Context, uuid.UUID, string) (*booking.CancellationResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &booking.CancellationResult{}, nil
}

func TestSweep_RetriesTransientFailures(t *testing.T) {
	c := &flakyCanceller{failures: 2, err: errors.New("connection reset")}
	w := NewWorker(staticLister{uuid.New()}, c, Config{Backoff: time.Millisecond}, observability.NewDiscardLogger())

	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, c.calls)
}

func TestSweep_DoesNotRetryIllegalTransition(t *testing.T) {
	c := &flakyCanceller{failures: 5, err: errors.Wrap(domain.ErrIllegalTransition, "already paid")}
	w := NewWorker(staticLister{uuid.New(), uuid.New()}, c, Config{Backoff: time.Millisecond}, observability.NewDiscardLogger())

	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, c.calls)
}
